package summary

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"one-percent-trader-go/internal/models"
)

var baseTime = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func trade(t *testing.T, entry, exit, qty string, entryTime time.Time, hold time.Duration, exitType models.ExitType) models.Trade {
	tr, err := models.NewTrade("AAPL",
		decimal.RequireFromString(entry),
		decimal.RequireFromString(exit),
		decimal.RequireFromString(qty),
		entryTime, entryTime.Add(hold))
	require.NoError(t, err)
	tr.ExitType = exitType
	return tr
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Equal(t, 0, s.TradeCount)
	assert.Equal(t, 0, s.WinCount)
	assert.Equal(t, 0, s.LossCount)
	assert.True(t, s.TotalProfitLoss.IsZero())
	assert.False(t, s.ProfitFactor.Defined)
	assert.False(t, s.ProfitFactor.Infinite)
	assert.Equal(t, "n/a", s.ProfitFactor.String())
}

func TestSummarize_WinAndLoss(t *testing.T) {
	trades := []models.Trade{
		trade(t, "100", "101", "10", baseTime, time.Hour, models.ExitTarget),  // +10
		trade(t, "100", "99.5", "10", baseTime, 3*time.Hour, models.ExitStop), // -5
	}

	s := Summarize(trades)

	assert.Equal(t, 2, s.TradeCount)
	assert.Equal(t, 1, s.WinCount)
	assert.Equal(t, 1, s.LossCount)
	assert.True(t, s.TotalProfitLoss.Equal(decimal.NewFromInt(5)), "total %s", s.TotalProfitLoss)
	assert.True(t, s.AverageProfitLoss.Equal(decimal.NewFromFloat(2.5)), "average %s", s.AverageProfitLoss)
	require.True(t, s.ProfitFactor.Defined)
	assert.False(t, s.ProfitFactor.Infinite)
	assert.True(t, s.ProfitFactor.Value.Equal(decimal.NewFromInt(2)), "profit factor %s", s.ProfitFactor.Value)
	assert.Equal(t, "2.00", s.ProfitFactor.String())
	assert.True(t, s.WinRate.Equal(decimal.NewFromInt(50)))
	assert.True(t, s.BestTrade.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.WorstTrade.Equal(decimal.NewFromInt(-5)))
	assert.True(t, s.AverageWin.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.AverageLoss.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, 2*time.Hour, s.AverageDuration)
	assert.Equal(t, 1, s.TargetExits)
	assert.Equal(t, 1, s.StopExits)
}

func TestSummarize_BreakevenIsNeitherWinNorLoss(t *testing.T) {
	trades := []models.Trade{
		trade(t, "100", "100", "10", baseTime, time.Minute, ""),
		trade(t, "100", "101", "10", baseTime, time.Minute, ""),
	}

	s := Summarize(trades)

	assert.Equal(t, 2, s.TradeCount)
	assert.Equal(t, 1, s.WinCount)
	assert.Equal(t, 0, s.LossCount)
	assert.Equal(t, 1, s.BreakevenCount)
}

func TestSummarize_ProfitFactorEdges(t *testing.T) {
	t.Run("OnlyWinsIsInfinite", func(t *testing.T) {
		s := Summarize([]models.Trade{trade(t, "100", "101", "10", baseTime, time.Minute, "")})
		assert.True(t, s.ProfitFactor.Infinite)
		assert.Equal(t, "inf", s.ProfitFactor.String())
	})

	t.Run("OnlyBreakevenIsUndefined", func(t *testing.T) {
		s := Summarize([]models.Trade{trade(t, "100", "100", "10", baseTime, time.Minute, "")})
		assert.False(t, s.ProfitFactor.Defined)
		assert.False(t, s.ProfitFactor.Infinite)
	})

	t.Run("OnlyLossesIsZero", func(t *testing.T) {
		s := Summarize([]models.Trade{trade(t, "100", "99", "10", baseTime, time.Minute, "")})
		require.True(t, s.ProfitFactor.Defined)
		assert.True(t, s.ProfitFactor.Value.IsZero())
	})
}

func TestProfitFactor_JSON(t *testing.T) {
	testCases := []struct {
		name     string
		pf       ProfitFactor
		expected string
	}{
		{name: "Undefined", pf: ProfitFactor{}, expected: "null"},
		{name: "Infinite", pf: ProfitFactor{Infinite: true, Defined: true}, expected: `"inf"`},
		{name: "Value", pf: ProfitFactor{Value: decimal.NewFromInt(2), Defined: true}, expected: `"2"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.pf)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(data))
		})
	}
}

func TestDaily(t *testing.T) {
	nextDay := baseTime.AddDate(0, 0, 1)
	trades := []models.Trade{
		trade(t, "100", "101", "10", nextDay, time.Hour, models.ExitTarget),
		trade(t, "100", "101", "10", baseTime, time.Hour, models.ExitTarget),
		trade(t, "100", "99.5", "10", baseTime, time.Hour, models.ExitStop),
	}

	days := Daily(trades)

	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-04", days[0].Date)
	assert.Equal(t, 2, days[0].TradeCount)
	assert.True(t, days[0].TotalProfitLoss.Equal(decimal.NewFromInt(5)))
	assert.True(t, days[0].MeanProfitLoss.Equal(decimal.NewFromFloat(2.5)))
	assert.Equal(t, 1, days[0].StopExits)
	assert.Equal(t, "2024-03-05", days[1].Date)
	assert.Equal(t, 1, days[1].TargetExits)
}

func TestRender(t *testing.T) {
	t.Run("NoTrades", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, Report{Symbol: "AAPL", Days: 7, Summary: Summarize(nil)}))
		assert.Contains(t, buf.String(), "No trades found for AAPL in the last 7 days.")
	})

	t.Run("WithTrades", func(t *testing.T) {
		s := Summarize([]models.Trade{
			trade(t, "100", "101", "10", baseTime, time.Hour, models.ExitTarget),
			trade(t, "100", "99.5", "10", baseTime, time.Hour, models.ExitStop),
		})
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, Report{Symbol: "AAPL", Days: 7, Summary: s}))

		out := buf.String()
		assert.Contains(t, out, "AAPL summary, last 7 days")
		assert.Contains(t, out, "$5.00")
		assert.Contains(t, out, "$2.50")
		assert.Contains(t, out, "-$5.00")
		assert.Contains(t, out, "2.00")
		assert.Contains(t, out, "1h0m0s")
	})
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, time.Date(2024, 2, 26, 14, 30, 0, 0, time.UTC), WindowStart(baseTime, 7))
}
