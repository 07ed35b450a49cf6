package backtest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/alpaca"
	"one-percent-trader-go/internal/config"
	"one-percent-trader-go/internal/models"
)

var start = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// bar builds the i-th minute bar.
func bar(i int, volume int64, high, low, close string) alpaca.Bar {
	return alpaca.Bar{
		Timestamp: start.Add(time.Duration(i) * time.Minute),
		Open:      d(close),
		High:      d(high),
		Low:       d(low),
		Close:     d(close),
		Volume:    volume,
	}
}

func params() Params {
	return Params{
		InitialCapital:  decimal.NewFromInt(10000),
		TargetProfitPct: 0.01,
		StopLossPct:     0.005,
		VolumeLookback:  3,
		VolumeSpike:     1.2,
	}
}

func scenarioBars() []alpaca.Bar {
	return []alpaca.Bar{
		bar(0, 100, "100", "100", "100"),
		bar(1, 100, "100", "100", "100"),
		bar(2, 100, "100", "100", "100"),
		bar(3, 500, "100", "100", "100"),       // spike: buy 100 @ 100
		bar(4, 100, "100.5", "99.8", "100.2"),  // inside the range
		bar(5, 100, "101.2", "100", "101"),     // target 101 hit
		bar(6, 1000, "101", "101", "101"),      // spike: buy 100 @ 101
		bar(7, 100, "101.5", "100.4", "100.6"), // stop 100.495 hit
	}
}

func TestSimulate_TargetThenStop(t *testing.T) {
	r, err := Simulate("aapl", scenarioBars(), params())
	require.NoError(t, err)

	require.Len(t, r.Trades, 2)
	first, second := r.Trades[0], r.Trades[1]

	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, models.ExitTarget, first.ExitType)
	assert.True(t, first.ExitPrice.Equal(d("101")))
	assert.True(t, first.ProfitLoss().Equal(d("100")))
	assert.Equal(t, 2*time.Minute, first.Duration())

	assert.Equal(t, models.ExitStop, second.ExitType)
	assert.True(t, second.Quantity.Equal(d("100")), "floor(10100 / 101)")
	assert.True(t, second.ExitPrice.Equal(d("100.495")))
	assert.True(t, second.ProfitLoss().Equal(d("-50.5")))

	assert.True(t, r.FinalCapital.Equal(d("10049.5")))
	assert.True(t, r.TotalReturnPct.Equal(d("0.5")))
	assert.False(t, r.Open)

	assert.Equal(t, 2, r.Summary.TradeCount)
	assert.Equal(t, 1, r.Summary.TargetExits)
	assert.Equal(t, 1, r.Summary.StopExits)
	require.Len(t, r.Daily, 1)
	assert.Equal(t, "2024-03-04", r.Daily[0].Date)
	assert.True(t, r.Daily[0].TotalProfitLoss.Equal(d("49.5")))
}

func TestSimulate_TargetWinsWhenBothHit(t *testing.T) {
	bars := scenarioBars()[:4]
	bars = append(bars, bar(4, 100, "102", "99", "100"))

	r, err := Simulate("AAPL", bars, params())
	require.NoError(t, err)
	require.Len(t, r.Trades, 1)
	assert.Equal(t, models.ExitTarget, r.Trades[0].ExitType)
}

func TestSimulate_NoSpikeNoTrades(t *testing.T) {
	bars := []alpaca.Bar{
		bar(0, 100, "100", "100", "100"),
		bar(1, 100, "100", "100", "100"),
		bar(2, 100, "100", "100", "100"),
		bar(3, 110, "100", "100", "100"),
	}
	r, err := Simulate("AAPL", bars, params())
	require.NoError(t, err)
	assert.Empty(t, r.Trades)
	assert.True(t, r.FinalCapital.Equal(d("10000")))
	assert.True(t, r.TotalReturnPct.IsZero())
	assert.Equal(t, 0, r.Summary.TradeCount)
}

func TestSimulate_OpenAtEnd(t *testing.T) {
	r, err := Simulate("AAPL", scenarioBars()[:5], params())
	require.NoError(t, err)
	assert.Empty(t, r.Trades)
	assert.True(t, r.Open)
}

func TestSimulate_CapitalTooSmall(t *testing.T) {
	p := params()
	p.InitialCapital = d("50")
	r, err := Simulate("AAPL", scenarioBars(), p)
	require.NoError(t, err)
	assert.Empty(t, r.Trades)
	assert.False(t, r.Open)
}

func TestSimulate_InvalidParams(t *testing.T) {
	p := params()
	p.VolumeLookback = 0
	_, err := Simulate("AAPL", nil, p)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "volume_lookback", vErr.Field)

	_, err = Simulate("", nil, params())
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "symbol", vErr.Field)
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig(
		config.Trading{TargetProfitPct: 0.01, StopLossPct: 0.005},
		config.Backtest{InitialCapital: 2500, VolumeLookback: 20, VolumeSpike: 1.2},
	)
	assert.True(t, p.InitialCapital.Equal(d("2500")))
	assert.Equal(t, 20, p.VolumeLookback)
	assert.Equal(t, 0.005, p.StopLossPct)
}

type mockBars struct {
	mock.Mock
	alpaca.Client
}

func (m *mockBars) GetBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]alpaca.Bar, error) {
	args := m.Called(ctx, symbol, timeframe, start, end)
	if v := args.Get(0); v != nil {
		return v.([]alpaca.Bar), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestBacktester_Run(t *testing.T) {
	end := start.Add(time.Hour)
	client := new(mockBars)
	client.On("GetBars", mock.Anything, "AAPL", alpaca.TimeFrameMinute, start, end).Return(scenarioBars(), nil)

	r, err := NewBacktester(client, zap.NewNop()).Run(context.Background(), "aapl", start, end, params())

	require.NoError(t, err)
	assert.Len(t, r.Trades, 2)
	assert.Equal(t, end, r.End)
	client.AssertExpectations(t)
}

func TestBacktester_RunFetchError(t *testing.T) {
	client := new(mockBars)
	client.On("GetBars", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("unauthorized"))

	_, err := NewBacktester(client, zap.NewNop()).Run(context.Background(), "AAPL", start, start, params())
	assert.ErrorContains(t, err, "unauthorized")
}

func TestReport(t *testing.T) {
	r, err := Simulate("AAPL", scenarioBars(), params())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "Trading Summary")
	assert.Contains(t, out, "$10049.50")
	assert.Contains(t, out, "0.50% return")

	buf.Reset()
	require.NoError(t, WriteDetails(&buf, r))
	out = buf.String()
	assert.Contains(t, out, "2024-03-04")
	assert.Contains(t, out, "target")
	assert.Contains(t, out, "stop")

	empty, err := Simulate("AAPL", nil, params())
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, WriteSummary(&buf, empty))
	assert.Contains(t, buf.String(), NoTradesMessage)
}
