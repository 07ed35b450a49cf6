package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/ledger"
	"one-percent-trader-go/internal/models"
)

var now = time.Date(2024, 3, 8, 20, 0, 0, 0, time.UTC)

type scriptedPrompter struct {
	answers   []string
	questions []string
}

func (p *scriptedPrompter) Prompt(question string) (string, error) {
	p.questions = append(p.questions, question)
	if len(p.answers) == 0 {
		return "", io.EOF
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func setupApp(t *testing.T, prompter Prompter, start TradingFunc) (*App, *ledger.Ledger, *bytes.Buffer) {
	l, err := ledger.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	a := New(l, zap.NewNop(), &out, prompter, start, decimal.NewFromInt(10000))
	a.now = func() time.Time { return now }
	return a, l, &out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"Default", nil, RunTrading{}},
		{"Summary", []string{"--summary", "aapl"}, ShowSummary{Symbol: "AAPL", Days: 7}},
		{"SummaryDays", []string{"--summary=MSFT", "--days", "30"}, ShowSummary{Symbol: "MSFT", Days: 30}},
		{"ForceSummary", []string{"--force-summary", "TSLA", "--json"}, ForceSummary{Symbol: "TSLA", Days: 7, JSON: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args, 7, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	usage := [][]string{
		{"--summary", "AAPL", "--force-summary", "AAPL"},
		{"--summary", "AAPL", "--days", "0"},
		{"--unknown"},
		{"AAPL"},
	}
	for _, args := range usage {
		_, err := ParseCommand(args, 7, io.Discard)
		assert.ErrorIs(t, err, ErrUsage, "args %v", args)
	}

	_, err := ParseCommand([]string{"--summary", "../x"}, 7, io.Discard)
	var vErr *models.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestExecute_ShowSummaryWithoutTrades(t *testing.T) {
	a, l, out := setupApp(t, nil, nil)

	require.NoError(t, a.Execute(context.Background(), ShowSummary{Symbol: "AAPL", Days: 7}))

	assert.Contains(t, out.String(), "No trades found for AAPL in the last 7 days")
	_, err := os.Stat(l.CSVPath("AAPL"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "reading must not create a ledger")
}

func TestExecute_ShowSummaryWindow(t *testing.T) {
	a, l, out := setupApp(t, nil, nil)

	old, err := models.NewTrade("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(1),
		now.AddDate(0, 0, -30), now.AddDate(0, 0, -30).Add(time.Hour))
	require.NoError(t, err)
	recent, err := models.NewTrade("AAPL", decimal.NewFromInt(100), decimal.NewFromInt(103), decimal.NewFromInt(2),
		now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = l.RecordTrades([]models.Trade{old, recent})
	require.NoError(t, err)

	require.NoError(t, a.Execute(context.Background(), ShowSummary{Symbol: "AAPL", Days: 7, JSON: true}))

	var report struct {
		Symbol  string `json:"symbol"`
		Days    int    `json:"days"`
		Summary struct {
			TradeCount      int    `json:"trade_count"`
			TotalProfitLoss string `json:"total_profit_loss"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "AAPL", report.Symbol)
	assert.Equal(t, 1, report.Summary.TradeCount)
	assert.Equal(t, "6", report.Summary.TotalProfitLoss)
}

func TestExecute_ForceSummary(t *testing.T) {
	a, l, out := setupApp(t, nil, nil)

	require.NoError(t, a.Execute(context.Background(), ForceSummary{Symbol: "AAPL", Days: 7}))

	text := out.String()
	assert.Contains(t, text, "AAPL summary")
	assert.Contains(t, text, "$10.00")

	batches, err := l.Batches("AAPL")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
	assert.FileExists(t, filepath.Join(l.Dir(), "AAPL_summary.csv"))

	trades, err := l.LoadTrades("AAPL", time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ExitTarget, trades[0].ExitType)
	assert.True(t, trades[0].ProfitLoss().Equal(decimal.NewFromInt(10)))
}

func TestExecute_ForceSummaryTwiceAccumulates(t *testing.T) {
	a, _, out := setupApp(t, nil, nil)

	require.NoError(t, a.Execute(context.Background(), ForceSummary{Symbol: "AAPL", Days: 7, JSON: true}))
	out.Reset()
	require.NoError(t, a.Execute(context.Background(), ForceSummary{Symbol: "AAPL", Days: 7, JSON: true}))

	var report struct {
		Summary struct {
			TradeCount int `json:"trade_count"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 2, report.Summary.TradeCount)
}

func TestExecute_CorruptLedgerIsReported(t *testing.T) {
	a, l, _ := setupApp(t, nil, nil)
	require.NoError(t, os.WriteFile(l.CSVPath("AAPL"), []byte("not,a,ledger\n"), 0o644))

	err := a.Execute(context.Background(), ShowSummary{Symbol: "AAPL", Days: 7})
	var pErr *models.PersistenceError
	assert.ErrorAs(t, err, &pErr)
}

func TestExecute_RunTrading(t *testing.T) {
	t.Run("DefaultInvestment", func(t *testing.T) {
		prompter := &scriptedPrompter{answers: []string{" msft ", ""}}
		var gotSymbol string
		var gotInvestment decimal.Decimal
		start := func(ctx context.Context, symbol string, investment decimal.Decimal) error {
			gotSymbol, gotInvestment = symbol, investment
			return nil
		}
		a, _, _ := setupApp(t, prompter, start)

		require.NoError(t, a.Execute(context.Background(), RunTrading{}))
		assert.Equal(t, "MSFT", gotSymbol)
		assert.True(t, gotInvestment.Equal(decimal.NewFromInt(10000)))
		require.Len(t, prompter.questions, 2)
		assert.Contains(t, prompter.questions[1], "default: 10000")
	})

	t.Run("CustomInvestment", func(t *testing.T) {
		prompter := &scriptedPrompter{answers: []string{"AAPL", "$2500.50"}}
		var gotInvestment decimal.Decimal
		start := func(ctx context.Context, symbol string, investment decimal.Decimal) error {
			gotInvestment = investment
			return nil
		}
		a, _, _ := setupApp(t, prompter, start)

		require.NoError(t, a.Execute(context.Background(), RunTrading{}))
		assert.True(t, gotInvestment.Equal(decimal.RequireFromString("2500.50")))
	})

	t.Run("InvalidInvestment", func(t *testing.T) {
		prompter := &scriptedPrompter{answers: []string{"AAPL", "lots"}}
		a, _, _ := setupApp(t, prompter, func(context.Context, string, decimal.Decimal) error {
			t.Fatal("trading must not start")
			return nil
		})

		err := a.Execute(context.Background(), RunTrading{})
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "investment", vErr.Field)
	})

	t.Run("PromptClosed", func(t *testing.T) {
		a, _, _ := setupApp(t, &scriptedPrompter{}, func(context.Context, string, decimal.Decimal) error { return nil })
		assert.ErrorIs(t, a.Execute(context.Background(), RunTrading{}), io.EOF)
	})

	t.Run("Unavailable", func(t *testing.T) {
		a, _, _ := setupApp(t, nil, nil)
		assert.Error(t, a.Execute(context.Background(), RunTrading{}))
	})
}

func TestAskAndConfirm(t *testing.T) {
	p := &scriptedPrompter{answers: []string{"", "30", " Yes ", "n"}}

	got, err := Ask(p, "days? ", "7")
	require.NoError(t, err)
	assert.Equal(t, "7", got)

	got, err = Ask(p, "days? ", "7")
	require.NoError(t, err)
	assert.Equal(t, "30", got)

	ok, err := Confirm(context.Background(), p, "details? ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Confirm(context.Background(), p, "details? ")
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Confirm(ctx, p, "details? ")
	assert.ErrorIs(t, err, context.Canceled)
}
