package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/ledger"
	"one-percent-trader-go/internal/models"
	"one-percent-trader-go/internal/summary"
)

// Prompter asks the user a question and returns the answer line.
type Prompter interface {
	Prompt(question string) (string, error)
}

// TradingFunc starts the trading loop for symbol. It blocks until ctx is done.
type TradingFunc func(ctx context.Context, symbol string, investment decimal.Decimal) error

// App executes commands against the ledger.
type App struct {
	ledger            *ledger.Ledger
	logger            *zap.Logger
	out               io.Writer
	prompter          Prompter
	startTrading      TradingFunc
	defaultInvestment decimal.Decimal
	now               func() time.Time
}

// New creates an App printing reports to out. prompter and startTrading are
// only needed for RunTrading.
func New(l *ledger.Ledger, logger *zap.Logger, out io.Writer, prompter Prompter, startTrading TradingFunc, defaultInvestment decimal.Decimal) *App {
	return &App{
		ledger:            l,
		logger:            logger.Named("app"),
		out:               out,
		prompter:          prompter,
		startTrading:      startTrading,
		defaultInvestment: defaultInvestment,
		now:               time.Now,
	}
}

// Execute runs cmd.
func (a *App) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case ShowSummary:
		return a.showSummary(c.Symbol, c.Days, c.JSON)
	case ForceSummary:
		return a.forceSummary(c.Symbol, c.Days, c.JSON)
	case RunTrading:
		return a.runTrading(ctx)
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

// Report loads the trailing window of trades of symbol and summarizes them.
func (a *App) Report(symbol string, days int) (summary.Report, error) {
	trades, err := a.ledger.LoadTrades(symbol, summary.WindowStart(a.now(), days))
	if err != nil {
		return summary.Report{}, err
	}
	return summary.Report{Symbol: symbol, Days: days, Summary: summary.Summarize(trades)}, nil
}

func (a *App) showSummary(symbol string, days int, asJSON bool) error {
	report, err := a.Report(symbol, days)
	if err != nil {
		return err
	}
	return a.print(report, asJSON)
}

// SampleTrade is the trade recorded by ForceSummary: 10 shares bought at 100
// an hour before now and sold at the 1% target.
func SampleTrade(symbol string, now time.Time) (models.Trade, error) {
	t, err := models.NewTrade(symbol,
		decimal.NewFromInt(100),
		decimal.NewFromInt(101),
		decimal.NewFromInt(10),
		now.Add(-time.Hour),
		now)
	if err != nil {
		return models.Trade{}, err
	}
	t.ExitType = models.ExitTarget
	return t, nil
}

func (a *App) forceSummary(symbol string, days int, asJSON bool) error {
	trade, err := SampleTrade(symbol, a.now())
	if err != nil {
		return err
	}
	path, err := a.ledger.RecordTrade(trade)
	if err != nil {
		return err
	}
	a.logger.Info("Sample trade recorded",
		zap.String("symbol", symbol),
		zap.String("batch", path),
		zap.String("ledger", a.ledger.CSVPath(symbol)))

	return a.showSummary(symbol, days, asJSON)
}

func (a *App) print(report summary.Report, asJSON bool) error {
	if !asJSON {
		return summary.Render(a.out, report)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func (a *App) runTrading(ctx context.Context) error {
	if a.prompter == nil || a.startTrading == nil {
		return errors.New("trading is not available")
	}

	answer, err := a.prompter.Prompt("Enter the stock symbol to trade (e.g., AAPL): ")
	if err != nil {
		return err
	}
	symbol, err := parseSymbol(answer)
	if err != nil {
		return err
	}

	question := fmt.Sprintf("Enter the investment amount per trade (default: %s): ", a.defaultInvestment.String())
	answer, err = a.prompter.Prompt(question)
	if err != nil {
		return err
	}
	investment, err := parseInvestment(answer, a.defaultInvestment)
	if err != nil {
		return err
	}

	a.logger.Info("Starting trading bot",
		zap.String("symbol", symbol),
		zap.String("investment", investment.StringFixed(2)))
	return a.startTrading(ctx, symbol, investment)
}

func parseInvestment(answer string, fallback decimal.Decimal) (decimal.Decimal, error) {
	answer = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(answer), "$"))
	if answer == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(answer)
	if err != nil {
		return decimal.Zero, &models.ValidationError{Field: "investment", Reason: fmt.Sprintf("%q is not a number", answer)}
	}
	if !v.IsPositive() {
		return decimal.Zero, &models.ValidationError{Field: "investment", Reason: "must be positive"}
	}
	return v, nil
}
