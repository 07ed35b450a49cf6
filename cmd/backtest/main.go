package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/alpaca"
	"one-percent-trader-go/internal/app"
	"one-percent-trader-go/internal/backtest"
	"one-percent-trader-go/internal/config"
	"one-percent-trader-go/internal/logger"
	"one-percent-trader-go/internal/models"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !cfg.Alpaca.HasCredentials() {
		log.Fatal("Alpaca API credentials are missing, set them in .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prompter, err := app.NewLinePrompter()
	if err != nil {
		log.Fatal("Failed to open terminal", zap.Error(err))
	}
	defer prompter.Close()

	if err := run(ctx, cfg, log, prompter); err != nil && !errors.Is(err, app.ErrInterrupted) {
		log.Error("Backtest failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, p app.Prompter) error {
	answer, err := p.Prompt("Enter the stock symbol to backtest (e.g., AAPL): ")
	if err != nil {
		return err
	}
	symbol := models.NormalizeSymbol(answer)
	if err := models.ValidateSymbol(symbol); err != nil {
		return err
	}

	answer, err = app.Ask(p, fmt.Sprintf("Enter number of days to backtest (default: %d): ", cfg.Backtest.Days), strconv.Itoa(cfg.Backtest.Days))
	if err != nil {
		return err
	}
	days, err := strconv.Atoi(answer)
	if err != nil || days <= 0 {
		return &models.ValidationError{Field: "days", Reason: fmt.Sprintf("%q is not a positive number", answer)}
	}

	params := backtest.ParamsFromConfig(cfg.Trading, cfg.Backtest)
	answer, err = app.Ask(p, fmt.Sprintf("Enter initial capital (default: %s): ", params.InitialCapital), params.InitialCapital.String())
	if err != nil {
		return err
	}
	capital, err := decimal.NewFromString(answer)
	if err != nil || !capital.IsPositive() {
		return &models.ValidationError{Field: "initial_capital", Reason: fmt.Sprintf("%q is not a positive amount", answer)}
	}
	params.InitialCapital = capital

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	fmt.Printf("\nRunning backtest for %s from %s to %s...\n", symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))

	client := alpaca.NewRestClient(&cfg.Alpaca, log)
	result, err := backtest.NewBacktester(client, log).Run(ctx, symbol, start, end, params)
	if err != nil {
		return err
	}

	if err := backtest.WriteSummary(os.Stdout, result); err != nil {
		return err
	}
	if len(result.Trades) == 0 {
		return nil
	}

	details, err := app.Confirm(ctx, p, "\nWould you like to see detailed statistics? (y/n): ")
	if err != nil || !details {
		return err
	}
	return backtest.WriteDetails(os.Stdout, result)
}
