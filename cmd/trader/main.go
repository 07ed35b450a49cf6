package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/alpaca"
	"one-percent-trader-go/internal/app"
	"one-percent-trader-go/internal/config"
	"one-percent-trader-go/internal/database"
	"one-percent-trader-go/internal/ledger"
	"one-percent-trader-go/internal/logger"
	"one-percent-trader-go/internal/trader"
)

const envFile = ".env"

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cmd, err := app.ParseCommand(os.Args[1:], cfg.Ledger.SummaryDays, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal("Invalid command line", zap.Error(err))
	}

	l, err := ledger.New(cfg.Ledger.Dir, log)
	if err != nil {
		log.Fatal("Failed to open ledger", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		prompter app.Prompter
		start    app.TradingFunc
	)
	if _, ok := cmd.(app.RunTrading); ok {
		created, err := config.EnsureEnvFile(envFile)
		if err != nil {
			log.Fatal("Failed to check credentials file", zap.Error(err))
		}
		if created {
			log.Warn("Created .env file. Please fill in your Alpaca API credentials.", zap.String("path", envFile))
			os.Exit(1)
		}
		if !cfg.Alpaca.HasCredentials() {
			log.Fatal("Alpaca API credentials are missing", zap.String("path", envFile))
		}

		lp, err := app.NewLinePrompter()
		if err != nil {
			log.Fatal("Failed to open terminal", zap.Error(err))
		}
		defer lp.Close()
		prompter = lp
		start = tradingFunc(cfg, log, l)
	}

	a := app.New(l, log, os.Stdout, prompter, start, decimal.NewFromFloat(cfg.Trading.InvestmentAmount))
	if err := a.Execute(ctx, cmd); err != nil && !errors.Is(err, app.ErrInterrupted) && !errors.Is(err, context.Canceled) {
		log.Error("Command failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

// tradingFunc wires the broker client, the position store and the engine.
func tradingFunc(cfg config.Config, log *zap.Logger, l *ledger.Ledger) app.TradingFunc {
	return func(ctx context.Context, symbol string, investment decimal.Decimal) error {
		db, err := database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			return err
		}
		log.Info("Database connection successful and schema migrated.")

		client := alpaca.NewRestClient(&cfg.Alpaca, log)
		if _, err := client.GetClock(ctx); err != nil {
			return fmt.Errorf("failed to connect to Alpaca API: %w", err)
		}
		log.Info("Successfully connected to Alpaca API.")

		engine, err := trader.NewEngine(log, cfg.Trading, client, db, l, symbol, investment)
		if err != nil {
			return err
		}
		engine.Run(ctx)

		log.Info("Bot has been shut down.")
		return nil
	}
}
