package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/alpaca"
	"one-percent-trader-go/internal/config"
	"one-percent-trader-go/internal/models"
	"one-percent-trader-go/internal/summary"
)

var one = decimal.NewFromInt(1)

// Params drives a replay.
type Params struct {
	InitialCapital  decimal.Decimal
	TargetProfitPct float64
	StopLossPct     float64
	VolumeLookback  int
	VolumeSpike     float64
}

// ParamsFromConfig combines the strategy and backtest sections of the config.
func ParamsFromConfig(trading config.Trading, bt config.Backtest) Params {
	return Params{
		InitialCapital:  decimal.NewFromFloat(bt.InitialCapital),
		TargetProfitPct: trading.TargetProfitPct,
		StopLossPct:     trading.StopLossPct,
		VolumeLookback:  bt.VolumeLookback,
		VolumeSpike:     bt.VolumeSpike,
	}
}

// Result is the outcome of one replay.
type Result struct {
	Symbol         string             `json:"symbol"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	FinalCapital   decimal.Decimal    `json:"final_capital"`
	TotalReturnPct decimal.Decimal    `json:"total_return_pct"`
	Trades         []models.Trade     `json:"trades"`
	Summary        summary.Summary    `json:"summary"`
	Daily          []summary.DayStats `json:"daily"`
	// Open is set when the replay ended while holding shares.
	Open bool `json:"open"`
}

type position struct {
	shares    decimal.Decimal
	entry     decimal.Decimal
	entryTime time.Time
	target    decimal.Decimal
	stop      decimal.Decimal
}

// Simulate replays minute bars through the one-percent rules:
// enter at the close of a bar whose volume exceeds VolumeSpike times the mean
// of the previous VolumeLookback bars, then exit at the target when a later
// bar's high reaches it, otherwise at the stop when its low reaches it.
// The target is checked first. Capital compounds across trades.
func Simulate(symbol string, bars []alpaca.Bar, p Params) (*Result, error) {
	symbol = models.NormalizeSymbol(symbol)
	if err := models.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !p.InitialCapital.IsPositive() {
		return nil, &models.ValidationError{Field: "initial_capital", Reason: "must be positive"}
	}
	if p.VolumeLookback < 1 {
		return nil, &models.ValidationError{Field: "volume_lookback", Reason: "must be at least 1"}
	}

	targetMult := one.Add(decimal.NewFromFloat(p.TargetProfitPct))
	stopMult := one.Sub(decimal.NewFromFloat(p.StopLossPct))
	spike := decimal.NewFromFloat(p.VolumeSpike)
	lookback := decimal.NewFromInt(int64(p.VolumeLookback))

	capital := p.InitialCapital
	trades := make([]models.Trade, 0)
	var pos *position

	// Running sum of the lookback window.
	var window int64
	for i, bar := range bars {
		if pos == nil {
			if i >= p.VolumeLookback {
				mean := decimal.NewFromInt(window).Div(lookback)
				if decimal.NewFromInt(bar.Volume).GreaterThan(mean.Mul(spike)) && bar.Close.IsPositive() {
					shares := capital.Div(bar.Close).Floor()
					if shares.GreaterThanOrEqual(one) {
						pos = &position{
							shares:    shares,
							entry:     bar.Close,
							entryTime: bar.Timestamp,
							target:    bar.Close.Mul(targetMult),
							stop:      bar.Close.Mul(stopMult),
						}
					}
				}
			}
		} else {
			var (
				exitPrice decimal.Decimal
				exitType  models.ExitType
			)
			switch {
			case bar.High.GreaterThanOrEqual(pos.target):
				exitPrice, exitType = pos.target, models.ExitTarget
			case bar.Low.LessThanOrEqual(pos.stop):
				exitPrice, exitType = pos.stop, models.ExitStop
			}
			if exitType != "" {
				t, err := models.NewTrade(symbol, pos.entry, exitPrice, pos.shares, pos.entryTime, bar.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("bar %d: %w", i, err)
				}
				t.ExitType = exitType
				trades = append(trades, t)
				capital = capital.Add(t.ProfitLoss())
				pos = nil
			}
		}

		window += bar.Volume
		if i >= p.VolumeLookback {
			window -= bars[i-p.VolumeLookback].Volume
		}
	}

	r := &Result{
		Symbol:         symbol,
		InitialCapital: p.InitialCapital,
		FinalCapital:   capital,
		TotalReturnPct: capital.Sub(p.InitialCapital).Mul(decimal.NewFromInt(100)).DivRound(p.InitialCapital, 2),
		Trades:         trades,
		Summary:        summary.Summarize(trades),
		Daily:          summary.Daily(trades),
		Open:           pos != nil,
	}
	if len(bars) > 0 {
		r.Start = bars[0].Timestamp
		r.End = bars[len(bars)-1].Timestamp
	}
	return r, nil
}

// Backtester fetches historical bars and replays them.
type Backtester struct {
	client alpaca.Client
	logger *zap.Logger
}

// NewBacktester creates a backtester reading bars from client.
func NewBacktester(client alpaca.Client, logger *zap.Logger) *Backtester {
	return &Backtester{client: client, logger: logger.Named("backtest")}
}

// Run replays the minute bars of symbol between start and end.
func (b *Backtester) Run(ctx context.Context, symbol string, start, end time.Time, p Params) (*Result, error) {
	symbol = models.NormalizeSymbol(symbol)
	l := b.logger.With(zap.String("symbol", symbol), zap.Time("start", start), zap.Time("end", end))

	l.Info("Fetching historical bars...")
	bars, err := b.client.GetBars(ctx, symbol, alpaca.TimeFrameMinute, start, end)
	if err != nil {
		return nil, fmt.Errorf("could not fetch bars for %s: %w", symbol, err)
	}
	l.Info("Replaying bars", zap.Int("bars", len(bars)))

	r, err := Simulate(symbol, bars, p)
	if err != nil {
		return nil, err
	}
	r.Start, r.End = start, end

	l.Info("Backtest complete",
		zap.Int("trades", len(r.Trades)),
		zap.String("final_capital", r.FinalCapital.StringFixed(2)))
	return r, nil
}
