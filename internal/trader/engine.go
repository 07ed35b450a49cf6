package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"one-percent-trader-go/internal/alpaca"
	"one-percent-trader-go/internal/config"
	"one-percent-trader-go/internal/database"
	"one-percent-trader-go/internal/ledger"
	"one-percent-trader-go/internal/models"
)

var errFillTimeout = errors.New("order not filled before timeout")

// Engine buys one symbol when hourly volume picks up, protects the position
// with a take-profit/stop OCO order and records every closed position in the
// ledger.
type Engine struct {
	logger     *zap.Logger
	cfg        config.Trading
	client     alpaca.Client
	db         *gorm.DB
	ledger     *ledger.Ledger
	symbol     string
	investment decimal.Decimal
	now        func() time.Time
}

// NewEngine creates a new trading engine for symbol.
func NewEngine(logger *zap.Logger, cfg config.Trading, client alpaca.Client, db *gorm.DB, l *ledger.Ledger, symbol string, investment decimal.Decimal) (*Engine, error) {
	symbol = models.NormalizeSymbol(symbol)
	if err := models.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if !investment.IsPositive() {
		return nil, &models.ValidationError{Field: "investment", Reason: "must be positive"}
	}
	return &Engine{
		logger:     logger.Named("engine").With(zap.String("symbol", symbol)),
		cfg:        cfg,
		client:     client,
		db:         db,
		ledger:     l,
		symbol:     symbol,
		investment: investment,
		now:        time.Now,
	}, nil
}

// Run starts the trading engine's main loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info("Starting trading loop",
		zap.Duration("interval", e.cfg.TickInterval),
		zap.String("investment", e.investment.StringFixed(2)))

	for {
		if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one round: follow the pending buy or the open position if there
// is one, otherwise look for an entry.
func (e *Engine) Tick(ctx context.Context) error {
	pos, err := database.ActivePosition(e.db, e.symbol)
	if err != nil {
		return err
	}
	switch {
	case pos == nil:
		return e.tryEntry(ctx)
	case pos.Status == models.PositionPending:
		return e.followEntry(ctx, pos)
	default:
		return e.followPosition(ctx, pos)
	}
}

// followEntry checks a buy order that had not filled when the engine last
// looked at it.
func (e *Engine) followEntry(ctx context.Context, pos *models.Position) error {
	order, err := e.client.GetOrder(ctx, pos.EntryOrderID)
	if alpaca.IsNotFound(err) {
		return e.orphan(pos, "Buy order is unknown to the broker")
	}
	if err != nil {
		return fmt.Errorf("could not check buy order: %w", err)
	}
	return e.settleEntry(ctx, pos, order)
}

// settleEntry opens and protects pos once its buy order is done. Whatever
// filled before a cancel is still held and gets exit orders.
func (e *Engine) settleEntry(ctx context.Context, pos *models.Position, order *alpaca.Order) error {
	if !order.IsFilled() && !order.IsDead() {
		e.logger.Debug("Buy order still working", zap.String("status", order.Status))
		return nil
	}
	if !order.FilledQty.IsPositive() || !order.FilledAvgPrice.Valid {
		e.logger.Info("Buy order ended without a fill",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status))
		return e.db.Model(pos).Update("status", models.PositionCanceled).Error
	}

	if order.FilledAt != nil {
		pos.EntryTime = order.FilledAt.UTC()
	}
	pos.Status = models.PositionOpen
	pos.Quantity = order.FilledQty
	pos.EntryPrice = order.FilledAvgPrice.Decimal
	if err := e.db.Save(pos).Error; err != nil {
		return fmt.Errorf("bought %s but could not save position: %w", e.symbol, err)
	}
	e.logger.Info("Bought",
		zap.String("qty", pos.Quantity.String()),
		zap.String("entry_price", pos.EntryPrice.String()),
		zap.Uint("position_id", pos.ID))

	return e.placeExits(ctx, pos)
}

func (e *Engine) orphan(pos *models.Position, msg string, fields ...zap.Field) error {
	e.logger.Error(msg+", position needs manual attention",
		append(fields, zap.Uint("position_id", pos.ID))...)
	return e.db.Model(pos).Update("status", models.PositionOrphaned).Error
}

// followPosition checks the exit order of an open position and records the
// trade once one of its legs has filled.
func (e *Engine) followPosition(ctx context.Context, pos *models.Position) error {
	if pos.ExitOrderID == "" {
		e.logger.Warn("Open position has no exit order, placing it", zap.Uint("position_id", pos.ID))
		return e.placeExits(ctx, pos)
	}

	order, err := e.client.GetOrder(ctx, pos.ExitOrderID)
	if alpaca.IsNotFound(err) {
		return e.orphan(pos, "Exit order is unknown to the broker", zap.String("order_id", pos.ExitOrderID))
	}
	if err != nil {
		return fmt.Errorf("could not check exit order: %w", err)
	}

	leg := order.FilledLeg()
	if leg == nil {
		if order.IsDead() {
			return e.orphan(pos, "Exit order ended without a fill",
				zap.String("order_id", order.ID),
				zap.String("status", order.Status))
		}
		e.logger.Debug("Exit order still working", zap.String("status", order.Status))
		return nil
	}

	exitType := models.ExitTarget
	if leg.Type != alpaca.OrderTypeLimit {
		exitType = models.ExitStop
	}
	exitTime := e.now()
	if leg.FilledAt != nil {
		exitTime = *leg.FilledAt
	}
	if exitTime.Before(pos.EntryTime) {
		exitTime = pos.EntryTime
	}

	trade, err := pos.ToTrade(leg.FilledAvgPrice.Decimal, exitTime, exitType)
	if err != nil {
		return fmt.Errorf("could not build trade from position %d: %w", pos.ID, err)
	}
	// A previous tick may have recorded the trade and then failed to close
	// the position.
	recorded, err := e.ledger.HasTrade(trade)
	if err != nil {
		return fmt.Errorf("could not check ledger: %w", err)
	}
	path := "already recorded"
	if !recorded {
		if path, err = e.ledger.RecordTrade(trade); err != nil {
			return fmt.Errorf("could not record trade: %w", err)
		}
	}

	exitUTC := trade.ExitTime
	pos.Status = models.PositionClosed
	pos.ExitTime = &exitUTC
	if err := e.db.Save(pos).Error; err != nil {
		return fmt.Errorf("trade recorded but position %d not closed: %w", pos.ID, err)
	}

	e.logger.Info("Position closed",
		zap.String("exit_type", string(exitType)),
		zap.String("exit_price", trade.ExitPrice.String()),
		zap.String("profit_loss", trade.ProfitLoss().StringFixed(2)),
		zap.String("batch", path))
	return nil
}

// tryEntry buys when the market is open, nothing is held and volume is up.
func (e *Engine) tryEntry(ctx context.Context) error {
	var (
		clock     *alpaca.Clock
		positions []alpaca.Position
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clock, err = e.client.GetClock(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = e.client.ListPositions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if !clock.IsOpen {
		e.logger.Info("Market is closed, waiting", zap.Time("next_open", clock.NextOpen))
		return nil
	}
	for _, p := range positions {
		if p.Symbol == e.symbol {
			e.logger.Info("Broker already holds symbol, not buying", zap.String("qty", p.Qty.String()))
			return nil
		}
	}

	hourly, err := e.client.GetBars(ctx, e.symbol, alpaca.TimeFrameHour, sessionStart(clock.Timestamp), time.Time{})
	if err != nil {
		return err
	}
	ok, latest, average := VolumeConditionMet(hourly, e.cfg.VolumeThreshold)
	if !ok {
		e.logger.Info("Volume condition not met",
			zap.String("latest_volume", latest.String()),
			zap.String("average_volume", average.StringFixed(0)))
		return nil
	}

	minute, err := e.client.GetBars(ctx, e.symbol, alpaca.TimeFrameMinute, clock.Timestamp.Add(-15*time.Minute), time.Time{})
	if err != nil {
		return err
	}
	if len(minute) == 0 {
		e.logger.Warn("No recent price available")
		return nil
	}
	price := minute[len(minute)-1].Close

	qty := ShareQuantity(e.investment, price)
	if qty.LessThan(one) {
		e.logger.Warn("Investment too small for one share",
			zap.String("price", price.String()),
			zap.String("investment", e.investment.String()))
		return nil
	}

	return e.enter(ctx, qty)
}

// enter buys qty shares and tracks the order as a pending position until it
// fills. A buy still unfilled after FillTimeout is cancelled; the pending
// position stays so a late fill is picked up by the next tick.
func (e *Engine) enter(ctx context.Context, qty decimal.Decimal) error {
	l := e.logger.With(zap.String("qty", qty.String()))
	l.Info("Volume condition met, buying")

	order, err := e.client.SubmitOrder(ctx, alpaca.OrderRequest{
		Symbol:        e.symbol,
		Qty:           qty,
		Side:          alpaca.OrderSideBuy,
		Type:          alpaca.OrderTypeMarket,
		TimeInForce:   alpaca.TimeInForceDay,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return err
	}

	pos := &models.Position{
		Symbol:       e.symbol,
		Status:       models.PositionPending,
		EntryOrderID: order.ID,
		Quantity:     qty,
		EntryTime:    e.now().UTC(),
	}
	if err := e.db.Create(pos).Error; err != nil {
		return fmt.Errorf("buy order %s placed but not saved: %w", order.ID, err)
	}

	done, err := e.waitForFill(ctx, order.ID)
	if errors.Is(err, errFillTimeout) {
		if cancelErr := e.client.CancelOrder(ctx, order.ID); cancelErr != nil {
			l.Warn("Could not cancel unfilled buy order", zap.String("order_id", order.ID), zap.Error(cancelErr))
		}
		return fmt.Errorf("buy order %s: %w", order.ID, err)
	}
	if err != nil {
		return fmt.Errorf("buy order %s: %w", order.ID, err)
	}
	return e.settleEntry(ctx, pos, done)
}

// waitForFill polls an order until it fills, dies or FillTimeout passes.
func (e *Engine) waitForFill(ctx context.Context, id string) (*alpaca.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.FillPollInterval)
	defer ticker.Stop()

	for {
		order, err := e.client.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, errFillTimeout
			}
			return nil, err
		}
		if order.IsFilled() || order.IsDead() {
			return order, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errFillTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// placeExits submits the OCO take-profit/stop order for pos.
func (e *Engine) placeExits(ctx context.Context, pos *models.Position) error {
	target, stop := ExitPrices(pos.EntryPrice, e.cfg.TargetProfitPct, e.cfg.StopLossPct)

	order, err := e.client.SubmitOrder(ctx, alpaca.OrderRequest{
		Symbol:        pos.Symbol,
		Qty:           pos.Quantity,
		Side:          alpaca.OrderSideSell,
		Type:          alpaca.OrderTypeLimit,
		TimeInForce:   alpaca.TimeInForceGTC,
		OrderClass:    alpaca.OrderClassOCO,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: target},
		StopLoss:      &alpaca.StopLoss{StopPrice: stop},
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("could not place exit orders: %w", err)
	}

	pos.TargetPrice = target
	pos.StopPrice = stop
	pos.ExitOrderID = order.ID
	if err := e.db.Save(pos).Error; err != nil {
		return fmt.Errorf("exit order %s placed but not saved: %w", order.ID, err)
	}

	e.logger.Info("Exit orders placed",
		zap.String("order_id", order.ID),
		zap.String("target", target.String()),
		zap.String("stop", stop.String()))
	return nil
}
