package alpaca

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
	OrderTypeStop   = "stop"

	OrderClassOCO = "oco"

	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"

	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
	OrderStatusExpired  = "expired"
	OrderStatusRejected = "rejected"

	TimeFrameMinute = "1Min"
	TimeFrameHour   = "1Hour"
)

// Clock is the market clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp  time.Time       `json:"t"`
	Open       decimal.Decimal `json:"o"`
	High       decimal.Decimal `json:"h"`
	Low        decimal.Decimal `json:"l"`
	Close      decimal.Decimal `json:"c"`
	Volume     int64           `json:"v"`
	TradeCount int64           `json:"n"`
	VWAP       decimal.Decimal `json:"vw"`
}

type barsResponse struct {
	Symbol        string  `json:"symbol"`
	Bars          []Bar   `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// Position is an open position held at the broker.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

// TakeProfit is the limit leg of an OCO or bracket order.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// StopLoss is the stop leg of an OCO or bracket order.
type StopLoss struct {
	StopPrice decimal.Decimal `json:"stop_price"`
}

// OrderRequest is the body of a new order.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	OrderClass    string           `json:"order_class,omitempty"`
	TakeProfit    *TakeProfit      `json:"take_profit,omitempty"`
	StopLoss      *StopLoss        `json:"stop_loss,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Order is an order as reported by the broker. OCO orders carry their
// stop leg in Legs.
type Order struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	OrderClass     string              `json:"order_class"`
	Status         string              `json:"status"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	SubmittedAt    time.Time           `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	Legs           []Order             `json:"legs"`
}

// IsFilled reports a complete fill with a known price.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled && o.FilledAvgPrice.Valid
}

// IsDead reports an order that ended without filling.
func (o *Order) IsDead() bool {
	switch o.Status {
	case OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// FilledLeg returns the filled order among o and its legs, or nil.
func (o *Order) FilledLeg() *Order {
	if o.IsFilled() {
		return o
	}
	for i := range o.Legs {
		if o.Legs[i].IsFilled() {
			return &o.Legs[i]
		}
	}
	return nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}
