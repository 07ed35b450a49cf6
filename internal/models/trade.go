package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome classifies a completed trade by the sign of its profit or loss.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// ExitType records which exit closed the position.
type ExitType string

const (
	ExitTarget ExitType = "target"
	ExitStop   ExitType = "stop"
	ExitManual ExitType = "manual"
)

// TimeLayout is used for every timestamp written to the ledger.
const TimeLayout = time.RFC3339Nano

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]*$`)

// Trade is one completed round trip (entry and exit) as kept in the ledger.
// Profit and outcome are always derived from the prices, never stored.
type Trade struct {
	Symbol     string
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	ExitType   ExitType
}

// NewTrade builds a validated trade record.
func NewTrade(symbol string, entryPrice, exitPrice, quantity decimal.Decimal, entryTime, exitTime time.Time) (Trade, error) {
	t := Trade{
		Symbol:     NormalizeSymbol(symbol),
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Quantity:   quantity,
		EntryTime:  entryTime.UTC(),
		ExitTime:   exitTime.UTC(),
	}
	if err := t.Validate(); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol rejects empty tickers and anything that could escape the
// ledger directory when used in a file name.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Reason: fmt.Sprintf("%q contains invalid characters", symbol)}
	}
	return nil
}

// Validate checks the record invariants.
func (t Trade) Validate() error {
	if err := ValidateSymbol(t.Symbol); err != nil {
		return err
	}
	if !t.EntryPrice.IsPositive() {
		return &ValidationError{Field: "entry_price", Reason: "must be positive"}
	}
	if !t.ExitPrice.IsPositive() {
		return &ValidationError{Field: "exit_price", Reason: "must be positive"}
	}
	if !t.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if t.EntryTime.IsZero() {
		return &ValidationError{Field: "entry_time", Reason: "must be set"}
	}
	if t.ExitTime.Before(t.EntryTime) {
		return &ValidationError{Field: "exit_time", Reason: "must not be before entry_time"}
	}
	switch t.ExitType {
	case "", ExitTarget, ExitStop, ExitManual:
	default:
		return &ValidationError{Field: "exit_type", Reason: fmt.Sprintf("unknown value %q", t.ExitType)}
	}
	return nil
}

// ProfitLoss is (exit - entry) * quantity, exact.
func (t Trade) ProfitLoss() decimal.Decimal {
	return t.ExitPrice.Sub(t.EntryPrice).Mul(t.Quantity)
}

// Outcome classifies the trade; a zero result is breakeven.
func (t Trade) Outcome() Outcome {
	switch t.ProfitLoss().Sign() {
	case 1:
		return OutcomeWin
	case -1:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

// Duration is the holding time of the trade.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

type tradeJSON struct {
	Symbol     string          `json:"symbol"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryTime  string          `json:"entry_time"`
	ExitTime   string          `json:"exit_time"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	Outcome    Outcome         `json:"outcome"`
	ExitType   ExitType        `json:"exit_type,omitempty"`
}

// MarshalJSON writes the record with its derived fields.
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeJSON{
		Symbol:     t.Symbol,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		EntryTime:  t.EntryTime.UTC().Format(TimeLayout),
		ExitTime:   t.ExitTime.UTC().Format(TimeLayout),
		ProfitLoss: t.ProfitLoss(),
		Outcome:    t.Outcome(),
		ExitType:   t.ExitType,
	})
}

// UnmarshalJSON reads a record. profit_loss and outcome are ignored and
// recomputed from the prices.
func (t *Trade) UnmarshalJSON(data []byte) error {
	var raw tradeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entryTime, err := time.Parse(TimeLayout, raw.EntryTime)
	if err != nil {
		return fmt.Errorf("entry_time: %w", err)
	}
	exitTime, err := time.Parse(TimeLayout, raw.ExitTime)
	if err != nil {
		return fmt.Errorf("exit_time: %w", err)
	}
	*t = Trade{
		Symbol:     raw.Symbol,
		EntryPrice: raw.EntryPrice,
		ExitPrice:  raw.ExitPrice,
		Quantity:   raw.Quantity,
		EntryTime:  entryTime.UTC(),
		ExitTime:   exitTime.UTC(),
		ExitType:   raw.ExitType,
	}
	return nil
}

// CSVHeaders returns the column names of the cumulative ledger file.
func CSVHeaders() []string {
	return []string{
		"symbol", "entry_price", "exit_price", "quantity",
		"entry_time", "exit_time", "profit_loss", "outcome", "exit_type",
	}
}

// ToCSV renders the record as one ledger row.
func (t Trade) ToCSV() []string {
	return []string{
		t.Symbol,
		t.EntryPrice.String(),
		t.ExitPrice.String(),
		t.Quantity.String(),
		t.EntryTime.UTC().Format(TimeLayout),
		t.ExitTime.UTC().Format(TimeLayout),
		t.ProfitLoss().String(),
		string(t.Outcome()),
		string(t.ExitType),
	}
}

// TradeFromCSV parses a ledger row written by ToCSV.
func TradeFromCSV(record []string) (Trade, error) {
	if len(record) != len(CSVHeaders()) {
		return Trade{}, fmt.Errorf("expected %d columns, got %d", len(CSVHeaders()), len(record))
	}
	entryPrice, err := decimal.NewFromString(record[1])
	if err != nil {
		return Trade{}, fmt.Errorf("entry_price: %w", err)
	}
	exitPrice, err := decimal.NewFromString(record[2])
	if err != nil {
		return Trade{}, fmt.Errorf("exit_price: %w", err)
	}
	quantity, err := decimal.NewFromString(record[3])
	if err != nil {
		return Trade{}, fmt.Errorf("quantity: %w", err)
	}
	entryTime, err := time.Parse(TimeLayout, record[4])
	if err != nil {
		return Trade{}, fmt.Errorf("entry_time: %w", err)
	}
	exitTime, err := time.Parse(TimeLayout, record[5])
	if err != nil {
		return Trade{}, fmt.Errorf("exit_time: %w", err)
	}
	return Trade{
		Symbol:     record[0],
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Quantity:   quantity,
		EntryTime:  entryTime.UTC(),
		ExitTime:   exitTime.UTC(),
		ExitType:   ExitType(record[8]),
	}, nil
}
