package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"one-percent-trader-go/internal/models"
)

const batchTimeLayout = "20060102T150405.000000Z"

// Ledger is the append-only, per-symbol store of completed trades.
// Each recording writes one JSON batch file and appends the same trades to
// the symbol's cumulative CSV file.
type Ledger struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a ledger rooted at dir, creating the directory if needed.
func New(dir string, logger *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &models.PersistenceError{Op: "create ledger dir", Path: dir, Err: err}
	}
	return &Ledger{
		dir:    dir,
		logger: logger.Named("ledger"),
		now:    time.Now,
	}, nil
}

// Dir returns the directory holding the ledger artifacts.
func (l *Ledger) Dir() string {
	return l.dir
}

// CSVPath returns the cumulative ledger file for a symbol.
func (l *Ledger) CSVPath(symbol string) string {
	return filepath.Join(l.dir, models.NormalizeSymbol(symbol)+"_summary.csv")
}

func (l *Ledger) lockPath(symbol string) string {
	return filepath.Join(l.dir, symbol+".lock")
}

// RecordTrade validates and appends a single trade. It returns the path of
// the JSON batch file that was written.
func (l *Ledger) RecordTrade(trade models.Trade) (string, error) {
	return l.RecordTrades([]models.Trade{trade})
}

// RecordTrades validates and appends a batch of trades for one symbol.
// Nothing is written unless every trade in the batch is valid.
func (l *Ledger) RecordTrades(trades []models.Trade) (string, error) {
	if len(trades) == 0 {
		return "", &models.ValidationError{Field: "trades", Reason: "batch is empty"}
	}
	batch := make([]models.Trade, len(trades))
	symbol := models.NormalizeSymbol(trades[0].Symbol)
	for i, t := range trades {
		t.Symbol = models.NormalizeSymbol(t.Symbol)
		t.EntryTime = t.EntryTime.UTC()
		t.ExitTime = t.ExitTime.UTC()
		if err := t.Validate(); err != nil {
			return "", err
		}
		if t.Symbol != symbol {
			return "", &models.ValidationError{
				Field:  "symbol",
				Reason: fmt.Sprintf("batch mixes %s and %s", symbol, t.Symbol),
			}
		}
		batch[i] = t
	}

	lock := flock.New(l.lockPath(symbol))
	if err := lock.Lock(); err != nil {
		return "", &models.PersistenceError{Op: "lock", Path: lock.Path(), Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			l.logger.Warn("Failed to release ledger lock", zap.String("symbol", symbol), zap.Error(err))
		}
	}()

	batchPath, err := l.writeBatch(symbol, batch)
	if err != nil {
		return "", err
	}

	if err := l.appendCSV(symbol, batch); err != nil {
		// Keep the two artifacts consistent: a batch without its CSV rows is dropped.
		if rmErr := os.Remove(batchPath); rmErr != nil {
			l.logger.Error("Failed to remove batch after CSV append failure",
				zap.String("batch", batchPath), zap.Error(rmErr))
		}
		return "", err
	}

	l.logger.Info("Trades recorded",
		zap.String("symbol", symbol),
		zap.Int("count", len(batch)),
		zap.String("batch", batchPath))

	return batchPath, nil
}

// writeBatch writes the JSON batch through a temp file and a rename so a
// reader never observes a half-written batch.
func (l *Ledger) writeBatch(symbol string, trades []models.Trade) (string, error) {
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return "", &models.PersistenceError{Op: "encode batch", Path: symbol, Err: err}
	}

	tmp, err := os.CreateTemp(l.dir, "."+symbol+"_trades_*.tmp")
	if err != nil {
		return "", &models.PersistenceError{Op: "create batch", Path: l.dir, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", &models.PersistenceError{Op: "write batch", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", &models.PersistenceError{Op: "sync batch", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", &models.PersistenceError{Op: "close batch", Path: tmpPath, Err: err}
	}

	finalPath := l.nextBatchPath(symbol)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		cleanup()
		return "", &models.PersistenceError{Op: "commit batch", Path: finalPath, Err: err}
	}
	return finalPath, nil
}

// nextBatchPath picks an unused batch file name. Callers hold the symbol lock.
func (l *Ledger) nextBatchPath(symbol string) string {
	stamp := l.now().UTC().Format(batchTimeLayout)
	base := filepath.Join(l.dir, fmt.Sprintf("%s_trades_%s", symbol, stamp))
	path := base + ".json"
	for i := 1; fileExists(path); i++ {
		path = fmt.Sprintf("%s_%04d.json", base, i)
	}
	return path
}

// appendCSV appends the rows in a single write; on failure the file is
// truncated back to its previous size.
func (l *Ledger) appendCSV(symbol string, trades []models.Trade) error {
	path := l.CSVPath(symbol)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &models.PersistenceError{Op: "open ledger", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &models.PersistenceError{Op: "stat ledger", Path: path, Err: err}
	}
	size := info.Size()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if size == 0 {
		if err := w.Write(models.CSVHeaders()); err != nil {
			return &models.PersistenceError{Op: "encode header", Path: path, Err: err}
		}
	}
	for _, t := range trades {
		if err := w.Write(t.ToCSV()); err != nil {
			return &models.PersistenceError{Op: "encode row", Path: path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &models.PersistenceError{Op: "encode rows", Path: path, Err: err}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		if tErr := f.Truncate(size); tErr != nil {
			l.logger.Error("Failed to roll back partial ledger append", zap.String("path", path), zap.Error(tErr))
		}
		return &models.PersistenceError{Op: "append ledger", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &models.PersistenceError{Op: "sync ledger", Path: path, Err: err}
	}
	return nil
}

// LoadTrades returns the trades of symbol whose exit time is at or after
// since, ordered by exit time. A symbol without a ledger yields no trades.
func (l *Ledger) LoadTrades(symbol string, since time.Time) ([]models.Trade, error) {
	symbol = models.NormalizeSymbol(symbol)
	if err := models.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	all, err := l.readCSV(symbol)
	if errors.Is(err, models.ErrNotFound) {
		l.logger.Debug("No ledger for symbol", zap.String("symbol", symbol))
		return []models.Trade{}, nil
	}
	if err != nil {
		return nil, err
	}

	trades := make([]models.Trade, 0, len(all))
	for _, t := range all {
		if t.ExitTime.Before(since) {
			continue
		}
		trades = append(trades, t)
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExitTime.Before(trades[j].ExitTime)
	})
	return trades, nil
}

// HasTrade reports whether the ledger already holds a trade with the same
// symbol, times, prices and quantity as t.
func (l *Ledger) HasTrade(t models.Trade) (bool, error) {
	trades, err := l.LoadTrades(t.Symbol, t.ExitTime)
	if err != nil {
		return false, err
	}
	for _, got := range trades {
		if got.EntryTime.Equal(t.EntryTime) &&
			got.ExitTime.Equal(t.ExitTime) &&
			got.EntryPrice.Equal(t.EntryPrice) &&
			got.ExitPrice.Equal(t.ExitPrice) &&
			got.Quantity.Equal(t.Quantity) {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) readCSV(symbol string) ([]models.Trade, error) {
	path := l.CSVPath(symbol)
	if !fileExists(path) {
		return nil, &models.NotFoundError{Symbol: symbol}
	}

	lock := flock.New(l.lockPath(symbol))
	if err := lock.RLock(); err != nil {
		return nil, &models.PersistenceError{Op: "lock", Path: lock.Path(), Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			l.logger.Warn("Failed to release ledger lock", zap.String("symbol", symbol), zap.Error(err))
		}
	}()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.NotFoundError{Symbol: symbol}
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "open ledger", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(models.CSVHeaders())

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []models.Trade{}, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "read header", Path: path, Err: err}
	}
	if !sameColumns(header, models.CSVHeaders()) {
		return nil, &models.PersistenceError{Op: "read header", Path: path, Err: fmt.Errorf("unexpected columns %v", header)}
	}

	var trades []models.Trade
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &models.PersistenceError{Op: "read row", Path: path, Err: err}
		}
		t, err := models.TradeFromCSV(record)
		if err != nil {
			return nil, &models.PersistenceError{Op: fmt.Sprintf("parse line %d", line), Path: path, Err: err}
		}
		if err := t.Validate(); err != nil {
			return nil, &models.PersistenceError{Op: fmt.Sprintf("validate line %d", line), Path: path, Err: err}
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// LoadBatch reads one JSON batch file back.
func (l *Ledger) LoadBatch(path string) ([]models.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.PersistenceError{Op: "read batch", Path: path, Err: err}
	}
	var trades []models.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, &models.PersistenceError{Op: "decode batch", Path: path, Err: err}
	}
	for i, t := range trades {
		if err := t.Validate(); err != nil {
			return nil, &models.PersistenceError{Op: fmt.Sprintf("validate batch entry %d", i+1), Path: path, Err: err}
		}
	}
	return trades, nil
}

// Batches lists the JSON batch files of a symbol, oldest first.
func (l *Ledger) Batches(symbol string) ([]string, error) {
	symbol = models.NormalizeSymbol(symbol)
	if err := models.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, symbol+"_trades_*.json"))
	if err != nil {
		return nil, &models.PersistenceError{Op: "list batches", Path: l.dir, Err: err}
	}
	sort.Strings(matches)
	return matches, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
