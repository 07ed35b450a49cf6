package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"one-percent-trader-go/internal/ledger"
	"one-percent-trader-go/internal/models"
	"one-percent-trader-go/internal/summary"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log         *zap.Logger
	ledger      *ledger.Ledger
	db          *gorm.DB
	defaultDays int
	now         func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, l *ledger.Ledger, db *gorm.DB, defaultDays int) *APIHandler {
	return &APIHandler{log: log, ledger: l, db: db, defaultDays: defaultDays, now: time.Now}
}

// Routes registers the API endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.HandleFunc("GET /api/trades", h.TradesHandler)
	mux.HandleFunc("GET /api/summary", h.SummaryHandler)
	mux.HandleFunc("GET /api/positions", h.PositionsHandler)
}

// HealthHandler reports that the server is up.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TradesHandler returns the trades of a symbol in the trailing window.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	symbol, days, ok := h.windowParams(w, r)
	if !ok {
		return
	}
	trades, err := h.ledger.LoadTrades(symbol, summary.WindowStart(h.now(), days))
	if err != nil {
		h.fail(w, "Failed to load trades", err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// SummaryResponse is the body of /api/summary.
type SummaryResponse struct {
	summary.Report
	Daily []summary.DayStats `json:"daily"`
}

// SummaryHandler returns the summary of a symbol in the trailing window.
func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	symbol, days, ok := h.windowParams(w, r)
	if !ok {
		return
	}
	trades, err := h.ledger.LoadTrades(symbol, summary.WindowStart(h.now(), days))
	if err != nil {
		h.fail(w, "Failed to load trades", err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Report: summary.Report{Symbol: symbol, Days: days, Summary: summary.Summarize(trades)},
		Daily:  summary.Daily(trades),
	})
}

// PositionView is a tracked engine position.
type PositionView struct {
	ID          uint                  `json:"id"`
	Symbol      string                `json:"symbol"`
	Status      models.PositionStatus `json:"status"`
	Quantity    decimal.Decimal       `json:"quantity"`
	EntryPrice  decimal.Decimal       `json:"entry_price"`
	TargetPrice decimal.Decimal       `json:"target_price"`
	StopPrice   decimal.Decimal       `json:"stop_price"`
	EntryTime   time.Time             `json:"entry_time"`
	ExitOrderID string                `json:"exit_order_id"`
}

// PositionsHandler returns the positions the engine is still following.
func (h *APIHandler) PositionsHandler(w http.ResponseWriter, r *http.Request) {
	var positions []models.Position
	err := h.db.Where("status IN ?", []string{
		string(models.PositionPending), string(models.PositionOpen), string(models.PositionOrphaned),
	}).
		Order("entry_time desc").
		Find(&positions).Error
	if err != nil {
		h.fail(w, "Failed to get positions", err)
		return
	}

	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, PositionView{
			ID:          p.ID,
			Symbol:      p.Symbol,
			Status:      p.Status,
			Quantity:    p.Quantity,
			EntryPrice:  p.EntryPrice,
			TargetPrice: p.TargetPrice,
			StopPrice:   p.StopPrice,
			EntryTime:   p.EntryTime,
			ExitOrderID: p.ExitOrderID,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) windowParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	symbol := models.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if err := models.ValidateSymbol(symbol); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", 0, false
	}

	days := h.defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return "", 0, false
		}
		days = n
	}
	return symbol, days, true
}

func (h *APIHandler) fail(w http.ResponseWriter, msg string, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
