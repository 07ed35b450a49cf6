package summary

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"one-percent-trader-go/internal/models"
)

const (
	averagePlaces      = 8
	profitFactorPlaces = 4
	ratePlaces         = 2
)

var hundred = decimal.NewFromInt(100)

// ProfitFactor is gross profit over gross loss. It is Infinite when there
// are winning trades but no losing ones, and undefined (not Defined) when
// both sums are zero.
type ProfitFactor struct {
	Value    decimal.Decimal
	Infinite bool
	Defined  bool
}

func (p ProfitFactor) String() string {
	switch {
	case p.Infinite:
		return "inf"
	case !p.Defined:
		return "n/a"
	default:
		return p.Value.StringFixed(2)
	}
}

// MarshalJSON encodes an undefined factor as null and an infinite one as "inf".
func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	switch {
	case p.Infinite:
		return json.Marshal("inf")
	case !p.Defined:
		return []byte("null"), nil
	default:
		return json.Marshal(p.Value)
	}
}

// Summary aggregates a set of completed trades.
type Summary struct {
	TradeCount        int             `json:"trade_count"`
	WinCount          int             `json:"win_count"`
	LossCount         int             `json:"loss_count"`
	BreakevenCount    int             `json:"breakeven_count"`
	WinRate           decimal.Decimal `json:"win_rate_pct"`
	TotalProfitLoss   decimal.Decimal `json:"total_profit_loss"`
	AverageProfitLoss decimal.Decimal `json:"average_profit_loss"`
	GrossProfit       decimal.Decimal `json:"gross_profit"`
	GrossLoss         decimal.Decimal `json:"gross_loss"`
	AverageWin        decimal.Decimal `json:"average_win"`
	AverageLoss       decimal.Decimal `json:"average_loss"`
	BestTrade         decimal.Decimal `json:"best_trade"`
	WorstTrade        decimal.Decimal `json:"worst_trade"`
	ProfitFactor      ProfitFactor    `json:"profit_factor"`
	AverageDuration   time.Duration   `json:"average_duration_ns"`
	TargetExits       int             `json:"target_exits"`
	StopExits         int             `json:"stop_exits"`
}

// Summarize computes the metrics of trades. It never fails; an empty input
// yields zero counts and an undefined profit factor.
func Summarize(trades []models.Trade) Summary {
	s := Summary{}
	if len(trades) == 0 {
		return s
	}

	var totalDuration time.Duration
	for i, t := range trades {
		pl := t.ProfitLoss()
		s.TradeCount++
		s.TotalProfitLoss = s.TotalProfitLoss.Add(pl)
		totalDuration += t.Duration()

		switch t.Outcome() {
		case models.OutcomeWin:
			s.WinCount++
			s.GrossProfit = s.GrossProfit.Add(pl)
		case models.OutcomeLoss:
			s.LossCount++
			s.GrossLoss = s.GrossLoss.Add(pl.Abs())
		default:
			s.BreakevenCount++
		}

		switch t.ExitType {
		case models.ExitTarget:
			s.TargetExits++
		case models.ExitStop:
			s.StopExits++
		}

		if i == 0 || pl.GreaterThan(s.BestTrade) {
			s.BestTrade = pl
		}
		if i == 0 || pl.LessThan(s.WorstTrade) {
			s.WorstTrade = pl
		}
	}

	count := decimal.NewFromInt(int64(s.TradeCount))
	s.AverageProfitLoss = s.TotalProfitLoss.DivRound(count, averagePlaces)
	s.WinRate = decimal.NewFromInt(int64(s.WinCount)).Mul(hundred).DivRound(count, ratePlaces)
	s.AverageDuration = totalDuration / time.Duration(s.TradeCount)

	if s.WinCount > 0 {
		s.AverageWin = s.GrossProfit.DivRound(decimal.NewFromInt(int64(s.WinCount)), averagePlaces)
	}
	if s.LossCount > 0 {
		s.AverageLoss = s.GrossLoss.Neg().DivRound(decimal.NewFromInt(int64(s.LossCount)), averagePlaces)
	}

	s.ProfitFactor = profitFactor(s.GrossProfit, s.GrossLoss)
	return s
}

func profitFactor(grossProfit, grossLoss decimal.Decimal) ProfitFactor {
	switch {
	case grossLoss.IsZero() && grossProfit.IsZero():
		return ProfitFactor{}
	case grossLoss.IsZero():
		return ProfitFactor{Infinite: true, Defined: true}
	default:
		return ProfitFactor{Value: grossProfit.DivRound(grossLoss, profitFactorPlaces), Defined: true}
	}
}

// WindowStart is the beginning of a trailing window of days ending at now.
func WindowStart(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// DayStats is the per-day slice of a trade set, grouped by entry date.
type DayStats struct {
	Date            string          `json:"date"`
	TradeCount      int             `json:"trade_count"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	MeanProfitLoss  decimal.Decimal `json:"mean_profit_loss"`
	TargetExits     int             `json:"target_exits"`
	StopExits       int             `json:"stop_exits"`
}

// Daily groups trades by UTC entry date, oldest day first.
func Daily(trades []models.Trade) []DayStats {
	byDay := make(map[string][]models.Trade)
	for _, t := range trades {
		day := t.EntryTime.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], t)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	stats := make([]DayStats, 0, len(days))
	for _, d := range days {
		s := Summarize(byDay[d])
		stats = append(stats, DayStats{
			Date:            d,
			TradeCount:      s.TradeCount,
			TotalProfitLoss: s.TotalProfitLoss.Round(ratePlaces),
			MeanProfitLoss:  s.AverageProfitLoss.Round(ratePlaces),
			TargetExits:     s.TargetExits,
			StopExits:       s.StopExits,
		})
	}
	return stats
}
