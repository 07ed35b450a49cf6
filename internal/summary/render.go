package summary

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00E5FF"))
	labelStyle = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("#B4BCC8"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2AFFAA"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7280"))
)

// Report is a summary for one symbol over a trailing window.
type Report struct {
	Symbol  string  `json:"symbol"`
	Days    int     `json:"days"`
	Summary Summary `json:"summary"`
}

// Render writes a human-readable report. An empty summary produces an
// explicit "no trades" message instead of a table of zeros.
func Render(w io.Writer, r Report) error {
	if r.Summary.TradeCount == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render(NoTradesMessage(r.Symbol, r.Days)))
		return err
	}

	s := r.Summary
	lines := []string{
		titleStyle.Render(fmt.Sprintf("=== %s summary, last %d days ===", r.Symbol, r.Days)),
		row("Trades", fmt.Sprintf("%d", s.TradeCount)),
		row("Wins / Losses / Even", fmt.Sprintf("%d / %d / %d", s.WinCount, s.LossCount, s.BreakevenCount)),
		row("Win rate", s.WinRate.StringFixed(2)+"%"),
		row("Total P/L", Money(s.TotalProfitLoss)),
		row("Average P/L", Money(s.AverageProfitLoss)),
		row("Average win", Money(s.AverageWin)),
		row("Average loss", Money(s.AverageLoss)),
		row("Best trade", Money(s.BestTrade)),
		row("Worst trade", Money(s.WorstTrade)),
		row("Profit factor", s.ProfitFactor.String()),
		row("Avg duration", FormatDuration(s.AverageDuration)),
		row("Target / stop exits", fmt.Sprintf("%d / %d", s.TargetExits, s.StopExits)),
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
	return err
}

// NoTradesMessage is shown when a window holds no trades.
func NoTradesMessage(symbol string, days int) string {
	return fmt.Sprintf("No trades found for %s in the last %d days.", symbol, days)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// Money formats an amount with two decimals, colored by sign.
func Money(d decimal.Decimal) string {
	text := "$" + d.StringFixed(2)
	if d.IsNegative() {
		text = "-$" + d.Abs().StringFixed(2)
	}
	switch d.Sign() {
	case 1:
		return gainStyle.Render(text)
	case -1:
		return lossStyle.Render(text)
	default:
		return text
	}
}

// FormatDuration renders a duration to whole seconds.
func FormatDuration(d time.Duration) string {
	return strings.TrimSpace(d.Truncate(time.Second).String())
}
