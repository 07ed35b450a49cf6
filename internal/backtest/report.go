package backtest

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"one-percent-trader-go/internal/summary"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00E5FF")).MarginTop(1)
	keyStyle    = lipgloss.NewStyle().Width(24).Foreground(lipgloss.Color("#B4BCC8"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7280"))
)

// NoTradesMessage is printed when a replay never entered a position.
const NoTradesMessage = "No trades executed during this period."

// WriteSummary prints the short report: capital, return and the headline
// metrics of the replay.
func WriteSummary(w io.Writer, r *Result) error {
	if len(r.Trades) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render(NoTradesMessage))
		return err
	}

	s := r.Summary
	lines := []string{
		headerStyle.Render("=== Trading Summary ==="),
		kv("Initial capital", "$"+r.InitialCapital.StringFixed(2)),
		kv("Final capital", "$"+r.FinalCapital.StringFixed(2)),
		kv("Total P/L", fmt.Sprintf("%s (%s%% return)", summary.Money(s.TotalProfitLoss), r.TotalReturnPct.StringFixed(2))),
		kv("Number of trades", fmt.Sprintf("%d", s.TradeCount)),
		kv("Win rate", s.WinRate.StringFixed(1)+"%"),
		kv("Average duration", summary.FormatDuration(s.AverageDuration)),
		kv("Best trade", summary.Money(s.BestTrade)),
		kv("Worst trade", summary.Money(s.WorstTrade)),
	}
	if r.Open {
		lines = append(lines, dimStyle.Render("A position was still open at the end of the period."))
	}
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
	return err
}

// WriteDetails prints the detailed statistics, the per-day breakdown and the
// trade log.
func WriteDetails(w io.Writer, r *Result) error {
	if len(r.Trades) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render(NoTradesMessage))
		return err
	}

	s := r.Summary
	lines := []string{
		headerStyle.Render("=== Detailed Statistics ==="),
		kv("Profitable trades", fmt.Sprintf("%d", s.WinCount)),
		kv("Losing trades", fmt.Sprintf("%d", s.LossCount+s.BreakevenCount)),
		kv("Average profit", summary.Money(s.AverageWin)),
		kv("Average loss", summary.Money(s.AverageLoss)),
		kv("Profit factor", s.ProfitFactor.String()),
		kv("Target exits", fmt.Sprintf("%d", s.TargetExits)),
		kv("Stop-loss exits", fmt.Sprintf("%d", s.StopExits)),
		headerStyle.Render("=== Daily Performance ==="),
		dimStyle.Render(fmt.Sprintf("%-12s %6s %12s %12s %7s %5s", "date", "trades", "total", "mean", "target", "stop")),
	}
	for _, d := range r.Daily {
		lines = append(lines, fmt.Sprintf("%-12s %6d %12s %12s %7d %5d",
			d.Date, d.TradeCount, d.TotalProfitLoss.StringFixed(2), d.MeanProfitLoss.StringFixed(2), d.TargetExits, d.StopExits))
	}

	lines = append(lines, headerStyle.Render("=== Trade Log ==="))
	for i, t := range r.Trades {
		lines = append(lines, fmt.Sprintf("%3d. %s -> %s  $%s -> $%s  x%s  %s  %s",
			i+1,
			t.EntryTime.Format("2006-01-02 15:04"),
			t.ExitTime.Format("15:04"),
			t.EntryPrice.StringFixed(2),
			t.ExitPrice.StringFixed(2),
			t.Quantity.String(),
			summary.Money(t.ProfitLoss()),
			t.ExitType))
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
	return err
}

func kv(key, value string) string {
	return keyStyle.Render(key) + value
}
