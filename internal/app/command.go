package app

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"one-percent-trader-go/internal/models"
)

// Command is what one invocation of the trader asks for. It is one of
// RunTrading, ShowSummary or ForceSummary.
type Command interface {
	command()
}

// RunTrading prompts for a symbol and an investment amount and starts the
// trading loop.
type RunTrading struct{}

// ShowSummary prints the summary of the trailing Days of trades of Symbol.
type ShowSummary struct {
	Symbol string
	Days   int
	JSON   bool
}

// ForceSummary records one sample profitable trade for Symbol and then
// prints its summary, exercising the whole ledger path without a broker.
type ForceSummary struct {
	Symbol string
	Days   int
	JSON   bool
}

func (RunTrading) command()   {}
func (ShowSummary) command()  {}
func (ForceSummary) command() {}

// ErrUsage is returned for invalid command lines.
var ErrUsage = errors.New("invalid arguments")

// ParseCommand resolves the command line into a Command. defaultDays is the
// summary window used when --days is not given.
func ParseCommand(args []string, defaultDays int, output io.Writer) (Command, error) {
	fs := flag.NewFlagSet("trader", flag.ContinueOnError)
	fs.SetOutput(output)

	summarySymbol := fs.String("summary", "", "print the trade summary of `SYMBOL` and exit")
	forceSymbol := fs.String("force-summary", "", "record a sample trade for `SYMBOL`, then print its summary")
	days := fs.Int("days", defaultDays, "trailing window of the summary in days")
	asJSON := fs.Bool("json", false, "print the summary as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}
	if *summarySymbol != "" && *forceSymbol != "" {
		return nil, fmt.Errorf("%w: --summary and --force-summary are exclusive", ErrUsage)
	}
	if *days <= 0 {
		return nil, fmt.Errorf("%w: --days must be positive", ErrUsage)
	}

	switch {
	case *summarySymbol != "":
		symbol, err := parseSymbol(*summarySymbol)
		if err != nil {
			return nil, err
		}
		return ShowSummary{Symbol: symbol, Days: *days, JSON: *asJSON}, nil
	case *forceSymbol != "":
		symbol, err := parseSymbol(*forceSymbol)
		if err != nil {
			return nil, err
		}
		return ForceSummary{Symbol: symbol, Days: *days, JSON: *asJSON}, nil
	default:
		return RunTrading{}, nil
	}
}

func parseSymbol(raw string) (string, error) {
	symbol := models.NormalizeSymbol(raw)
	if err := models.ValidateSymbol(symbol); err != nil {
		return "", err
	}
	return symbol, nil
}
