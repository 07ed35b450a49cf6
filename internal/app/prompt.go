package app

import (
	"context"
	"errors"
	"strings"

	"github.com/chzyer/readline"
)

// ErrInterrupted is returned when the user presses Ctrl-C at a prompt.
var ErrInterrupted = errors.New("interrupted")

// LinePrompter reads answers from the terminal with line editing.
type LinePrompter struct {
	rl *readline.Instance
}

// NewLinePrompter opens the terminal for prompting. Close releases it.
func NewLinePrompter() (*LinePrompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &LinePrompter{rl: rl}, nil
}

// Prompt shows question and returns the trimmed answer.
func (p *LinePrompter) Prompt(question string) (string, error) {
	p.rl.SetPrompt(question)
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", ErrInterrupted
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close restores the terminal.
func (p *LinePrompter) Close() error {
	return p.rl.Close()
}

// Ask returns the answer to question, or fallback when the answer is empty.
func Ask(p Prompter, question, fallback string) (string, error) {
	answer, err := p.Prompt(question)
	if err != nil {
		return "", err
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return fallback, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question; only answers starting with y are yes.
func Confirm(ctx context.Context, p Prompter, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	answer, err := p.Prompt(question)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y"), nil
}
