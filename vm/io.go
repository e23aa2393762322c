package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// Prompter supplies a line of user input for get_input(...).
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// Printer receives print(...) messages.
type Printer interface {
	Print(message string) error
}

// LinePrompter writes the prompt to w and reads one line from r.
type LinePrompter struct {
	r *bufio.Reader
	w io.Writer
}

// NewLinePrompter creates a prompter over plain streams.
func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), w: w}
}

func (p *LinePrompter) Prompt(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(p.w, prompt); err != nil {
		return "", err
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// LinerPrompter reads input with line editing on an interactive terminal.
type LinerPrompter struct {
	state *liner.State
}

// NewLinerPrompter takes over the terminal until Close is called.
func NewLinerPrompter() *LinerPrompter {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	return &LinerPrompter{state: state}
}

func (p *LinerPrompter) Prompt(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.state.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", fmt.Errorf("prompt aborted: %w", context.Canceled)
		}
		return "", err
	}
	if line != "" {
		p.state.AppendHistory(line)
	}
	return line, nil
}

// Close restores the terminal.
func (p *LinerPrompter) Close() error {
	return p.state.Close()
}

// WriterPrinter writes each message on its own line.
type WriterPrinter struct {
	w io.Writer
}

// NewWriterPrinter creates a printer writing to w.
func NewWriterPrinter(w io.Writer) *WriterPrinter {
	return &WriterPrinter{w: w}
}

func (p *WriterPrinter) Print(message string) error {
	_, err := fmt.Fprintln(p.w, message)
	return err
}

// noPrompter fails every prompt; used when no input source is configured.
type noPrompter struct{}

func (noPrompter) Prompt(context.Context, string) (string, error) {
	return "", errors.New("no input source configured")
}

type discardPrinter struct{}

func (discardPrinter) Print(string) error { return nil }
