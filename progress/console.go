package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// ConsoleSink renders progress on a terminal using a single live bar, the
// way the corpus's CLI front ends drive schollz/progressbar: one bar per
// batch, replaced wholesale rather than mutated in place across phases.
type ConsoleSink struct {
	description string

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

var _ Sink = (*ConsoleSink)(nil)

// NewConsoleSink constructs a ConsoleSink whose bar carries description as
// its label (e.g. "Installing packages").
func NewConsoleSink(description string) *ConsoleSink {
	return &ConsoleSink{description: description}
}

func (c *ConsoleSink) Start(total int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(c.description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
	return nil
}

func (c *ConsoleSink) UpdateStatus(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar == nil {
		return nil
	}
	c.bar.Describe(msg)
	return nil
}

func (c *ConsoleSink) Update(delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar == nil {
		return nil
	}
	return c.bar.Add64(delta)
}

func (c *ConsoleSink) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar == nil {
		return nil
	}
	return c.bar.Close()
}

func (c *ConsoleSink) Complete(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		_ = c.bar.Finish()
	}
	fmt.Fprintln(os.Stdout, color.GreenString("✓ ")+msg)
	return nil
}

// Warn prints a non-fatal, user-facing warning (non-exact fallback
// version, integrity mismatch) in a distinct color, outside the Sink
// interface since warnings aren't a defined checkpoint.
func Warn(msg string) {
	fmt.Fprintln(os.Stderr, color.YellowString("! ")+msg)
}
