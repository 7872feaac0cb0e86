// Package confirm asks the operator to resolve pages the scraper cannot get
// past on its own, such as logins or captchas.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input closes before the operator answered.
var ErrNoInput = errors.New("no operator input")

const (
	keyEnter   = '\r'
	keyNewline = '\n'
	keyEscape  = 0x1b
	bell       = "\a"
	hint       = "Hit <Enter> to continue or <Esc> to skip."
)

// Console prompts on a terminal and waits for a single key.
type Console struct {
	in  io.Reader
	fd  int
	out io.Writer

	mu   sync.Mutex
	keys chan keyPress
}

type keyPress struct {
	key byte
	err error
}

// NewConsole reads from in and writes prompts to out. Raw mode is used when
// in is a terminal so a single key press answers.
func NewConsole(in *os.File, out io.Writer) *Console {
	fd := -1
	if term.IsTerminal(int(in.Fd())) {
		fd = int(in.Fd())
	}
	return &Console{in: in, fd: fd, out: out}
}

// NewReaderConsole reads answers from a plain reader, e.g. a pipe.
func NewReaderConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, fd: -1, out: out}
}

// Confirm beeps, prints prompt and waits for Enter (true) or Esc (false).
// Other keys are ignored. Cancelling ctx abandons the wait.
func (c *Console) Confirm(ctx context.Context, prompt string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	if _, err := fmt.Fprintf(c.out, "%s%s\n%s\n", bell, prompt, hint); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	if c.fd >= 0 {
		state, err := term.MakeRaw(c.fd)
		if err != nil {
			return false, fmt.Errorf("enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(c.fd, state) }()
	}

	keys := c.reader()
	for {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("confirm: %w", ctx.Err())
		case k, ok := <-keys:
			if !ok {
				return false, ErrNoInput
			}
			if k.err != nil {
				if errors.Is(k.err, io.EOF) {
					return false, ErrNoInput
				}
				return false, fmt.Errorf("read key: %w", k.err)
			}
			switch k.key {
			case keyEnter, keyNewline:
				return true, nil
			case keyEscape:
				return false, nil
			}
		}
	}
}

// reader starts the key pump once. A read blocked when ctx ends keeps its
// key for the next Confirm.
func (c *Console) reader() <-chan keyPress {
	if c.keys != nil {
		return c.keys
	}
	c.keys = make(chan keyPress)
	go func(r *bufio.Reader, keys chan<- keyPress) {
		for {
			b, err := r.ReadByte()
			keys <- keyPress{key: b, err: err}
			if err != nil {
				close(keys)
				return
			}
		}
	}(bufio.NewReader(c.in), c.keys)
	return c.keys
}

// AutoDeny answers every prompt with "skip".
type AutoDeny struct{}

// Confirm returns false unless ctx has ended.
func (AutoDeny) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return false, nil
}

// AutoApprove answers every prompt with "continue".
type AutoApprove struct{}

// Confirm returns true unless ctx has ended.
func (AutoApprove) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return true, nil
}
