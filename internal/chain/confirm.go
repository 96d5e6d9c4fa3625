package chain

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// Prompt describes a transaction awaiting the account holder's consent.
type Prompt struct {
	Action   string
	Contract string
	Detail   string
}

// Confirmer stands in for the wallet prompt. Returning an error matching
// domain.ErrUserRejected means the holder declined.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) error
}

// AutoConfirm approves every prompt. Use it only for unattended operation.
type AutoConfirm struct{}

// Confirm implements Confirmer.
func (AutoConfirm) Confirm(context.Context, Prompt) error { return nil }

// PromptConfirmer asks on a terminal and accepts "y" or "yes".
type PromptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptConfirmer reads answers from in and writes questions to out.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm implements Confirmer.
func (p *PromptConfirmer) Confirm(ctx context.Context, pr Prompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s on %s: %s\nConfirm? [y/N] ", pr.Action, pr.Contract, pr.Detail)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return fmt.Errorf("%w: no answer: %v", domain.ErrUserRejected, a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return nil
		}
		return domain.ErrUserRejected
	}
}
