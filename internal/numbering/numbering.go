// Package numbering issues year-scoped sequential numbers for proposals
// (2026-001) and invoices (INV-2026-001).
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind selects the document series.
type Kind string

const (
	KindProposal Kind = "proposal"
	KindInvoice  Kind = "invoice"
)

// Prefix returns the fixed text preceding the year.
func (k Kind) Prefix() string {
	if k == KindInvoice {
		return "INV-"
	}
	return ""
}

// minDigits is the zero padding of the sequence part.
const minDigits = 3

var (
	// ErrDuplicateNumber is reported by stores when an insert hits the unique
	// number constraint. Callers regenerate and retry.
	ErrDuplicateNumber = errors.New("numbering: duplicate number")
	// ErrMalformed is returned when an existing number cannot be parsed.
	ErrMalformed = errors.New("numbering: malformed number")
)

// Store looks up the highest number issued so far for a series and year
// prefix, e.g. "INV-2026-". ok is false when the year has no numbers yet.
type Store interface {
	LastNumber(ctx context.Context, kind Kind, yearPrefix string) (number string, ok bool, err error)
}

// Generator derives the next number from the last issued one. It does not
// reserve numbers: concurrent callers can receive the same value, and the
// unique constraint on insert settles the race.
type Generator struct {
	store Store
	now   func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source used to pick the year.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator constructs a generator backed by store.
func NewGenerator(store Store, opts ...Option) *Generator {
	g := &Generator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextProposalNumber returns the next proposal number for the current year.
func (g *Generator) NextProposalNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, KindProposal)
}

// NextInvoiceNumber returns the next invoice number for the current year.
func (g *Generator) NextInvoiceNumber(ctx context.Context) (string, error) {
	return g.Next(ctx, KindInvoice)
}

// Next returns the number following the last one issued this year, or the
// first of the year.
func (g *Generator) Next(ctx context.Context, kind Kind) (string, error) {
	year := g.now().Year()
	prefix := kind.Prefix()
	last, ok, err := g.store.LastNumber(ctx, kind, yearPrefix(prefix, year))
	if err != nil {
		return "", fmt.Errorf("numbering: last %s number: %w", kind, err)
	}
	seq := 1
	if ok {
		_, lastSeq, err := Parse(prefix, last)
		if err != nil {
			return "", err
		}
		seq = lastSeq + 1
	}
	return Format(prefix, year, seq), nil
}

// Format renders prefix, year and a sequence padded to three digits. Longer
// sequences keep all their digits.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s%d-%0*d", prefix, year, minDigits, seq)
}

// Parse splits a formatted number into year and sequence.
func Parse(prefix, number string) (year, seq int, err error) {
	rest, found := strings.CutPrefix(number, prefix)
	if !found {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	yearPart, seqPart, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	year, err = strconv.Atoi(yearPart)
	if err != nil || len(yearPart) != 4 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	seq, err = strconv.Atoi(seqPart)
	if err != nil || seq < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	return year, seq, nil
}

// Less orders numbers of one series by sequence; plain string order breaks
// once a sequence grows past three digits.
func Less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func yearPrefix(prefix string, year int) string {
	return fmt.Sprintf("%s%d-", prefix, year)
}

// WithRetry runs fn until it succeeds, fails with an error other than
// ErrDuplicateNumber, or attempts are exhausted. fn must generate a fresh
// number on every call.
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrDuplicateNumber) {
			return err
		}
	}
	return fmt.Errorf("numbering: gave up after %d attempts: %w", attempts, err)
}
