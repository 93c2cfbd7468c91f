package numbering

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	numbers map[Kind][]string
	err     error
}

func (m *memoryStore) LastNumber(_ context.Context, kind Kind, yearPrefix string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	var matching []string
	for _, n := range m.numbers[kind] {
		if strings.HasPrefix(n, yearPrefix) {
			matching = append(matching, n)
		}
	}
	if len(matching) == 0 {
		return "", false, nil
	}
	sort.Slice(matching, func(i, j int) bool { return Less(matching[i], matching[j]) })
	return matching[len(matching)-1], true, nil
}

func fixedClock(year int) func() time.Time {
	return func() time.Time { return time.Date(year, time.June, 1, 12, 0, 0, 0, time.UTC) }
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "2026-001", Format("", 2026, 1))
	assert.Equal(t, "INV-2026-042", Format("INV-", 2026, 42))
	assert.Equal(t, "2026-1000", Format("", 2026, 1000))

	year, seq, err := Parse("INV-", "INV-2026-042")
	require.NoError(t, err)
	assert.Equal(t, 2026, year)
	assert.Equal(t, 42, seq)

	for _, bad := range []string{"2026-001", "INV-26-001", "INV-2026", "INV-2026-abc", "INV-2026-000"} {
		_, _, err := Parse("INV-", bad)
		require.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestGeneratorStartsAtOneEachYear(t *testing.T) {
	store := &memoryStore{numbers: map[Kind][]string{
		KindProposal: {"2025-017", "2025-018"},
	}}
	g := NewGenerator(store, WithClock(fixedClock(2026)))

	n, err := g.NextProposalNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-001", n)

	n, err = g.NextInvoiceNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-001", n)
}

func TestGeneratorIncrementsPastPadding(t *testing.T) {
	store := &memoryStore{numbers: map[Kind][]string{
		KindInvoice: {"INV-2026-998", "INV-2026-999", "INV-2026-1000", "INV-2025-5000"},
	}}
	g := NewGenerator(store, WithClock(fixedClock(2026)))
	n, err := g.NextInvoiceNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-1001", n)
}

func TestGeneratorPropagatesErrors(t *testing.T) {
	g := NewGenerator(&memoryStore{err: errors.New("db down")}, WithClock(fixedClock(2026)))
	_, err := g.NextProposalNumber(context.Background())
	require.Error(t, err)

	g = NewGenerator(&memoryStore{numbers: map[Kind][]string{KindProposal: {"2026-x"}}}, WithClock(fixedClock(2026)))
	_, err = g.NextProposalNumber(context.Background())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLess(t *testing.T) {
	assert.True(t, Less("2026-999", "2026-1000"))
	assert.True(t, Less("2026-001", "2026-002"))
	assert.False(t, Less("2026-010", "2026-009"))
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WithRetry(ctx, 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrDuplicateNumber
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithRetry(ctx, 2, func(context.Context) error {
		calls++
		return ErrDuplicateNumber
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
	assert.Equal(t, 2, calls)

	boom := errors.New("boom")
	calls = 0
	err = WithRetry(ctx, 5, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = WithRetry(cancelled, 3, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
