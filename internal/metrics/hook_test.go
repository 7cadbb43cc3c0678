package metrics

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pegazzo/fleetledger/internal/database/repository"
)

// failingStore counts accesses and errors on all of them, so any test
// using it proves whether the hook touched storage at all.
type failingStore struct {
	calls int
}

func (s *failingStore) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	s.calls++
	return nil, errors.New("unexpected write")
}

func (s *failingStore) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	s.calls++
	return nil, errors.New("unexpected query")
}

func (s *failingStore) QueryRowContext(context.Context, string, ...any) *sql.Row {
	s.calls++
	return nil
}

func TestApplyIsNoOpWhileRecomputeInFlight(t *testing.T) {
	t.Parallel()

	hook := NewHook(zerolog.Nop())
	store := &failingStore{}

	changes := []Change{{Row: repository.Transaction{
		Date: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}}}

	ctx := context.WithValue(context.Background(), recomputeKey{}, true)
	require.NoError(t, hook.Apply(ctx, store, changes))
	require.Zero(t, store.calls)
}

func TestApplyEmptyChangeSet(t *testing.T) {
	t.Parallel()

	hook := NewHook(zerolog.Nop())
	store := &failingStore{}

	require.NoError(t, hook.Apply(context.Background(), store, nil))
	require.Zero(t, store.calls)
}
