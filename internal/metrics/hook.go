package metrics

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/period"
)

// Change is one ledger row touched by a flush. Prior carries the
// pre-update value when a row was modified; for inserts and deletes it
// is nil and Row is the inserted or deleted state.
type Change struct {
	Row   repository.Transaction
	Prior *repository.Transaction
}

// Hook binds ledger writes to the aggregation engine. The ledger
// service calls Apply with the flush's change set, on the same
// transaction as the mutation, before reporting success.
type Hook struct {
	Recomputer *Recomputer
	Log        zerolog.Logger
}

type recomputeKey struct{}

func recomputing(ctx context.Context) bool {
	v, _ := ctx.Value(recomputeKey{}).(bool)
	return v
}

// Apply collects the union of period keys affected by changes (old and
// new dates for moved rows), deduplicates, and recomputes each exactly
// once. Any failure propagates so the caller's transaction rolls back;
// the ledger and its aggregates are never inconsistent across a commit
// boundary.
//
// The context carries a reentrancy flag: a nested Apply triggered while
// recomputation is in flight is a no-op, mirroring the guard an ORM
// session hook would need against its own metric writes.
func (h *Hook) Apply(ctx context.Context, tx repository.DBTX, changes []Change) error {
	if recomputing(ctx) {
		return nil
	}
	ctx = context.WithValue(ctx, recomputeKey{}, true)

	seen := make(map[period.Key]struct{})
	for _, c := range changes {
		for _, key := range period.AffectedPeriods(c.Row.Date) {
			seen[key] = struct{}{}
		}
		if c.Prior != nil {
			for _, key := range period.AffectedPeriods(c.Prior.Date) {
				seen[key] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	keys := make([]period.Key, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	// stable recompute order, one upsert per key
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		if keys[i].Year != keys[j].Year {
			return keys[i].Year < keys[j].Year
		}
		if keys[i].Month != keys[j].Month {
			return keys[i].Month < keys[j].Month
		}
		return keys[i].Week < keys[j].Week
	})

	h.Log.Debug().
		Int("changes", len(changes)).
		Int("periods", len(keys)).
		Msg("updating period metrics")

	for _, key := range keys {
		if _, err := h.Recomputer.Recompute(ctx, tx, key); err != nil {
			return err
		}
	}
	return nil
}

// NewHook builds a hook with a recomputer sharing the same logger.
func NewHook(log zerolog.Logger) *Hook {
	return &Hook{Recomputer: &Recomputer{Log: log}, Log: log}
}
