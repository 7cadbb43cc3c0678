// Package metrics is the period aggregation engine: it rescans the
// ledger for a period, derives the stored aggregate, and upserts it
// inside the transaction that mutated the ledger.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/period"
)

// Result is one period's computed aggregate before persistence.
type Result struct {
	TotalIncome          decimal.Decimal
	TotalExpense         decimal.Decimal
	Balance              decimal.Decimal
	TransactionCount     int
	Breakdown            Breakdown
	WeeklyAverageIncome  decimal.Decimal
	WeeklyAverageExpense decimal.Decimal
	IncomeExpenseRatio   decimal.Decimal
}

// Recomputer recomputes and persists the aggregate for single periods.
// It always performs a full rescan of the period's ledger rows:
// incremental deltas drift under interleaved updates and deletes, and a
// scan is bounded by one period's transaction volume.
type Recomputer struct {
	Log zerolog.Logger
}

// Recompute rescans the ledger inside key's date bounds, derives the
// aggregate, and upserts the transaction_metrics row through db (the
// caller's transaction during mutations). Errors propagate unchanged so
// the enclosing transaction aborts rather than committing a stale
// aggregate.
func (r *Recomputer) Recompute(ctx context.Context, db repository.DBTX, key period.Key) (Result, error) {
	start, end, err := key.Range()
	if err != nil {
		return Result{}, err
	}
	endExclusive := end.AddDate(0, 0, 1)

	txRepo := repository.NewTransactionRepo(db)

	totals, err := txRepo.PeriodTotals(ctx, start, endExclusive)
	if err != nil {
		return Result{}, fmt.Errorf("period totals for %s: %w", key, err)
	}
	methodRows, err := txRepo.PeriodBreakdown(ctx, start, endExclusive)
	if err != nil {
		return Result{}, fmt.Errorf("period breakdown for %s: %w", key, err)
	}

	weeks, err := period.WeeksIn(key.Type, key.Year, key.Month)
	if err != nil {
		return Result{}, err
	}
	if weeks < 1 {
		weeks = 1
	}

	res := Result{
		TotalIncome:      round2(fromCents(totals.IncomeCents)),
		TotalExpense:     round2(fromCents(totals.ExpenseCents)),
		TransactionCount: totals.Count,
		Breakdown:        buildBreakdown(methodRows),
	}
	res.Balance = round2(res.TotalIncome.Sub(res.TotalExpense))

	weeksDec := decimal.NewFromInt(int64(weeks))
	res.WeeklyAverageIncome = round2(res.TotalIncome.Div(weeksDec))
	res.WeeklyAverageExpense = round2(res.TotalExpense.Div(weeksDec))

	if res.TotalExpense.IsZero() {
		res.IncomeExpenseRatio = decimal.Zero
	} else {
		res.IncomeExpenseRatio = round2(res.TotalIncome.Div(res.TotalExpense))
	}

	if err := r.persist(ctx, db, key, res); err != nil {
		return Result{}, err
	}

	r.Log.Debug().
		Stringer("period", key).
		Int("transactions", res.TransactionCount).
		Msg("recomputed period metrics")

	return res, nil
}

func (r *Recomputer) persist(ctx context.Context, db repository.DBTX, key period.Key, res Result) error {
	breakdown, err := json.Marshal(res.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown for %s: %w", key, err)
	}

	row := repository.PeriodMetrics{
		PeriodType:           string(key.Type),
		Year:                 key.Year,
		TotalIncome:          res.TotalIncome,
		TotalExpense:         res.TotalExpense,
		Balance:              res.Balance,
		TransactionCount:     res.TransactionCount,
		Breakdown:            breakdown,
		WeeklyAverageIncome:  res.WeeklyAverageIncome,
		WeeklyAverageExpense: res.WeeklyAverageExpense,
		IncomeExpenseRatio:   res.IncomeExpenseRatio,
	}
	switch key.Type {
	case period.TypeMonth:
		month := key.Month
		row.Month = &month
	case period.TypeWeek:
		week := key.Week
		row.Week = &week
	}

	if err := repository.NewMetricsRepo(db).Upsert(ctx, row); err != nil {
		return fmt.Errorf("upsert metrics for %s: %w", key, err)
	}
	return nil
}
