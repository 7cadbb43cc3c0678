package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pegazzo/fleetledger/internal/database"
	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/logger"
	"github.com/pegazzo/fleetledger/internal/metrics"
	"github.com/pegazzo/fleetledger/internal/period"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newLedger(t *testing.T, db *sql.DB) *LedgerService {
	t.Helper()
	log := logger.NewWithWriter(testWriter{t})
	return &LedgerService{DB: db, Hook: metrics.NewHook(log), Log: log}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func mustCreate(t *testing.T, svc *LedgerService, amount, txType, method, date string) repository.Transaction {
	t.Helper()
	d, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)
	tx, err := svc.Create(context.Background(), TransactionInput{
		Amount:        dec(t, amount),
		Type:          txType,
		Date:          d.Add(12 * time.Hour),
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return tx
}

func monthMetrics(t *testing.T, db *sql.DB, year, month int) *repository.PeriodMetrics {
	t.Helper()
	row, err := repository.NewMetricsRepo(db).Get(context.Background(),
		period.Key{Type: period.TypeMonth, Year: year, Month: month})
	require.NoError(t, err)
	return row
}

func TestCreateComputesAllThreePeriodAggregates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	mustCreate(t, svc, "100.00", repository.TypeCredit, repository.MethodCash, "2026-01-15")

	repo := repository.NewMetricsRepo(db)

	month, err := repo.Get(ctx, period.Key{Type: period.TypeMonth, Year: 2026, Month: 1})
	require.NoError(t, err)
	require.NotNil(t, month)
	require.Equal(t, "100.00", month.TotalIncome.StringFixed(2))
	require.Equal(t, "0.00", month.TotalExpense.StringFixed(2))
	require.Equal(t, "100.00", month.Balance.StringFixed(2))
	require.Equal(t, 1, month.TransactionCount)
	// January 2026 overlaps five ISO weeks
	require.Equal(t, "20.00", month.WeeklyAverageIncome.StringFixed(2))
	require.Equal(t, "0.00", month.IncomeExpenseRatio.StringFixed(2)) // zero expense

	week, err := repo.Get(ctx, period.Key{Type: period.TypeWeek, Year: 2026, Week: 3})
	require.NoError(t, err)
	require.NotNil(t, week)
	require.Equal(t, "100.00", week.TotalIncome.StringFixed(2))
	require.Equal(t, "100.00", week.WeeklyAverageIncome.StringFixed(2)) // one week

	year, err := repo.Get(ctx, period.Key{Type: period.TypeYear, Year: 2026})
	require.NoError(t, err)
	require.NotNil(t, year)
	require.Equal(t, "100.00", year.TotalIncome.StringFixed(2))
	require.Equal(t, 1, year.TransactionCount)
}

func TestBalanceAndRatio(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)

	mustCreate(t, svc, "150.00", repository.TypeCredit, repository.MethodCash, "2026-03-10")
	mustCreate(t, svc, "100.00", repository.TypeDebit, repository.MethodPersonalTransfer, "2026-03-11")

	m := monthMetrics(t, db, 2026, 3)
	require.NotNil(t, m)
	require.Equal(t, "150.00", m.TotalIncome.StringFixed(2))
	require.Equal(t, "100.00", m.TotalExpense.StringFixed(2))
	require.Equal(t, "50.00", m.Balance.StringFixed(2))
	require.Equal(t, "1.50", m.IncomeExpenseRatio.StringFixed(2))
	require.Equal(t, 2, m.TransactionCount)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	mustCreate(t, svc, "42.42", repository.TypeCredit, repository.MethodPegazzoTransfer, "2026-05-20")

	key := period.Key{Type: period.TypeMonth, Year: 2026, Month: 5}
	recomputer := svc.Hook.Recomputer

	first, err := recomputer.Recompute(ctx, db, key)
	require.NoError(t, err)
	second, err := recomputer.Recompute(ctx, db, key)
	require.NoError(t, err)
	require.Equal(t, first, second)

	stored := monthMetrics(t, db, 2026, 5)
	require.NotNil(t, stored)
	require.Equal(t, "42.42", stored.TotalIncome.StringFixed(2))
	require.Equal(t, 1, stored.TransactionCount)

	// still exactly one row for the period
	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_metrics WHERE period_type='month' AND year=2026 AND month=5`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestWeekSpanningTwoMonthsProducesOneWeeklyRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	// Mon Mar 31 2025 and Tue Apr 1 2025 share ISO week 14.
	mustCreate(t, svc, "10.00", repository.TypeCredit, repository.MethodCash, "2025-03-31")
	mustCreate(t, svc, "20.00", repository.TypeCredit, repository.MethodCash, "2025-04-01")

	var weekRows int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_metrics WHERE period_type='week'`).Scan(&weekRows))
	require.Equal(t, 1, weekRows)

	week, err := repository.NewMetricsRepo(db).Get(ctx, period.Key{Type: period.TypeWeek, Year: 2025, Week: 14})
	require.NoError(t, err)
	require.NotNil(t, week)
	require.Equal(t, "30.00", week.TotalIncome.StringFixed(2))
	require.Equal(t, 2, week.TransactionCount)

	// each month aggregate only sees its own share
	require.Equal(t, "10.00", monthMetrics(t, db, 2025, 3).TotalIncome.StringFixed(2))
	require.Equal(t, "20.00", monthMetrics(t, db, 2025, 4).TotalIncome.StringFixed(2))
}

func TestUpdateMovesTransactionAcrossPeriods(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	tx := mustCreate(t, svc, "100.00", repository.TypeCredit, repository.MethodCash, "2026-01-15")
	require.Equal(t, "100.00", monthMetrics(t, db, 2026, 1).TotalIncome.StringFixed(2))

	newDate := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	_, err := svc.Update(ctx, tx.Reference, TransactionPatch{Date: &newDate})
	require.NoError(t, err)

	jan := monthMetrics(t, db, 2026, 1)
	require.NotNil(t, jan)
	require.Equal(t, "0.00", jan.TotalIncome.StringFixed(2))
	require.Equal(t, 0, jan.TransactionCount)

	feb := monthMetrics(t, db, 2026, 2)
	require.NotNil(t, feb)
	require.Equal(t, "100.00", feb.TotalIncome.StringFixed(2))
	require.Equal(t, 1, feb.TransactionCount)
}

func TestDeleteRecomputesVacatedPeriod(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	tx := mustCreate(t, svc, "75.50", repository.TypeDebit, repository.MethodCash, "2026-06-05")
	require.Equal(t, "75.50", monthMetrics(t, db, 2026, 6).TotalExpense.StringFixed(2))

	require.NoError(t, svc.Delete(ctx, tx.Reference))

	m := monthMetrics(t, db, 2026, 6)
	require.NotNil(t, m) // row survives, zeroed, never deleted
	require.Equal(t, "0.00", m.TotalExpense.StringFixed(2))
	require.Equal(t, 0, m.TransactionCount)

	_, err := svc.Get(ctx, tx.Reference)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestStoredBreakdownShape(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)

	mustCreate(t, svc, "75.00", repository.TypeCredit, repository.MethodCash, "2026-07-08")
	mustCreate(t, svc, "25.00", repository.TypeCredit, repository.MethodPersonalTransfer, "2026-07-09")
	mustCreate(t, svc, "40.00", repository.TypeDebit, repository.MethodCash, "2026-07-10")

	m := monthMetrics(t, db, 2026, 7)
	require.NotNil(t, m)

	b, err := metrics.DecodeBreakdown(m.Breakdown)
	require.NoError(t, err)
	require.Equal(t, "75.00", b.Credit.Amounts[repository.MethodCash].StringFixed(2))
	require.Equal(t, "25.00", b.Credit.Amounts[repository.MethodPersonalTransfer].StringFixed(2))
	require.Equal(t, "75.00", b.Credit.Percentages[repository.MethodCash].StringFixed(2))
	require.Equal(t, "40.00", b.Debit.Amounts[repository.MethodCash].StringFixed(2))
	require.Equal(t, "100.00", b.Debit.Percentages[repository.MethodCash].StringFixed(2))

	// stored column is valid JSON with the {amounts, percentages} shape per type
	var raw map[string]map[string]map[string]string
	require.NoError(t, json.Unmarshal(m.Breakdown, &raw))
	require.Contains(t, raw, "credit")
	require.Contains(t, raw["credit"], "amounts")
	require.Contains(t, raw["credit"], "percentages")
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, TransactionInput{
		Amount: dec(t, "10.00"), Type: "transfer", PaymentMethod: repository.MethodCash,
	})
	require.ErrorIs(t, err, ErrInvalidTransactionType)

	_, err = svc.Create(ctx, TransactionInput{
		Amount: dec(t, "10.00"), Type: repository.TypeCredit, PaymentMethod: "cheque",
	})
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)

	_, err = svc.Create(ctx, TransactionInput{
		Amount: dec(t, "10.555"), Type: repository.TypeCredit, PaymentMethod: repository.MethodCash,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	long := strings.Repeat("x", 256)
	_, err = svc.Create(ctx, TransactionInput{
		Amount: dec(t, "10.00"), Type: repository.TypeCredit,
		PaymentMethod: repository.MethodCash, Description: &long,
	})
	require.ErrorIs(t, err, ErrDescriptionTooLong)

	// nothing was written
	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestCreateBurstKeepsReferencesUnique(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)

	refs := make(map[string]bool)
	for i := 0; i < 3; i++ {
		tx := mustCreate(t, svc, "5.00", repository.TypeCredit, repository.MethodCash, "2026-08-01")
		require.False(t, refs[tx.Reference], "duplicate reference %s", tx.Reference)
		refs[tx.Reference] = true
	}

	m := monthMetrics(t, db, 2026, 8)
	require.NotNil(t, m)
	require.Equal(t, 3, m.TransactionCount)
	require.Equal(t, "15.00", m.TotalIncome.StringFixed(2))
}

func TestMutationRollsBackWhenRecomputeFails(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)
	ctx := context.Background()

	tx := mustCreate(t, svc, "100.00", repository.TypeCredit, repository.MethodCash, "2026-01-15")

	// make the aggregate upsert fail mid-mutation
	_, err := db.ExecContext(ctx, `DROP TABLE transaction_metrics`)
	require.NoError(t, err)

	newDate := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	_, err = svc.Update(ctx, tx.Reference, TransactionPatch{Date: &newDate})
	require.Error(t, err)

	// the ledger write rolled back with the failed recompute
	got, err := svc.Get(ctx, tx.Reference)
	require.NoError(t, err)
	require.Equal(t, time.January, got.Date.Month())
	require.Equal(t, 15, got.Date.Day())

	// a create in the same state must not leave an orphan row either
	_, err = svc.Create(ctx, TransactionInput{
		Amount: dec(t, "50.00"), Type: repository.TypeCredit,
		PaymentMethod: repository.MethodCash,
		Date:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count))
	require.Equal(t, 1, count)

	require.Error(t, svc.Delete(ctx, tx.Reference))
	_, err = svc.Get(ctx, tx.Reference)
	require.NoError(t, err)
}

func TestUpdateUnknownReference(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newLedger(t, db)

	_, err := svc.Update(context.Background(), "nope", TransactionPatch{})
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), "nope"), ErrTransactionNotFound)
}
