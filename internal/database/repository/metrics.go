package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pegazzo/fleetledger/internal/period"
)

// MetricsRepo handles the materialized transaction_metrics rows. The
// aggregation engine is the only writer; everything else reads.
type MetricsRepo struct {
	db DBTX
}

func NewMetricsRepo(db DBTX) *MetricsRepo { return &MetricsRepo{db: db} }

const metricsColumns = `id, period_type, year, month, week, total_income, total_expense, balance,
 transaction_count, payment_method_breakdown, weekly_average_income, weekly_average_expense,
 income_expense_ratio, created_at, updated_at`

// conflict targets matching the partial unique indexes, per period type.
var conflictTargets = map[period.Type]string{
	period.TypeWeek:  `(year, week) WHERE period_type = 'week'`,
	period.TypeMonth: `(year, month) WHERE period_type = 'month'`,
	period.TypeYear:  `(year) WHERE period_type = 'year'`,
}

// Upsert writes the aggregate row atomically: insert, on conflict with
// the period-type-scoped unique index overwrite every aggregate field
// and refresh updated_at. Replaying the same aggregate converges to the
// same stored row.
func (r *MetricsRepo) Upsert(ctx context.Context, m PeriodMetrics) error {
	target, ok := conflictTargets[period.Type(m.PeriodType)]
	if !ok {
		return fmt.Errorf("%w: %q", period.ErrUnknownType, m.PeriodType)
	}

	query := fmt.Sprintf(`
	INSERT INTO transaction_metrics(
	 period_type, year, month, week, total_income, total_expense, balance,
	 transaction_count, payment_method_breakdown, weekly_average_income,
	 weekly_average_expense, income_expense_ratio, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT%s DO UPDATE SET
	 total_income = excluded.total_income,
	 total_expense = excluded.total_expense,
	 balance = excluded.balance,
	 transaction_count = excluded.transaction_count,
	 payment_method_breakdown = excluded.payment_method_breakdown,
	 weekly_average_income = excluded.weekly_average_income,
	 weekly_average_expense = excluded.weekly_average_expense,
	 income_expense_ratio = excluded.income_expense_ratio,
	 updated_at = CURRENT_TIMESTAMP;`, target)

	_, err := r.db.ExecContext(ctx, query,
		m.PeriodType, m.Year, nullableInt(m.Month), nullableInt(m.Week),
		m.TotalIncome.StringFixed(2), m.TotalExpense.StringFixed(2), m.Balance.StringFixed(2),
		m.TransactionCount, string(m.Breakdown),
		m.WeeklyAverageIncome.StringFixed(2), m.WeeklyAverageExpense.StringFixed(2),
		m.IncomeExpenseRatio.StringFixed(2))
	return err
}

// Get returns the stored aggregate for key, or nil when the period has
// never been recomputed. Absence is not an error.
func (r *MetricsRepo) Get(ctx context.Context, key period.Key) (*PeriodMetrics, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	where, args := keyPredicate(key)
	row := r.db.QueryRowContext(ctx,
		`SELECT `+metricsColumns+` FROM transaction_metrics WHERE `+where, args...)
	m, err := scanMetrics(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetMany returns the stored aggregates for keys in one round trip.
// Keys missing the field their type requires are dropped, not errors.
// Missing rows are simply absent from the result.
func (r *MetricsRepo) GetMany(ctx context.Context, typ period.Type, keys []period.Key) ([]PeriodMetrics, error) {
	var clauses []string
	var args []any
	for _, key := range keys {
		if key.Type != typ || key.Validate() != nil {
			continue
		}
		where, keyArgs := keyPredicate(key)
		clauses = append(clauses, "("+where+")")
		args = append(args, keyArgs...)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + metricsColumns + ` FROM transaction_metrics WHERE ` + strings.Join(clauses, " OR ")
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeriodMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func keyPredicate(key period.Key) (string, []any) {
	switch key.Type {
	case period.TypeWeek:
		return `period_type = 'week' AND year = ? AND week = ?`, []any{key.Year, key.Week}
	case period.TypeMonth:
		return `period_type = 'month' AND year = ? AND month = ?`, []any{key.Year, key.Month}
	default:
		return `period_type = 'year' AND year = ?`, []any{key.Year}
	}
}

func scanMetrics(row scanner) (PeriodMetrics, error) {
	var m PeriodMetrics
	var month, week sql.NullInt64
	var breakdown string
	if err := row.Scan(&m.ID, &m.PeriodType, &m.Year, &month, &week,
		&m.TotalIncome, &m.TotalExpense, &m.Balance, &m.TransactionCount, &breakdown,
		&m.WeeklyAverageIncome, &m.WeeklyAverageExpense, &m.IncomeExpenseRatio,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return PeriodMetrics{}, err
	}
	if month.Valid {
		v := int(month.Int64)
		m.Month = &v
	}
	if week.Valid {
		v := int(week.Int64)
		m.Week = &v
	}
	m.Breakdown = []byte(breakdown)
	return m, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
