package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/metrics"
	"github.com/pegazzo/fleetledger/internal/period"
)

// maxTrendPoints caps a historical trend request.
const maxTrendPoints = 100

// PeriodMetricsView is the read model for one period's aggregate. A
// period that was never recomputed reads as all zeros.
type PeriodMetricsView struct {
	Period                 period.Key
	TotalIncome            decimal.Decimal
	TotalExpense           decimal.Decimal
	Balance                decimal.Decimal
	TransactionCount       int
	PaymentMethodBreakdown metrics.Breakdown
	WeeklyAverageIncome    decimal.Decimal
	WeeklyAverageExpense   decimal.Decimal
	IncomeExpenseRatio     decimal.Decimal
	Found                  bool
}

// TrendPoint is one entry of a historical trend.
type TrendPoint struct {
	Period       period.Key
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
}

// PeriodSummary is the comparison-facing slice of an aggregate.
type PeriodSummary struct {
	Balance          decimal.Decimal
	TotalIncome      decimal.Decimal
	TotalExpense     decimal.Decimal
	TransactionCount int
}

// Comparison holds period-over-period deltas. Percentages saturate to
// zero when the previous value is zero; the count delta is a plain
// integer difference.
type Comparison struct {
	BalanceChangePct      decimal.Decimal
	IncomeChangePct       decimal.Decimal
	ExpenseChangePct      decimal.Decimal
	TransactionCountDelta int
}

// ManagementMetrics is the dashboard read model: current and previous
// period summaries plus their comparison and the current breakdown.
type ManagementMetrics struct {
	Period                 period.Key
	Current                PeriodSummary
	Previous               PeriodSummary
	Comparison             Comparison
	PaymentMethodBreakdown metrics.Breakdown
	WeeklyAverageIncome    decimal.Decimal
	WeeklyAverageExpense   decimal.Decimal
	IncomeExpenseRatio     decimal.Decimal
}

// ReportService answers reporting queries from the materialized
// aggregate table. It never touches the live ledger except for
// period-bounded transaction listings.
type ReportService struct {
	DB  *sql.DB
	Log zerolog.Logger

	// Now is overridable for deterministic trend anchoring in tests.
	Now func() time.Time
}

func (s *ReportService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// PeriodMetrics returns the stored aggregate for key. Absence is a
// zero-valued view, never an error.
func (s *ReportService) PeriodMetrics(ctx context.Context, key period.Key) (PeriodMetricsView, error) {
	if err := key.Validate(); err != nil {
		return PeriodMetricsView{}, err
	}
	row, err := repository.NewMetricsRepo(s.DB).Get(ctx, key)
	if err != nil {
		return PeriodMetricsView{}, err
	}
	return viewFromRow(key, row)
}

// HistoricalTrend returns exactly limit points for the most recent
// periods of typ, oldest first, anchored on the current period. Periods
// with no stored aggregate are zero-filled.
func (s *ReportService) HistoricalTrend(ctx context.Context, typ period.Type, limit int) ([]TrendPoint, error) {
	current, err := currentKey(typ, s.now())
	if err != nil {
		return nil, err
	}
	return s.TrendFrom(ctx, current, limit)
}

// TrendFrom builds a trend of limit points ending at (and including)
// the given key. The limit is clamped to [1, 100].
func (s *ReportService) TrendFrom(ctx context.Context, key period.Key, limit int) ([]TrendPoint, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxTrendPoints {
		limit = maxTrendPoints
	}

	// newest to oldest, then reversed
	keys := make([]period.Key, 0, limit)
	cursor := key
	for i := 0; i < limit; i++ {
		keys = append(keys, cursor)
		prev, err := cursor.Previous()
		if err != nil {
			return nil, err
		}
		cursor = prev
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}

	rows, err := repository.NewMetricsRepo(s.DB).GetMany(ctx, key.Type, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[period.Key]repository.PeriodMetrics, len(rows))
	for _, row := range rows {
		byKey[rowKey(row)] = row
	}

	points := make([]TrendPoint, 0, len(keys))
	for _, k := range keys {
		start, end, err := k.Range()
		if err != nil {
			return nil, err
		}
		point := TrendPoint{Period: k, PeriodStart: start, PeriodEnd: end,
			TotalIncome: decimal.Zero, TotalExpense: decimal.Zero}
		if row, ok := byKey[k]; ok {
			point.TotalIncome = row.TotalIncome
			point.TotalExpense = row.TotalExpense
		}
		points = append(points, point)
	}
	return points, nil
}

// ManagementMetrics returns the dashboard view for key: current and
// previous period with percent-change comparison.
func (s *ReportService) ManagementMetrics(ctx context.Context, key period.Key) (ManagementMetrics, error) {
	if err := key.Validate(); err != nil {
		return ManagementMetrics{}, err
	}
	prevKey, err := key.Previous()
	if err != nil {
		return ManagementMetrics{}, err
	}

	repo := repository.NewMetricsRepo(s.DB)
	currentView, err := fetchView(ctx, repo, key)
	if err != nil {
		return ManagementMetrics{}, err
	}
	previousView, err := fetchView(ctx, repo, prevKey)
	if err != nil {
		return ManagementMetrics{}, err
	}

	return ManagementMetrics{
		Period:   key,
		Current:  summary(currentView),
		Previous: summary(previousView),
		Comparison: Comparison{
			BalanceChangePct:      metrics.PercentChange(currentView.Balance, previousView.Balance),
			IncomeChangePct:       metrics.PercentChange(currentView.TotalIncome, previousView.TotalIncome),
			ExpenseChangePct:      metrics.PercentChange(currentView.TotalExpense, previousView.TotalExpense),
			TransactionCountDelta: currentView.TransactionCount - previousView.TransactionCount,
		},
		PaymentMethodBreakdown: currentView.PaymentMethodBreakdown,
		WeeklyAverageIncome:    currentView.WeeklyAverageIncome,
		WeeklyAverageExpense:   currentView.WeeklyAverageExpense,
		IncomeExpenseRatio:     currentView.IncomeExpenseRatio,
	}, nil
}

// PeriodTransactions lists the ledger rows inside key's bounds with
// pagination, newest first by default.
func (s *ReportService) PeriodTransactions(ctx context.Context, key period.Key, opts repository.ListOptions) ([]repository.Transaction, int, error) {
	start, end, err := key.Range()
	if err != nil {
		return nil, 0, err
	}
	return repository.NewTransactionRepo(s.DB).ListForRange(ctx, start, end.AddDate(0, 0, 1), opts)
}

func fetchView(ctx context.Context, repo *repository.MetricsRepo, key period.Key) (PeriodMetricsView, error) {
	row, err := repo.Get(ctx, key)
	if err != nil {
		return PeriodMetricsView{}, err
	}
	return viewFromRow(key, row)
}

func viewFromRow(key period.Key, row *repository.PeriodMetrics) (PeriodMetricsView, error) {
	if row == nil {
		empty, _ := metrics.DecodeBreakdown(nil)
		return PeriodMetricsView{Period: key, PaymentMethodBreakdown: empty}, nil
	}
	breakdown, err := metrics.DecodeBreakdown(row.Breakdown)
	if err != nil {
		return PeriodMetricsView{}, err
	}
	return PeriodMetricsView{
		Period:                 key,
		TotalIncome:            row.TotalIncome,
		TotalExpense:           row.TotalExpense,
		Balance:                row.Balance,
		TransactionCount:       row.TransactionCount,
		PaymentMethodBreakdown: breakdown,
		WeeklyAverageIncome:    row.WeeklyAverageIncome,
		WeeklyAverageExpense:   row.WeeklyAverageExpense,
		IncomeExpenseRatio:     row.IncomeExpenseRatio,
		Found:                  true,
	}, nil
}

func summary(v PeriodMetricsView) PeriodSummary {
	return PeriodSummary{
		Balance:          v.Balance,
		TotalIncome:      v.TotalIncome,
		TotalExpense:     v.TotalExpense,
		TransactionCount: v.TransactionCount,
	}
}

func currentKey(typ period.Type, now time.Time) (period.Key, error) {
	keys := period.AffectedPeriods(now)
	for _, k := range keys {
		if k.Type == typ {
			return k, nil
		}
	}
	return period.Key{}, period.ErrUnknownType
}

func rowKey(row repository.PeriodMetrics) period.Key {
	key := period.Key{Type: period.Type(row.PeriodType), Year: row.Year}
	if row.Month != nil {
		key.Month = *row.Month
	}
	if row.Week != nil {
		key.Week = *row.Week
	}
	return key
}
