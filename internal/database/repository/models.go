package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, letting a repository
// run standalone or inside an enclosing transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transaction type values.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Payment method values.
const (
	MethodCash             = "cash"
	MethodPersonalTransfer = "personal_transfer"
	MethodPegazzoTransfer  = "pegazzo_transfer"
)

// Transaction represents a ledger row. Amounts are stored as integer
// cents so SQL sums stay exact.
type Transaction struct {
	Reference     string
	Date          time.Time
	AmountCents   int64
	Type          string
	PaymentMethod string
	Description   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Amount returns the monetary amount as a 2-decimal value.
func (t Transaction) Amount() decimal.Decimal {
	return decimal.New(t.AmountCents, -2)
}

// PeriodMetrics represents a transaction_metrics row: the materialized
// aggregate for one week, month or year bucket. Derived decimals are
// persisted as text; the breakdown column is JSON and is decoded by the
// metrics package, not here.
type PeriodMetrics struct {
	ID                   int64
	PeriodType           string
	Year                 int
	Month                *int
	Week                 *int
	TotalIncome          decimal.Decimal
	TotalExpense         decimal.Decimal
	Balance              decimal.Decimal
	TransactionCount     int
	Breakdown            json.RawMessage
	WeeklyAverageIncome  decimal.Decimal
	WeeklyAverageExpense decimal.Decimal
	IncomeExpenseRatio   decimal.Decimal
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PeriodTotals holds the outcome of a period rescan's totals query.
type PeriodTotals struct {
	IncomeCents  int64
	ExpenseCents int64
	Count        int
}

// MethodTotal is one row of the per-payment-method breakdown scan.
type MethodTotal struct {
	Type        string
	Method      string
	AmountCents int64
}
