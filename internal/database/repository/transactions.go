package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ListOptions control period-bounded transaction listing.
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string // date | amount | created_at
	SortOrder string // asc | desc
}

// TransactionRepo handles ledger rows.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `reference, date, amount_cents, type, payment_method, description, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(reference, date, amount_cents, type, payment_method, description, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.Reference, t.Date.UTC(), t.AmountCents, t.Type, t.PaymentMethod, t.Description)
	return err
}

func (r *TransactionRepo) Update(ctx context.Context, t Transaction) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET date = ?, amount_cents = ?, type = ?, payment_method = ?, description = ?, updated_at = CURRENT_TIMESTAMP
	WHERE reference = ?`,
		t.Date.UTC(), t.AmountCents, t.Type, t.PaymentMethod, t.Description, t.Reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *TransactionRepo) Delete(ctx context.Context, reference string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE reference = ?`, reference)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Get returns the transaction for reference, or nil when absent.
func (r *TransactionRepo) Get(ctx context.Context, reference string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = ?`, reference)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListForRange returns transactions dated inside [start, endExclusive),
// paginated and sorted by a whitelisted column.
func (r *TransactionRepo) ListForRange(ctx context.Context, start, endExclusive time.Time, opts ListOptions) ([]Transaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE date >= ? AND date < ?`, start, endExclusive).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	sortBy := "date"
	switch opts.SortBy {
	case "amount":
		sortBy = "amount_cents"
	case "created_at", "date":
		sortBy = opts.SortBy
	}
	order := "DESC"
	if opts.SortOrder == "asc" {
		order = "ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf(
		`SELECT %s FROM transactions WHERE date >= ? AND date < ? ORDER BY %s %s LIMIT ? OFFSET ?`,
		transactionColumns, sortBy, order)

	rows, err := r.db.QueryContext(ctx, query, start, endExclusive, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// PeriodTotals rescans the range and sums credits, debits and the row
// count in one pass.
func (r *TransactionRepo) PeriodTotals(ctx context.Context, start, endExclusive time.Time) (PeriodTotals, error) {
	var t PeriodTotals
	err := r.db.QueryRowContext(ctx, `
	SELECT
	  COALESCE(SUM(CASE WHEN type = 'credit' THEN amount_cents ELSE 0 END), 0),
	  COALESCE(SUM(CASE WHEN type = 'debit' THEN amount_cents ELSE 0 END), 0),
	  COUNT(*)
	FROM transactions
	WHERE date >= ? AND date < ?`, start, endExclusive).
		Scan(&t.IncomeCents, &t.ExpenseCents, &t.Count)
	return t, err
}

// PeriodBreakdown rescans the range grouped by type and payment method.
func (r *TransactionRepo) PeriodBreakdown(ctx context.Context, start, endExclusive time.Time) ([]MethodTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT type, payment_method, COALESCE(SUM(amount_cents), 0)
	FROM transactions
	WHERE date >= ? AND date < ?
	GROUP BY type, payment_method`, start, endExclusive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MethodTotal
	for rows.Next() {
		var mt MethodTotal
		if err := rows.Scan(&mt.Type, &mt.Method, &mt.AmountCents); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var description sql.NullString
	if err := row.Scan(&t.Reference, &t.Date, &t.AmountCents, &t.Type, &t.PaymentMethod,
		&description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	t.Date = t.Date.UTC()
	return t, nil
}
