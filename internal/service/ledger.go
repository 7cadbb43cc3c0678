// Package service holds the application services: ledger CRUD with
// in-transaction metric maintenance, and the reporting query layer.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pegazzo/fleetledger/internal/database"
	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/metrics"
)

// TransactionInput carries the fields accepted on create.
type TransactionInput struct {
	Amount        decimal.Decimal
	Type          string
	Date          time.Time
	PaymentMethod string
	Description   *string
}

// TransactionPatch carries the fields accepted on update; nil fields
// are left unchanged.
type TransactionPatch struct {
	Amount        *decimal.Decimal
	Type          *string
	Date          *time.Time
	PaymentMethod *string
	Description   *string
}

// LedgerService performs ledger mutations. Every mutation and the
// recompute of each affected period aggregate run in one transaction:
// a failure anywhere rolls back the whole mutation.
type LedgerService struct {
	DB   *sql.DB
	Hook *metrics.Hook
	Log  zerolog.Logger
}

// Create validates and inserts a transaction, then recomputes the
// affected week, month and year aggregates.
func (s *LedgerService) Create(ctx context.Context, in TransactionInput) (repository.Transaction, error) {
	if err := validateInput(in); err != nil {
		return repository.Transaction{}, err
	}

	date := in.Date
	if date.IsZero() {
		date = database.Now()
	}

	t := repository.Transaction{
		Reference:     generateReference(database.Now(), in.Type, in.PaymentMethod),
		Date:          date.UTC(),
		AmountCents:   in.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Type:          in.Type,
		PaymentMethod: in.PaymentMethod,
		Description:   in.Description,
	}

	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := repository.NewTransactionRepo(tx)
		if err := repo.Insert(ctx, t); err != nil {
			// two creates in the same second share the time-based
			// reference; retry once with a disambiguating suffix
			if !strings.Contains(err.Error(), "UNIQUE constraint") {
				return fmt.Errorf("insert transaction: %w", err)
			}
			t.Reference = t.Reference + "-" + uuid.NewString()[:8]
			if err := repo.Insert(ctx, t); err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
		}
		return s.Hook.Apply(ctx, tx, []metrics.Change{{Row: t}})
	})
	if err != nil {
		return repository.Transaction{}, err
	}

	s.Log.Info().Str("reference", t.Reference).Str("type", t.Type).Msg("transaction created")
	return t, nil
}

// Get returns a transaction by reference.
func (s *LedgerService) Get(ctx context.Context, reference string) (repository.Transaction, error) {
	t, err := repository.NewTransactionRepo(s.DB).Get(ctx, reference)
	if err != nil {
		return repository.Transaction{}, err
	}
	if t == nil {
		return repository.Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
	}
	return *t, nil
}

// Update applies a partial update. When the date moves between periods
// the recompute covers both the old and new periods, so the vacated
// aggregate reflects the removal and the target reflects the addition.
func (s *LedgerService) Update(ctx context.Context, reference string, patch TransactionPatch) (repository.Transaction, error) {
	var updated repository.Transaction

	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := repository.NewTransactionRepo(tx)
		current, err := repo.Get(ctx, reference)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		prior := *current

		if patch.Amount != nil && (patch.Amount.IsNegative() || patch.Amount.Exponent() < -2) {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, *patch.Amount)
		}

		next := applyPatch(*current, patch)
		if err := validateInput(TransactionInput{
			Amount:        next.Amount(),
			Type:          next.Type,
			Date:          next.Date,
			PaymentMethod: next.PaymentMethod,
			Description:   next.Description,
		}); err != nil {
			return err
		}

		if err := repo.Update(ctx, next); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		updated = next
		return s.Hook.Apply(ctx, tx, []metrics.Change{{Row: next, Prior: &prior}})
	})
	if err != nil {
		return repository.Transaction{}, err
	}

	s.Log.Info().Str("reference", reference).Msg("transaction updated")
	return updated, nil
}

// Delete removes a transaction and recomputes the periods it belonged to.
func (s *LedgerService) Delete(ctx context.Context, reference string) error {
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := repository.NewTransactionRepo(tx)
		current, err := repo.Get(ctx, reference)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		if err := repo.Delete(ctx, reference); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return s.Hook.Apply(ctx, tx, []metrics.Change{{Row: *current}})
	})
	if err != nil {
		return err
	}

	s.Log.Info().Str("reference", reference).Msg("transaction deleted")
	return nil
}

func applyPatch(t repository.Transaction, patch TransactionPatch) repository.Transaction {
	if patch.Amount != nil {
		t.AmountCents = patch.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.Date != nil {
		t.Date = patch.Date.UTC()
	}
	if patch.PaymentMethod != nil {
		t.PaymentMethod = *patch.PaymentMethod
	}
	if patch.Description != nil {
		t.Description = patch.Description
	}
	return t
}

func validateInput(in TransactionInput) error {
	if _, ok := typeDigits[in.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, in.Type)
	}
	if _, ok := methodDigits[in.PaymentMethod]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, in.PaymentMethod)
	}
	if in.Amount.IsNegative() || in.Amount.Exponent() < -2 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, in.Amount)
	}
	if in.Description != nil && len(*in.Description) > 255 {
		return ErrDescriptionTooLong
	}
	return nil
}
