package metrics

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/pegazzo/fleetledger/internal/database/repository"
)

// MethodBreakdown maps payment methods to summed amounts and their
// share of the scope's total, both at 2 decimals.
type MethodBreakdown struct {
	Amounts     map[string]decimal.Decimal `json:"amounts"`
	Percentages map[string]decimal.Decimal `json:"percentages"`
}

// Breakdown is the per-payment-method breakdown split by transaction
// type, as persisted in the payment_method_breakdown column.
type Breakdown struct {
	Credit MethodBreakdown `json:"credit"`
	Debit  MethodBreakdown `json:"debit"`
}

// buildBreakdown folds the grouped scan rows into the stored shape.
func buildBreakdown(rows []repository.MethodTotal) Breakdown {
	credit := make(map[string]decimal.Decimal)
	debit := make(map[string]decimal.Decimal)
	for _, row := range rows {
		amount := fromCents(row.AmountCents)
		if row.Type == repository.TypeCredit {
			credit[row.Method] = credit[row.Method].Add(amount)
		} else {
			debit[row.Method] = debit[row.Method].Add(amount)
		}
	}
	return Breakdown{
		Credit: methodBreakdown(credit),
		Debit:  methodBreakdown(debit),
	}
}

func methodBreakdown(amounts map[string]decimal.Decimal) MethodBreakdown {
	total := decimal.Zero
	for _, v := range amounts {
		total = total.Add(v)
	}
	out := MethodBreakdown{
		Amounts:     make(map[string]decimal.Decimal, len(amounts)),
		Percentages: make(map[string]decimal.Decimal, len(amounts)),
	}
	for method, amount := range amounts {
		out.Amounts[method] = round2(amount)
		out.Percentages[method] = pct(amount, total)
	}
	return out
}

// DecodeBreakdown parses a stored payment_method_breakdown column. An
// empty or absent column decodes to empty maps, not an error.
func DecodeBreakdown(raw json.RawMessage) (Breakdown, error) {
	b := Breakdown{
		Credit: MethodBreakdown{Amounts: map[string]decimal.Decimal{}, Percentages: map[string]decimal.Decimal{}},
		Debit:  MethodBreakdown{Amounts: map[string]decimal.Decimal{}, Percentages: map[string]decimal.Decimal{}},
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return Breakdown{}, err
	}
	if b.Credit.Amounts == nil {
		b.Credit = MethodBreakdown{Amounts: map[string]decimal.Decimal{}, Percentages: map[string]decimal.Decimal{}}
	}
	if b.Debit.Amounts == nil {
		b.Debit = MethodBreakdown{Amounts: map[string]decimal.Decimal{}, Percentages: map[string]decimal.Decimal{}}
	}
	return b, nil
}
