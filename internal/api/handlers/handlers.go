// Package handlers exposes the ledger and reporting services over JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pegazzo/fleetledger/internal/api/middleware"
	"github.com/pegazzo/fleetledger/internal/database/repository"
	"github.com/pegazzo/fleetledger/internal/period"
	"github.com/pegazzo/fleetledger/internal/service"
)

// Handler wires the application services to HTTP routes.
type Handler struct {
	ledger  *service.LedgerService
	reports *service.ReportService
	log     zerolog.Logger
}

// New creates a handler.
func New(ledger *service.LedgerService, reports *service.ReportService, log zerolog.Logger) *Handler {
	return &Handler{ledger: ledger, reports: reports, log: log}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("POST /api/transactions", h.createTransaction)
	mux.HandleFunc("GET /api/transactions", h.listTransactions)
	mux.HandleFunc("GET /api/transactions/{reference}", h.getTransaction)
	mux.HandleFunc("PATCH /api/transactions/{reference}", h.updateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{reference}", h.deleteTransaction)
	mux.HandleFunc("GET /api/metrics", h.managementMetrics)
	mux.HandleFunc("GET /api/metrics/simple", h.periodMetrics)
	mux.HandleFunc("GET /api/metrics/trend", h.trend)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transactionBody struct {
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"`
	Date          time.Time       `json:"date"`
	PaymentMethod string          `json:"payment_method"`
	Description   *string         `json:"description"`
}

type transactionResponse struct {
	Reference     string  `json:"reference"`
	Amount        string  `json:"amount"`
	Type          string  `json:"type"`
	Date          string  `json:"date"`
	PaymentMethod string  `json:"payment_method"`
	Description   *string `json:"description,omitempty"`
}

func toTransactionResponse(t repository.Transaction) transactionResponse {
	return transactionResponse{
		Reference:     t.Reference,
		Amount:        t.Amount().StringFixed(2),
		Type:          t.Type,
		Date:          t.Date.UTC().Format(time.RFC3339),
		PaymentMethod: t.PaymentMethod,
		Description:   t.Description,
	}
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.ledger.Create(r.Context(), service.TransactionInput{
		Amount:        body.Amount,
		Type:          body.Type,
		Date:          body.Date,
		PaymentMethod: body.PaymentMethod,
		Description:   body.Description,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toTransactionResponse(t))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.ledger.Get(r.Context(), r.PathValue("reference"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTransactionResponse(t))
}

type transactionPatchBody struct {
	Amount        *decimal.Decimal `json:"amount"`
	Type          *string          `json:"type"`
	Date          *time.Time       `json:"date"`
	PaymentMethod *string          `json:"payment_method"`
	Description   *string          `json:"description"`
}

func (h *Handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionPatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.ledger.Update(r.Context(), r.PathValue("reference"), service.TransactionPatch{
		Amount:        body.Amount,
		Type:          body.Type,
		Date:          body.Date,
		PaymentMethod: body.PaymentMethod,
		Description:   body.Description,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toTransactionResponse(t))
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if err := h.ledger.Delete(r.Context(), reference); err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "transaction '" + reference + "' was successfully deleted",
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	opts := repository.ListOptions{
		Page:      intQuery(q.Get("page"), 1),
		Limit:     intQuery(q.Get("limit"), 20),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}

	txs, total, err := h.reports.PeriodTransactions(r.Context(), key, opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		items = append(items, toTransactionResponse(t))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": items,
		"total":        total,
		"page":         opts.Page,
		"limit":        opts.Limit,
	})
}

func (h *Handler) periodMetrics(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.reports.PeriodMetrics(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"total_income":             view.TotalIncome.StringFixed(2),
		"total_expense":            view.TotalExpense.StringFixed(2),
		"balance":                  view.Balance.StringFixed(2),
		"transaction_count":        view.TransactionCount,
		"payment_method_breakdown": view.PaymentMethodBreakdown,
		"weekly_average_income":    view.WeeklyAverageIncome.StringFixed(2),
		"weekly_average_expense":   view.WeeklyAverageExpense.StringFixed(2),
		"income_expense_ratio":     view.IncomeExpenseRatio.StringFixed(2),
	})
}

func (h *Handler) managementMetrics(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.reports.ManagementMetrics(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"current_period":  summaryJSON(m.Current),
		"previous_period": summaryJSON(m.Previous),
		"comparison": map[string]any{
			"balance_change_pct":      m.Comparison.BalanceChangePct.StringFixed(2),
			"income_change_pct":       m.Comparison.IncomeChangePct.StringFixed(2),
			"expense_change_pct":      m.Comparison.ExpenseChangePct.StringFixed(2),
			"transaction_count_delta": m.Comparison.TransactionCountDelta,
		},
		"payment_method_breakdown": m.PaymentMethodBreakdown,
		"weekly_averages": map[string]string{
			"income":  m.WeeklyAverageIncome.StringFixed(2),
			"expense": m.WeeklyAverageExpense.StringFixed(2),
		},
		"income_expense_ratio": m.IncomeExpenseRatio.StringFixed(2),
	})
}

func (h *Handler) trend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ := period.Type(q.Get("period"))
	if typ != period.TypeWeek && typ != period.TypeMonth && typ != period.TypeYear {
		middleware.WriteError(w, http.StatusBadRequest, "period must be week, month or year")
		return
	}

	points, err := h.reports.HistoricalTrend(r.Context(), typ, intQuery(q.Get("limit"), 12))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{
			"period_start":  p.PeriodStart.Format("2006-01-02"),
			"period_end":    p.PeriodEnd.Format("2006-01-02"),
			"total_income":  p.TotalIncome.StringFixed(2),
			"total_expense": p.TotalExpense.StringFixed(2),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"trend": out})
}

func summaryJSON(s service.PeriodSummary) map[string]any {
	return map[string]any{
		"balance":           s.Balance.StringFixed(2),
		"total_income":      s.TotalIncome.StringFixed(2),
		"total_expense":     s.TotalExpense.StringFixed(2),
		"transaction_count": s.TransactionCount,
	}
}

// keyFromQuery parses ?period=&year=&month=&week= into a period key.
func keyFromQuery(r *http.Request) (period.Key, error) {
	q := r.URL.Query()
	key := period.Key{
		Type:  period.Type(q.Get("period")),
		Year:  intQuery(q.Get("year"), 0),
		Month: intQuery(q.Get("month"), 0),
		Week:  intQuery(q.Get("week"), 0),
	}
	if key.Year == 0 {
		now := time.Now().UTC()
		if key.Month == 0 && key.Week == 0 {
			keys := period.AffectedPeriods(now)
			for _, k := range keys {
				if k.Type == key.Type {
					return k, nil
				}
			}
		}
		// an explicit month or week with the year omitted means the
		// current year, not the current period
		if key.Type == period.TypeWeek {
			key.Year, _ = now.ISOWeek()
		} else {
			key.Year = now.Year()
		}
	}
	if err := key.Validate(); err != nil {
		return period.Key{}, err
	}
	return key, nil
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTransactionNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransactionType),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrDescriptionTooLong),
		errors.Is(err, period.ErrInvalidKey):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
