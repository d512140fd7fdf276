package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/model"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// TransactionsHandler handles transaction reads and per-transaction actions.
type TransactionsHandler struct {
	*Base
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc *Services) *TransactionsHandler {
	return &TransactionsHandler{Base: NewBase(svc)}
}

// List handles GET /api/transactions - keyset-paged, ordered by id.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var states []model.ClassificationState
	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			states = append(states, model.ClassificationState(s))
		}
	}
	filter, err := transactionFilter(q.Get("from"), q.Get("to"), states)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	if raw := q.Get("manual"); raw != "" {
		manual := ParseBoolParam(r, "manual", false)
		filter.ManualOverride = &manual
	}
	filter.AfterID = q.Get("after")
	filter.Limit = ParseIntParam(r, "limit", defaultPageSize)
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}

	txns, err := h.svc.Transactions.ListTransactions(r.Context(), h.svc.UserID, filter)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	resp := dto.TransactionListResponse{
		Transactions: txns,
		Count:        len(txns),
	}
	if resp.Transactions == nil {
		resp.Transactions = []model.Transaction{}
	}
	if len(txns) == filter.Limit {
		resp.NextAfter = txns[len(txns)-1].ID
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/transactions/{id}.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Transactions.GetTransaction(r.Context(), h.svc.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, txn)
}

// Reapply handles POST /api/transactions/{id}/reapply - re-match one transaction.
func (h *TransactionsHandler) Reapply(w http.ResponseWriter, r *http.Request) {
	txn, outcome, err := h.svc.Orchestrator.ReapplyTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.TransactionResponse{Transaction: txn, Outcome: string(outcome)})
}

// ClearOverride handles DELETE /api/transactions/{id}/override - returns a manually
// classified transaction to automatic classification and re-matches it.
func (h *TransactionsHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Transactions.ClearManualOverride(r.Context(), h.svc.UserID, id); err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	txn, outcome, err := h.svc.Orchestrator.ReapplyTransaction(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.TransactionResponse{Transaction: txn, Outcome: string(outcome)})
}
