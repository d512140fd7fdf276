package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
)

// ConflictsHandler handles conflict listing and both resolution paths.
type ConflictsHandler struct {
	*Base
}

// NewConflictsHandler creates a new conflicts handler.
func NewConflictsHandler(svc *Services) *ConflictsHandler {
	return &ConflictsHandler{Base: NewBase(svc)}
}

// List handles GET /api/conflicts.
func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := transactionFilter(q.Get("from"), q.Get("to"), nil)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	filter.Limit = ParseIntParam(r, "limit", 0)

	conflicts, err := h.svc.Conflicts.ListConflicts(r.Context(), engine.ConflictFilter{TransactionFilter: filter})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []model.Transaction{}
	}
	h.WriteJSON(w, http.StatusOK, dto.ConflictListResponse{Conflicts: conflicts, Count: len(conflicts)})
}

// Resolve handles POST /api/conflicts/{id}/resolve - manual resolution.
func (h *ConflictsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	if req.Leaf == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("leaf is required"))
		return
	}

	txn, err := h.svc.Conflicts.ResolveManually(r.Context(), chi.URLParam(r, "id"), req.Leaf)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.TransactionResponse{Transaction: txn})
}

// Advise handles POST /api/conflicts/{id}/advise - asks the advisory service for keyword refinements.
func (h *ConflictsHandler) Advise(w http.ResponseWriter, r *http.Request) {
	suggestion, err := h.svc.Conflicts.RequestAdvisory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, suggestion)
}

// Preview handles POST /api/conflicts/{id}/preview - dry run of a suggestion.
func (h *ConflictsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req dto.SuggestionRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	preview, err := h.svc.Conflicts.PreviewSuggestion(r.Context(), chi.URLParam(r, "id"), req.Suggestion)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, preview)
}

// Apply handles POST /api/conflicts/{id}/apply - merges a suggestion into the Rule Store and reapplies.
func (h *ConflictsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req dto.SuggestionRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	outcome, err := h.svc.Conflicts.ApplyAdvisorySuggestion(r.Context(), chi.URLParam(r, "id"), req.Suggestion)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, outcome)
}
