package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
)

// TaxonomyHandler serves the category hierarchy.
type TaxonomyHandler struct {
	*Base
}

// NewTaxonomyHandler creates a new taxonomy handler.
func NewTaxonomyHandler(svc *Services) *TaxonomyHandler {
	return &TaxonomyHandler{Base: NewBase(svc)}
}

// List handles GET /api/taxonomy.
func (h *TaxonomyHandler) List(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.svc.Taxonomy.List(r.Context())
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if leaves == nil {
		leaves = []model.TaxonomyLeaf{}
	}
	h.WriteJSON(w, http.StatusOK, dto.TaxonomyResponse{Leaves: leaves, Count: len(leaves)})
}

// Get handles GET /api/taxonomy/{id}.
func (h *TaxonomyHandler) Get(w http.ResponseWriter, r *http.Request) {
	leaf, err := h.svc.Taxonomy.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, leaf)
}

// Import handles PUT /api/taxonomy - upserts leaves from a YAML body.
func (h *TaxonomyHandler) Import(w http.ResponseWriter, r *http.Request) {
	leaves, err := taxonomy.Load(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	if err := h.svc.Taxonomy.Import(r.Context(), leaves); err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.TaxonomyResponse{Leaves: leaves, Count: len(leaves)})
}
