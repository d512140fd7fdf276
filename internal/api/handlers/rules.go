package handlers

import (
	"net/http"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
)

// RulesHandler handles Rule Store operations. Mutations trigger a reapplication pass
// unless the request sets reapply=false.
type RulesHandler struct {
	*Base
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(svc *Services) *RulesHandler {
	return &RulesHandler{Base: NewBase(svc)}
}

// List handles GET /api/rules?active=true.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Rules.List(r.Context(), ParseBoolParam(r, "active", false))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Rule{}
	}
	h.WriteJSON(w, http.StatusOK, dto.RuleListResponse{Rules: list, Count: len(list)})
}

// Get handles GET /api/rules/{id}.
func (h *RulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.svc.Rules.Get(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, rule)
}

// Create handles POST /api/rules. A rule for a leaf that already has an active rule is
// merged into it and reported with merged=true.
func (h *RulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRuleRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	priority := rules.DefaultSeedPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	res, err := h.svc.Rules.Create(r.Context(), rules.NewRule{
		Name:       req.Name,
		TargetLeaf: req.TargetLeaf,
		Positive:   req.PositiveKeywords,
		Negative:   req.NegativeKeywords,
		Priority:   priority,
		Strict:     req.Strict,
	})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.writeCreateResult(w, r, res)
}

// Update handles PATCH /api/rules/{id} - changes priority and strictness.
func (h *RulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	var req dto.UpdateRuleRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}

	current, err := h.svc.Rules.Get(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	rank := current.Rank()
	if req.Priority != nil {
		rank.Priority = *req.Priority
	}
	if req.Strict != nil {
		rank.Strict = *req.Strict
	}
	if err := h.svc.Rules.SetRank(r.Context(), id, rank); err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.writeRule(w, r, id)
}

// AddKeywords handles POST /api/rules/{id}/keywords - merges a keyword delta.
func (h *RulesHandler) AddKeywords(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	var req dto.KeywordsRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}

	rule, err := h.svc.Rules.ApplyDelta(r.Context(), id, model.NewKeywordDelta(req.PositiveKeywords, req.NegativeKeywords))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	resp := dto.RuleResponse{Rule: rule}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, http.StatusOK, resp)
}

// RemoveKeywords handles DELETE /api/rules/{id}/keywords.
func (h *RulesHandler) RemoveKeywords(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	var req dto.KeywordsRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}

	rule, err := h.svc.Rules.RemoveKeywords(r.Context(), id, req.PositiveKeywords, req.NegativeKeywords)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	resp := dto.RuleResponse{Rule: rule}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, http.StatusOK, resp)
}

// Activate handles POST /api/rules/{id}/activate. When the leaf already has an active rule
// the keywords are merged into it and that rule is returned.
func (h *RulesHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.svc.Rules.Activate(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	resp := dto.RuleResponse{Rule: rule, Merged: rule.ID != id}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, http.StatusOK, resp)
}

// Deactivate handles POST /api/rules/{id}/deactivate.
func (h *RulesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Rules.Deactivate(r.Context(), id); err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.writeRule(w, r, id)
}

// Delete handles DELETE /api/rules/{id}.
func (h *RulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Rules.Delete(r.Context(), id); err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	var resp dto.RuleResponse
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, http.StatusOK, resp)
}

// Seed handles POST /api/rules/seed - installs system rules from a YAML body.
func (h *RulesHandler) Seed(w http.ResponseWriter, r *http.Request) {
	seeds, err := rules.LoadSeeds(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}
	res, err := h.svc.Rules.SeedSystemRules(r.Context(), seeds)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.SeedResponse{Created: res.Created, Merged: res.Merged})
}

func (h *RulesHandler) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := ruleIDParam(r)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError(err.Error()))
		return 0, false
	}
	return id, true
}

func (h *RulesHandler) writeRule(w http.ResponseWriter, r *http.Request, id int64) {
	rule, err := h.svc.Rules.Get(r.Context(), id)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	resp := dto.RuleResponse{Rule: rule}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *RulesHandler) writeCreateResult(w http.ResponseWriter, r *http.Request, res *rules.CreateResult) {
	added := res.Added
	resp := dto.RuleResponse{Rule: res.Rule, Added: &added, Merged: res.Merged}
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, status, resp)
}
