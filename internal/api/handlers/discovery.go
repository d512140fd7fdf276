package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/discovery"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
)

// DiscoveryHandler serves rule proposals mined from OPEN transactions.
type DiscoveryHandler struct {
	*Base
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(svc *Services) *DiscoveryHandler {
	return &DiscoveryHandler{Base: NewBase(svc)}
}

// List handles GET /api/discovery.
func (h *DiscoveryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := discoveryFilter(r)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	candidates, err := h.svc.Miner.Discover(r.Context(), filter)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []model.DiscoveryCandidate{}
	}
	h.WriteJSON(w, http.StatusOK, dto.DiscoveryResponse{Candidates: candidates, Count: len(candidates)})
}

// Accept handles POST /api/discovery/accept - turns a proposal into a rule.
func (h *DiscoveryHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req dto.AcceptCandidateRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Signature) == "" || req.Leaf == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("signature and leaf are required"))
		return
	}
	priority := rules.DefaultSeedPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	res, err := h.svc.Miner.AcceptCandidate(r.Context(), discovery.AcceptRequest{
		Signature: req.Signature,
		Keyword:   req.Keyword,
		Leaf:      req.Leaf,
		Name:      req.Name,
		Priority:  priority,
		Strict:    req.Strict,
	})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	added := res.Added
	resp := dto.RuleResponse{Rule: res.Rule, Added: &added, Merged: res.Merged}
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	h.reapplyAfterEdit(r.Context(), r, &resp)
	h.WriteJSON(w, status, resp)
}

func discoveryFilter(r *http.Request) (discovery.Filter, error) {
	q := r.URL.Query()
	filter := discovery.Filter{
		SortBy:         discovery.SortKey(q.Get("sort")),
		Direction:      discovery.Direction(q.Get("direction")),
		MinOccurrences: ParseIntParam(r, "min_occurrences", 0),
		Limit:          ParseIntParam(r, "limit", 0),
	}

	var err error
	if filter.StartDate, filter.EndDate, err = common.ParseDateRange(q.Get("from"), q.Get("to")); err != nil {
		return filter, err
	}
	if filter.MinAbsAmount, err = parseAmount(q.Get("min_amount")); err != nil {
		return filter, err
	}
	if filter.MaxAbsAmount, err = parseAmount(q.Get("max_amount")); err != nil {
		return filter, err
	}
	return filter, filter.Validate()
}

func parseAmount(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, common.NewUserError("invalid amount "+raw, err)
	}
	return &d, nil
}
