package handlers

import (
	"net/http"
	"strings"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// EngineHandler exposes classification and reapplication.
type EngineHandler struct {
	*Base
}

// NewEngineHandler creates a new engine handler.
func NewEngineHandler(svc *Services) *EngineHandler {
	return &EngineHandler{Base: NewBase(svc)}
}

// Classify handles POST /api/classify - dry-run match of one description.
func (h *EngineHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req dto.ClassifyRequest
	if !h.DecodeJSON(w, r, &req, false) {
		return
	}
	description := model.NormalizeText(req.Description)
	if description == "" {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("description is required"))
		return
	}

	m, err := h.svc.Orchestrator.Matcher(r.Context())
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	resp := dto.ClassifyResponse{
		Description: description,
		Result:      m.Classify(description),
	}
	if req.Explain {
		resp.Verdicts = m.Explain(description)
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// Reapply handles POST /api/reapply - one reapplication pass over eligible transactions.
func (h *EngineHandler) Reapply(w http.ResponseWriter, r *http.Request) {
	var req dto.ReapplyRequest
	if !h.DecodeJSON(w, r, &req, true) {
		return
	}

	filter, err := transactionFilter(req.StartDate, req.EndDate, req.States)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	summary, err := h.svc.Orchestrator.ReapplyAll(r.Context(), engine.ReapplyOptions{Filter: filter})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, summary)
}

func transactionFilter(from, to string, states []model.ClassificationState) (service.TransactionFilter, error) {
	var filter service.TransactionFilter
	start, end, err := common.ParseDateRange(from, to)
	if err != nil {
		return filter, err
	}
	filter.StartDate = start
	filter.EndDate = end

	for _, s := range states {
		state := model.ClassificationState(strings.ToUpper(strings.TrimSpace(string(s))))
		switch state {
		case model.StateOpen, model.StateClassified, model.StateConflicted:
			filter.States = append(filter.States, state)
		default:
			return filter, common.NewUserError("unknown classification state "+string(s), nil)
		}
	}
	return filter, nil
}
