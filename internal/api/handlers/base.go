// Package handlers implements the HTTP handlers of the rule engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/spice-rules/internal/api/dto"
	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/discovery"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/rules"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
)

const maxBodyBytes = 1 << 20

// Services bundles the engine components the handlers call. All of them are scoped to one user.
type Services struct {
	Transactions service.TransactionRepository
	Rules        *rules.Store
	Taxonomy     *taxonomy.Resolver
	Orchestrator *engine.Orchestrator
	Conflicts    *engine.ConflictResolver
	Miner        *discovery.Miner
	Logger       *slog.Logger
	UserID       string
}

// Base provides shared functionality for all handlers.
type Base struct {
	svc    *Services
	logger *slog.Logger
}

// NewBase creates a new base handler.
func NewBase(svc *Services) *Base {
	return &Base{svc: svc, logger: common.OrDefault(svc.Logger)}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(w http.ResponseWriter, status int, err dto.APIError) {
	b.WriteJSON(w, status, err)
}

// WriteServiceError maps an engine error onto its HTTP status.
func (b *Base) WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := errorResponse(err)
	if status == http.StatusInternalServerError {
		b.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	b.WriteError(w, status, apiErr)
}

func errorResponse(err error) (int, dto.APIError) {
	msg := err.Error()
	switch {
	case errors.Is(err, common.ErrUnknownLeaf):
		return http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeUnknownLeaf, msg)
	case errors.Is(err, common.ErrInvalidKeywordSet):
		return http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidKeywords, msg)
	case errors.Is(err, common.ErrInvalidChoice):
		return http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidChoice, msg)
	case errors.Is(err, common.ErrInvalidSuggestion):
		return http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidAdvice, msg)
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, msg)
	case errors.Is(err, common.ErrConflictAlreadyResolved):
		return http.StatusConflict, dto.NewAPIError(dto.ErrCodeAlreadyResolved, msg)
	case errors.Is(err, common.ErrReapplyInProgress):
		return http.StatusConflict, dto.NewAPIError(dto.ErrCodeReapplyRunning, msg)
	case errors.Is(err, common.ErrSystemRule):
		return http.StatusForbidden, dto.NewAPIError(dto.ErrCodeSystemRule, msg)
	case errors.Is(err, common.ErrAdvisoryUnavailable):
		return http.StatusServiceUnavailable, dto.NewAPIError(dto.ErrCodeAdvisoryDisabled, msg)
	default:
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			return http.StatusBadRequest, dto.ValidationError(userErr.UserMessage)
		}
		return http.StatusInternalServerError, dto.InternalError()
	}
}

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched when optional is set.
func (b *Base) DecodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// reapplyAfterEdit runs the reapplication pass a rule change calls for and folds its
// outcome into resp. A pass already in flight is reported, not treated as a failure:
// the edit is persisted and the running pass or the next one picks it up.
func (b *Base) reapplyAfterEdit(ctx context.Context, r *http.Request, resp *dto.RuleResponse) {
	if !ParseBoolParam(r, "reapply", true) {
		return
	}
	summary, err := b.svc.Orchestrator.ReapplyAll(ctx, engine.ReapplyOptions{})
	if err != nil {
		resp.ReapplyError = err.Error()
		if !errors.Is(err, common.ErrReapplyInProgress) {
			b.logger.Warn("reapplication after rule edit failed", "error", err)
		}
	}
	resp.Reapply = summary
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// ParseBoolParam parses a boolean query parameter with a default value.
func ParseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	val := strings.ToLower(r.URL.Query().Get(name))
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}

// ruleIDParam reads the {id} path parameter as a rule id.
func ruleIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", raw)
	}
	return id, nil
}
