package dto

import (
	"time"

	"github.com/Veraticus/spice-rules/internal/matcher"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy status response.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ClassifyResponse is a dry-run classification of one description.
type ClassifyResponse struct {
	Description string                     `json:"description"`
	Result      model.ClassificationResult `json:"result"`
	Verdicts    []matcher.Verdict          `json:"verdicts,omitempty"`
}

// TransactionListResponse is a page of transactions. NextAfter feeds the after query parameter.
type TransactionListResponse struct {
	Transactions []model.Transaction `json:"transactions"`
	NextAfter    string              `json:"next_after,omitempty"`
	Count        int                 `json:"count"`
}

// TransactionResponse wraps a single transaction after a state change.
type TransactionResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Outcome     string             `json:"outcome,omitempty"`
}

// RuleListResponse lists rules.
type RuleListResponse struct {
	Rules []model.Rule `json:"rules"`
	Count int          `json:"count"`
}

// RuleResponse reports a rule after a mutation, plus the reapplication it triggered.
type RuleResponse struct {
	Rule         *model.Rule             `json:"rule,omitempty"`
	Added        *model.KeywordDelta     `json:"added,omitempty"`
	Reapply      *service.ReapplySummary `json:"reapply,omitempty"`
	ReapplyError string                  `json:"reapply_error,omitempty"`
	Merged       bool                    `json:"merged,omitempty"`
}

// SeedResponse reports a system rule seeding run.
type SeedResponse struct {
	Created int `json:"created"`
	Merged  int `json:"merged"`
}

// ConflictListResponse lists conflicted transactions.
type ConflictListResponse struct {
	Conflicts []model.Transaction `json:"conflicts"`
	Count     int                 `json:"count"`
}

// DiscoveryResponse lists rule proposals.
type DiscoveryResponse struct {
	Candidates []model.DiscoveryCandidate `json:"candidates"`
	Count      int                        `json:"count"`
}

// TaxonomyResponse lists taxonomy leaves.
type TaxonomyResponse struct {
	Leaves []model.TaxonomyLeaf `json:"leaves"`
	Count  int                  `json:"count"`
}
