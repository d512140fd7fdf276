package dto

import "github.com/Veraticus/spice-rules/internal/model"

// ClassifyRequest is the body of POST /api/classify.
type ClassifyRequest struct {
	Description string `json:"description"`
	Explain     bool   `json:"explain"`
}

// ReapplyRequest is the optional body of POST /api/reapply.
type ReapplyRequest struct {
	StartDate string                      `json:"start_date,omitempty"`
	EndDate   string                      `json:"end_date,omitempty"`
	States    []model.ClassificationState `json:"states,omitempty"`
}

// CreateRuleRequest is the body of POST /api/rules.
type CreateRuleRequest struct {
	Name             string   `json:"name"`
	TargetLeaf       string   `json:"target_leaf"`
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	// Priority defaults to rules.DefaultSeedPriority when omitted.
	Priority *int `json:"priority,omitempty"`
	Strict   bool `json:"strict"`
}

// UpdateRuleRequest is the body of PATCH /api/rules/{id}. Omitted fields keep their value.
type UpdateRuleRequest struct {
	Priority *int  `json:"priority,omitempty"`
	Strict   *bool `json:"strict,omitempty"`
}

// KeywordsRequest carries keywords to add (POST) or remove (DELETE) on /api/rules/{id}/keywords.
type KeywordsRequest struct {
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
}

// ResolveRequest is the body of POST /api/conflicts/{id}/resolve.
type ResolveRequest struct {
	Leaf string `json:"leaf"`
}

// SuggestionRequest carries an advisory suggestion to preview or apply.
type SuggestionRequest struct {
	Suggestion model.AdvisorySuggestion `json:"suggestion"`
}

// AcceptCandidateRequest is the body of POST /api/discovery/accept.
type AcceptCandidateRequest struct {
	Signature string `json:"signature"`
	Keyword   string `json:"keyword,omitempty"`
	Leaf      string `json:"leaf"`
	Name      string `json:"name,omitempty"`
	Priority  *int   `json:"priority,omitempty"`
	Strict    bool   `json:"strict,omitempty"`
}
