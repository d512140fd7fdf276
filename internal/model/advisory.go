package model

// AdvisoryCandidate describes one conflicting rule to the advisory service.
type AdvisoryCandidate struct {
	RuleName         string     `json:"rule_name"`
	TargetLeaf       string     `json:"target_leaf"`
	CategoryPath     string     `json:"category_path"`
	PositiveKeywords KeywordSet `json:"positive_keywords"`
	NegativeKeywords KeywordSet `json:"negative_keywords"`
	RuleID           int64      `json:"rule_id"`
	Priority         int        `json:"priority"`
	Strict           bool       `json:"strict"`
}

// AdvisoryRequest is the full context of one conflicted transaction.
type AdvisoryRequest struct {
	TransactionID string              `json:"transaction_id"`
	Description   string              `json:"description"`
	Candidates    []AdvisoryCandidate `json:"candidates"`
}

// RuleSuggestion is a proposed keyword addition for one candidate rule.
type RuleSuggestion struct {
	AddPositiveKeywords []string `json:"add_positive_keywords"`
	AddNegativeKeywords []string `json:"add_negative_keywords"`
	RuleID              int64    `json:"rule_id"`
}

// Delta converts the suggestion into a normalized keyword delta.
func (s RuleSuggestion) Delta() KeywordDelta {
	return NewKeywordDelta(s.AddPositiveKeywords, s.AddNegativeKeywords)
}

// AdvisorySuggestion is the advisory service's answer for a conflict.
type AdvisorySuggestion struct {
	Rationale   string           `json:"rationale"`
	Suggestions []RuleSuggestion `json:"suggestions"`
}
