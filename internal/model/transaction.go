package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClassificationState is the outcome of matching a transaction against the rule set.
type ClassificationState string

// Classification states.
const (
	StateOpen       ClassificationState = "OPEN"
	StateClassified ClassificationState = "CLASSIFIED"
	StateConflicted ClassificationState = "CONFLICTED"
)

// ClassifiedBy records who produced the current classification.
type ClassifiedBy string

// Classification provenance values. An OPEN transaction carries ClassifiedByNone.
const (
	ClassifiedByNone   ClassifiedBy = ""
	ClassifiedByRule   ClassifiedBy = "RULE"
	ClassifiedByManual ClassifiedBy = "MANUAL"
	// ClassifiedByAI is never written by this module. It exists so rows imported from
	// an earlier AI classifier can be stored and audited; reapplication treats them like
	// any other row without a manual override.
	ClassifiedByAI ClassifiedBy = "AI"
)

// Candidate is one rule that matched a transaction.
type Candidate struct {
	RuleID         int64  `json:"rule_id"`
	TargetLeaf     string `json:"target_leaf"`
	MatchedKeyword string `json:"matched_keyword"`
	Priority       int    `json:"priority"`
	Strict         bool   `json:"strict"`
}

// Rank returns the candidate's precedence.
func (c Candidate) Rank() MatchRank {
	return MatchRank{Priority: c.Priority, Strict: c.Strict}
}

// Transaction is the classification-relevant projection of a stored transaction.
type Transaction struct {
	Date                  time.Time           `json:"date"`
	UpdatedAt             time.Time           `json:"updated_at"`
	AppliedRuleID         *int64              `json:"applied_rule_id,omitempty"`
	ID                    string              `json:"id"`
	UserID                string              `json:"user_id"`
	NormalizedDescription string              `json:"normalized_description"`
	Classification        ClassificationState `json:"classification"`
	ClassifiedBy          ClassifiedBy        `json:"classified_by,omitempty"`
	TargetLeaf            string              `json:"target_leaf,omitempty"`
	MatchedKeyword        string              `json:"matched_keyword,omitempty"`
	Amount                decimal.Decimal     `json:"amount"`
	Candidates            []Candidate         `json:"candidates,omitempty"`
	Confidence            float64             `json:"confidence,omitempty"`
	ManualOverride        bool                `json:"manual_override"`
}

// Result returns the classification currently stored on the transaction.
func (t Transaction) Result() ClassificationResult {
	state := t.Classification
	if state == "" {
		state = StateOpen
	}
	return ClassificationResult{
		State:          state,
		AppliedRuleID:  t.AppliedRuleID,
		TargetLeaf:     t.TargetLeaf,
		MatchedKeyword: t.MatchedKeyword,
		Confidence:     t.Confidence,
		ClassifiedBy:   t.ClassifiedBy,
		Candidates:     t.Candidates,
	}
}

// Apply copies a classification result into the transaction's classification fields.
func (t *Transaction) Apply(res ClassificationResult) {
	t.Classification = res.State
	t.AppliedRuleID = res.AppliedRuleID
	t.TargetLeaf = res.TargetLeaf
	t.MatchedKeyword = res.MatchedKeyword
	t.Confidence = res.Confidence
	t.ClassifiedBy = res.ClassifiedBy
	t.Candidates = res.Candidates
}

// Validate checks the classification invariants of the transaction.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	return t.Result().Validate()
}

// ClassificationResult is the outcome of one Matching Engine call.
type ClassificationResult struct {
	AppliedRuleID  *int64              `json:"applied_rule_id,omitempty"`
	State          ClassificationState `json:"state"`
	TargetLeaf     string              `json:"target_leaf,omitempty"`
	MatchedKeyword string              `json:"matched_keyword,omitempty"`
	ClassifiedBy   ClassifiedBy        `json:"classified_by,omitempty"`
	Candidates     []Candidate         `json:"candidates,omitempty"`
	Confidence     float64             `json:"confidence,omitempty"`
}

// OpenResult is the result for a description no active rule matches.
func OpenResult() ClassificationResult {
	return ClassificationResult{State: StateOpen}
}

// Validate enforces CONFLICTED <=> len(candidates) >= 2 <=> no applied rule.
func (r ClassificationResult) Validate() error {
	switch r.State {
	case StateOpen:
		if r.AppliedRuleID != nil || len(r.Candidates) > 0 {
			return fmt.Errorf("open result must not carry a rule or candidates")
		}
	case StateClassified:
		if r.ClassifiedBy == ClassifiedByNone {
			return fmt.Errorf("classified result requires a provenance")
		}
		if r.TargetLeaf == "" {
			return fmt.Errorf("classified result requires a target leaf")
		}
		if len(r.Candidates) > 0 {
			return fmt.Errorf("classified result must not carry candidates")
		}
		if r.ClassifiedBy == ClassifiedByRule && r.AppliedRuleID == nil {
			return fmt.Errorf("rule classification requires an applied rule")
		}
	case StateConflicted:
		if len(r.Candidates) < 2 {
			return fmt.Errorf("conflicted result requires at least 2 candidates, got %d", len(r.Candidates))
		}
		if r.AppliedRuleID != nil {
			return fmt.Errorf("conflicted result must not carry an applied rule")
		}
	default:
		return fmt.Errorf("unknown classification state %q", r.State)
	}
	return nil
}

// Equal reports whether two results would persist identically.
func (r ClassificationResult) Equal(other ClassificationResult) bool {
	if r.State != other.State ||
		r.TargetLeaf != other.TargetLeaf ||
		r.MatchedKeyword != other.MatchedKeyword ||
		r.ClassifiedBy != other.ClassifiedBy ||
		r.Confidence != other.Confidence {
		return false
	}
	if (r.AppliedRuleID == nil) != (other.AppliedRuleID == nil) {
		return false
	}
	if r.AppliedRuleID != nil && *r.AppliedRuleID != *other.AppliedRuleID {
		return false
	}
	if len(r.Candidates) != len(other.Candidates) {
		return false
	}
	for i := range r.Candidates {
		if r.Candidates[i] != other.Candidates[i] {
			return false
		}
	}
	return true
}
