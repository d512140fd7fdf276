package model

import (
	"fmt"
	"time"
)

// Rule is a keyword classification rule that points at one taxonomy leaf.
type Rule struct {
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	UserID           string     `json:"user_id"`
	Name             string     `json:"name"`
	TargetLeaf       string     `json:"target_leaf"`
	PositiveKeywords KeywordSet `json:"positive_keywords"`
	NegativeKeywords KeywordSet `json:"negative_keywords"`
	ID               int64      `json:"id"`
	Priority         int        `json:"priority"`
	Strict           bool       `json:"strict"`
	Active           bool       `json:"active"`
	IsSystem         bool       `json:"is_system"`
}

// Rank returns the rule's precedence.
func (r Rule) Rank() MatchRank {
	return MatchRank{Priority: r.Priority, Strict: r.Strict}
}

// Validate checks the fields a rule needs before it can be stored.
func (r Rule) Validate() error {
	if r.TargetLeaf == "" {
		return fmt.Errorf("target leaf is required")
	}
	if r.PositiveKeywords.IsEmpty() {
		return fmt.Errorf("at least one positive keyword is required")
	}
	return nil
}

// MatchRank orders matching rules. Lower priority numbers win; at equal priority
// a strict rule beats a non-strict one.
type MatchRank struct {
	Priority int  `json:"priority"`
	Strict   bool `json:"strict"`
}

// Compare returns -1 if r outranks other, 1 if other outranks r and 0 on a tie.
func (r MatchRank) Compare(other MatchRank) int {
	switch {
	case r.Priority < other.Priority:
		return -1
	case r.Priority > other.Priority:
		return 1
	case r.Strict && !other.Strict:
		return -1
	case !r.Strict && other.Strict:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether r is strictly better than other.
func (r MatchRank) Outranks(other MatchRank) bool {
	return r.Compare(other) < 0
}

// String renders the rank for display, e.g. "p10/strict".
func (r MatchRank) String() string {
	if r.Strict {
		return fmt.Sprintf("p%d/strict", r.Priority)
	}
	return fmt.Sprintf("p%d/flexible", r.Priority)
}
