// Package matcher implements the keyword Matching Engine. It is a pure function of a
// description and a rule set; persistence is the caller's concern.
package matcher

import (
	"sort"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Confidence values assigned to rule classifications.
const (
	// ConfidenceStrict is used when a strict rule is the only surviving leaf.
	ConfidenceStrict = 0.95
	// ConfidenceFlexible is used when a non-strict rule is the only surviving leaf.
	ConfidenceFlexible = 0.80
	// ConfidenceStrictContested is used when a strict rule won the rank tie-break over another leaf.
	ConfidenceStrictContested = 0.90
	// ConfidenceFlexibleContested is used when a non-strict rule won over another leaf on priority.
	ConfidenceFlexibleContested = 0.70
)

// Confidence returns the score of a rule classification. contested means at least one
// other leaf also matched and lost on rank.
func Confidence(strict, contested bool) float64 {
	switch {
	case strict && contested:
		return ConfidenceStrictContested
	case strict:
		return ConfidenceStrict
	case contested:
		return ConfidenceFlexibleContested
	default:
		return ConfidenceFlexible
	}
}

// Matcher evaluates descriptions against a fixed snapshot of active rules.
// It is safe for concurrent use.
type Matcher struct {
	rules []model.Rule
}

// New creates a matcher over the active rules in rules. Inactive rules are ignored.
func New(rules []model.Rule) *Matcher {
	active := make([]model.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return &Matcher{rules: active}
}

// Classify matches one description against rules.
func Classify(description string, rules []model.Rule) model.ClassificationResult {
	return New(rules).Classify(description)
}

// RuleCount returns the number of active rules the matcher evaluates.
func (m *Matcher) RuleCount() int {
	return len(m.rules)
}

// Candidates returns every rule whose positive keywords hit and whose negative keywords
// do not, best rank first.
func (m *Matcher) Candidates(description string) []model.Candidate {
	text := model.NormalizeText(description)

	var candidates []model.Candidate
	for _, rule := range m.rules {
		keyword, ok := rule.PositiveKeywords.FirstIn(text)
		if !ok {
			continue
		}
		// Negative keywords veto the whole rule.
		if _, vetoed := rule.NegativeKeywords.FirstIn(text); vetoed {
			continue
		}
		candidates = append(candidates, model.Candidate{
			RuleID:         rule.ID,
			TargetLeaf:     rule.TargetLeaf,
			MatchedKeyword: keyword,
			Priority:       rule.Priority,
			Strict:         rule.Strict,
		})
	}

	sortCandidates(candidates)
	return candidates
}

// Classify resolves a description to OPEN, a single classification or a conflict.
func (m *Matcher) Classify(description string) model.ClassificationResult {
	leaves := collapseByLeaf(m.Candidates(description))

	switch len(leaves) {
	case 0:
		return model.OpenResult()
	case 1:
		return classified(leaves[0], false)
	}

	top := leaves[0]
	if top.Rank().Outranks(leaves[1].Rank()) {
		return classified(top, true)
	}

	tied := make([]model.Candidate, 0, len(leaves))
	for _, c := range leaves {
		if c.Rank().Compare(top.Rank()) == 0 {
			tied = append(tied, c)
		}
	}

	return model.ClassificationResult{
		State:      model.StateConflicted,
		Candidates: tied,
	}
}

func classified(c model.Candidate, contested bool) model.ClassificationResult {
	ruleID := c.RuleID
	return model.ClassificationResult{
		State:          model.StateClassified,
		AppliedRuleID:  &ruleID,
		TargetLeaf:     c.TargetLeaf,
		MatchedKeyword: c.MatchedKeyword,
		ClassifiedBy:   model.ClassifiedByRule,
		Confidence:     Confidence(c.Strict, contested),
	}
}

// sortCandidates orders by rank, then rule id so equal ranks stay deterministic.
func sortCandidates(candidates []model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if cmp := candidates[i].Rank().Compare(candidates[j].Rank()); cmp != 0 {
			return cmp < 0
		}
		return candidates[i].RuleID < candidates[j].RuleID
	})
}

// collapseByLeaf keeps the best-ranked candidate per target leaf. Input must be sorted.
func collapseByLeaf(candidates []model.Candidate) []model.Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.TargetLeaf] {
			continue
		}
		seen[c.TargetLeaf] = true
		out = append(out, c)
	}
	return out
}
