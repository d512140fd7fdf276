// Package model defines the core data structures of the rule engine.
package model

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeText case-folds s, trims it and collapses inner whitespace runs to a single space.
// Keywords and descriptions go through the same normalization so substring tests line up.
func NormalizeText(s string) string {
	// A Caser carries state and must not be shared between goroutines.
	folded := cases.Fold().String(s)
	return strings.Join(strings.Fields(folded), " ")
}

// KeywordSet is a sorted set of normalized keywords.
type KeywordSet []string

// NewKeywordSet normalizes, deduplicates and sorts the given keywords. Blank entries are dropped.
func NewKeywordSet(words ...string) KeywordSet {
	seen := make(map[string]bool, len(words))
	set := make(KeywordSet, 0, len(words))
	for _, w := range words {
		n := NormalizeText(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		set = append(set, n)
	}
	sort.Strings(set)
	return set
}

// Len returns the number of keywords.
func (k KeywordSet) Len() int {
	return len(k)
}

// IsEmpty reports whether the set holds no keywords.
func (k KeywordSet) IsEmpty() bool {
	return len(k) == 0
}

// Contains reports whether word (normalized) is a member of the set.
func (k KeywordSet) Contains(word string) bool {
	n := NormalizeText(word)
	for _, w := range k {
		if w == n {
			return true
		}
	}
	return false
}

// Union returns a new set holding the keywords of both sets.
func (k KeywordSet) Union(other KeywordSet) KeywordSet {
	merged := make([]string, 0, len(k)+len(other))
	merged = append(merged, k...)
	merged = append(merged, other...)
	return NewKeywordSet(merged...)
}

// Without returns a new set with every keyword of other removed.
func (k KeywordSet) Without(other KeywordSet) KeywordSet {
	out := make(KeywordSet, 0, len(k))
	for _, w := range k {
		if !other.Contains(w) {
			out = append(out, w)
		}
	}
	return out
}

// Missing returns the keywords of other that are not yet in k.
func (k KeywordSet) Missing(other KeywordSet) KeywordSet {
	return other.Without(k)
}

// Equal reports whether both sets hold the same keywords.
func (k KeywordSet) Equal(other KeywordSet) bool {
	a, b := NewKeywordSet(k...), NewKeywordSet(other...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FirstIn returns the first keyword of the set that occurs as a substring of text.
// text must already be normalized.
func (k KeywordSet) FirstIn(text string) (string, bool) {
	for _, w := range k {
		if strings.Contains(text, w) {
			return w, true
		}
	}
	return "", false
}

// Strings returns a copy of the keywords as a plain slice.
func (k KeywordSet) Strings() []string {
	out := make([]string, len(k))
	copy(out, k)
	return out
}

// KeywordDelta is an additive change to a rule's keyword sets.
// Deltas only ever add keywords, so applying A then B equals applying B then A.
type KeywordDelta struct {
	AddPositive KeywordSet `json:"add_positive_keywords"`
	AddNegative KeywordSet `json:"add_negative_keywords"`
}

// NewKeywordDelta builds a normalized delta from raw keyword lists.
func NewKeywordDelta(positive, negative []string) KeywordDelta {
	return KeywordDelta{
		AddPositive: NewKeywordSet(positive...),
		AddNegative: NewKeywordSet(negative...),
	}
}

// Normalize re-normalizes both keyword lists. Deltas built from untrusted input must pass through here.
func (d KeywordDelta) Normalize() KeywordDelta {
	return NewKeywordDelta(d.AddPositive, d.AddNegative)
}

// IsEmpty reports whether the delta adds nothing.
func (d KeywordDelta) IsEmpty() bool {
	return d.AddPositive.IsEmpty() && d.AddNegative.IsEmpty()
}

// Merge combines two deltas into one.
func (d KeywordDelta) Merge(other KeywordDelta) KeywordDelta {
	return KeywordDelta{
		AddPositive: d.AddPositive.Union(other.AddPositive),
		AddNegative: d.AddNegative.Union(other.AddNegative),
	}
}

// ApplyTo returns a copy of rule with the delta's keywords unioned in.
func (d KeywordDelta) ApplyTo(rule Rule) Rule {
	rule.PositiveKeywords = rule.PositiveKeywords.Union(d.AddPositive)
	rule.NegativeKeywords = rule.NegativeKeywords.Union(d.AddNegative)
	return rule
}

// Against trims the delta down to keywords the rule does not already carry.
func (d KeywordDelta) Against(rule Rule) KeywordDelta {
	n := d.Normalize()
	return KeywordDelta{
		AddPositive: rule.PositiveKeywords.Missing(n.AddPositive),
		AddNegative: rule.NegativeKeywords.Missing(n.AddNegative),
	}
}
