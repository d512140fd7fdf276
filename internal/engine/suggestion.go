package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/matcher"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// ValidateSuggestion normalizes advisory output and rejects suggestions that touch rules
// outside the conflict. Suggestions for the same rule are merged and empty ones dropped.
func ValidateSuggestion(candidates []model.Candidate, suggestion model.AdvisorySuggestion) (model.AdvisorySuggestion, error) {
	allowed := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.RuleID] = true
	}

	deltas := make(map[int64]model.KeywordDelta)
	for _, s := range suggestion.Suggestions {
		if !allowed[s.RuleID] {
			return model.AdvisorySuggestion{}, fmt.Errorf("%w: rule %d is not a candidate", common.ErrInvalidSuggestion, s.RuleID)
		}
		delta := s.Delta()
		if delta.IsEmpty() {
			continue
		}
		deltas[s.RuleID] = deltas[s.RuleID].Merge(delta)
	}

	if len(deltas) == 0 {
		return model.AdvisorySuggestion{}, fmt.Errorf("%w: no keyword changes proposed", common.ErrInvalidSuggestion)
	}

	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := model.AdvisorySuggestion{
		Rationale:   strings.TrimSpace(suggestion.Rationale),
		Suggestions: make([]model.RuleSuggestion, 0, len(ids)),
	}
	for _, id := range ids {
		d := deltas[id]
		out.Suggestions = append(out.Suggestions, model.RuleSuggestion{
			RuleID:              id,
			AddPositiveKeywords: d.AddPositive.Strings(),
			AddNegativeKeywords: d.AddNegative.Strings(),
		})
	}
	return out, nil
}

// SuggestionPreview is the projected effect of a suggestion before it is applied.
type SuggestionPreview struct {
	Result model.ClassificationResult `json:"result"`
	// Affected lists other eligible transactions whose classification would change.
	Affected []string `json:"affected"`
	Resolves bool     `json:"resolves"`
}

// PreviewSuggestion evaluates a suggestion against in-memory copies of the rules: the new
// result for the conflicted transaction and which other transactions it would reclassify.
func (r *ConflictResolver) PreviewSuggestion(ctx context.Context, transactionID string, suggestion model.AdvisorySuggestion) (*SuggestionPreview, error) {
	txn, err := r.conflicted(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	validated, err := ValidateSuggestion(txn.Candidates, suggestion)
	if err != nil {
		return nil, err
	}

	rules, err := r.orchestrator.rules.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	deltas := make(map[int64]model.KeywordDelta, len(validated.Suggestions))
	for _, s := range validated.Suggestions {
		deltas[s.RuleID] = s.Delta()
	}
	projected := make([]model.Rule, len(rules))
	for i, rule := range rules {
		if d, ok := deltas[rule.ID]; ok {
			rule = d.ApplyTo(rule)
		}
		projected[i] = rule
	}

	before := matcher.New(rules)
	after := matcher.New(projected)

	preview := &SuggestionPreview{Result: after.Classify(txn.NormalizedDescription)}
	preview.Resolves = preview.Result.State == model.StateClassified

	page := service.TransactionFilter{ManualOverride: boolPtr(false), Limit: r.orchestrator.config.PageSize}
	for {
		txns, err := r.transactions.ListTransactions(ctx, r.userID, page)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transactions: %w", err)
		}
		for _, other := range txns {
			if other.ID == transactionID {
				continue
			}
			if !before.Classify(other.NormalizedDescription).Equal(after.Classify(other.NormalizedDescription)) {
				preview.Affected = append(preview.Affected, other.ID)
			}
		}
		if len(txns) < page.Limit {
			break
		}
		page.AfterID = txns[len(txns)-1].ID
	}

	return preview, nil
}
