// Package rules implements the Rule Store: creation with merge-by-leaf, additive keyword
// deltas and the lifecycle operations for classification rules.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// LeafResolver resolves taxonomy leaves.
type LeafResolver interface {
	Resolve(ctx context.Context, id string) (*model.TaxonomyLeaf, error)
}

// NewRule is the input for creating a rule.
type NewRule struct {
	Name       string
	TargetLeaf string
	Positive   []string
	Negative   []string
	Priority   int
	Strict     bool
	IsSystem   bool
}

// CreateResult reports whether a create request produced a new rule or was folded into
// the existing active rule for the same leaf.
type CreateResult struct {
	Rule   *model.Rule
	Added  model.KeywordDelta
	Merged bool
}

// Store serializes rule writes for one user. Keyword changes are expressed as deltas so
// concurrent editors never drop each other's additions.
type Store struct {
	repo     service.RuleRepository
	resolver LeafResolver
	logger   *slog.Logger
	userID   string
	mu       sync.Mutex
}

// NewStore creates a rule store for userID.
func NewStore(repo service.RuleRepository, resolver LeafResolver, userID string, logger *slog.Logger) *Store {
	return &Store{
		repo:     repo,
		resolver: resolver,
		userID:   userID,
		logger:   common.OrDefault(logger),
	}
}

// UserID returns the user the store operates for.
func (s *Store) UserID() string {
	return s.userID
}

// Create stores a new rule, or merges its keywords into the active rule that already
// targets the same leaf.
func (s *Store) Create(ctx context.Context, in NewRule) (*CreateResult, error) {
	positive := model.NewKeywordSet(in.Positive...)
	negative := model.NewKeywordSet(in.Negative...)
	if positive.IsEmpty() {
		return nil, fmt.Errorf("%w: at least one positive keyword is required", common.ErrInvalidKeywordSet)
	}

	leaf, err := s.resolver.Resolve(ctx, in.TargetLeaf)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delta := model.KeywordDelta{AddPositive: positive, AddNegative: negative}

	existing, err := s.repo.GetActiveRuleByLeaf(ctx, s.userID, leaf.ID)
	switch {
	case err == nil:
		return s.mergeLocked(ctx, existing, delta)
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to look up rule for leaf: %w", err)
	}

	name := in.Name
	if name == "" {
		name = defaultName(*leaf)
	}

	rule := &model.Rule{
		UserID:           s.userID,
		Name:             name,
		TargetLeaf:       leaf.ID,
		PositiveKeywords: positive,
		NegativeKeywords: negative,
		Priority:         in.Priority,
		Strict:           in.Strict,
		Active:           true,
		IsSystem:         in.IsSystem,
	}

	if err := s.repo.CreateRule(ctx, rule); err != nil {
		if !errors.Is(err, common.ErrDuplicateRuleForLeaf) {
			return nil, fmt.Errorf("failed to create rule: %w", err)
		}
		// Another process created the leaf rule between lookup and insert.
		existing, getErr := s.repo.GetActiveRuleByLeaf(ctx, s.userID, leaf.ID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load rule for leaf after duplicate: %w", getErr)
		}
		return s.mergeLocked(ctx, existing, delta)
	}

	s.logger.Info("Created rule",
		"rule_id", rule.ID,
		"leaf", rule.TargetLeaf,
		"positive", rule.PositiveKeywords.Len(),
		"negative", rule.NegativeKeywords.Len())

	return &CreateResult{Rule: rule, Added: delta}, nil
}

func (s *Store) mergeLocked(ctx context.Context, existing *model.Rule, delta model.KeywordDelta) (*CreateResult, error) {
	added := delta.Against(*existing)
	if added.IsEmpty() {
		return &CreateResult{Rule: existing, Merged: true}, nil
	}

	merged, err := s.repo.ApplyKeywordDelta(ctx, s.userID, existing.ID, added)
	if err != nil {
		return nil, fmt.Errorf("failed to merge keywords into rule %d: %w", existing.ID, err)
	}

	s.logger.Info("Merged keywords into existing rule",
		"rule_id", merged.ID,
		"leaf", merged.TargetLeaf,
		"added_positive", added.AddPositive.Len(),
		"added_negative", added.AddNegative.Len())

	return &CreateResult{Rule: merged, Added: added, Merged: true}, nil
}

// ApplyDelta unions delta into rule id. Keywords are re-normalized, so the delta may come
// from untrusted input.
func (s *Store) ApplyDelta(ctx context.Context, id int64, delta model.KeywordDelta) (*model.Rule, error) {
	delta = delta.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if delta.IsEmpty() {
		return s.repo.GetRule(ctx, s.userID, id)
	}

	rule, err := s.repo.ApplyKeywordDelta(ctx, s.userID, id, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to apply keyword delta to rule %d: %w", id, err)
	}

	s.logger.Info("Applied keyword delta",
		"rule_id", id,
		"added_positive", delta.AddPositive.Len(),
		"added_negative", delta.AddNegative.Len())

	return rule, nil
}

// RemoveKeywords drops keywords from a rule. Unlike deltas this is an explicit user edit:
// it is refused for system rules and may not leave the rule without positive keywords.
func (s *Store) RemoveKeywords(ctx context.Context, id int64, positive, negative []string) (*model.Rule, error) {
	pos := model.NewKeywordSet(positive...)
	neg := model.NewKeywordSet(negative...)

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.repo.GetRule(ctx, s.userID, id)
	if err != nil {
		return nil, err
	}
	if rule.IsSystem {
		return nil, fmt.Errorf("%w: rule %d", common.ErrSystemRule, id)
	}
	if rule.PositiveKeywords.Without(pos).IsEmpty() {
		return nil, fmt.Errorf("%w: rule %d would have no positive keywords", common.ErrInvalidKeywordSet, id)
	}

	return s.repo.RemoveKeywords(ctx, s.userID, id, pos, neg)
}

// SetRank changes a rule's priority and strictness.
func (s *Store) SetRank(ctx context.Context, id int64, rank model.MatchRank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.UpdateRuleRank(ctx, s.userID, id, rank)
}

// Deactivate takes a rule out of matching without deleting it.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SetRuleActive(ctx, s.userID, id, false)
}

// Activate puts a rule back into matching. When another rule is already active for its
// leaf, the keywords are merged into that rule instead and the merged rule is returned.
func (s *Store) Activate(ctx context.Context, id int64) (*model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.repo.GetRule(ctx, s.userID, id)
	if err != nil {
		return nil, err
	}
	if rule.Active {
		return rule, nil
	}

	err = s.repo.SetRuleActive(ctx, s.userID, id, true)
	if err == nil {
		rule.Active = true
		return rule, nil
	}
	if !errors.Is(err, common.ErrDuplicateRuleForLeaf) {
		return nil, err
	}

	existing, err := s.repo.GetActiveRuleByLeaf(ctx, s.userID, rule.TargetLeaf)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rule for leaf %q: %w", rule.TargetLeaf, err)
	}
	res, err := s.mergeLocked(ctx, existing, model.KeywordDelta{
		AddPositive: rule.PositiveKeywords,
		AddNegative: rule.NegativeKeywords,
	})
	if err != nil {
		return nil, err
	}
	return res.Rule, nil
}

// Delete removes a rule. System rules can only be deactivated.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.repo.GetRule(ctx, s.userID, id)
	if err != nil {
		return err
	}
	if rule.IsSystem {
		return fmt.Errorf("%w: rule %d", common.ErrSystemRule, id)
	}
	return s.repo.DeleteRule(ctx, s.userID, id)
}

// Get returns one rule.
func (s *Store) Get(ctx context.Context, id int64) (*model.Rule, error) {
	return s.repo.GetRule(ctx, s.userID, id)
}

// ByLeaf returns the active rule targeting leaf.
func (s *Store) ByLeaf(ctx context.Context, leaf string) (*model.Rule, error) {
	return s.repo.GetActiveRuleByLeaf(ctx, s.userID, leaf)
}

// List returns the user's rules.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]model.Rule, error) {
	return s.repo.ListRules(ctx, s.userID, activeOnly)
}

// ActiveRules returns the rule snapshot a batch pass would match against.
func (s *Store) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	rules, err := s.repo.ListRules(ctx, s.userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	return rules, nil
}

func defaultName(leaf model.TaxonomyLeaf) string {
	if leaf.AppCategoryName != "" {
		return leaf.AppCategoryName
	}
	if path := leaf.Path(); path != "" {
		return path
	}
	return leaf.ID
}
