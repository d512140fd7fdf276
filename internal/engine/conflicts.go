package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// ConfidenceManual is the confidence of a user-picked classification.
const ConfidenceManual = 1.0

// RuleEditor is the part of the Rule Store the resolver writes through.
type RuleEditor interface {
	Get(ctx context.Context, id int64) (*model.Rule, error)
	ApplyDelta(ctx context.Context, id int64, delta model.KeywordDelta) (*model.Rule, error)
}

// ConflictFilter narrows ListConflicts.
type ConflictFilter struct {
	service.TransactionFilter
}

// AdvisoryOutcome reports what applying an advisory suggestion changed.
type AdvisoryOutcome struct {
	Transaction  *model.Transaction      `json:"transaction"`
	Reapply      *service.ReapplySummary `json:"reapply,omitempty"`
	UpdatedRules []model.Rule            `json:"updated_rules"`
}

// ConflictResolver turns CONFLICTED transactions into manual resolutions or keyword refinements.
type ConflictResolver struct {
	transactions service.TransactionRepository
	rules        RuleEditor
	leaves       LeafResolver
	advisor      service.Advisor
	orchestrator *Orchestrator
	logger       *slog.Logger
	userID       string
}

// NewConflictResolver creates a resolver. advisor may be nil, in which case the advisory
// path reports common.ErrAdvisoryUnavailable.
func NewConflictResolver(
	transactions service.TransactionRepository,
	rules RuleEditor,
	leaves LeafResolver,
	advisor service.Advisor,
	orchestrator *Orchestrator,
	userID string,
	logger *slog.Logger,
) *ConflictResolver {
	return &ConflictResolver{
		transactions: transactions,
		rules:        rules,
		leaves:       leaves,
		advisor:      advisor,
		orchestrator: orchestrator,
		userID:       userID,
		logger:       common.OrDefault(logger),
	}
}

// ListConflicts returns CONFLICTED transactions with their full candidate lists.
func (r *ConflictResolver) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Transaction, error) {
	f := filter.TransactionFilter
	f.States = []model.ClassificationState{model.StateConflicted}
	f.ManualOverride = boolPtr(false)

	txns, err := r.transactions.ListTransactions(ctx, r.userID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return txns, nil
}

// ResolveManually classifies a conflicted transaction into one of its candidate leaves and
// freezes it against future reapplication.
func (r *ConflictResolver) ResolveManually(ctx context.Context, transactionID, leaf string) (*model.Transaction, error) {
	txn, err := r.conflicted(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	chosen, ok := candidateForLeaf(txn.Candidates, leaf)
	if !ok {
		return nil, fmt.Errorf("%w: %q for transaction %s", common.ErrInvalidChoice, leaf, transactionID)
	}
	if _, err := r.leaves.Resolve(ctx, chosen.TargetLeaf); err != nil {
		return nil, err
	}

	ruleID := chosen.RuleID
	res := model.ClassificationResult{
		State:          model.StateClassified,
		AppliedRuleID:  &ruleID,
		TargetLeaf:     chosen.TargetLeaf,
		MatchedKeyword: chosen.MatchedKeyword,
		ClassifiedBy:   model.ClassifiedByManual,
		Confidence:     ConfidenceManual,
	}

	err = r.transactions.UpdateClassification(ctx, service.ClassificationUpdate{
		UserID:            r.userID,
		TransactionID:     transactionID,
		RequireState:      model.StateConflicted,
		Result:            res,
		SetManualOverride: true,
	})
	if err != nil {
		if errors.Is(err, common.ErrPreconditionFailed) {
			return nil, fmt.Errorf("%w: transaction %s", common.ErrConflictAlreadyResolved, transactionID)
		}
		return nil, fmt.Errorf("failed to resolve conflict: %w", err)
	}

	r.logger.Info("Resolved conflict manually",
		"transaction_id", transactionID,
		"leaf", chosen.TargetLeaf,
		"rule_id", chosen.RuleID)

	txn.Apply(res)
	txn.ManualOverride = true
	return txn, nil
}

// RequestAdvisory asks the advisory service how to disambiguate a conflict. The returned
// suggestion is validated and normalized but not applied.
func (r *ConflictResolver) RequestAdvisory(ctx context.Context, transactionID string) (*model.AdvisorySuggestion, error) {
	if r.advisor == nil {
		return nil, fmt.Errorf("%w: no advisory provider configured", common.ErrAdvisoryUnavailable)
	}

	txn, err := r.conflicted(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	req, err := r.advisoryRequest(ctx, txn)
	if err != nil {
		return nil, err
	}

	suggestion, err := r.advisor.Advise(ctx, req)
	if err != nil {
		r.logger.Warn("Advisory request failed",
			"transaction_id", transactionID,
			"error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrAdvisoryUnavailable, err)
	}
	if suggestion == nil {
		return nil, fmt.Errorf("%w: empty response", common.ErrAdvisoryUnavailable)
	}

	validated, err := ValidateSuggestion(txn.Candidates, *suggestion)
	if err != nil {
		return nil, err
	}
	return &validated, nil
}

// ApplyAdvisorySuggestion merges a suggestion into the Rule Store through keyword deltas
// and re-runs reapplication. The transaction is not frozen and stays subject to automatic
// reclassification.
func (r *ConflictResolver) ApplyAdvisorySuggestion(ctx context.Context, transactionID string, suggestion model.AdvisorySuggestion) (*AdvisoryOutcome, error) {
	txn, err := r.conflicted(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	validated, err := ValidateSuggestion(txn.Candidates, suggestion)
	if err != nil {
		return nil, err
	}

	outcome := &AdvisoryOutcome{}
	applied := make([]int64, 0, len(validated.Suggestions))
	for _, s := range validated.Suggestions {
		rule, err := r.rules.ApplyDelta(ctx, s.RuleID, s.Delta())
		if err != nil {
			// Deltas already stored stay in place; they only add keywords.
			r.logger.Warn("Advisory suggestion partially applied",
				"transaction_id", transactionID,
				"failed_rule", s.RuleID,
				"applied_rules", applied,
				"error", err)
			return nil, fmt.Errorf("failed to apply suggestion to rule %d (already updated: %v): %w", s.RuleID, applied, err)
		}
		applied = append(applied, s.RuleID)
		outcome.UpdatedRules = append(outcome.UpdatedRules, *rule)
	}

	r.logger.Info("Applied advisory suggestion",
		"transaction_id", transactionID,
		"rules", len(outcome.UpdatedRules))

	summary, err := r.orchestrator.ReapplyAll(ctx, ReapplyOptions{})
	switch {
	case err == nil:
		outcome.Reapply = summary
	case errors.Is(err, common.ErrReapplyInProgress):
		// The running pass may have loaded the old rules; at least refresh this row.
		r.logger.Info("Reapplication already running, refreshing single transaction",
			"transaction_id", transactionID)
	default:
		return nil, fmt.Errorf("failed to reapply rules: %w", err)
	}

	refreshed, _, err := r.orchestrator.ReapplyTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh transaction: %w", err)
	}
	outcome.Transaction = refreshed

	return outcome, nil
}

func (r *ConflictResolver) conflicted(ctx context.Context, transactionID string) (*model.Transaction, error) {
	txn, err := r.transactions.GetTransaction(ctx, r.userID, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Classification != model.StateConflicted || txn.ManualOverride {
		return nil, fmt.Errorf("%w: transaction %s is %s", common.ErrConflictAlreadyResolved, transactionID, txn.Classification)
	}
	return txn, nil
}

func (r *ConflictResolver) advisoryRequest(ctx context.Context, txn *model.Transaction) (model.AdvisoryRequest, error) {
	req := model.AdvisoryRequest{
		TransactionID: txn.ID,
		Description:   txn.NormalizedDescription,
		Candidates:    make([]model.AdvisoryCandidate, 0, len(txn.Candidates)),
	}

	for _, c := range txn.Candidates {
		rule, err := r.rules.Get(ctx, c.RuleID)
		if err != nil {
			return req, fmt.Errorf("failed to load candidate rule %d: %w", c.RuleID, err)
		}
		leaf, err := r.leaves.Resolve(ctx, rule.TargetLeaf)
		if err != nil {
			return req, err
		}
		req.Candidates = append(req.Candidates, model.AdvisoryCandidate{
			RuleID:           rule.ID,
			RuleName:         rule.Name,
			TargetLeaf:       rule.TargetLeaf,
			CategoryPath:     leaf.Path(),
			PositiveKeywords: rule.PositiveKeywords,
			NegativeKeywords: rule.NegativeKeywords,
			Priority:         rule.Priority,
			Strict:           rule.Strict,
		})
	}
	return req, nil
}

func candidateForLeaf(candidates []model.Candidate, leaf string) (model.Candidate, bool) {
	for _, c := range candidates {
		if c.TargetLeaf == leaf {
			return c, true
		}
	}
	return model.Candidate{}, false
}
