// Package engine drives the Matching Engine over stored transactions and resolves the
// conflicts it surfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/matcher"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RuleSource supplies the active rule snapshot for a pass.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]model.Rule, error)
}

// LeafResolver resolves taxonomy leaves.
type LeafResolver interface {
	Resolve(ctx context.Context, id string) (*model.TaxonomyLeaf, error)
}

// Config holds configuration options for the orchestrator.
type Config struct {
	Workers  int
	PageSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:  4,
		PageSize: 500,
	}
}

// Outcome is what a reapplication did to one transaction.
type Outcome string

// Reapplication outcomes.
const (
	OutcomeClassified Outcome = "classified"
	OutcomeConflicted Outcome = "conflicted"
	OutcomeOpened     Outcome = "opened"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// ProgressFunc is called after each processed transaction. Calls are serialized.
type ProgressFunc func(processed, total int)

// ReapplyOptions narrows a pass. ManualOverride, AfterID and Limit of Filter are managed
// by the orchestrator and ignored.
type ReapplyOptions struct {
	Progress ProgressFunc
	Filter   service.TransactionFilter
}

// Orchestrator re-runs the Matching Engine over eligible transactions and persists
// results that differ from what is stored.
type Orchestrator struct {
	transactions service.TransactionRepository
	rules        RuleSource
	leaves       LeafResolver
	logger       *slog.Logger
	userID       string
	config       Config
	running      sync.Mutex
}

// NewOrchestrator creates an orchestrator for userID.
func NewOrchestrator(transactions service.TransactionRepository, rules RuleSource, leaves LeafResolver, userID string, config Config, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	return &Orchestrator{
		transactions: transactions,
		rules:        rules,
		leaves:       leaves,
		userID:       userID,
		config:       config,
		logger:       common.OrDefault(logger),
	}
}

// Matcher loads the active rules and returns a matcher over them.
func (o *Orchestrator) Matcher(ctx context.Context) (*matcher.Matcher, error) {
	rules, err := o.rules.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	return matcher.New(rules), nil
}

// Classify matches a description against the current active rules without persisting anything.
func (o *Orchestrator) Classify(ctx context.Context, description string) (model.ClassificationResult, error) {
	m, err := o.Matcher(ctx)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return m.Classify(description), nil
}

// ReapplyAll runs one pass over every eligible transaction. Rows under manual override are
// counted as skipped and never read for rewriting. Per-row failures are collected in the
// summary; only loading the rule set, paging errors and cancellation abort the pass.
func (o *Orchestrator) ReapplyAll(ctx context.Context, opts ReapplyOptions) (*service.ReapplySummary, error) {
	if !o.running.TryLock() {
		return nil, common.ErrReapplyInProgress
	}
	defer o.running.Unlock()

	summary := &service.ReapplySummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := o.logger.With("run_id", summary.RunID)

	m, err := o.Matcher(ctx)
	if err != nil {
		return nil, err
	}

	eligible := opts.Filter
	eligible.ManualOverride = boolPtr(false)
	eligible.AfterID = ""
	eligible.Limit = 0

	manual := opts.Filter
	manual.ManualOverride = boolPtr(true)
	manual.AfterID = ""
	manual.Limit = 0

	total, err := o.transactions.CountTransactions(ctx, o.userID, eligible)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible transactions: %w", err)
	}
	skipped, err := o.transactions.CountTransactions(ctx, o.userID, manual)
	if err != nil {
		return nil, fmt.Errorf("failed to count overridden transactions: %w", err)
	}
	summary.Skipped = skipped

	logger.Info("Starting reapplication",
		"rules", m.RuleCount(),
		"eligible", total,
		"manual_override", skipped,
		"workers", o.config.Workers)

	var mu sync.Mutex
	processed := 0
	record := func(txnID string, outcome Outcome, rowErr error) {
		mu.Lock()
		defer mu.Unlock()

		switch outcome {
		case OutcomeClassified:
			summary.Classified++
		case OutcomeConflicted:
			summary.Conflicted++
		case OutcomeOpened:
			summary.Opened++
		case OutcomeUnchanged:
			summary.Unchanged++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, service.RowFailure{
				TransactionID: txnID,
				Error:         rowErr.Error(),
			})
		}

		processed++
		if opts.Progress != nil {
			opts.Progress(processed, total)
		}
	}

	page := eligible
	page.Limit = o.config.PageSize
	for {
		txns, err := o.transactions.ListTransactions(ctx, o.userID, page)
		if err != nil {
			return nil, fmt.Errorf("failed to load transactions after %q: %w", page.AfterID, err)
		}
		if len(txns) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.config.Workers)
		for i := range txns {
			txn := txns[i]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcome, rowErr := o.reapplyOne(gctx, m, txn)
				if rowErr != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				if rowErr != nil {
					logger.Warn("Failed to reapply transaction",
						"transaction_id", txn.ID,
						"error", rowErr)
				}
				record(txn.ID, outcome, rowErr)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, fmt.Errorf("reapplication interrupted: %w", err)
		}

		if len(txns) < page.Limit {
			break
		}
		page.AfterID = txns[len(txns)-1].ID
	}

	summary.Duration = time.Since(summary.StartedAt)
	logger.Info("Reapplication complete",
		"classified", summary.Classified,
		"conflicted", summary.Conflicted,
		"opened", summary.Opened,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration)

	return summary, nil
}

// ReapplyTransaction re-runs matching for a single transaction and returns its stored state afterwards.
func (o *Orchestrator) ReapplyTransaction(ctx context.Context, id string) (*model.Transaction, Outcome, error) {
	txn, err := o.transactions.GetTransaction(ctx, o.userID, id)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if txn.ManualOverride {
		return txn, OutcomeSkipped, nil
	}

	m, err := o.Matcher(ctx)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	outcome, err := o.reapplyOne(ctx, m, *txn)
	if err != nil {
		return txn, outcome, err
	}
	if outcome == OutcomeUnchanged || outcome == OutcomeSkipped {
		return txn, outcome, nil
	}

	updated, err := o.transactions.GetTransaction(ctx, o.userID, id)
	if err != nil {
		return nil, outcome, err
	}
	return updated, outcome, nil
}

func (o *Orchestrator) reapplyOne(ctx context.Context, m *matcher.Matcher, txn model.Transaction) (Outcome, error) {
	res := m.Classify(txn.NormalizedDescription)

	if err := o.checkLeaves(ctx, res); err != nil {
		return OutcomeFailed, err
	}

	if res.Equal(txn.Result()) {
		return OutcomeUnchanged, nil
	}

	err := o.transactions.UpdateClassification(ctx, service.ClassificationUpdate{
		UserID:        o.userID,
		TransactionID: txn.ID,
		Result:        res,
	})
	if err != nil {
		if errors.Is(err, common.ErrPreconditionFailed) {
			// A manual override landed after the page was read.
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, err
	}

	switch res.State {
	case model.StateClassified:
		return OutcomeClassified, nil
	case model.StateConflicted:
		return OutcomeConflicted, nil
	default:
		return OutcomeOpened, nil
	}
}

// checkLeaves verifies every leaf a result refers to still exists in the taxonomy.
func (o *Orchestrator) checkLeaves(ctx context.Context, res model.ClassificationResult) error {
	if res.TargetLeaf != "" {
		if _, err := o.leaves.Resolve(ctx, res.TargetLeaf); err != nil {
			return err
		}
	}
	for _, c := range res.Candidates {
		if _, err := o.leaves.Resolve(ctx, c.TargetLeaf); err != nil {
			return err
		}
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
