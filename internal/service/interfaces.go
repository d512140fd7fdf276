// Package service defines the contracts between the rule engine and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionFilter narrows transaction reads. Zero values mean "no constraint".
type TransactionFilter struct {
	StartDate      *time.Time
	EndDate        *time.Time
	MinAbsAmount   *decimal.Decimal
	MaxAbsAmount   *decimal.Decimal
	ManualOverride *bool
	// AfterID enables keyset paging: only ids greater than AfterID are returned, ordered by id.
	AfterID string
	States  []model.ClassificationState
	Limit   int
}

// ClassificationUpdate is a single-row conditional write of classification fields.
type ClassificationUpdate struct {
	UserID        string
	TransactionID string
	// RequireState, when set, makes the write fail with ErrPreconditionFailed unless
	// the stored state still matches.
	RequireState      model.ClassificationState
	Result            model.ClassificationResult
	SetManualOverride bool
}

// TransactionRepository reads and writes the classification projection of transactions.
type TransactionRepository interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]model.Transaction, error)
	CountTransactions(ctx context.Context, userID string, filter TransactionFilter) (int, error)
	// UpdateClassification writes one row atomically and never touches rows under manual override.
	UpdateClassification(ctx context.Context, update ClassificationUpdate) error
	ClearManualOverride(ctx context.Context, userID, id string) error
}

// RuleRepository persists classification rules.
type RuleRepository interface {
	// CreateRule returns common.ErrDuplicateRuleForLeaf when an active rule already targets the leaf.
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, userID string, id int64) (*model.Rule, error)
	GetActiveRuleByLeaf(ctx context.Context, userID, leaf string) (*model.Rule, error)
	ListRules(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error)
	// ApplyKeywordDelta unions the delta into the stored keyword sets in one atomic step.
	ApplyKeywordDelta(ctx context.Context, userID string, id int64, delta model.KeywordDelta) (*model.Rule, error)
	RemoveKeywords(ctx context.Context, userID string, id int64, positive, negative model.KeywordSet) (*model.Rule, error)
	UpdateRuleRank(ctx context.Context, userID string, id int64, rank model.MatchRank) error
	// SetRuleActive returns common.ErrDuplicateRuleForLeaf when activation would duplicate a leaf.
	SetRuleActive(ctx context.Context, userID string, id int64, active bool) error
	DeleteRule(ctx context.Context, userID string, id int64) error
}

// TaxonomyRepository serves the read-only category hierarchy.
type TaxonomyRepository interface {
	// GetLeaf returns common.ErrUnknownLeaf when id is not in the taxonomy.
	GetLeaf(ctx context.Context, id string) (*model.TaxonomyLeaf, error)
	ListLeaves(ctx context.Context) ([]model.TaxonomyLeaf, error)
	SaveLeaves(ctx context.Context, leaves []model.TaxonomyLeaf) error
}

// Advisor proposes keyword refinements that would disambiguate a conflict.
// Its output is untrusted and must be validated before it reaches the rule store.
type Advisor interface {
	Advise(ctx context.Context, req model.AdvisoryRequest) (*model.AdvisorySuggestion, error)
}

// RowFailure records one transaction a batch pass could not process.
type RowFailure struct {
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error"`
}

// ReapplySummary reports the outcome of a reapplication pass.
type ReapplySummary struct {
	StartedAt  time.Time     `json:"started_at"`
	RunID      string        `json:"run_id"`
	Failures   []RowFailure  `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
	Classified int           `json:"classified"`
	Conflicted int           `json:"conflicted"`
	Opened     int           `json:"opened"`
	Unchanged  int           `json:"unchanged"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
}

// Writes returns how many rows the pass actually rewrote.
func (s ReapplySummary) Writes() int {
	return s.Classified + s.Conflicted + s.Opened
}

// Storage bundles every repository the engine needs along with lifecycle management.
type Storage interface {
	TransactionRepository
	RuleRepository
	TaxonomyRepository
	Migrate(ctx context.Context) error
	Close() error
}
