package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
	"github.com/Veraticus/spice-rules/internal/testutil"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

var testLeaves = []model.TaxonomyLeaf{
	{ID: "groceries", Category1: "Living", Category2: "Food", Category3: "Groceries"},
	{ID: "household", Category1: "Living", Category2: "Household"},
	{ID: "dining", Category1: "Living", Category2: "Food", Category3: "Restaurants"},
	{ID: "transport", Category1: "Mobility", Category2: "Taxi"},
}

type fakeAdvisor struct {
	suggestion *model.AdvisorySuggestion
	err        error
	requests   []model.AdvisoryRequest
}

func (f *fakeAdvisor) Advise(_ context.Context, req model.AdvisoryRequest) (*model.AdvisorySuggestion, error) {
	f.requests = append(f.requests, req)
	return f.suggestion, f.err
}

type fixture struct {
	db           *storage.SQLiteStorage
	rules        *rules.Store
	orchestrator *Orchestrator
	resolver     *ConflictResolver
}

type fixtureOptions struct {
	advisor service.Advisor
	// ruleOnlyLeaves are known to the Rule Store but missing from the taxonomy the
	// orchestrator resolves against.
	ruleOnlyLeaves []model.TaxonomyLeaf
	config         Config
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	db := testutil.SetupTestDB(t)

	taxonomyResolver := taxonomy.NewResolver(taxonomy.NewMemoryRepository(testLeaves...))
	storeResolver := taxonomyResolver
	if len(opts.ruleOnlyLeaves) > 0 {
		all := append(append([]model.TaxonomyLeaf{}, testLeaves...), opts.ruleOnlyLeaves...)
		storeResolver = taxonomy.NewResolver(taxonomy.NewMemoryRepository(all...))
	}

	store := rules.NewStore(db, storeResolver, testUser, nil)
	orchestrator := NewOrchestrator(db, store, taxonomyResolver, testUser, opts.config, nil)
	resolver := NewConflictResolver(db, store, taxonomyResolver, opts.advisor, orchestrator, testUser, nil)

	return &fixture{db: db, rules: store, orchestrator: orchestrator, resolver: resolver}
}

func (f *fixture) addRule(t *testing.T, leaf string, priority int, strict bool, positive []string, negative ...string) int64 {
	t.Helper()
	res, err := f.rules.Create(context.Background(), rules.NewRule{
		TargetLeaf: leaf,
		Positive:   positive,
		Negative:   negative,
		Priority:   priority,
		Strict:     strict,
	})
	require.NoError(t, err)
	return res.Rule.ID
}

func (f *fixture) addTransactions(t *testing.T, descriptions map[string]string) {
	t.Helper()
	txns := make([]model.Transaction, 0, len(descriptions))
	for id, desc := range descriptions {
		txns = append(txns, testutil.OpenTransaction(id, desc, "-10.00", 0))
	}
	testutil.SeedTransactions(t, f.db, testUser, txns...)
}

func (f *fixture) get(t *testing.T, id string) *model.Transaction {
	t.Helper()
	txn, err := f.db.GetTransaction(context.Background(), testUser, id)
	require.NoError(t, err)
	return txn
}

// flakyRepository fails UpdateClassification for selected transaction ids.
type flakyRepository struct {
	service.TransactionRepository
	failFor map[string]bool
}

func (r *flakyRepository) UpdateClassification(ctx context.Context, update service.ClassificationUpdate) error {
	if r.failFor[update.TransactionID] {
		return errors.New("disk full")
	}
	return r.TransactionRepository.UpdateClassification(ctx, update)
}
