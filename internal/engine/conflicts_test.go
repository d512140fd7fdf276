package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conflictFixture stores "rewe sagt danke" conflicted between groceries and household.
func conflictFixture(t *testing.T, opts fixtureOptions) (*fixture, int64, int64) {
	t.Helper()
	f := newFixture(t, opts)

	groceries := f.addRule(t, "groceries", 10, false, []string{"rewe"})
	household := f.addRule(t, "household", 10, false, []string{"rewe", "ikea"})
	f.addTransactions(t, map[string]string{
		"c1":    "rewe sagt danke",
		"c2":    "rewe sagt danke berlin",
		"other": "ikea berlin",
	})

	_, err := f.orchestrator.ReapplyAll(context.Background(), ReapplyOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)

	return f, groceries, household
}

func TestListConflicts(t *testing.T) {
	f, groceries, household := conflictFixture(t, fixtureOptions{})

	conflicts, err := f.resolver.ListConflicts(context.Background(), ConflictFilter{})
	require.NoError(t, err)
	require.Len(t, conflicts, 2)

	for _, c := range conflicts {
		require.Len(t, c.Candidates, 2)
		assert.Equal(t, groceries, c.Candidates[0].RuleID)
		assert.Equal(t, household, c.Candidates[1].RuleID)
		assert.Equal(t, c.Candidates[0].Rank(), c.Candidates[1].Rank())
	}
}

func TestResolveManually(t *testing.T) {
	f, _, household := conflictFixture(t, fixtureOptions{})
	ctx := context.Background()

	txn, err := f.resolver.ResolveManually(ctx, "c1", "household")
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, txn.Classification)
	assert.Equal(t, model.ClassifiedByManual, txn.ClassifiedBy)

	stored := f.get(t, "c1")
	assert.Equal(t, model.StateClassified, stored.Classification)
	assert.Equal(t, "household", stored.TargetLeaf)
	require.NotNil(t, stored.AppliedRuleID)
	assert.Equal(t, household, *stored.AppliedRuleID)
	assert.Equal(t, model.ClassifiedByManual, stored.ClassifiedBy)
	assert.InDelta(t, ConfidenceManual, stored.Confidence, 1e-9)
	assert.True(t, stored.ManualOverride)
	assert.Empty(t, stored.Candidates)

	// The resolution survives reapplication.
	summary, err := f.orchestrator.ReapplyAll(ctx, ReapplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "household", f.get(t, "c1").TargetLeaf)

	_, err = f.resolver.ResolveManually(ctx, "c1", "groceries")
	assert.ErrorIs(t, err, common.ErrConflictAlreadyResolved)
}

func TestResolveManually_Errors(t *testing.T) {
	f, _, _ := conflictFixture(t, fixtureOptions{})
	ctx := context.Background()

	tests := []struct {
		name    string
		txnID   string
		leaf    string
		wantErr error
	}{
		{name: "leaf is not a candidate", txnID: "c1", leaf: "dining", wantErr: common.ErrInvalidChoice},
		{name: "transaction is not conflicted", txnID: "other", leaf: "household", wantErr: common.ErrConflictAlreadyResolved},
		{name: "missing transaction", txnID: "nope", leaf: "household", wantErr: common.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.ResolveManually(ctx, tt.txnID, tt.leaf)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)
}

func TestRequestAdvisory_Unavailable(t *testing.T) {
	t.Run("no advisor configured", func(t *testing.T) {
		f, _, _ := conflictFixture(t, fixtureOptions{})
		_, err := f.resolver.RequestAdvisory(context.Background(), "c1")
		assert.ErrorIs(t, err, common.ErrAdvisoryUnavailable)
	})

	t.Run("advisor fails", func(t *testing.T) {
		advisor := &fakeAdvisor{err: errors.New("timeout")}
		f, _, _ := conflictFixture(t, fixtureOptions{advisor: advisor})

		_, err := f.resolver.RequestAdvisory(context.Background(), "c1")
		assert.ErrorIs(t, err, common.ErrAdvisoryUnavailable)

		// The conflict stays open for manual resolution.
		assert.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)
	})
}

func TestRequestAdvisory(t *testing.T) {
	advisor := &fakeAdvisor{}
	f, groceries, household := conflictFixture(t, fixtureOptions{advisor: advisor})
	ctx := context.Background()

	advisor.suggestion = &model.AdvisorySuggestion{
		Rationale: "  Household purchases at REWE are rare. ",
		Suggestions: []model.RuleSuggestion{
			{RuleID: household, AddNegativeKeywords: []string{"SAGT DANKE", "sagt danke"}},
			{RuleID: groceries},
		},
	}

	suggestion, err := f.resolver.RequestAdvisory(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Household purchases at REWE are rare.", suggestion.Rationale)
	require.Len(t, suggestion.Suggestions, 1)
	assert.Equal(t, household, suggestion.Suggestions[0].RuleID)
	assert.Equal(t, []string{"sagt danke"}, suggestion.Suggestions[0].AddNegativeKeywords)

	require.Len(t, advisor.requests, 1)
	req := advisor.requests[0]
	assert.Equal(t, "c1", req.TransactionID)
	assert.Equal(t, "rewe sagt danke", req.Description)
	require.Len(t, req.Candidates, 2)
	assert.Equal(t, "Living > Food > Groceries", req.Candidates[0].CategoryPath)
	assert.Equal(t, model.KeywordSet{"ikea", "rewe"}, req.Candidates[1].PositiveKeywords)

	// Nothing is applied by a request.
	assert.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)
}

func TestRequestAdvisory_RejectsForeignRules(t *testing.T) {
	advisor := &fakeAdvisor{}
	f, _, _ := conflictFixture(t, fixtureOptions{advisor: advisor})
	foreign := f.addRule(t, "dining", 10, false, []string{"pizza"})

	advisor.suggestion = &model.AdvisorySuggestion{
		Suggestions: []model.RuleSuggestion{{RuleID: foreign, AddPositiveKeywords: []string{"rewe"}}},
	}

	_, err := f.resolver.RequestAdvisory(context.Background(), "c1")
	assert.ErrorIs(t, err, common.ErrInvalidSuggestion)
}

func TestApplyAdvisorySuggestion(t *testing.T) {
	f, groceries, household := conflictFixture(t, fixtureOptions{})
	ctx := context.Background()

	suggestion := model.AdvisorySuggestion{
		Rationale: "REWE receipts are groceries.",
		Suggestions: []model.RuleSuggestion{
			{RuleID: household, AddNegativeKeywords: []string{"Sagt Danke"}},
		},
	}

	outcome, err := f.resolver.ApplyAdvisorySuggestion(ctx, "c1", suggestion)
	require.NoError(t, err)
	require.Len(t, outcome.UpdatedRules, 1)
	assert.Equal(t, model.KeywordSet{"sagt danke"}, outcome.UpdatedRules[0].NegativeKeywords)
	require.NotNil(t, outcome.Reapply)
	assert.Equal(t, 2, outcome.Reapply.Classified)

	txn := outcome.Transaction
	assert.Equal(t, model.StateClassified, txn.Classification)
	assert.Equal(t, model.ClassifiedByRule, txn.ClassifiedBy)
	require.NotNil(t, txn.AppliedRuleID)
	assert.Equal(t, groceries, *txn.AppliedRuleID)
	assert.False(t, txn.ManualOverride)

	// Other transactions keep their classification.
	assert.Equal(t, "household", f.get(t, "other").TargetLeaf)

	_, err = f.resolver.ApplyAdvisorySuggestion(ctx, "c1", suggestion)
	assert.ErrorIs(t, err, common.ErrConflictAlreadyResolved)
}

func TestApplyAdvisorySuggestion_ReapplyRunning(t *testing.T) {
	f, _, household := conflictFixture(t, fixtureOptions{})

	f.orchestrator.running.Lock()
	defer f.orchestrator.running.Unlock()

	outcome, err := f.resolver.ApplyAdvisorySuggestion(context.Background(), "c1", model.AdvisorySuggestion{
		Suggestions: []model.RuleSuggestion{{RuleID: household, AddNegativeKeywords: []string{"sagt danke"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, outcome.Reapply)
	assert.Equal(t, model.StateClassified, outcome.Transaction.Classification)
	// Only the requested row was refreshed.
	assert.Equal(t, model.StateConflicted, f.get(t, "c2").Classification)
}

// failingEditor rejects deltas for one rule and passes the rest through.
type failingEditor struct {
	RuleEditor
	failFor int64
}

func (e *failingEditor) ApplyDelta(ctx context.Context, id int64, delta model.KeywordDelta) (*model.Rule, error) {
	if id == e.failFor {
		return nil, errors.New("database is locked")
	}
	return e.RuleEditor.ApplyDelta(ctx, id, delta)
}

func TestApplyAdvisorySuggestion_ReportsPartialApplication(t *testing.T) {
	f, groceries, household := conflictFixture(t, fixtureOptions{})
	ctx := context.Background()

	leaves := taxonomy.NewResolver(taxonomy.NewMemoryRepository(testLeaves...))
	resolver := NewConflictResolver(f.db, &failingEditor{RuleEditor: f.rules, failFor: household},
		leaves, nil, f.orchestrator, testUser, nil)

	_, err := resolver.ApplyAdvisorySuggestion(ctx, "c1", model.AdvisorySuggestion{
		Suggestions: []model.RuleSuggestion{
			{RuleID: groceries, AddPositiveKeywords: []string{"sagt danke"}},
			{RuleID: household, AddNegativeKeywords: []string{"sagt danke"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Contains(t, err.Error(), fmt.Sprintf("already updated: [%d]", groceries))

	// The first delta was stored and the conflict is left for the next pass.
	rule, err := f.rules.Get(ctx, groceries)
	require.NoError(t, err)
	assert.True(t, rule.PositiveKeywords.Contains("sagt danke"))
	assert.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)
}

func TestPreviewSuggestion(t *testing.T) {
	f, groceries, household := conflictFixture(t, fixtureOptions{})
	ctx := context.Background()

	preview, err := f.resolver.PreviewSuggestion(ctx, "c1", model.AdvisorySuggestion{
		Suggestions: []model.RuleSuggestion{{RuleID: household, AddNegativeKeywords: []string{"sagt danke"}}},
	})
	require.NoError(t, err)
	assert.True(t, preview.Resolves)
	require.NotNil(t, preview.Result.AppliedRuleID)
	assert.Equal(t, groceries, *preview.Result.AppliedRuleID)
	assert.Equal(t, []string{"c2"}, preview.Affected)

	// Previewing changes nothing.
	rule, err := f.rules.Get(ctx, household)
	require.NoError(t, err)
	assert.Empty(t, rule.NegativeKeywords)
	assert.Equal(t, model.StateConflicted, f.get(t, "c1").Classification)
}

func TestValidateSuggestion(t *testing.T) {
	candidates := []model.Candidate{{RuleID: 1}, {RuleID: 2}}

	tests := []struct {
		name       string
		suggestion model.AdvisorySuggestion
		want       []model.RuleSuggestion
		wantErr    error
	}{
		{
			name: "merges and normalizes per rule",
			suggestion: model.AdvisorySuggestion{Suggestions: []model.RuleSuggestion{
				{RuleID: 2, AddPositiveKeywords: []string{" Markt "}},
				{RuleID: 1, AddNegativeKeywords: []string{"DM"}},
				{RuleID: 2, AddPositiveKeywords: []string{"markt", "Halle"}},
			}},
			want: []model.RuleSuggestion{
				{RuleID: 1, AddPositiveKeywords: []string{}, AddNegativeKeywords: []string{"dm"}},
				{RuleID: 2, AddPositiveKeywords: []string{"halle", "markt"}, AddNegativeKeywords: []string{}},
			},
		},
		{
			name:       "rule outside the conflict",
			suggestion: model.AdvisorySuggestion{Suggestions: []model.RuleSuggestion{{RuleID: 3, AddPositiveKeywords: []string{"x"}}}},
			wantErr:    common.ErrInvalidSuggestion,
		},
		{
			name:       "nothing to add",
			suggestion: model.AdvisorySuggestion{Suggestions: []model.RuleSuggestion{{RuleID: 1, AddPositiveKeywords: []string{"  "}}}},
			wantErr:    common.ErrInvalidSuggestion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSuggestion(candidates, tt.suggestion)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Suggestions)
		})
	}
}
