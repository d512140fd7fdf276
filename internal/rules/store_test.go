package rules

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
	"github.com/Veraticus/spice-rules/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

func createTestStore(t *testing.T) (*Store, *storage.SQLiteStorage) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	resolver := taxonomy.NewResolver(taxonomy.NewMemoryRepository(
		model.TaxonomyLeaf{ID: "groceries", Category1: "Living", Category2: "Food", Category3: "Groceries", AppCategoryName: "Groceries"},
		model.TaxonomyLeaf{ID: "household", Category1: "Living", Category2: "Household"},
	))

	return NewStore(db, resolver, testUser, nil), db
}

func TestStore_Create(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	res, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"REWE", " edeka "}, Priority: 10})
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, "Groceries", res.Rule.Name)
	assert.Equal(t, model.KeywordSet{"edeka", "rewe"}, res.Rule.PositiveKeywords)
	assert.True(t, res.Rule.Active)
}

func TestStore_Create_Errors(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      NewRule
		wantErr error
	}{
		{name: "no positive keywords", in: NewRule{TargetLeaf: "groceries", Negative: []string{"dm"}}, wantErr: common.ErrInvalidKeywordSet},
		{name: "blank positive keywords", in: NewRule{TargetLeaf: "groceries", Positive: []string{"  "}}, wantErr: common.ErrInvalidKeywordSet},
		{name: "unknown leaf", in: NewRule{TargetLeaf: "nope", Positive: []string{"x"}}, wantErr: common.ErrUnknownLeaf},
		{name: "empty leaf", in: NewRule{Positive: []string{"x"}}, wantErr: common.ErrUnknownLeaf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStore_Create_MergesIntoExistingLeafRule(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe"}})
	require.NoError(t, err)

	second, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"edeka", "rewe"}, Negative: []string{"rewe pharmacy"}})
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.Rule.ID, second.Rule.ID)
	assert.Equal(t, model.KeywordSet{"edeka", "rewe"}, second.Rule.PositiveKeywords)
	assert.Equal(t, model.KeywordSet{"rewe pharmacy"}, second.Rule.NegativeKeywords)
	assert.Equal(t, model.KeywordSet{"edeka"}, second.Added.AddPositive)

	rules, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	// Re-submitting known keywords is a no-op merge.
	third, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"EDEKA"}})
	require.NoError(t, err)
	assert.True(t, third.Merged)
	assert.True(t, third.Added.IsEmpty())
}

func TestStore_ConcurrentCreatesForSameLeaf(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	words := []string{"rewe", "edeka", "lidl", "aldi", "penny"}
	var wg sync.WaitGroup
	for _, w := range words {
		wg.Add(1)
		go func(word string) {
			defer wg.Done()
			_, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{word}})
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	rules, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.NewKeywordSet(words...), rules[0].PositiveKeywords)
}

func TestStore_ApplyDelta_IsOrderIndependent(t *testing.T) {
	deltaA := model.NewKeywordDelta([]string{"edeka"}, []string{"dm"})
	deltaB := model.NewKeywordDelta([]string{"lidl"}, []string{"rossmann"})

	apply := func(t *testing.T, first, second model.KeywordDelta) *model.Rule {
		t.Helper()
		store, _ := createTestStore(t)
		ctx := context.Background()
		res, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe"}})
		require.NoError(t, err)
		_, err = store.ApplyDelta(ctx, res.Rule.ID, first)
		require.NoError(t, err)
		rule, err := store.ApplyDelta(ctx, res.Rule.ID, second)
		require.NoError(t, err)
		return rule
	}

	ab := apply(t, deltaA, deltaB)
	ba := apply(t, deltaB, deltaA)
	assert.Equal(t, ab.PositiveKeywords, ba.PositiveKeywords)
	assert.Equal(t, ab.NegativeKeywords, ba.NegativeKeywords)
	assert.Equal(t, model.KeywordSet{"edeka", "lidl", "rewe"}, ab.PositiveKeywords)
}

func TestStore_ApplyDelta_NormalizesAndSkipsEmpty(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	res, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe"}})
	require.NoError(t, err)

	rule, err := store.ApplyDelta(ctx, res.Rule.ID, model.KeywordDelta{AddPositive: model.KeywordSet{"  EDEKA  Markt "}})
	require.NoError(t, err)
	assert.Equal(t, model.KeywordSet{"edeka markt", "rewe"}, rule.PositiveKeywords)

	unchanged, err := store.ApplyDelta(ctx, res.Rule.ID, model.KeywordDelta{})
	require.NoError(t, err)
	assert.Equal(t, rule.PositiveKeywords, unchanged.PositiveKeywords)

	_, err = store.ApplyDelta(ctx, 999, model.NewKeywordDelta([]string{"x"}, nil))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStore_SystemRuleProtection(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	res, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe", "edeka"}, IsSystem: true})
	require.NoError(t, err)
	id := res.Rule.ID

	_, err = store.RemoveKeywords(ctx, id, []string{"edeka"}, nil)
	assert.ErrorIs(t, err, common.ErrSystemRule)
	assert.ErrorIs(t, store.Delete(ctx, id), common.ErrSystemRule)

	// Additive deltas and deactivation stay allowed.
	_, err = store.ApplyDelta(ctx, id, model.NewKeywordDelta([]string{"lidl"}, nil))
	require.NoError(t, err)
	require.NoError(t, store.Deactivate(ctx, id))
}

func TestStore_RemoveKeywords(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	res, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe", "edeka"}, Negative: []string{"dm"}})
	require.NoError(t, err)

	rule, err := store.RemoveKeywords(ctx, res.Rule.ID, []string{"EDEKA"}, []string{"dm"})
	require.NoError(t, err)
	assert.Equal(t, model.KeywordSet{"rewe"}, rule.PositiveKeywords)
	assert.Empty(t, rule.NegativeKeywords)

	_, err = store.RemoveKeywords(ctx, res.Rule.ID, []string{"rewe"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidKeywordSet)
}

func TestStore_ActivateMergesIntoActiveLeafRule(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	old, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"rewe"}})
	require.NoError(t, err)
	require.NoError(t, store.Deactivate(ctx, old.Rule.ID))

	current, err := store.Create(ctx, NewRule{TargetLeaf: "groceries", Positive: []string{"edeka"}})
	require.NoError(t, err)
	assert.False(t, current.Merged)

	merged, err := store.Activate(ctx, old.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, current.Rule.ID, merged.ID)
	assert.Equal(t, model.KeywordSet{"edeka", "rewe"}, merged.PositiveKeywords)

	stale, err := store.Get(ctx, old.Rule.ID)
	require.NoError(t, err)
	assert.False(t, stale.Active)
}

func TestStore_SetRankAndDelete(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	res, err := store.Create(ctx, NewRule{TargetLeaf: "household", Positive: []string{"ikea"}})
	require.NoError(t, err)

	require.NoError(t, store.SetRank(ctx, res.Rule.ID, model.MatchRank{Priority: 1, Strict: true}))
	rule, err := store.ByLeaf(ctx, "household")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Priority)
	assert.True(t, rule.Strict)

	require.NoError(t, store.Delete(ctx, res.Rule.ID))
	_, err = store.Get(ctx, res.Rule.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLoadSeeds(t *testing.T) {
	seeds, err := LoadSeeds(strings.NewReader(`
rules:
  - name: Supermarkets
    leaf: groceries
    positive: [REWE, Edeka]
    negative: [rewe pharmacy]
    strict: true
  - name: Furniture
    leaf: household
    positive: [ikea]
    priority: 20
`))
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, DefaultSeedPriority, seeds[0].Priority)
	assert.True(t, seeds[0].Strict)
	assert.True(t, seeds[0].IsSystem)
	assert.Equal(t, 20, seeds[1].Priority)

	_, err = LoadSeeds(strings.NewReader("rules:\n  - name: broken\n    positive: [x]\n"))
	assert.Error(t, err)

	_, err = LoadSeeds(strings.NewReader("rules:\n  - leaf: x\n    colour: red\n"))
	assert.Error(t, err)
}

func TestStore_SeedSystemRules_IsIdempotent(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	seeds := []NewRule{
		{Name: "Supermarkets", TargetLeaf: "groceries", Positive: []string{"rewe"}},
		{Name: "Furniture", TargetLeaf: "household", Positive: []string{"ikea"}},
	}

	first, err := store.SeedSystemRules(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 2}, first)

	second, err := store.SeedSystemRules(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Merged: 2}, second)

	rules, err := store.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	for _, r := range rules {
		assert.True(t, r.IsSystem)
	}
}
