package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
	"github.com/Veraticus/spice-rules/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

var baseDate = testutil.BaseDate

func openTxn(id, description, amount string, day int) model.Transaction {
	txn := testutil.OpenTransaction(id, description, amount, day)
	txn.UserID = testUser
	return txn
}

func TestSignature(t *testing.T) {
	tests := []struct {
		name        string
		description string
		length      int
		want        string
	}{
		{name: "normalizes", description: "  NETFLIX.COM  ", want: "netflix.com"},
		{name: "drops numeric noise", description: "SPOTIFY P1A2B3C4 03/14 12.99 #4711", want: "spotify"},
		{name: "keeps letter heavy tokens", description: "7-ELEVEN STORE", want: "7-eleven store"},
		{name: "truncates", description: "amazon marketplace eu", length: 6, want: "amazon"},
		{name: "truncation trims trailing space", description: "dm drogerie markt", length: 3, want: "dm"},
		{name: "only noise", description: "12345 678", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.description, tt.length))
		})
	}
}

func TestAggregator_NetflixScenario(t *testing.T) {
	agg := NewAggregator(0)
	for i := 0; i < 10; i++ {
		agg.Add(openTxn(fmt.Sprintf("n%d", i), "NETFLIX.COM", "-9.99", i))
	}

	candidates := agg.Candidates(Filter{})
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "netflix.com", c.DescriptionSignature)
	assert.Equal(t, 10, c.OccurrenceCount)
	assert.True(t, decimal.RequireFromString("99.90").Equal(c.TotalAbsoluteAmount), c.TotalAbsoluteAmount.String())
	assert.Equal(t, baseDate.AddDate(0, 0, 9), c.LastSeenDate)
	assert.Equal(t, "n9", c.SampleTransactionID)
	assert.Equal(t, "netflix.com", c.SuggestedKeyword)
}

func TestAggregator_SingleOccurrencesAreNeverSurfaced(t *testing.T) {
	agg := NewAggregator(0)
	agg.Add(openTxn("a", "one off shop", "-5", 0))
	agg.Add(openTxn("b", "rent", "-900", 0))
	agg.Add(openTxn("c", "rent", "-900", 30))

	for _, minOcc := range []int{0, 1, 2} {
		candidates := agg.Candidates(Filter{MinOccurrences: minOcc})
		require.Len(t, candidates, 1, "min occurrences %d", minOcc)
		assert.Equal(t, "rent", candidates[0].DescriptionSignature)
	}

	assert.Empty(t, agg.Candidates(Filter{MinOccurrences: 3}))
}

func TestAggregator_IgnoresClassifiedTransactions(t *testing.T) {
	agg := NewAggregator(0)
	classified := openTxn("a", "rewe", "-5", 0)
	classified.Classification = model.StateClassified
	agg.Add(classified)
	agg.Add(openTxn("b", "rewe", "-5", 0))
	assert.Empty(t, agg.Candidates(Filter{}))
}

func TestAggregator_Sorting(t *testing.T) {
	agg := NewAggregator(0)
	// spotify: 3 occurrences, 30 total, last day 3
	for i := 1; i <= 3; i++ {
		agg.Add(openTxn(fmt.Sprintf("s%d", i), "spotify", "-10", i))
	}
	// rent: 2 occurrences, 1800 total, last day 2
	agg.Add(openTxn("r1", "rent", "-900", 1))
	agg.Add(openTxn("r2", "rent", "-900", 2))
	// gym: 2 occurrences, 60 total, last day 10
	agg.Add(openTxn("g1", "gym", "-30", 9))
	agg.Add(openTxn("g2", "gym", "-30", 10))

	signatures := func(cs []model.DiscoveryCandidate) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.DescriptionSignature
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "count desc is the default, ties by signature", filter: Filter{}, want: []string{"spotify", "gym", "rent"}},
		{name: "count asc", filter: Filter{SortBy: SortByCount, Direction: Ascending}, want: []string{"gym", "rent", "spotify"}},
		{name: "amount desc", filter: Filter{SortBy: SortByAmount}, want: []string{"rent", "gym", "spotify"}},
		{name: "recency desc", filter: Filter{SortBy: SortByRecency}, want: []string{"gym", "spotify", "rent"}},
		{name: "limit", filter: Filter{SortBy: SortByAmount, Limit: 1}, want: []string{"rent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signatures(agg.Candidates(tt.filter)))
		})
	}
}

func TestAggregator_LimitIsCapped(t *testing.T) {
	agg := NewAggregator(0)
	for i := 0; i < MaxLimit+10; i++ {
		sig := fmt.Sprintf("merchant %s", string(rune('a'+i%26))+string(rune('a'+i/26)))
		agg.Add(openTxn(fmt.Sprintf("x%d-1", i), sig, "-1", 0))
		agg.Add(openTxn(fmt.Sprintf("x%d-2", i), sig, "-1", 1))
	}
	assert.Len(t, agg.Candidates(Filter{Limit: 1000}), MaxLimit)
	assert.Len(t, agg.Candidates(Filter{}), DefaultLimit)
}

func TestSuggestedKeyword_PrefersDistinctiveTokens(t *testing.T) {
	agg := NewAggregator(0)
	for _, desc := range []string{"paypal spotify", "paypal spotify", "paypal steam", "paypal steam", "amazon de"} {
		agg.Add(openTxn(desc+fmt.Sprint(agg.Len()), desc, "-1", 0))
	}
	agg.Add(openTxn("amazon-2", "amazon de", "-1", 1))

	bySig := make(map[string]string)
	for _, c := range agg.Candidates(Filter{}) {
		bySig[c.DescriptionSignature] = c.SuggestedKeyword
	}
	assert.Equal(t, "spotify", bySig["paypal spotify"])
	assert.Equal(t, "steam", bySig["paypal steam"])
	// "de" is too short to be a keyword.
	assert.Equal(t, "amazon", bySig["amazon de"])
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.Error(t, Filter{SortBy: "size"}.Validate())
	assert.Error(t, Filter{Direction: "up"}.Validate())

	start := baseDate.AddDate(0, 1, 0)
	assert.Error(t, Filter{StartDate: &start, EndDate: &baseDate}.Validate())
}

func createTestMiner(t *testing.T) (*Miner, *storage.SQLiteStorage, *rules.Store) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	resolver := taxonomy.NewResolver(taxonomy.NewMemoryRepository(
		model.TaxonomyLeaf{ID: "subscriptions", Category1: "Leisure", Category2: "Subscriptions"},
	))
	store := rules.NewStore(db, resolver, testUser, nil)

	return NewMiner(db, store, testUser, Config{PageSize: 3}, nil), db, store
}

func TestMiner_Discover(t *testing.T) {
	miner, db, _ := createTestMiner(t)
	ctx := context.Background()

	var txns []model.Transaction
	for i := 0; i < 10; i++ {
		txns = append(txns, openTxn(fmt.Sprintf("n%02d", i), "netflix.com", "-9.99", i))
	}
	txns = append(txns,
		openTxn("big1", "landlord", "-1200", 1),
		openTxn("big2", "landlord", "-1200", 2),
	)
	classified := openTxn("c1", "netflix.com", "-9.99", 20)
	classified.Classification = model.StateClassified
	classified.ClassifiedBy = model.ClassifiedByManual
	classified.TargetLeaf = "subscriptions"
	classified.Confidence = 1
	txns = append(txns, classified)
	require.NoError(t, db.SaveTransactions(ctx, txns))

	candidates, err := miner.Discover(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "netflix.com", candidates[0].DescriptionSignature)
	assert.Equal(t, 10, candidates[0].OccurrenceCount)
	assert.True(t, decimal.RequireFromString("99.90").Equal(candidates[0].TotalAbsoluteAmount))

	maxAmount := decimal.RequireFromString("100")
	candidates, err = miner.Discover(ctx, Filter{MaxAbsAmount: &maxAmount})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "netflix.com", candidates[0].DescriptionSignature)

	start := baseDate.AddDate(0, 0, 5)
	candidates, err = miner.Discover(ctx, Filter{StartDate: &start})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 5, candidates[0].OccurrenceCount)

	_, err = miner.Discover(ctx, Filter{SortBy: "bogus"})
	assert.Error(t, err)
}

func TestMiner_AcceptCandidate(t *testing.T) {
	miner, _, store := createTestMiner(t)
	ctx := context.Background()

	res, err := miner.AcceptCandidate(ctx, AcceptRequest{Signature: "netflix.com", Leaf: "subscriptions", Priority: 50})
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, model.KeywordSet{"netflix.com"}, res.Rule.PositiveKeywords)
	assert.Equal(t, "netflix.com", res.Rule.Name)

	res, err = miner.AcceptCandidate(ctx, AcceptRequest{Signature: "spotify ab", Keyword: "Spotify", Leaf: "subscriptions"})
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, model.KeywordSet{"netflix.com", "spotify"}, res.Rule.PositiveKeywords)

	all, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = miner.AcceptCandidate(ctx, AcceptRequest{Signature: "x", Leaf: "unknown"})
	assert.ErrorIs(t, err, common.ErrUnknownLeaf)
}
