package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
)

func rule(id int64, leaf string, priority int, strict bool, positive ...string) model.Rule {
	return model.Rule{
		ID:               id,
		Name:             leaf,
		TargetLeaf:       leaf,
		PositiveKeywords: model.NewKeywordSet(positive...),
		Priority:         priority,
		Strict:           strict,
		Active:           true,
	}
}

func TestClassify(t *testing.T) {
	uberEats := rule(3, "dining", 100, false, "uber eats")
	uber := rule(4, "rideshare", 100, false, "uber")
	uber.NegativeKeywords = model.NewKeywordSet("eats")

	tests := []struct {
		name        string
		description string
		rules       []model.Rule
		wantState   model.ClassificationState
		wantLeaf    string
		wantKeyword string
		wantRule    int64
		wantConf    float64
		wantLeaves  []string
	}{
		{
			name:        "nothing matches",
			description: "UNKNOWN MERCHANT",
			rules:       []model.Rule{rule(1, "groceries", 100, false, "rewe")},
			wantState:   model.StateOpen,
		},
		{
			name:        "single flexible match",
			description: "REWE Markt 1234",
			rules:       []model.Rule{rule(1, "groceries", 100, false, "rewe")},
			wantState:   model.StateClassified,
			wantLeaf:    "groceries",
			wantKeyword: "rewe",
			wantRule:    1,
			wantConf:    ConfidenceFlexible,
		},
		{
			name:        "single strict match",
			description: "REWE Markt 1234",
			rules:       []model.Rule{rule(1, "groceries", 100, true, "rewe")},
			wantState:   model.StateClassified,
			wantLeaf:    "groceries",
			wantRule:    1,
			wantKeyword: "rewe",
			wantConf:    ConfidenceStrict,
		},
		{
			name:        "equal rank conflict",
			description: "REWE SAGT DANKE",
			rules: []model.Rule{
				rule(1, "groceries", 100, false, "rewe"),
				rule(2, "donations", 100, false, "sagt danke"),
			},
			wantState:  model.StateConflicted,
			wantLeaves: []string{"groceries", "donations"},
		},
		{
			name:        "lower priority number wins",
			description: "REWE SAGT DANKE",
			rules: []model.Rule{
				rule(1, "groceries", 10, false, "rewe"),
				rule(2, "donations", 100, false, "sagt danke"),
			},
			wantState:   model.StateClassified,
			wantLeaf:    "groceries",
			wantKeyword: "rewe",
			wantRule:    1,
			wantConf:    ConfidenceFlexibleContested,
		},
		{
			name:        "strict breaks equal priority",
			description: "REWE SAGT DANKE",
			rules: []model.Rule{
				rule(1, "groceries", 100, false, "rewe"),
				rule(2, "donations", 100, true, "sagt danke"),
			},
			wantState:   model.StateClassified,
			wantLeaf:    "donations",
			wantKeyword: "sagt danke",
			wantRule:    2,
			wantConf:    ConfidenceStrictContested,
		},
		{
			name:        "negative keyword vetoes rule",
			description: "UBER EATS BERLIN",
			rules:       []model.Rule{uberEats, uber},
			wantState:   model.StateClassified,
			wantLeaf:    "dining",
			wantKeyword: "uber eats",
			wantRule:    3,
			wantConf:    ConfidenceFlexible,
		},
		{
			name:        "veto leaves open",
			description: "UBER EATS BERLIN",
			rules:       []model.Rule{uber},
			wantState:   model.StateOpen,
		},
		{
			name:        "same leaf collapses",
			description: "REWE CITY",
			rules: []model.Rule{
				rule(1, "groceries", 100, false, "rewe"),
				rule(2, "groceries", 50, false, "city"),
			},
			wantState:   model.StateClassified,
			wantLeaf:    "groceries",
			wantKeyword: "city",
			wantRule:    2,
			wantConf:    ConfidenceFlexible,
		},
		{
			name:        "description is normalized",
			description: "  rewe    SAGT\tdanke ",
			rules:       []model.Rule{rule(2, "donations", 100, false, "Sagt  Danke")},
			wantState:   model.StateClassified,
			wantLeaf:    "donations",
			wantKeyword: "sagt danke",
			wantRule:    2,
			wantConf:    ConfidenceFlexible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.description, tt.rules)
			require.NoError(t, res.Validate())
			assert.Equal(t, tt.wantState, res.State)

			switch tt.wantState {
			case model.StateOpen:
				assert.Nil(t, res.AppliedRuleID)
				assert.Empty(t, res.Candidates)
			case model.StateClassified:
				require.NotNil(t, res.AppliedRuleID)
				assert.Equal(t, tt.wantRule, *res.AppliedRuleID)
				assert.Equal(t, tt.wantLeaf, res.TargetLeaf)
				assert.Equal(t, tt.wantKeyword, res.MatchedKeyword)
				assert.Equal(t, model.ClassifiedByRule, res.ClassifiedBy)
				assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
				assert.Empty(t, res.Candidates)
			case model.StateConflicted:
				leaves := make([]string, 0, len(res.Candidates))
				for _, c := range res.Candidates {
					leaves = append(leaves, c.TargetLeaf)
				}
				assert.ElementsMatch(t, tt.wantLeaves, leaves)
				assert.Empty(t, res.TargetLeaf)
			}
		})
	}
}

func TestClassifyConflictExcludesLowerRanks(t *testing.T) {
	rules := []model.Rule{
		rule(1, "groceries", 100, false, "rewe"),
		rule(2, "donations", 100, false, "danke"),
		rule(3, "misc", 200, false, "sagt"),
	}

	res := Classify("REWE SAGT DANKE", rules)

	require.Equal(t, model.StateConflicted, res.State)
	require.Len(t, res.Candidates, 2)
	for _, c := range res.Candidates {
		assert.NotEqual(t, "misc", c.TargetLeaf)
	}
}

func TestInactiveRulesIgnored(t *testing.T) {
	inactive := rule(1, "groceries", 1, true, "rewe")
	inactive.Active = false

	m := New([]model.Rule{inactive, rule(2, "misc", 100, false, "markt")})

	assert.Equal(t, 1, m.RuleCount())
	assert.Equal(t, model.StateOpen, m.Classify("REWE 1234").State)

	res := m.Classify("REWE MARKT")
	assert.Equal(t, "misc", res.TargetLeaf)
}

func TestCandidatesOrder(t *testing.T) {
	m := New([]model.Rule{
		rule(5, "c", 100, false, "shop"),
		rule(4, "b", 100, true, "shop"),
		rule(3, "a", 10, false, "shop"),
		rule(2, "d", 100, false, "shop"),
	})

	candidates := m.Candidates("THE SHOP")

	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.RuleID)
	}
	assert.Equal(t, []int64{3, 4, 2, 5}, ids)
}

func TestClassifyIsDeterministic(t *testing.T) {
	rules := []model.Rule{
		rule(1, "groceries", 100, false, "rewe"),
		rule(2, "donations", 100, false, "sagt danke"),
	}
	first := Classify("REWE SAGT DANKE", rules)
	reversed := Classify("REWE SAGT DANKE", []model.Rule{rules[1], rules[0]})

	assert.True(t, first.Equal(reversed))
}

func TestExplain(t *testing.T) {
	uber := rule(4, "rideshare", 100, false, "uber")
	uber.NegativeKeywords = model.NewKeywordSet("eats")

	m := New([]model.Rule{
		rule(3, "dining", 50, true, "uber eats"),
		uber,
		rule(5, "groceries", 100, false, "rewe"),
	})

	verdicts := m.Explain("UBER EATS")
	require.Len(t, verdicts, 3)

	assert.Equal(t, OutcomeMatched, verdicts[0].Outcome)
	assert.Equal(t, "uber eats", verdicts[0].MatchedKeyword)
	assert.Equal(t, model.MatchRank{Priority: 50, Strict: true}, verdicts[0].Rank)

	assert.Equal(t, OutcomeVetoed, verdicts[1].Outcome)
	assert.Equal(t, "uber", verdicts[1].MatchedKeyword)
	assert.Equal(t, "eats", verdicts[1].VetoKeyword)

	assert.Equal(t, OutcomeNoMatch, verdicts[2].Outcome)
	assert.Empty(t, verdicts[2].MatchedKeyword)
	assert.Equal(t, int64(5), verdicts[2].RuleID)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		strict    bool
		contested bool
		want      float64
	}{
		{"strict uncontested", true, false, 0.95},
		{"strict contested", true, true, 0.90},
		{"flexible uncontested", false, false, 0.80},
		{"flexible contested", false, true, 0.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.strict, tt.contested), 1e-9)
		})
	}
}
