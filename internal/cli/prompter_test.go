package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
)

func conflictedTransaction() model.Transaction {
	return model.Transaction{
		ID:                    "t1",
		Date:                  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		NormalizedDescription: "rewe sagt danke",
		Amount:                decimal.RequireFromString("-23.40"),
		Classification:        model.StateConflicted,
		Candidates: []model.Candidate{
			{RuleID: 1, TargetLeaf: "groceries", MatchedKeyword: "rewe", Priority: 100},
			{RuleID: 2, TargetLeaf: "drugstore", MatchedKeyword: "danke", Priority: 100},
		},
	}
}

func TestPrompter_ChooseResolution(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Decision
		advisory bool
	}{
		{
			name:  "first candidate",
			input: "1\n",
			want:  Decision{Action: ActionResolve, Leaf: "groceries"},
		},
		{
			name:  "second candidate",
			input: "2\n",
			want:  Decision{Action: ActionResolve, Leaf: "drugstore"},
		},
		{
			name:     "advise when enabled",
			input:    "A\n",
			advisory: true,
			want:     Decision{Action: ActionAdvise},
		},
		{
			name:  "advise rejected when disabled",
			input: "a\ns\n",
			want:  Decision{Action: ActionSkip},
		},
		{
			name:  "out of range then quit",
			input: "3\nq\n",
			want:  Decision{Action: ActionQuit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out, tt.advisory)
			p.SetTotal(1)

			got, err := p.ChooseResolution(context.Background(), conflictedTransaction())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			rendered := out.String()
			assert.Contains(t, rendered, "Conflict 1 of 1")
			assert.Contains(t, rendered, "rewe sagt danke")
			assert.Contains(t, rendered, "-23.40")
			assert.Equal(t, tt.advisory, strings.Contains(rendered, "Ask the advisor"))
		})
	}
}

func TestPrompter_InputEnds(t *testing.T) {
	p := NewPrompter(strings.NewReader(""), &bytes.Buffer{}, false)

	_, err := p.ChooseResolution(context.Background(), conflictedTransaction())
	assert.ErrorIs(t, err, ErrInputClosed)
}

func TestPrompter_ContextCanceled(t *testing.T) {
	p := NewPrompter(strings.NewReader("1\n"), &bytes.Buffer{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ChooseResolution(ctx, conflictedTransaction())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrompter_ConfirmSuggestion(t *testing.T) {
	suggestion := model.AdvisorySuggestion{
		Rationale: "REWE is a supermarket",
		Suggestions: []model.RuleSuggestion{
			{RuleID: 2, AddNegativeKeywords: []string{"rewe"}},
		},
	}

	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("maybe\ny\n"), &out, true)

	ok, err := p.ConfirmSuggestion(context.Background(), suggestion, true, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	rendered := out.String()
	assert.Contains(t, rendered, "REWE is a supermarket")
	assert.Contains(t, rendered, "rule #2")
	assert.Contains(t, rendered, "-rewe")
	assert.Contains(t, rendered, "Resolves this conflict")
	assert.Contains(t, rendered, "Reclassifies 3 other")
	assert.Contains(t, rendered, "Invalid choice")
}

func TestPrompter_Stats(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader(""), &out, false)

	p.Record(ActionResolve)
	p.Record(ActionResolve)
	p.Record(ActionAdvise)
	p.Record(ActionSkip)
	p.Record(ActionQuit)

	stats := p.Stats()
	assert.Equal(t, 4, stats.Reviewed)
	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 1, stats.Advised)
	assert.Equal(t, 1, stats.Skipped)

	p.ShowCompletion()
	assert.Contains(t, out.String(), "Resolved manually: 2")
}
