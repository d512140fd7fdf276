package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", input: "```\n{\"a\":1}\n```\n", want: `{"a":1}`},
		{name: "whitespace", input: "  \n{\"a\":1}\n ", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanMarkdownWrapper(tt.input))
		})
	}
}

func TestParseSuggestion(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := parseSuggestion(validResponse)
		require.NoError(t, err)
		require.Len(t, got.Suggestions, 1)
		assert.Equal(t, int64(2), got.Suggestions[0].RuleID)
		assert.Empty(t, got.Suggestions[0].AddPositiveKeywords)
	})

	t.Run("prose around object", func(t *testing.T) {
		got, err := parseSuggestion("Here you go:\n" + validResponse + "\nHope that helps.")
		require.NoError(t, err)
		assert.Len(t, got.Suggestions, 1)
	})

	t.Run("no suggestions", func(t *testing.T) {
		_, err := parseSuggestion(`{"rationale": "nothing to do", "suggestions": []}`)
		require.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseSuggestion("groceries")
		require.Error(t, err)
	})
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := buildPrompt(conflictRequest())
	require.NoError(t, err)

	assert.Contains(t, prompt, `"ruleId": 1`)
	assert.Contains(t, prompt, `"ruleId": 2`)
	assert.Contains(t, prompt, `"negativeKeywords": []`)
	assert.Contains(t, prompt, "Food > Groceries")
	assert.Contains(t, prompt, "ADD keywords")
}

func TestFingerprint(t *testing.T) {
	base := conflictRequest()
	assert.Equal(t, fingerprint(base), fingerprint(conflictRequest()))

	upper := conflictRequest()
	upper.Description = "  REWE Sagt Danke "
	assert.Equal(t, fingerprint(base), fingerprint(upper), "description is normalized")

	reranked := conflictRequest()
	reranked.Candidates[0].Priority = 10
	assert.NotEqual(t, fingerprint(base), fingerprint(reranked))
}
