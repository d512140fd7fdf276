package advisory

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

type scriptedClient struct {
	responses []string
	errs      []error
	prompts   []string
	mu        sync.Mutex
}

func (c *scriptedClient) Complete(_ context.Context, _, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.prompts)
	c.prompts = append(c.prompts, prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return c.responses[len(c.responses)-1], nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

const validResponse = `{
  "rationale": "REWE is a supermarket, the drugstore rule only matched on DANKE.",
  "suggestions": [{"ruleId": 2, "addPositiveKeywords": [], "addNegativeKeywords": ["rewe"]}]
}`

func conflictRequest() model.AdvisoryRequest {
	return model.AdvisoryRequest{
		TransactionID: "txn-1",
		Description:   "rewe sagt danke",
		Candidates: []model.AdvisoryCandidate{
			{
				RuleID:           1,
				RuleName:         "Groceries",
				TargetLeaf:       "groceries",
				CategoryPath:     "Food > Groceries",
				PositiveKeywords: model.NewKeywordSet("rewe"),
				Priority:         100,
			},
			{
				RuleID:           2,
				RuleName:         "Drugstore",
				TargetLeaf:       "drugstore",
				CategoryPath:     "Health > Drugstore",
				PositiveKeywords: model.NewKeywordSet("danke"),
				Priority:         100,
			},
		},
	}
}

func newTestAdvisor(t *testing.T, client Client) *Advisor {
	t.Helper()
	a := New(client, Config{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		RateLimit:  600,
		CacheTTL:   time.Minute,
	}, nil)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdvisor_Advise(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	a := newTestAdvisor(t, client)

	got, err := a.Advise(context.Background(), conflictRequest())
	require.NoError(t, err)

	assert.Contains(t, got.Rationale, "supermarket")
	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, int64(2), got.Suggestions[0].RuleID)
	assert.Equal(t, []string{"rewe"}, got.Suggestions[0].AddNegativeKeywords)

	require.Equal(t, 1, client.calls())
	assert.Contains(t, client.prompts[0], `"rewe sagt danke"`)
	assert.Contains(t, client.prompts[0], "Health > Drugstore")
}

func TestAdvisor_CachesByConflictState(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	a := newTestAdvisor(t, client)
	ctx := context.Background()

	first, err := a.Advise(ctx, conflictRequest())
	require.NoError(t, err)
	first.Suggestions[0].AddNegativeKeywords[0] = "mutated"

	second, err := a.Advise(ctx, conflictRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls(), "identical conflict should be served from cache")
	assert.Equal(t, []string{"rewe"}, second.Suggestions[0].AddNegativeKeywords, "cache must hand out copies")

	edited := conflictRequest()
	edited.Candidates[1].NegativeKeywords = model.NewKeywordSet("rewe")
	_, err = a.Advise(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls(), "changed keywords must bypass the cache")
}

func TestAdvisor_Retries(t *testing.T) {
	t.Run("retryable error then success", func(t *testing.T) {
		client := &scriptedClient{
			errs:      []error{&common.RetryableError{Err: errors.New("503"), Retryable: true}},
			responses: []string{"", validResponse},
		}
		a := newTestAdvisor(t, client)

		got, err := a.Advise(context.Background(), conflictRequest())
		require.NoError(t, err)
		assert.Len(t, got.Suggestions, 1)
		assert.Equal(t, 2, client.calls())
	})

	t.Run("unparseable output is retried", func(t *testing.T) {
		client := &scriptedClient{responses: []string{"I think groceries.", validResponse}}
		a := newTestAdvisor(t, client)

		_, err := a.Advise(context.Background(), conflictRequest())
		require.NoError(t, err)
		assert.Equal(t, 2, client.calls())
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		client := &scriptedClient{
			errs:      []error{&common.RetryableError{Err: errors.New("401 unauthorized"), Retryable: false}},
			responses: []string{validResponse},
		}
		a := newTestAdvisor(t, client)

		_, err := a.Advise(context.Background(), conflictRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, 1, client.calls())
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		client := &scriptedClient{responses: []string{"not json"}}
		a := newTestAdvisor(t, client)

		_, err := a.Advise(context.Background(), conflictRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMaxRetries)
		assert.Equal(t, 3, client.calls())
	})
}

func TestAdvisor_RetriesSpendCallBudget(t *testing.T) {
	t.Run("every attempt takes a slot", func(t *testing.T) {
		client := &scriptedClient{
			errs:      []error{&common.RetryableError{Err: errors.New("503"), Retryable: true}},
			responses: []string{"", validResponse},
		}
		a := newTestAdvisor(t, client)

		_, err := a.Advise(context.Background(), conflictRequest())
		require.NoError(t, err)
		assert.Equal(t, 2, client.calls())
		assert.Equal(t, 598, a.budget.remaining())
	})

	t.Run("provider 429 pauses the budget", func(t *testing.T) {
		client := &scriptedClient{
			errs:      []error{statusError("openai", http.StatusTooManyRequests, []byte("slow down"))},
			responses: []string{"", validResponse},
		}
		a := newTestAdvisor(t, client)
		before := time.Now()

		_, err := a.Advise(context.Background(), conflictRequest())
		require.NoError(t, err)
		assert.Equal(t, 2, client.calls())
		assert.False(t, a.budget.pausedUntil.Before(before), "429 should set a pause")
	})
}

func TestAdvisor_RejectsEmptyRequest(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	a := newTestAdvisor(t, client)

	_, err := a.Advise(context.Background(), model.AdvisoryRequest{TransactionID: "txn-1"})
	require.Error(t, err)
	assert.Equal(t, 0, client.calls())
}

func TestAdvisor_ContextCanceled(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	a := New(client, Config{RateLimit: 1}, nil)
	t.Cleanup(func() { _ = a.Close() })

	// Spend the only slot so a live caller would have to wait.
	require.NoError(t, a.budget.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Advise(ctx, conflictRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.calls())
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "anthropic", cfg: Config{Provider: "anthropic", APIKey: "k"}},
		{name: "openai upper case", cfg: Config{Provider: "OpenAI", APIKey: "k"}},
		{name: "missing key", cfg: Config{Provider: "anthropic"}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "ollama", APIKey: "k"}, wantErr: true},
		{name: "empty provider", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewFromConfig(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, a)
			_ = a.Close()
		})
	}
}
