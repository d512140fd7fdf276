package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Advisor implements service.Advisor on top of a language model client.
type Advisor struct {
	client    Client
	cache     *suggestionCache
	budget    *callBudget
	logger    *slog.Logger
	retryOpts common.RetryOptions
}

// New wraps client with rate limiting, retries and caching configured by cfg.
func New(client Client, cfg Config, logger *slog.Logger) *Advisor {
	retryOpts := common.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}
	if retryOpts.MaxDelay == 0 {
		retryOpts.MaxDelay = 30 * time.Second
	}

	logger = common.OrDefault(logger)
	retryOpts.Logger = logger

	return &Advisor{
		client:    client,
		cache:     newSuggestionCache(cfg.CacheTTL),
		budget:    newCallBudget(cfg.RateLimit),
		logger:    logger,
		retryOpts: retryOpts,
	}
}

// NewFromConfig creates the provider client named by cfg.Provider and wraps it.
func NewFromConfig(cfg Config, logger *slog.Logger) (*Advisor, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create advisory client: %w", err)
	}
	return New(client, cfg, logger), nil
}

// Advise asks the model for keyword additions that disambiguate one conflict.
func (a *Advisor) Advise(ctx context.Context, req model.AdvisoryRequest) (*model.AdvisorySuggestion, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("advisory request for %s has no candidates", req.TransactionID)
	}

	key := fingerprint(req)
	if cached, found := a.cache.get(key); found {
		a.logger.Debug("advisory cache hit", "transaction_id", req.TransactionID)
		return &cached, nil
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	var suggestion model.AdvisorySuggestion
	err = common.WithRetry(ctx, func() error {
		if budgetErr := a.budget.acquire(ctx); budgetErr != nil {
			return &common.RetryableError{Err: budgetErr, Retryable: false}
		}

		content, completeErr := a.client.Complete(ctx, systemPrompt, prompt)
		if completeErr != nil {
			if errors.Is(completeErr, common.ErrRateLimit) {
				a.budget.throttle(a.retryOpts.MaxDelay)
			}
			a.logger.Warn("advisory request attempt failed",
				"transaction_id", req.TransactionID,
				"error", completeErr)
			return completeErr
		}

		parsed, parseErr := parseSuggestion(content)
		if parseErr != nil {
			a.logger.Warn("advisory response unparseable",
				"transaction_id", req.TransactionID,
				"error", parseErr)
			return &common.RetryableError{Err: parseErr, Retryable: true}
		}
		suggestion = parsed
		return nil
	}, a.retryOpts)
	if err != nil {
		return nil, fmt.Errorf("advisory request failed: %w", err)
	}

	a.cache.set(key, suggestion)

	a.logger.Info("Advisory suggestion received",
		"transaction_id", req.TransactionID,
		"candidates", len(req.Candidates),
		"suggestions", len(suggestion.Suggestions))

	return &suggestion, nil
}

// Close stops background goroutines and cleans up resources.
func (a *Advisor) Close() error {
	a.cache.Close()
	return nil
}
