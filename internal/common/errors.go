// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Rule engine errors.
var (
	// ErrUnknownLeaf is returned when a taxonomy leaf id cannot be resolved.
	ErrUnknownLeaf = errors.New("unknown taxonomy leaf")
	// ErrDuplicateRuleForLeaf is returned by storage when an active rule already targets the leaf.
	// The Rule Store converts it into a keyword merge; callers never see it.
	ErrDuplicateRuleForLeaf = errors.New("active rule already exists for leaf")
	// ErrInvalidKeywordSet is returned when a rule would end up without positive keywords.
	ErrInvalidKeywordSet = errors.New("invalid keyword set")
	// ErrConflictAlreadyResolved is returned when resolving a transaction that is no longer CONFLICTED.
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")
	// ErrAdvisoryUnavailable is returned when the advisory service fails or is not configured.
	ErrAdvisoryUnavailable = errors.New("advisory service unavailable")
	// ErrInvalidChoice is returned when a manual resolution picks a leaf that is not a candidate.
	ErrInvalidChoice = errors.New("chosen leaf is not a candidate")
	// ErrInvalidSuggestion is returned when advisory output references rules outside the conflict.
	ErrInvalidSuggestion = errors.New("invalid advisory suggestion")
	// ErrSystemRule is returned on destructive edits of built-in rules.
	ErrSystemRule = errors.New("system rules cannot be modified this way")
	// ErrReapplyInProgress is returned when a reapplication pass is already running.
	ErrReapplyInProgress = errors.New("reapplication already in progress")

	// ErrNotFound is returned when a rule or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingConfig is returned when a required setting is absent.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrInvalidConfig is returned when a setting has an unusable value.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// ErrPreconditionFailed is returned by conditional writes when the row changed underneath the caller,
// e.g. a manual override landed while a reapplication pass was running.
var ErrPreconditionFailed = errors.New("transaction changed concurrently")
