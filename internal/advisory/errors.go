package advisory

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Veraticus/spice-rules/internal/common"
)

const maxErrorBody = 512

// statusError classifies a non-200 provider response for the retry loop.
func statusError(provider string, status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return &common.RetryableError{Err: err, Retryable: false}
	}
}

func classifyTransportError(err error) error {
	var retryable *common.RetryableError
	if errors.As(err, &retryable) {
		return err
	}
	return &common.RetryableError{Err: fmt.Errorf("request failed: %w", err), Retryable: true}
}
