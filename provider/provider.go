package provider

import (
	"context"
	"errors"
)

// GenerationClient is the boundary to the external text-generation service:
// prompt in, text out. Implementations classify failures into the sentinel
// errors below so callers can apply the right retry policy.
type GenerationClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

var (
	// ErrRateLimited indicates the service rejected the call for quota reasons.
	ErrRateLimited = errors.New("generation: rate limited")
	// ErrTimeout indicates the call did not complete in time.
	ErrTimeout = errors.New("generation: timeout")
	// ErrInvalidResponse indicates the service returned an unusable payload.
	ErrInvalidResponse = errors.New("generation: invalid response")
)

// Retryable reports whether err is a transient generation failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
