package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates the generation provider is applying backpressure
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidCredentials indicates the provider rejected our API key
	ErrInvalidCredentials = errors.New("invalid or missing API key")
	// ErrProvider indicates any other generation or embedding failure
	ErrProvider = errors.New("provider error")
	// ErrStoreUnavailable indicates the persistence layer failed
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrIngestion indicates a corpus failed to ingest
	ErrIngestion = errors.New("ingestion failed")
	// ErrIngestionInProgress indicates another ingestion run holds the index
	ErrIngestionInProgress = errors.New("ingestion already in progress")
)

// RateLimitError is returned when every generation attempt was rate limited.
// RetryAfter is zero when the provider did not suggest a delay.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit/quota exceeded after %d attempts, retry after %s: %v", e.Attempts, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limit/quota exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ProviderError wraps a non-retryable provider failure. Kind is either
// ErrInvalidCredentials or ErrProvider.
type ProviderError struct {
	Kind error
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Kind == ErrInvalidCredentials {
		return "invalid or missing API key, please check your configuration"
	}
	return fmt.Sprintf("error from generation provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == e.Kind }

// IngestionError records which corpus failed and why
type IngestionError struct {
	Corpus string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest corpus %s: %v", e.Corpus, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

func (e *IngestionError) Is(target error) bool { return target == ErrIngestion }
