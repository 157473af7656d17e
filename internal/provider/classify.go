package provider

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the retry-relevant category of a provider failure
type Kind int

const (
	KindOther Kind = iota
	KindRateLimit
	KindInvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindInvalidCredentials:
		return "invalid_credentials"
	default:
		return "provider_error"
	}
}

// Classification is the outcome of Classify. RetryAfter is only meaningful
// when HasRetryAfter is set.
type Classification struct {
	Kind          Kind
	RetryAfter    time.Duration
	HasRetryAfter bool
}

var (
	rateLimitVocabulary = []string{"rate limit", "ratelimit", "quota", "429", "resource exhausted", "resource_exhausted", "too many requests"}
	apiKeyVocabulary    = []string{"api key", "api_key", "apikey"}

	// "retry_delay { seconds: 10 }" style, preferred when both match
	retrySecondsPattern = regexp.MustCompile(`(?i)retry.*?seconds[:\s]*([0-9]+(?:\.[0-9]+)?)`)
	// "Please retry in 10.16s" style
	retryInPattern = regexp.MustCompile(`(?i)retry in\s*([0-9]+(?:\.[0-9]+)?)s`)
)

// Classify maps a provider error to a Kind. Structured signals (gRPC codes,
// googleapi and OpenAI HTTP status codes) are checked first; otherwise the
// error text is matched against rate-limit and API-key vocabulary. The text
// heuristic is best effort.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindOther}
	}

	msg := err.Error()
	c := Classification{Kind: classifyStructured(err)}
	c.RetryAfter, c.HasRetryAfter = ParseRetryDelay(msg)
	if c.Kind != KindOther {
		return c
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, rateLimitVocabulary):
		c.Kind = KindRateLimit
	case containsAny(lower, apiKeyVocabulary):
		c.Kind = KindInvalidCredentials
	}
	return c
}

func classifyStructured(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindFromHTTPStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindFromHTTPStatus(reqErr.HTTPStatusCode)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return kindFromHTTPStatus(gErr.Code)
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return KindRateLimit
		case codes.Unauthenticated, codes.PermissionDenied:
			return KindInvalidCredentials
		}
	}

	return KindOther
}

func kindFromHTTPStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredentials
	default:
		return KindOther
	}
}

// ParseRetryDelay extracts a provider-suggested retry delay from error text
func ParseRetryDelay(msg string) (time.Duration, bool) {
	m := retrySecondsPattern.FindStringSubmatch(msg)
	if m == nil {
		m = retryInPattern.FindStringSubmatch(msg)
	}
	if m == nil {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
