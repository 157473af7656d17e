package response

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/solace/internal/domain"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondDomainError maps the domain error taxonomy onto HTTP statuses.
// Rate-limit responses carry Retry-After when the provider suggested a delay.
func RespondDomainError(c *gin.Context, err error) {
	var rle *domain.RateLimitError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &rle):
		if rle.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
		}
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, domain.ErrRateLimited):
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, domain.ErrInvalidCredentials):
		RespondError(c, http.StatusBadGateway, "invalid_credentials", err)
	case errors.Is(err, domain.ErrProvider):
		RespondError(c, http.StatusBadGateway, "provider_error", err)
	case errors.Is(err, domain.ErrStoreUnavailable):
		RespondError(c, http.StatusServiceUnavailable, "store_unavailable", errors.New("session store unavailable"))
	case errors.Is(err, domain.ErrIngestionInProgress):
		RespondError(c, http.StatusConflict, "ingestion_in_progress", err)
	case errors.Is(err, domain.ErrInvalidRequest):
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, domain.ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", errors.New("internal server error"))
	}
}
