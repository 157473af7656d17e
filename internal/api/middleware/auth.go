package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/solace/internal/api/response"
	"github.com/liliang-cn/solace/internal/domain"
)

// AdminKey guards operator endpoints with the configured admin API key
func AdminKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip auth if no API key configured
		if apiKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			response.RespondDomainError(c, domain.ErrUnauthorized)
			return
		}

		c.Next()
	}
}
