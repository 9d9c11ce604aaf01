package issuer

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	claimsKey       = "accessClaims"
	requestIDHeader = "X-Request-ID"
)

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid_token", "Invalid authorization header"))
			return
		}

		claims, err := service.Validate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("token_expired", "Token expired"))
			case errors.Is(err, ErrTokenRevoked):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("token_revoked", "Token revoked"))
			case errors.Is(err, ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid_token", "Invalid token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("server_error", "Failed to validate token"))
			}
			return
		}

		c.Set(claimsKey, claims)

		c.Next()
	}
}

// RequestID tags every request and response with an X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (*AccessClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*AccessClaims)
	return claims, ok
}
