package issuer

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sessionkit/core"
)

// Handlers contains HTTP handlers for the issuer endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates new issuer handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{
		service: service,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (h *Handlers) tokens(pair core.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.Access.String(),
		RefreshToken: pair.Renewal.String(),
		TokenType:    "Bearer",
		ExpiresIn:    int(h.service.AccessTTL().Seconds()),
	}
}

// Login handles the login request
func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid request"))
		return
	}

	pair, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, errorBody("invalid_credentials", "Invalid username or password"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "Authentication failed"))
		return
	}

	c.JSON(http.StatusOK, h.tokens(pair))
}

// Refresh handles token refresh
func (h *Handlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid request"))
		return
	}

	pair, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			c.JSON(http.StatusUnauthorized, errorBody("token_expired", "Refresh token expired"))
		case errors.Is(err, ErrTokenRevoked):
			c.JSON(http.StatusUnauthorized, errorBody("token_revoked", "Refresh token has been revoked"))
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnknownUser):
			c.JSON(http.StatusUnauthorized, errorBody("invalid_token", "Invalid refresh token"))
		default:
			c.JSON(http.StatusInternalServerError, errorBody("server_error", "Failed to refresh tokens"))
		}
		return
	}

	c.JSON(http.StatusOK, h.tokens(pair))
}

// Introspect reports whether an access token is valid
func (h *Handlers) Introspect(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid request"))
		return
	}

	valid, err := h.service.Introspect(c.Request.Context(), req.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "Failed to introspect token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// Logout revokes the caller's session. The access token is taken from the
// Authorization header or the body.
func (h *Handlers) Logout(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token"`
	}
	_ = c.ShouldBindJSON(&req)

	token := bearer(c.GetHeader("Authorization"))
	if token == "" {
		token = req.AccessToken
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "Invalid request"))
		return
	}

	if err := h.service.Logout(c.Request.Context(), token); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			c.JSON(http.StatusBadRequest, errorBody("invalid_token", "Invalid access token"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "Failed to logout"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns information about the authenticated user
func (h *Handlers) Me(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "User not found in context"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       claims.UserID(),
		"username": claims.DisplayName(),
		"scope":    claims.Scope,
	})
}

// Authorize checks that the caller's scope contains the permission given in
// the query. Without a permission it only confirms authentication.
func (h *Handlers) Authorize(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody("server_error", "User not found in context"))
		return
	}

	if want := c.Query("permission"); want != "" {
		granted := false
		for _, token := range claims.ScopeTokens() {
			if token == want {
				granted = true
				break
			}
		}
		if !granted {
			c.JSON(http.StatusForbidden, errorBody("forbidden", "Missing permission "+want))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"id":         claims.UserID(),
	})
}

func bearer(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// errorBody is the shape every issuer failure is reported in:
// {"error": {"code": "...", "message": "..."}}
func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
