package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenKey is the gin context key under which RequireSession stores the token.
const TokenKey = "authToken"

// RequireSession rejects requests while the store holds no usable token.
func RequireSession(store *TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := store.Token()
		if token == "" {
			unauthorized(c, "not authenticated")
			return
		}
		c.Set(TokenKey, token)
		c.Next()
	}
}

// TokenFromContext returns the token stored by RequireSession.
func TokenFromContext(c *gin.Context) string {
	return c.GetString(TokenKey)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, error) {
	return extractBearerToken(header)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": message})
}
