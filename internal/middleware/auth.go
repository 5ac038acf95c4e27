package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
)

const (
	HeaderGatewayKey    = "X-Gateway-Key"
	QueryGatewayKey     = "api_key"
	ContextPrincipalKey = "principal"

	anonymousPrincipal = "anonymous"
)

// AuthMiddleware resolves the caller's principal from the gateway API key.
// Browsers cannot set headers on a WebSocket handshake, so the key is also
// accepted as a query parameter.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" {
			apiKey = c.Query(QueryGatewayKey)
		}
		if apiKey == "" {
			if !cfg.RequireAPIKey {
				c.Set(ContextPrincipalKey, anonymousPrincipal)
				c.Next()
				return
			}
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "missing API key", nil))
			c.Abort()
			return
		}

		if !knownKey(keys, []byte(apiKey)) {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid API key", nil))
			c.Abort()
			return
		}

		c.Set(ContextPrincipalKey, principalFor(apiKey))
		c.Next()
	}
}

// Principal returns the identity AuthMiddleware stored on c.
func Principal(c *gin.Context) string {
	if v := c.GetString(ContextPrincipalKey); v != "" {
		return v
	}
	return anonymousPrincipal
}

func knownKey(keys [][]byte, candidate []byte) bool {
	found := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, candidate) == 1 {
			found = true
		}
	}
	return found
}

// principalFor never echoes a full key into logs or journal entries.
func principalFor(apiKey string) string {
	if len(apiKey) <= 4 {
		return "key:****"
	}
	return "key:****" + apiKey[len(apiKey)-4:]
}
