// Package azgin adapts the validator to gin: middleware that gates requests
// on a valid Bearer token and helpers for reading the decoded claims back
// out of the request context.
package azgin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	azurekit "github.com/PaulFidika/azidkit/azure"
)

const claimsContextKey = "azidkit.claims"

// AuthRequired rejects requests without a valid Bearer token. On success the
// decoded claims are stored in the gin context for ClaimsFromGin. The logger
// is optional; failures are logged with their kind, never with the token.
func AuthRequired(v *azurekit.Validator, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		claims, err := v.Validate(c.Request.Context(), raw)
		if err != nil {
			if log != nil {
				log.WithFields(logrus.Fields{
					"reason": azurekit.FailureKind(err),
					"path":   c.FullPath(),
				}).Warn("request token rejected")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// AuthOptional validates a Bearer token when one is present but lets
// unauthenticated requests through. Handlers distinguish the two via
// ClaimsFromGin.
func AuthOptional(v *azurekit.Validator, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		claims, err := v.Validate(c.Request.Context(), raw)
		if err != nil {
			if log != nil {
				log.WithField("reason", azurekit.FailureKind(err)).Debug("optional token rejected")
			}
			c.Next()
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFromGin returns the claims stored by the middleware.
func ClaimsFromGin(c *gin.Context) (*azurekit.Claims, bool) {
	val, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*azurekit.Claims)
	return claims, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return token, token != ""
}
