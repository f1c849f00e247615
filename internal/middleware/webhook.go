package middleware

import (
	"crypto/subtle"
	"net/http"

	"fwstore/pkg/logging"

	"github.com/gin-gonic/gin"
)

// CallbackSecret admits gateway callbacks whose :secret path segment matches the configured
// secret. An empty secret rejects everything.
func CallbackSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.Param("secret"))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			logging.Warnf("[WEBHOOK] rejected %s from %s: bad callback secret", c.FullPath(), c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid callback secret"})
			return
		}
		c.Next()
	}
}
