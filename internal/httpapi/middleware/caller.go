package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/suPer8Hu/ai-creator/internal/common"
)

const CallerKey = "caller"

// TrustedCaller requires an HS256 bearer token signed with secret whose
// subject is listed in allow. An empty secret or allow-list admits nobody.
func TrustedCaller(secret string, allow map[string]struct{}) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) == 0 || len(allow) == 0 {
			common.Fail(c, http.StatusForbidden, 40301, "caller not allowed")
			c.Abort()
			return
		}

		h := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}

		claims := &jwt.RegisteredClaims{}
		tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		sub := claims.Subject
		if _, ok := allow[sub]; !ok {
			common.Fail(c, http.StatusForbidden, 40301, "caller not allowed")
			c.Abort()
			return
		}
		c.Set(CallerKey, sub)
		c.Next()
	}
}
