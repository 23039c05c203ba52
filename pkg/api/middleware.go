package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/luissimon96/migration-validator/pkg/config"
)

// authMiddleware verifies a Bearer JWT (HMAC, JWT_SECRET_KEY) and exposes
// the subject as the tenant identifier. Disabled when no secret is
// configured.
func authMiddleware(cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthRequired {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			abortError(c, http.StatusUnauthorized, CodeAuth, "missing bearer token", nil)
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			abortError(c, http.StatusUnauthorized, CodeAuth, "invalid token", nil)
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims.GetSubject(); sub != "" {
				c.Set("tenant", sub)
			}
		}
		c.Next()
	}
}

// rateLimitMiddleware enforces a per-client requests-per-minute cap on
// mutating endpoints.
func rateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
			limiters[key] = l
		}
		return l
	}

	return func(c *gin.Context) {
		key := c.GetString("tenant")
		if key == "" {
			key = c.ClientIP()
		}
		if !limiterFor(key).Allow() {
			abortError(c, http.StatusTooManyRequests, CodeOverloaded, "rate limit exceeded", nil)
			return
		}
		c.Next()
	}
}

// tenantFrom returns the authenticated tenant, if any.
func tenantFrom(c *gin.Context) string {
	return c.GetString("tenant")
}
