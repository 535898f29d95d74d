package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/seed-processor/pkg/logger"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserTier  = "X-User-Tier"
	HeaderRequestID = "X-Request-ID"

	keyUserID  = "userID"
	keyPremium = "premium"
)

// RequestContext puts the request id and caller identity into the request
// context for logger.FromContext. Authentication happens upstream; the
// gateway forwards the user id and tier as headers.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		ctx := logger.ContextWithRequestID(c.Request.Context(), requestID)
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			ctx = logger.ContextWithUser(ctx, userID)
			c.Set(keyUserID, userID)
		}
		c.Set(keyPremium, strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderUserTier)), "premium"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser rejects requests without a caller identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "Missing " + HeaderUserID + " header",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the caller set by RequestContext.
func UserID(c *gin.Context) string {
	return c.GetString(keyUserID)
}

// IsPremium reports whether the caller is on the premium tier.
func IsPremium(c *gin.Context) bool {
	return c.GetBool(keyPremium)
}

// AccessLog logs one line per request.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		l := logger.FromContext(c.Request.Context(), log)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			l.Error("Request failed", fields...)
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			l.Debug("Request handled", fields...)
		default:
			l.Info("Request handled", fields...)
		}
	}
}
