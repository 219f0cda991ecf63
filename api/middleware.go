package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/auth"
)

const identityKey = "genqueue.identity"

// authenticate resolves the caller from the Authorization header, or the
// access_token query parameter for WebSocket clients that cannot set
// headers.
func (a *API) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}

		identity, err := a.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, genqueue.ErrUnauthenticated) {
				err = fmt.Errorf("%w: %w", genqueue.ErrUnauthenticated, err)
			}
			a.abortWithError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identity(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*auth.Identity); ok {
			return id
		}
	}
	return &auth.Identity{Subject: auth.AnonymousSubject, Anonymous: true}
}

// owner returns the subject that new jobs are recorded under.
func owner(c *gin.Context) string { return identity(c).Subject }

// viewer returns the principal ownership checks run against, or "" when
// verification is disabled and every caller may see every job.
func viewer(c *gin.Context) string {
	if id := identity(c); !id.Anonymous {
		return id.Subject
	}
	return ""
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
