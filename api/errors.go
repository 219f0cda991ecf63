package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/genqueue"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, genqueue.ErrValidation), errors.Is(err, genqueue.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, genqueue.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, genqueue.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, genqueue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, genqueue.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, genqueue.ErrNotStarted), errors.Is(err, genqueue.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", msg),
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}
