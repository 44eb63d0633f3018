package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/generation"
	"github.com/lysyi3m/stoa/app/model"
)

var statusByError = []struct {
	err    error
	status int
}{
	{model.ErrNotFound, http.StatusNotFound},
	{model.ErrInvalidTransition, http.StatusConflict},
	{model.ErrAlreadyQueued, http.StatusConflict},
	{model.ErrAlreadyCancelled, http.StatusConflict},
	{model.ErrDuplicateContent, http.StatusConflict},
	{model.ErrPublishInProgress, http.StatusConflict},
	{model.ErrInBlackoutWindow, http.StatusConflict},
	{model.ErrNoSlotAvailable, http.StatusConflict},
	{model.ErrRateLimitExceeded, http.StatusTooManyRequests},
	{model.ErrInvalidContent, http.StatusBadRequest},
	{model.ErrInvalidSettings, http.StatusBadRequest},
	{model.ErrPublisherFailure, http.StatusBadGateway},
	{generation.ErrProviderFailure, http.StatusBadGateway},
	{generation.ErrNotConfigured, http.StatusServiceUnavailable},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "operation", operation, "path", c.FullPath(), "request_id", c.GetString(requestIDKey), "error", err)
	} else {
		slog.Debug("Request rejected", "operation", operation, "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
