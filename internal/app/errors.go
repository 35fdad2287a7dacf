package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned to clients. Details stay in the server log.
const (
	codeInvalidPayload   = "invalid_payload"
	codeInvalidQuery     = "invalid_query"
	codeNotFound         = "not_found"
	codeMethodNotAllowed = "method_not_allowed"
	codeStorage          = "storage_error"
	codeInternal         = "internal_error"
)

func (a *App) fail(c *gin.Context, status int, code string, err error) {
	attrs := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", requestIDFrom(c),
		"code", code,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", attrs...)
	} else {
		a.logger.Warn("request rejected", attrs...)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func (a *App) recoverPanic(c *gin.Context, recovered any) {
	a.logger.Error("handler panic",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", requestIDFrom(c),
		"panic", recovered,
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": codeInternal})
}
