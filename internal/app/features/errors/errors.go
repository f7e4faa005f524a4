// internal/app/features/errors/errors.go
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"go.uber.org/zap"
)

// ErrorLogger wraps the zap logger for error logging.
type ErrorLogger struct {
	logger *zap.Logger
}

// NewErrorLogger creates a new ErrorLogger.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	return &ErrorLogger{logger: logger}
}

// LogWithFields logs an error with additional fields.
func (e *ErrorLogger) LogWithFields(r *http.Request, msg string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
	}, fields...)
	e.logger.Error(msg, allFields...)
}

// Status maps a lifecycle error to its HTTP status. Unknown errors are 500.
func Status(err error) int {
	switch {
	case stderrors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, lifecycle.ErrTrashed),
		stderrors.Is(err, lifecycle.ErrNotTrashed),
		stderrors.Is(err, lifecycle.ErrAlreadyExists):
		return http.StatusConflict
	case stderrors.Is(err, lifecycle.ErrInvalidParent):
		return http.StatusUnprocessableEntity
	case stderrors.Is(err, lifecycle.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case stderrors.Is(err, lifecycle.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Write sends err as a JSON error response. Expected lifecycle errors carry
// their own message; anything else is logged and hidden behind a generic 500.
func (e *ErrorLogger) Write(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		e.LogWithFields(r, msg, err, zap.String("owner_id", auth.OwnerID(r)))
		jsonutil.InternalError(w, "internal error")
		return
	}
	jsonutil.Error(w, status, err.Error())
}

// NotFound is the router's JSON 404 handler.
func NotFound(w http.ResponseWriter, r *http.Request) {
	jsonutil.NotFound(w, "no route for "+r.URL.Path)
}

// MethodNotAllowed is the router's JSON 405 handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	jsonutil.Error(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
}
