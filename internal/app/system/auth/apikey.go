package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"go.uber.org/zap"
)

// APIKeyAuth returns middleware for operator endpoints (queue stats and job
// retry). The key is sent as "Authorization: Bearer <api-key>".
//
// If the API key is not configured (empty), all requests are rejected.
func APIKeyAuth(validKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	if validKey == "" {
		logger.Warn("API key not configured - operator requests will be rejected")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validKey == "" {
				logger.Warn("operator request rejected: API key not configured",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				jsonutil.Unauthorized(w, "API authentication not configured")
				return
			}

			providedKey, ok := bearer(r)
			if !ok {
				logger.Debug("operator request rejected: missing or malformed Authorization header",
					zap.String("path", r.URL.Path),
				)
				jsonutil.Unauthorized(w, "expected Authorization: Bearer <api-key>")
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(validKey)) != 1 {
				logger.Warn("operator request rejected: invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				jsonutil.Unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
