package auth

// Terminology: Owner Identifiers
//   - OwnerID / ownerID / owner_id: the opaque subject ("sub") of a verified
//     bearer token. Files, folders, and quotas are keyed by it.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultDevSecret is accepted outside production only.
const DefaultDevSecret = "dev-only-jwt-secret-not-for-production"

// ErrInvalidToken is returned for malformed, expired, or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// ConfigError is returned when token configuration is invalid.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// Claims are the token claims the service reads. Subject carries the owner id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens issued by the identity provider.
type Verifier struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewVerifier creates a Verifier.
//
// Parameters:
//   - secret: HMAC signing secret shared with the identity provider
//   - issuer: required "iss" claim (empty = not checked)
//   - production: if true, weak or default secrets fail startup
//   - logger: for logging authentication failures
func NewVerifier(secret, issuer string, production bool, logger *zap.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, &ConfigError{Message: "jwt secret is empty; provide ≥32 random chars"}
	}

	isWeak := len(secret) < 32 || secret == DefaultDevSecret
	if production && isWeak {
		return nil, &ConfigError{
			Message: "jwt secret is too weak for production; provide ≥32 random chars (not the default dev secret)",
		}
	} else if isWeak {
		logger.Warn("jwt secret is weak; 32+ random chars required in production",
			zap.Int("length", len(secret)),
			zap.Bool("is_default", secret == DefaultDevSecret))
	}

	return &Verifier{secret: []byte(secret), issuer: issuer, logger: logger}, nil
}

// Verify parses and validates a token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for ownerID. The service itself never logs users in;
// this exists for development tooling and tests.
func (v *Verifier) Issue(ownerID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Current-owner helpers                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// Owner is the authenticated caller in the request context.
type Owner struct {
	ID   string
	Name string
}

type ctxKey struct{}

// WithOwner returns a copy of ctx carrying o.
func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// CurrentOwner returns the authenticated owner, if any.
func CurrentOwner(r *http.Request) (Owner, bool) {
	o, ok := r.Context().Value(ctxKey{}).(Owner)
	return o, ok && o.ID != ""
}

// OwnerID returns the authenticated owner's id, or "".
func OwnerID(r *http.Request) string {
	o, _ := CurrentOwner(r)
	return o.ID
}

// bearer extracts the credential from "Authorization: Bearer <token>".
func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// RequireOwner returns middleware that admits only requests carrying a valid
// bearer token and puts the owner in the request context.
//
// Usage in routes.go:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(verifier.RequireOwner)
//	    r.Mount("/api/files", filesRouter)
//	})
func (v *Verifier) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			v.logger.Debug("request rejected: missing bearer token",
				zap.String("path", r.URL.Path))
			jsonutil.Unauthorized(w, "missing bearer token")
			return
		}

		claims, err := v.Verify(token)
		if err != nil {
			v.logger.Info("request rejected: invalid bearer token",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			jsonutil.Unauthorized(w, "invalid token")
			return
		}

		ctx := WithOwner(r.Context(), Owner{ID: claims.Subject, Name: claims.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
