// internal/app/bootstrap/routes.go
package bootstrap

import (
	"context"
	"net/http"
	"time"

	accountfeature "github.com/dalemusser/stratadrive/internal/app/features/account"
	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	filesfeature "github.com/dalemusser/stratadrive/internal/app/features/files"
	foldersfeature "github.com/dalemusser/stratadrive/internal/app/features/folders"
	healthfeature "github.com/dalemusser/stratadrive/internal/app/features/health"
	jobsfeature "github.com/dalemusser/stratadrive/internal/app/features/jobs"
	publicfeature "github.com/dalemusser/stratadrive/internal/app/features/public"
	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/apicors"
	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// jsonTimeout bounds JSON-only routes. Upload, download and share-link
// routes stream content and are bounded by the server's own timeouts.
const jsonTimeout = 30 * time.Second

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed.
//
// Route groups:
//   - /api/files, /api/folders, /api/trash, /api/usage: Bearer JWT (owner)
//   - /api/queue: operator API key
//   - /public/{token}: anonymous, throttled per client IP
//   - /health, /ready, /livez, /metrics: infrastructure
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	verifier, err := auth.NewVerifier(appCfg.JWTSecret, appCfg.JWTIssuer, coreCfg.Env == "prod", logger)
	if err != nil {
		logger.Error("token verifier init failed", zap.Error(err))
		return nil, err
	}

	r := chi.NewRouter()

	// Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	mountRoutes(r, appCfg, deps, verifier, logger)
	return r, nil
}

// mountRoutes attaches every feature router to r.
func mountRoutes(r chi.Router, appCfg AppConfig, deps DBDeps, verifier *auth.Verifier, logger *zap.Logger) {
	errLog := errorsfeature.NewErrorLogger(logger)
	jobs := jobstore.New(deps.MongoDatabase)
	th := healthThresholds(appCfg)

	r.NotFound(errorsfeature.NotFound)
	r.MethodNotAllowed(errorsfeature.MethodNotAllowed)

	filesHandler := filesfeature.NewHandler(deps.Engine, deps.Blobs, appCfg.MaxUploadBytes, errLog, logger)
	foldersHandler := foldersfeature.NewHandler(deps.Engine, errLog, logger)
	accountHandler := accountfeature.NewHandler(deps.Engine, errLog, logger)
	jobsHandler := jobsfeature.NewHandler(jobs, th, errLog, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(apicors.Middleware())

		// Operator queue endpoints authenticate with the API key instead of
		// a caller token.
		r.Route("/queue", func(r chi.Router) {
			r.Use(auth.APIKeyAuth(appCfg.APIKey, logger))
			r.Use(chimw.Timeout(jsonTimeout))
			r.Mount("/", jobsfeature.Routes(jobsHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(verifier.RequireOwner)

			r.Mount("/files", filesfeature.Routes(filesHandler))

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(jsonTimeout))
				r.Mount("/folders", foldersfeature.Routes(foldersHandler))
				accountfeature.MountRoutes(r, accountHandler)
			})
		})
	})

	// A nil guard would disable throttling; keep the interface nil rather
	// than wrapping a nil *ratelimit.Store.
	var guard publicfeature.Guard
	if deps.ShareGuard != nil {
		guard = deps.ShareGuard
	}
	publicHandler := publicfeature.NewHandler(deps.Engine, guard, appCfg.TrustProxy, errLog, logger)
	r.Route("/public", func(r chi.Router) {
		r.Use(apicors.ReadOnly())
		r.Mount("/", publicfeature.Routes(publicHandler))
	})

	queueHealth := func(ctx context.Context) (string, error) {
		stats, err := jobs.GetQueueStats(ctx, "", th)
		if err != nil {
			return "", err
		}
		return stats.Health, nil
	}
	healthHandler := healthfeature.NewHandler(deps.MongoClient, queueHealth, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)
}
