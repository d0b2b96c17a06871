// Package api wires together all HTTP routes for the audit trail service.
//
// Route grouping:
//   - Operational probes (/health, /ready, /version) are unauthenticated so that
//     orchestrators can reach them without credentials.
//   - Everything under /api/v1/audit requires a bearer token resolved to an
//     academy profile, is rate limited per actor, and runs under AuditRecorder
//     so handlers can audit their own side effects (exports).
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/academy-hub/audit-trail/internal/api/auditlog"
	"github.com/academy-hub/audit-trail/internal/audit"
	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db/repositories"
	"github.com/academy-hub/audit-trail/internal/middleware"
	"github.com/academy-hub/audit-trail/internal/storage"
)

// Version is the service version reported by /version. Overridden at build time
// with -ldflags "-X github.com/academy-hub/audit-trail/internal/api.Version=...".
var Version = "0.1.0"

// Dependencies are the collaborators cmd/server builds from configuration.
// Only DB is required.
type Dependencies struct {
	DB *sqlx.DB
	// Profiles defaults to the profiles table; cmd/server fronts it with Redis.
	Profiles audit.ProfileStore
	// Shipper receives every appended record. Nil disables shipping.
	Shipper audit.Shipper
	// Archive is the export archive backend. Nil disables ?archive=true.
	Archive storage.Storage
	// Limiter overrides the in-memory rate limiter, e.g. with the Redis one.
	Limiter middleware.Limiter
}

// BackgroundServices holds references to background goroutines that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	auditRepo := repositories.NewAuditRepository(deps.DB)
	profiles := deps.Profiles
	if profiles == nil {
		profiles = repositories.NewProfileRepository(deps.DB)
	}

	templates := audit.NewTemplateRegistry()
	for _, t := range cfg.Audit.SummaryTemplates {
		templates.Register(t.Key, t.Template)
	}

	writerOpts := []audit.WriterOption{audit.WithTemplates(templates)}
	if deps.Shipper != nil {
		writerOpts = append(writerOpts, audit.WithShipper(deps.Shipper))
	}
	writer := audit.NewWriter(auditRepo, writerOpts...)
	policy := audit.NewPolicy(cfg.Audit.AdminRoles, cfg.Audit.BranchRoles)
	reader := audit.NewReader(auditRepo, policy, templates, cfg.Audit.MaxPageSize, cfg.Audit.MaxExportRows)
	resolver := audit.NewActorResolver(audit.JWTVerifier, profiles)

	var handlerOpts []auditlog.HandlerOption
	if deps.Archive != nil {
		handlerOpts = append(handlerOpts, auditlog.WithArchiver(storage.NewArchiver(deps.Archive, cfg.Archive.Prefix), cfg.Archive.Backend))
		slog.Info("export archiving enabled", "backend", cfg.Archive.Backend, "prefix", cfg.Archive.Prefix)
	}
	auditHandler := auditlog.NewHandler(writer, reader, templates, cfg.Audit.DefaultPageSize, handlerOpts...)

	// Global middleware; see the middleware package doc for the ordering rationale
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TraceRoute())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Archive))
	router.GET("/version", versionHandler())

	limiter := deps.Limiter
	if limiter == nil && cfg.Security.RateLimiting.Enabled {
		rl := middleware.NewRateLimiter(middleware.RateLimitConfigFrom(cfg.Security.RateLimiting))
		bg.rateLimiters = append(bg.rateLimiters, rl)
		limiter = rl
	}

	auditGroup := router.Group("/api/v1/audit")
	auditGroup.Use(middleware.AuthMiddleware(resolver))
	if limiter != nil {
		auditGroup.Use(middleware.RateLimitMiddleware(limiter))
	}
	auditGroup.Use(middleware.AuditRecorder(writer))
	{
		auditGroup.POST("/logs", auditHandler.WriteLog)
		auditGroup.GET("/logs/:id", auditHandler.GetLog)
		auditGroup.GET("/activity", auditHandler.ListActivity)
		auditGroup.GET("/activity/export", auditHandler.ExportActivity)
		auditGroup.GET("/logins", auditHandler.ListLogins)
		auditGroup.GET("/logins/export", auditHandler.ExportLogins)
		auditGroup.GET("/templates", auditHandler.ListTemplates)
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// When archiving is enabled it also probes the archive backend, so exports
// with archive=true do not fail after the pod is marked ready.
func readinessHandler(db *sqlx.DB, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Exists on a sentinel path exercises credentials and connectivity without writing
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service version and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
