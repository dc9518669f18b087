package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/config"
	"github.com/blocklist-app/blocklist-server/internal/middleware"
	"github.com/blocklist-app/blocklist-server/internal/validation"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// Router bundles what NewRouter wires into routes.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Router struct {
	Config        *config.Config
	Authenticator middleware.TokenAuthenticator
	Limiter       *middleware.RateLimiter
	Registry      *RegistryHandler
	Suggestions   *SuggestionHandler
	Audit         *AuditHandler
	Accounts      *AccountHandler
	Health        *HealthHandler
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(r Router) *gin.Engine {
	cfg := r.Config
	limits := cfg.RateLimit

	if err := validation.RegisterBindings(); err != nil {
		logger.Log.Error("Failed to register validators", zap.Error(err))
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Log.Warn("Invalid trusted proxies", zap.Error(err))
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.SecurityHeaders(cfg.Server.AllowedConnect),
		middleware.CORS(cfg.Server.AllowedOrigin),
		middleware.HTTPSRedirect(cfg.Server.ForceHTTPS),
		middleware.RequestLogger(),
	)
	if cfg.Metrics.Enabled {
		engine.Use(middleware.Metrics())
		engine.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		middleware.Abort(c, http.StatusNotFound, msgNotFound)
	})

	engine.GET("/", r.Health.LivenessProbe)

	authenticate := middleware.Authenticate(r.Authenticator)
	requireAdmin := middleware.RequireAdmin()
	requireJSON := middleware.RequireJSON()
	adminWrite := r.Limiter.Limit("adminwrite", limits.AdminWrite.Max, limits.AdminWrite.Window)
	adminIP := middleware.RequireAdminIP(cfg.Admin.IPs)

	api := engine.Group("/api", r.Limiter.Limit("global", limits.Global.Max, limits.Global.Window))
	{
		api.GET("/health", r.Health.LivenessProbe)
		api.GET("/health/ready", r.Health.ReadinessProbe)

		api.GET("/stats", r.Registry.Stats)
		api.GET("/users", r.Registry.List)
		api.GET("/users/:id", r.Registry.Get)
		api.POST("/users", adminWrite, authenticate, requireAdmin, requireJSON, r.Registry.Create)
		api.PUT("/users/:id", adminWrite, authenticate, requireAdmin, requireJSON, r.Registry.Update)
		api.DELETE("/users/:id", adminWrite, authenticate, requireAdmin, r.Registry.Delete)
		api.POST("/users/import", adminWrite, authenticate, requireAdmin, adminIP, r.Registry.Import)
		api.POST("/import", adminWrite, authenticate, requireAdmin, adminIP, r.Registry.Import)

		api.POST("/suggestions",
			r.Limiter.Limit("suggest", limits.Suggest.Max, limits.Suggest.Window),
			authenticate, requireJSON, r.Suggestions.Submit)

		authLimit := r.Limiter.Limit("auth", limits.Auth.Max, limits.Auth.Window)
		api.POST("/auth/register", authLimit, requireJSON, r.Accounts.Register)
		api.POST("/auth/login", authLimit, requireJSON, r.Accounts.Login)

		admin := api.Group("/admin", authenticate, requireAdmin)
		{
			admin.GET("/suggestions", r.Suggestions.List)
			admin.PUT("/suggestions/:id/approve", adminWrite, r.Suggestions.Approve)
			admin.PUT("/suggestions/:id/reject", adminWrite, r.Suggestions.Reject)
			admin.GET("/audit", r.Audit.List)
		}
	}

	return engine
}
