// Package api wires together all HTTP routes of the identity service.
//
// Route grouping:
//   - POST /api/v1/onboarding is public and rate limited per client IP. It creates
//     the tenant and its first administrator, so there is no actor yet.
//   - Every other /api/v1 route is tenant scoped: IdentityMiddleware establishes the
//     actor, then a RequirePermissions gate checks the actor's membership in the
//     actor's own tenant before the handler runs. Handlers never take the tenant
//     from the request path or body.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/api/admin"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/api/onboarding"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/audit"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth/oidc"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/config"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/repositories"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/idp"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/jobs"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/middleware"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/safego"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	ledgerReporter *jobs.LedgerReporter
	memoryLimiter  *middleware.MemoryLimiter
	redisClient    *redis.Client
	recorder       *audit.Recorder
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.ledgerReporter != nil {
		bg.ledgerReporter.Stop()
	}
	if bg.memoryLimiter != nil {
		bg.memoryLimiter.Stop()
	}
	// Pending audit shipments drain before the process exits.
	if bg.recorder != nil {
		if err := bg.recorder.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close rate limit redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// routes collects everything the route table needs. NewRouter builds it from the
// database and identity provider; tests build it from fakes.
type routes struct {
	health      gin.HandlerFunc
	identifier  middleware.ActorIdentifier
	checker     middleware.PermissionChecker
	limiter     middleware.Limiter
	onboarding  *onboarding.Handler
	permissions *admin.PermissionHandlers
	members     *admin.MemberHandlers
	auditLogs   *admin.AuditHandlers
	settings    *admin.SettingsHandlers
}

// NewRouter creates and configures the Gin router. provider is the identity provider
// admin client used by onboarding and erasure.
func NewRouter(cfg *config.Config, db *sql.DB, provider *idp.Client) (*gin.Engine, *BackgroundServices, error) {
	sqlxDB := sqlx.NewDb(db, "postgres")

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	tenantRepo := repositories.NewTenantRepository(sqlxDB)
	tenantUserRepo := repositories.NewTenantUserRepository(sqlxDB)
	permissionRepo := repositories.NewPermissionRepository(sqlxDB)
	grantRepo := repositories.NewGrantRepository(sqlxDB)
	settingRepo := repositories.NewSettingRepository(sqlxDB)
	onboardingRepo := repositories.NewOnboardingRepository(sqlxDB)
	ledgerRepo := repositories.NewFailureLedgerRepository(sqlxDB)

	// Audit trail. Rows always go to the database; audit.enabled controls shipping.
	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		if ms.Len() > 0 {
			shipper = ms
			slog.Info("audit shipping enabled", "shippers", ms.Len())
		}
	}
	recorder := audit.NewRecorder(auditRepo, shipper, cfg.Audit.WriteTimeout)

	// Authorization
	resolver := auth.NewResolver(permissionRepo)
	identifier, err := newActorResolver(cfg, userRepo, tenantRepo)
	if err != nil {
		recorder.Close() // nolint:errcheck
		return nil, nil, err
	}

	// Services
	orchestrator := services.NewOnboardingOrchestrator(provider, tenantRepo, userRepo, onboardingRepo, ledgerRepo,
		recorder, cfg.Onboarding.DefaultAdminRole, cfg.Onboarding.CompensationTimeout)
	grantService := services.NewGrantService(grantRepo, recorder)
	membershipService := services.NewMembershipService(tenantUserRepo, userRepo, provider, audit.NewAnonymizer(auditRepo), recorder)
	policyService := services.NewPolicyService(settingRepo, recorder)

	bg := &BackgroundServices{recorder: recorder}

	// Onboarding rate limit: shared across replicas when Redis is configured
	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisAddr != "" {
			bg.redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.RateLimit.RedisAddr,
				Password: cfg.RateLimit.RedisPassword,
				DB:       cfg.RateLimit.RedisDB,
			})
			limiter = middleware.NewRedisLimiter(bg.redisClient, cfg.RateLimit.OnboardingPerMinute, cfg.RateLimit.OnboardingBurst)
			slog.Info("onboarding rate limit backed by redis", "addr", cfg.RateLimit.RedisAddr)
		} else {
			bg.memoryLimiter = middleware.NewMemoryLimiter(cfg.RateLimit.OnboardingPerMinute, cfg.RateLimit.OnboardingBurst, 5*time.Minute)
			limiter = bg.memoryLimiter
		}
	}

	// Failure ledger reporting
	bg.ledgerReporter = jobs.NewLedgerReporter(ledgerRepo, cfg.Jobs.LedgerReportInterval)
	reporter := bg.ledgerReporter
	safego.Go("ledger-reporter", func() { reporter.Start(context.Background()) })

	router := newEngine(cfg, routes{
		health:      healthCheckHandler(db),
		identifier:  identifier,
		checker:     resolver,
		limiter:     limiter,
		onboarding:  onboarding.NewHandler(orchestrator),
		permissions: admin.NewPermissionHandlers(resolver),
		members:     admin.NewMemberHandlers(grantService, membershipService, tenantUserRepo),
		auditLogs:   admin.NewAuditHandlers(auditRepo),
		settings:    admin.NewSettingsHandlers(policyService),
	})

	return router, bg, nil
}

// newActorResolver builds the identity sources in trust order: session JWT, IdP ID
// token, then the unauthenticated header fallback.
func newActorResolver(cfg *config.Config, users *repositories.UserRepository, tenants *repositories.TenantRepository) (*auth.ActorResolver, error) {
	var sources []auth.IdentitySource

	if cfg.Auth.JWT.Enabled {
		sources = append(sources, auth.NewJWTSource(cfg.Auth.JWT.Issuer))
	}

	if cfg.Auth.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		provider, err := oidc.NewOIDCProviderWithContext(ctx, &cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		sources = append(sources, oidc.NewIdentitySource(provider, users, tenants, cfg.Auth.OIDC.TenantClaim))
	}

	if cfg.Auth.HeaderFallback.Enabled {
		slog.Warn("header based identity is enabled; X-Actor-User-ID and X-Tenant-ID are trusted without verification")
		sources = append(sources, auth.HeaderSource{})
	}

	r := auth.NewActorResolver(sources...)
	slog.Info("identity sources configured", "sources", r.Sources())
	return r, nil
}

// newEngine registers middleware and the route table
func newEngine(cfg *config.Config, rt routes) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestContextMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())

	security := middleware.DefaultSecurityHeadersConfig()
	security.EnableHSTS = cfg.Server.IsProduction()
	router.Use(middleware.SecurityHeadersMiddleware(security))

	router.GET("/health", rt.health)

	apiV1 := router.Group("/api/v1")

	onboard := []gin.HandlerFunc{}
	if rt.limiter != nil {
		onboard = append(onboard, middleware.RateLimitMiddleware(rt.limiter))
	}
	onboard = append(onboard, rt.onboarding.OnboardHandler())
	apiV1.POST("/onboarding", onboard...)

	tenant := apiV1.Group("")
	tenant.Use(middleware.IdentityMiddleware(rt.identifier))
	{
		// Membership only: any active member may read their own permissions.
		tenant.GET("/me/permissions", middleware.RequireAll(rt.checker), rt.permissions.MyPermissionsHandler())

		tenant.GET("/members", middleware.RequireAll(rt.checker, auth.PermViewUsers), rt.members.ListMembersHandler())
		tenant.POST("/members/:user_id/roles", middleware.RequireAll(rt.checker, auth.PermAssignPermissions), rt.members.GrantRoleHandler())
		tenant.POST("/members/:user_id/permissions", middleware.RequireAll(rt.checker, auth.PermAssignPermissions), rt.members.GrantPermissionHandler())
		tenant.DELETE("/members/:user_id/permissions/:permission", middleware.RequireAll(rt.checker, auth.PermAssignPermissions), rt.members.RevokePermissionHandler())
		tenant.DELETE("/members/:user_id", middleware.RequireAll(rt.checker, auth.PermRemoveUsers), rt.members.RemoveMemberHandler())
		tenant.POST("/users/:user_id/erase", middleware.RequireAll(rt.checker, auth.PermEraseUsers), rt.members.EraseUserHandler())

		tenant.GET("/audit-logs", middleware.RequireAll(rt.checker, auth.PermViewAuditLog), rt.auditLogs.ListAuditLogsHandler())

		tenant.GET("/settings/grant-requires-possession", middleware.RequireAll(rt.checker, auth.PermManageTenant), rt.settings.GetGrantPolicyHandler())
		tenant.PUT("/settings/grant-requires-possession", middleware.RequireAll(rt.checker, auth.PermManageTenant), rt.settings.SetGrantPolicyHandler())
	}

	return router
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
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

// LoggerMiddleware logs one structured record per request. The output format
// follows the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		if path == "/health" && level == slog.LevelInfo {
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if actor, ok := middleware.ActorFromContext(c); ok {
			attrs = append(attrs, slog.String("tenant_id", actor.TenantID), slog.String("actor_user_id", actor.UserID))
		}

		// Logger(c) already carries request_id.
		middleware.Logger(c).LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}
