package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/app"
	iauth "github.com/nosift/team-dh/internal/auth"
	"github.com/nosift/team-dh/internal/handlers"
	"github.com/nosift/team-dh/internal/middleware"
	"github.com/nosift/team-dh/internal/services"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
)

// Deps carries the shared service graph the router wires handlers onto.
type Deps struct {
	DB          *gorm.DB
	JWT         *iauth.JWTService
	Admin       *iauth.AdminService
	Registry    *teams.Registry
	Client      upstream.Client
	Leases      *services.LeaseStore
	Transfers   *services.TransferService
	Codes       *services.CodeService
	Redemptions *services.RedemptionService
	TeamStatus  *services.TeamStatusService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// The public surface is the redemption flow plus health; everything else sits
// behind the operator token.
func NewRouter(cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil || deps.Admin == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Registry == nil || deps.Client == nil {
		return nil, fmt.Errorf("team registry and upstream client must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.DB))

	authHandler := handlers.NewAuthHandler(deps.Admin)
	redeemHandler := handlers.NewRedeemHandler(deps.Redemptions, deps.Codes)

	// Public routes. The redemption flow gets its own tight rate limit on
	// top of the service-level per-IP budget.
	public := r.Group("/api")
	public.Use(middleware.RateLimit(30, time.Minute))
	{
		public.POST("/auth/login", authHandler.Login)
		public.POST("/redeem", redeemHandler.Redeem)
		public.GET("/verify/:code", redeemHandler.Verify)
	}

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	api.GET("/auth/me", authHandler.Me)

	dashboardHandler := handlers.NewDashboardHandler(deps.DB, deps.Leases)
	api.GET("/dashboard", dashboardHandler.Summary)

	leaseHandler := handlers.NewLeaseHandler(deps.Leases, deps.Transfers)
	leases := api.Group("/leases")
	{
		leases.GET("", leaseHandler.List)
		leases.PUT("", leaseHandler.Upsert)
		leases.POST("/sweep", leaseHandler.Sweep)
		leases.POST("/sync-join", leaseHandler.SyncJoinBatch)
		leases.GET("/:email", leaseHandler.Get)
		leases.GET("/:email/events", leaseHandler.Events)
		leases.POST("/:email/sync-join", leaseHandler.SyncJoin)
		leases.POST("/:email/transfer", leaseHandler.Transfer)
		leases.POST("/:email/expire", leaseHandler.ForceExpire)
		leases.POST("/:email/cancel", leaseHandler.Cancel)
		leases.DELETE("/:email", leaseHandler.Delete)
	}

	codeHandler := handlers.NewCodeHandler(deps.Codes)
	codes := api.Group("/codes")
	{
		codes.POST("", codeHandler.Create)
		codes.GET("", codeHandler.List)
		codes.PUT("/:code/status", codeHandler.SetStatus)
		codes.DELETE("/:code", codeHandler.Delete)
	}

	redemptionHandler := handlers.NewRedemptionHandler(deps.Redemptions)
	api.GET("/redemptions", redemptionHandler.List)
	api.DELETE("/redemptions/:id", redemptionHandler.Delete)

	teamHandler := handlers.NewTeamHandler(deps.Registry, deps.TeamStatus, deps.Client)
	teamRoutes := api.Group("/teams")
	{
		teamRoutes.GET("", teamHandler.List)
		teamRoutes.GET("/:name/seats", teamHandler.Seats)
		teamRoutes.POST("/check", teamHandler.Check)
		teamRoutes.POST("/reload", teamHandler.Reload)
		teamRoutes.POST("/sync-created", teamHandler.SyncCreated)
	}

	// Metrics endpoint
	if cfg.Server.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
