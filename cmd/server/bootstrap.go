package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/api"
	"github.com/nosift/team-dh/internal/app"
	"github.com/nosift/team-dh/internal/app/schedule"
	iauth "github.com/nosift/team-dh/internal/auth"
	"github.com/nosift/team-dh/internal/database"
	"github.com/nosift/team-dh/internal/services"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
	"github.com/nosift/team-dh/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Registry *teams.Registry
	Worker   *schedule.Worker
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, the service graph, the
// background worker and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	// enable gin debug mode only on request
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := cfg.Teams.Pool()
	if err != nil {
		return nil, err
	}
	stack.Registry = teams.NewRegistry(pool)
	if usable := countUsable(pool); usable == 0 {
		log.Warn("no usable team credentials configured; redemptions and transfers will fail")
	} else {
		log.Info("team pool loaded", zap.Int("teams", len(pool)), zap.Int("usable", usable))
	}

	client := upstream.NewHTTPClient(
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		upstream.WithRetry(cfg.Upstream.RetryAttempts, cfg.Upstream.RetryBackoff),
	)

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	adminSvc, err := iauth.NewAdminService(cfg.Auth.AdminServiceConfig(), jwtSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise admin service: %w", err)
	}

	leases, err := services.NewLeaseStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise lease store: %w", err)
	}
	locks, err := services.NewLockService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise lock service: %w", err)
	}
	picker, err := services.NewTeamPicker(stack.DB, stack.Registry)
	if err != nil {
		return nil, fmt.Errorf("initialise team picker: %w", err)
	}
	executor, err := services.NewTransferExecutor(leases, picker, stack.Registry, client,
		services.WithEvictOldTeam(cfg.Transfer.EvictOldTeam),
		services.WithMaxTransferAttempts(cfg.Transfer.MaxAttempts),
		services.WithExecutorTermMonths(cfg.Transfer.TermMonths),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise transfer executor: %w", err)
	}
	joinSync, err := services.NewJoinSyncService(leases, stack.Registry, client,
		services.WithTermMonths(cfg.Transfer.TermMonths),
		services.WithApproxJoinTime(cfg.Transfer.AllowApproxJoin),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise join sync service: %w", err)
	}
	transfers, err := services.NewTransferService(leases, executor, joinSync, locks,
		services.WithSyncBatchLimit(cfg.Transfer.SyncLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise transfer service: %w", err)
	}

	codes, err := services.NewCodeService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise code service: %w", err)
	}
	redemptions, err := services.NewRedemptionService(stack.DB, codes, leases, stack.Registry, client,
		services.WithIPRateLimit(cfg.Redeem.IPRateLimit),
		services.WithRedemptionTermMonths(cfg.Transfer.TermMonths),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise redemption service: %w", err)
	}

	teamStatus, err := services.NewTeamStatusService(stack.DB, stack.Registry, client)
	if err != nil {
		return nil, fmt.Errorf("initialise team status service: %w", err)
	}

	var abnormal *services.AbnormalChecker
	if cfg.Transfer.AbnormalCheck {
		abnormal, err = services.NewAbnormalChecker(stack.DB, leases, executor)
		if err != nil {
			return nil, fmt.Errorf("initialise abnormal checker: %w", err)
		}
	}

	sweeper := transfers
	if !cfg.Transfer.Enabled {
		log.Warn("automatic transfers disabled; leases will only move via the admin api")
		sweeper = nil
	}
	stack.Worker = schedule.NewWorker(sweeper, teamStatus, abnormal,
		schedule.WithSweepInterval(cfg.Transfer.PollInterval),
		schedule.WithBatchLimit(cfg.Transfer.BatchLimit),
		schedule.WithStatusInterval(cfg.Transfer.StatusInterval),
		schedule.WithAbnormalInterval(cfg.Transfer.AbnormalEvery),
	)
	if err := stack.Worker.Start(); err != nil {
		return nil, fmt.Errorf("start background worker: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Deps{
		DB:          stack.DB,
		JWT:         jwtSvc,
		Admin:       adminSvc,
		Registry:    stack.Registry,
		Client:      client,
		Leases:      leases,
		Transfers:   transfers,
		Codes:       codes,
		Redemptions: redemptions,
		TeamStatus:  teamStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Worker != nil {
		stopCtx := s.Worker.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func countUsable(pool []teams.Team) int {
	n := 0
	for _, t := range pool {
		if t.Usable() {
			n++
		}
	}
	return n
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
