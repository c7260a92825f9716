package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compliance-platform/internal/alerts"
	"compliance-platform/internal/approval"
	"compliance-platform/internal/auth"
	"compliance-platform/internal/config"
	"compliance-platform/internal/doctrine"
	"compliance-platform/internal/httpapi"
	"compliance-platform/internal/impact"
	"compliance-platform/internal/ledger"
	"compliance-platform/internal/matcher"
	"compliance-platform/internal/reporting"
	"compliance-platform/pkg/logger"
	"compliance-platform/pkg/metrics"
	"compliance-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Wiring. One repository, one lock manager, one metrics collector;
	// services share them so every mutation lands in the same ledger.
	repo := doctrine.NewPostgresRepo(db)
	locks := doctrine.NewRedisLocker(rdb)
	collector := metrics.NewCollector()

	ruleSvc := doctrine.NewService(repo, locks, collector)
	approvalSvc := approval.NewService(repo, locks, collector)
	ledgerSvc := ledger.NewService(repo)
	matchSvc := matcher.NewService(repo)
	impactSvc := impact.NewService(impact.NewPostgresExposureStore(db), repo, collector)
	mediator := alerts.NewMediator(matchSvc, repo, collector)
	reportSvc := reporting.NewService(repo)

	h := httpapi.Handlers{
		Auth:          authManager,
		Rules:         ruleSvc,
		Approvals:     approvalSvc,
		Ledger:        ledgerSvc,
		Impact:        impactSvc,
		Mediator:      mediator,
		Reports:       reportSvc,
		ImpactTimeout: cfg.Impact.SimulationTimeout,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), gin.WrapH(collector.Handler()))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
