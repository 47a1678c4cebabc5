package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academic-records-api/api/swagger"
	"github.com/noah-isme/academic-records-api/internal/handler"
	"github.com/noah-isme/academic-records-api/internal/repository"
	"github.com/noah-isme/academic-records-api/internal/service"
	"github.com/noah-isme/academic-records-api/pkg/cache"
	"github.com/noah-isme/academic-records-api/pkg/config"
	"github.com/noah-isme/academic-records-api/pkg/database"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
	"github.com/noah-isme/academic-records-api/pkg/logger"
)

// @title Academic Records API
// @version 1.0.0
// @description Evaluation schemes, marks entry and calculation, attendance and class statistics.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, statistics cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	app := buildApp(cfg, db, repository.NewStatsCacheRepository(redisClient), redisClient != nil, logr)
	app.queue.Start(ctx)
	defer app.queue.Stop()

	router := newRouter(cfg, app, logr)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

// app holds the wired handlers and background workers.
type app struct {
	auth       *handler.AuthHandler
	users      *handler.UserHandler
	schemes    *handler.SchemeHandler
	marks      *handler.MarksHandler
	attendance *handler.AttendanceHandler
	analytics  *handler.AnalyticsHandler
	audit      *handler.AuditHandler
	health     *handler.MetricsHandler

	authService  *service.AuthService
	auditService *service.AuditService
	metrics      *service.MetricsService
	queue        *jobs.Queue
}

func buildApp(cfg *config.Config, db *sqlx.DB, statsStore *repository.StatsCacheRepository, redisUp bool, logr *zap.Logger) *app {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	schemeRepo := repository.NewSchemeRepository(db)
	marksRepo := repository.NewMarksRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, logr.Named("audit"))
	statsCache := service.NewStatsCache(statsStore, metrics, cfg.Stats.CacheTTL, cfg.Stats.CacheEnabled && redisUp, logr.Named("stats_cache"))

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "academic-records-api",
	})
	userSvc := service.NewUserService(userRepo, auditSvc, validate, logr.Named("users"))
	schemeSvc := service.NewSchemeService(schemeRepo, userRepo, auditSvc, statsCache, cfg.Marks.DefaultMaxGrace, validate, logr.Named("schemes"))
	calculator := service.NewMarksCalculator(schemeRepo, attendanceRepo, marksRepo, metrics, cfg.Marks.RecalcConcurrency, logr.Named("calculator"))
	marksSvc := service.NewMarksService(service.MarksServiceConfig{
		Repo:            marksRepo,
		Schemes:         schemeRepo,
		Users:           userRepo,
		Calculator:      calculator,
		Audit:           auditSvc,
		Stats:           statsCache,
		MaxGraceRequest: cfg.Marks.MaxGraceRequest,
		Validator:       validate,
		Logger:          logr.Named("marks"),
	})
	queue := jobs.NewQueue("marks-recalculation", marksSvc.HandleRecalculationJob, jobs.QueueConfig{
		Workers:    cfg.Marks.QueueWorkers,
		MaxRetries: cfg.Marks.QueueRetries,
		Logger:     logr.Named("recalc_queue"),
	})
	marksSvc.AttachQueue(queue)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, auditSvc, validate, logr.Named("attendance"))
	statisticsSvc := service.NewStatisticsService(schemeRepo, marksRepo, statsCache, cfg.Marks.PassMark, cfg.Export.MaxRows, logr.Named("statistics"))

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisUp {
		checks["redis"] = statsStore.Ping
	}

	return &app{
		auth:         handler.NewAuthHandler(authSvc),
		users:        handler.NewUserHandler(userSvc),
		schemes:      handler.NewSchemeHandler(schemeSvc),
		marks:        handler.NewMarksHandler(marksSvc),
		attendance:   handler.NewAttendanceHandler(attendanceSvc),
		analytics:    handler.NewAnalyticsHandler(statisticsSvc, metrics),
		audit:        handler.NewAuditHandler(auditSvc),
		health:       handler.NewMetricsHandler(metrics, checks),
		authService:  authSvc,
		auditService: auditSvc,
		metrics:      metrics,
		queue:        queue,
	}
}
