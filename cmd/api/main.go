package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/aneti-platform/aneti-api/api/swagger"
	"github.com/aneti-platform/aneti-api/internal/handler"
	"github.com/aneti-platform/aneti-api/internal/repository"
	"github.com/aneti-platform/aneti-api/internal/router"
	"github.com/aneti-platform/aneti-api/internal/service"
	"github.com/aneti-platform/aneti-api/pkg/cache"
	"github.com/aneti-platform/aneti-api/pkg/config"
	"github.com/aneti-platform/aneti-api/pkg/database"
	"github.com/aneti-platform/aneti-api/pkg/export"
	"github.com/aneti-platform/aneti-api/pkg/jobs"
	"github.com/aneti-platform/aneti-api/pkg/logger"
)

// @title ANETI API
// @version 1.0.0
// @description Membership association platform: applications, plan changes, notifications
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	planRepo := repository.NewPlanRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	planChangeRepo := repository.NewPlanChangeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	reviewEventRepo := repository.NewReviewEventRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	transactor := repository.NewTransactor(db)

	// Services.
	metricsService := service.NewMetricsService()

	notificationService := service.NewNotificationService(notificationRepo, userRepo, groupRepo, userRepo, logr)
	notificationService.AttachMetrics(metricsService)

	queue := jobs.NewQueue("notifications", notificationService.HandleSocialJob, jobs.QueueConfig{
		Workers:    cfg.Notifications.QueueWorkers,
		BufferSize: cfg.Notifications.QueueBuffer,
		MaxRetries: cfg.Notifications.QueueMaxRetries,
		RetryDelay: cfg.Notifications.QueueRetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()
	notificationService.AttachQueue(queue)

	resetTokens := service.NewResetTokenStore(redisClient, cfg.PasswordReset.TokenTTL)

	authService := service.NewAuthService(userRepo, resetTokens, notificationService, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "aneti-api",
		Audience:           []string{"aneti-clients"},
	})

	applicationService := service.NewApplicationService(
		applicationRepo, planRepo, userRepo, reviewEventRepo,
		notificationService, transactor, userRepo, logr,
	)
	planChangeService := service.NewPlanChangeService(
		planChangeRepo, planRepo, userRepo, userRepo, reviewEventRepo,
		notificationService, transactor, userRepo, logr,
	)
	planService := service.NewPlanService(planRepo, logr)
	connectionService := service.NewConnectionService(connectionRepo, userRepo, notificationService, logr)
	groupService := service.NewGroupService(groupRepo, logr)
	userService := service.NewUserService(userRepo, export.NewCSVExporter(), export.NewPDFExporter(), service.ExportConfig{
		Enabled: cfg.Exports.Enabled,
		MaxRows: cfg.Exports.MaxRows,
	}, logr)

	handlers := router.Handlers{
		Auth:          handler.NewAuthHandler(authService),
		Applications:  handler.NewApplicationHandler(applicationService),
		PlanChanges:   handler.NewPlanChangeHandler(planChangeService),
		Plans:         handler.NewPlanHandler(planService),
		Users:         handler.NewUserHandler(userService),
		Notifications: handler.NewNotificationHandler(notificationService),
		Connections:   handler.NewConnectionHandler(connectionService),
		Groups:        handler.NewGroupHandler(groupService),
		Metrics:       handler.NewMetricsHandler(metricsService, db, redisClient),
	}

	engine := router.New(cfg, logr, authService, metricsService, userRepo, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
