package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/aneti-platform/aneti-api/internal/handler"
	"github.com/aneti-platform/aneti-api/internal/middleware"
	"github.com/aneti-platform/aneti-api/internal/models"
	"github.com/aneti-platform/aneti-api/internal/repository"
	"github.com/aneti-platform/aneti-api/internal/service"
	"github.com/aneti-platform/aneti-api/pkg/config"
	"github.com/aneti-platform/aneti-api/pkg/logger"
	corsmiddleware "github.com/aneti-platform/aneti-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aneti-platform/aneti-api/pkg/middleware/requestid"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *handler.AuthHandler
	Applications  *handler.ApplicationHandler
	PlanChanges   *handler.PlanChangeHandler
	Plans         *handler.PlanHandler
	Users         *handler.UserHandler
	Notifications *handler.NotificationHandler
	Connections   *handler.ConnectionHandler
	Groups        *handler.GroupHandler
	Metrics       *handler.MetricsHandler
}

// New assembles the gin engine with the full route table.
func New(cfg *config.Config, logr *zap.Logger, authService *service.AuthService, metricsService *service.MetricsService, userRepo *repository.UserRepository, h Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
		auth.POST("/reset-password", h.Auth.ForgotPassword)
		auth.POST("/reset-password/confirm", h.Auth.ResetPassword)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	{
		authed.POST("/auth/logout", h.Auth.Logout)
		authed.POST("/auth/change-password", h.Auth.ChangePassword)
		authed.GET("/auth/me", h.Auth.Me)

		authed.GET("/plans", h.Plans.List)
		authed.GET("/plans/:id", h.Plans.Get)

		authed.POST("/applications", h.Applications.Submit)
		authed.GET("/applications/me", h.Applications.Mine)
		authed.GET("/applications/:id", h.Applications.Get)
		authed.GET("/applications/:id/history", h.Applications.History)
		authed.POST("/applications/:id/documents", h.Applications.ProvideDocuments)
		authed.POST("/applications/:id/appeal", h.Applications.Appeal)

		authed.POST("/plan-change-requests", h.PlanChanges.Submit)
		authed.GET("/plan-change-requests", h.PlanChanges.List)
		authed.GET("/plan-change-requests/me", h.PlanChanges.List)
		authed.GET("/plan-change-requests/:id", h.PlanChanges.Get)

		authed.GET("/notifications", h.Notifications.List)
		authed.GET("/notifications/unread-count", h.Notifications.UnreadCount)
		authed.POST("/notifications/:id/read", h.Notifications.MarkRead)
		authed.POST("/notifications/read-all", h.Notifications.MarkAllRead)

		authed.POST("/connections", h.Connections.Request)
		authed.GET("/connections", h.Connections.List)
		authed.POST("/connections/:id/accept", h.Connections.Accept)
		authed.POST("/connections/:id/reject", h.Connections.Reject)

		authed.POST("/groups", h.Groups.Create)
		authed.GET("/groups", h.Groups.List)
		authed.GET("/groups/:id", h.Groups.Get)
		authed.GET("/groups/:id/members", h.Groups.ListMembers)
		authed.POST("/groups/:id/join", h.Groups.Join)
		authed.POST("/groups/:id/leave", h.Groups.Leave)

		authed.GET("/users/:id", h.Users.Get)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(authService))
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/applications", h.Applications.List)
		admin.GET("/applications/:id", h.Applications.Get)
		admin.GET("/applications/:id/history", h.Applications.History)
		admin.POST("/applications/:id/approve", h.Applications.Approve)
		admin.POST("/applications/:id/reject", h.Applications.Reject)

		admin.GET("/plan-change-requests", h.PlanChanges.List)
		admin.POST("/plan-change-requests/:id/approve", h.PlanChanges.Approve)
		admin.POST("/plan-change-requests/:id/reject", h.PlanChanges.Reject)

		admin.POST("/notifications/broadcast", h.Notifications.Broadcast)

		admin.GET("/users", h.Users.List)
		admin.GET("/members/export",
			middleware.Audit(userRepo, "ROSTER_EXPORT", "users"),
			h.Users.Export)

		admin.POST("/plans",
			middleware.Audit(userRepo, "PLAN_CREATE", "plans"),
			h.Plans.Create)
		admin.PUT("/plans/:id",
			middleware.Audit(userRepo, "PLAN_UPDATE", "plans"),
			h.Plans.Update)
	}

	return r
}
