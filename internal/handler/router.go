package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/middleware"
	"github.com/noah-isme/smartattend-api/internal/models"
	"github.com/noah-isme/smartattend-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/smartattend-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/smartattend-api/pkg/middleware/requestid"
)

// RouterConfig holds the HTTP surface options.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Sessions   *SessionHandler
	Attendance *AttendanceHandler
	Reports    *ReportHandler
	Anomalies  *AnomalyHandler
	Analytics  *AnalyticsHandler
	Metrics    *MetricsHandler
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(cfg RouterConfig, h Handlers, auth middleware.TokenValidator, observer middleware.RequestObserver, logr *zap.Logger) *gin.Engine {
	if logr == nil {
		logr = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(observer))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	staffOrSelf := middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), middleware.SelfStudent)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(auth))

	sessions := api.Group("/sessions")
	sessions.POST("", staff, h.Sessions.Create)
	sessions.GET("", h.Sessions.List)
	sessions.GET("/active", h.Sessions.Active)
	sessions.GET("/:id", h.Sessions.Get)
	sessions.POST("/:id/activate", staff, h.Sessions.Activate)
	sessions.POST("/:id/deactivate", staff, h.Sessions.Deactivate)
	sessions.GET("/:id/summary", staff, h.Reports.SessionSummary)
	sessions.GET("/:id/attendance", staff, h.Reports.SessionAttendance)
	sessions.GET("/:id/export", staff, h.Reports.Export)

	attendance := api.Group("/attendance")
	attendance.POST("/verify", h.Attendance.Verify)
	attendance.POST("/manual", staff, h.Attendance.Manual)
	attendance.PATCH("/:id/status", staff, h.Attendance.UpdateStatus)

	students := api.Group("/students")
	students.GET("/:id/attendance", staffOrSelf, h.Reports.StudentAttendance)
	students.GET("/:id/attendance-report", staffOrSelf, h.Reports.StudentReport)

	anomalies := api.Group("/anomalies")
	anomalies.Use(staff)
	anomalies.GET("", h.Anomalies.List)
	anomalies.GET("/stats", h.Anomalies.Stats)
	anomalies.GET("/:id", h.Anomalies.Get)
	anomalies.POST("/:id/resolve", h.Anomalies.Resolve)
	anomalies.POST("/:id/dismiss", h.Anomalies.Dismiss)

	analytics := api.Group("/analytics")
	analytics.Use(staff)
	analytics.GET("/courses/:id", h.Analytics.Course)
	analytics.GET("/trends", h.Analytics.Trends)
	analytics.GET("/risk-report", h.Analytics.RiskReport)

	metrics := api.Group("/metrics")
	metrics.Use(middleware.RequireRoles(models.RoleAdmin))
	metrics.GET("/summary", h.Metrics.Summary)

	return r
}
