package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/smartattend-api/api/swagger"
	"github.com/noah-isme/smartattend-api/internal/biometric"
	"github.com/noah-isme/smartattend-api/internal/handler"
	"github.com/noah-isme/smartattend-api/internal/repository"
	"github.com/noah-isme/smartattend-api/internal/service"
	"github.com/noah-isme/smartattend-api/pkg/cache"
	"github.com/noah-isme/smartattend-api/pkg/config"
	"github.com/noah-isme/smartattend-api/pkg/database"
	"github.com/noah-isme/smartattend-api/pkg/logger"
)

// @title SmartAttend API
// @version 1.0.0
// @description Campus attendance verification service
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	loc := service.LoadLocation(cfg.Attendance.Timezone)
	clock := service.NewSystemClock(loc)

	var cacheRepo service.CacheRepository
	readiness := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		readiness["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr, cacheRepo != nil)

	sessionRepo := repository.NewSessionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	anomalyRepo := repository.NewAnomalyRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	sessionSvc := service.NewSessionService(sessionRepo, service.NewRandomCodeGenerator(nil), clock, validate, metrics, cacheSvc, logr, service.SessionServiceConfig{
		Location:        loc,
		CodeMaxAttempts: cfg.Attendance.CodeMaxAttempts,
	})
	anomalySvc := service.NewAnomalyService(anomalyRepo, clock, metrics, logr)
	verificationSvc := service.NewVerificationService(sessionRepo, studentRepo, enrollmentRepo, attendanceRepo, anomalySvc, cacheSvc, metrics, clock, validate, logr, service.VerificationConfig{
		Location:              loc,
		LateThreshold:         cfg.Attendance.LateThreshold,
		FaceConfidenceFloor:   cfg.Attendance.FaceConfidenceFloor,
		FaceHighSeverityBelow: cfg.Attendance.FaceHighSeverityBelow,
		StrictSignCount:       cfg.Attendance.StrictSignCount,
		FailedAttemptLimit:    cfg.Attendance.FailedAttemptLimit,
		FailedAttemptWindow:   cfg.Attendance.FailedAttemptWindow,
	})
	reportSvc := service.NewAttendanceReportService(sessionRepo, enrollmentRepo, studentRepo, attendanceRepo, cacheSvc, clock, logr, service.AttendanceReportConfig{
		Location: loc,
		CacheTTL: cfg.Reports.CacheTTL,
	})
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, enrollmentRepo, cacheSvc, clock, logr, service.AnalyticsConfig{
		Location: loc,
		CacheTTL: cfg.Reports.CacheTTL,
	})
	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	faces, err := biometric.New(cfg.Biometrics, nil, logr)
	if err != nil {
		logr.Fatal("failed to configure face matcher", zap.Error(err))
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
	}, handler.Handlers{
		Sessions:   handler.NewSessionHandler(sessionSvc),
		Attendance: handler.NewAttendanceHandler(verificationSvc, faces, logr),
		Reports:    handler.NewReportHandler(reportSvc),
		Anomalies:  handler.NewAnomalyHandler(anomalySvc),
		Analytics:  handler.NewAnalyticsHandler(analyticsSvc),
		Metrics:    handler.NewMetricsHandler(metrics, readiness),
	}, authSvc, metrics, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "biometrics", cfg.Biometrics.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
