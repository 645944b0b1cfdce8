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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/open-sis/registrar-api/api/swagger"
	"github.com/open-sis/registrar-api/internal/handler"
	"github.com/open-sis/registrar-api/internal/middleware"
	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/repository"
	"github.com/open-sis/registrar-api/internal/service"
	"github.com/open-sis/registrar-api/pkg/cache"
	"github.com/open-sis/registrar-api/pkg/config"
	"github.com/open-sis/registrar-api/pkg/database"
	"github.com/open-sis/registrar-api/pkg/logger"
	corsmiddleware "github.com/open-sis/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/open-sis/registrar-api/pkg/middleware/requestid"
	"github.com/open-sis/registrar-api/pkg/storage"
)

// @title Registrar API
// @version 0.1.0
// @description Enrollment and academic-state engine
// @BasePath /
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
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, seat counts served from postgres only", "error", err)
		redisClient = nil
	}

	files, err := storage.NewLocalStorage(cfg.Transcripts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare transcript storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Transcripts.SignedURLSecret, cfg.Transcripts.SignedURLTTL)

	validate := validator.New()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	offeringRepo := repository.NewOfferingRepository(db)
	termRepo := repository.NewTermRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	transcriptRepo := repository.NewTranscriptRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, offeringRepo, termRepo, cacheRepo, metricsSvc, validate, logr)
	gradeSvc := service.NewGradeService(enrollmentRepo, studentRepo, termRepo, metricsSvc, validate, logr)
	offeringSvc := service.NewOfferingService(offeringRepo, enrollmentRepo, cacheRepo, cfg.Enrollment.SeatCountCacheTTL, metricsSvc, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)
	termSvc := service.NewTermService(termRepo)
	courseSvc := service.NewCourseService(courseRepo)
	transcriptSvc := service.NewTranscriptService(transcriptRepo, studentRepo, files, signer, service.TranscriptServiceConfig{
		WorkerConcurrency: cfg.Transcripts.WorkerConcurrency,
		WorkerRetries:     cfg.Transcripts.WorkerRetries,
	}, logr)

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc)
	offeringHandler := handler.NewOfferingHandler(offeringSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	termHandler := handler.NewTermHandler(termSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	transcriptHandler := handler.NewTranscriptHandler(transcriptSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registrar := models.RoleRegistrar
	instructor := models.RoleInstructor
	student := models.RoleStudent

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))
	{
		api.GET("/enrollments", middleware.RequireRoles(registrar, instructor), enrollmentHandler.List)
		api.GET("/enrollments/:id", middleware.RequireRoles(registrar, instructor, student), enrollmentHandler.Get)
		api.POST("/enrollments", middleware.RequireRoles(registrar, student), enrollmentHandler.Request)
		api.DELETE("/enrollments/:id", middleware.RequireRoles(registrar, student), enrollmentHandler.Drop)

		api.POST("/grades", middleware.RequireRoles(registrar, instructor), gradeHandler.Submit)

		api.GET("/students", middleware.RequireRoles(registrar, instructor), studentHandler.List)
		api.GET("/students/:id", middleware.RBAC("REGISTRAR", "INSTRUCTOR", "SELF"), studentHandler.Get)
		api.GET("/students/:id/academics", middleware.RBAC("REGISTRAR", "INSTRUCTOR", "SELF"), studentHandler.Academics)
		api.GET("/students/:id/enrollments", middleware.RBAC("REGISTRAR", "INSTRUCTOR", "SELF"), enrollmentHandler.ListForStudent)
		api.POST("/students/:id/transcripts", middleware.RBAC("REGISTRAR", "SELF"), transcriptHandler.Request)

		api.GET("/transcripts/:jobId", middleware.RequireRoles(registrar, instructor, student), transcriptHandler.Status)

		api.GET("/offerings", offeringHandler.List)
		api.GET("/offerings/:id", offeringHandler.Get)
		api.GET("/offerings/:id/seats", offeringHandler.SeatCounts)
		api.PATCH("/offerings/:id/capacity", middleware.RequireRoles(registrar), offeringHandler.RaiseCapacity)
		api.PATCH("/offerings/:id/open", middleware.RequireRoles(registrar), offeringHandler.SetOpen)

		api.GET("/terms", termHandler.List)
		api.GET("/terms/active", termHandler.Active)
		api.GET("/terms/:id", termHandler.Get)
		api.GET("/courses", courseHandler.List)
		api.GET("/courses/:id", courseHandler.Get)

		api.GET("/metrics/summary", middleware.RequireRoles(registrar), metricsHandler.Summary)
	}

	// Download is authorized by the signed token itself.
	r.GET(cfg.APIPrefix+"/transcripts/download", transcriptHandler.Download)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriptSvc.Start(ctx)
	defer transcriptSvc.Stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if err := cacheRepo.Close(); err != nil {
		logr.Sugar().Warnw("failed to close redis", "error", err)
	}
}
