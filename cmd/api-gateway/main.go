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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/icrrus-api/api/swagger"
	"github.com/noah-isme/icrrus-api/internal/handler"
	"github.com/noah-isme/icrrus-api/internal/middleware"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/realtime"
	"github.com/noah-isme/icrrus-api/internal/repository"
	"github.com/noah-isme/icrrus-api/internal/service"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	"github.com/noah-isme/icrrus-api/pkg/config"
	"github.com/noah-isme/icrrus-api/pkg/database"
	"github.com/noah-isme/icrrus-api/pkg/jobs"
	"github.com/noah-isme/icrrus-api/pkg/lock"
	"github.com/noah-isme/icrrus-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/icrrus-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/icrrus-api/pkg/middleware/requestid"
	"github.com/noah-isme/icrrus-api/pkg/storage"
)

// @title ICRRUS Booking API
// @version 1.0.0
// @description Campus resource booking requests and their multi-stage approval workflow.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type bookingStore interface {
	Create(ctx context.Context, req *models.BookingRequest) error
	GetByID(ctx context.Context, id string) (*models.BookingRequest, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingRequest, int, error)
	ListRecords(ctx context.Context, requestID string) ([]models.ApprovalRecord, error)
	Transition(ctx context.Context, params models.TransitionParams) error
	CountPendingByStage(ctx context.Context) ([]models.StageCount, error)
}

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := workflow.LoadCatalog(cfg.Workflow.TemplatesFile)
	if err != nil {
		logr.Fatal("invalid workflow templates", zap.Error(err))
	}

	checks := make(map[string]handler.ReadinessCheck)

	var (
		store bookingStore
		audit auditStore
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		if cfg.Database.RunMigrations {
			if err := database.Migrate(cfg.Database); err != nil {
				logr.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close() //nolint:errcheck
		store = repository.NewBookingRepository(db)
		audit = repository.NewAuditRepository(db)
		checks["postgres"] = pingDB(db)
	default:
		memory := repository.NewMemoryStore()
		store = memory
		audit = memory
		logr.Warn("using in-memory store; requests are lost on restart")
	}

	metrics := service.NewMetricsService()

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Enabled {
		client, err := lock.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close() //nolint:errcheck
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL, logr)
		checks["redis"] = pingRedis(client)
	}

	hub := realtime.NewHub(logr)
	go hub.Run(ctx)

	queue := jobs.NewQueue("notifications", jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
	})
	notifier := service.NewNotificationService(queue, hub, metrics, logr)
	queue.Start(ctx)
	defer queue.Stop()

	fileStore, err := storage.NewLocalStorage(cfg.Artifacts.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare artifact storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Artifacts.SignedURLSecret, cfg.Artifacts.SignedURLTTL)
	artifacts := service.NewArtifactService(fileStore, signer, audit, service.ArtifactConfig{
		APIPrefix:    cfg.APIPrefix,
		MaxFileSize:  cfg.Artifacts.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Artifacts.AllowedMIMEs,
	}, logr)

	authService := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	bookings := service.NewBookingService(store, catalog, validator.New(), logr,
		service.WithBookingLocker(locker),
		service.WithBookingAudit(audit),
		service.WithBookingAuditTrail(audit),
		service.WithBookingNotifier(notifier),
		service.WithBookingMetrics(metrics),
		service.WithArtifactChecker(artifacts),
	)
	badges := service.NewBadgeService(store, catalog, logr)
	exports := service.NewExportService(bookings, catalog, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	bookingHandler := handler.NewBookingHandler(bookings, exports, artifacts)
	approvalHandler := handler.NewApprovalHandler(badges)
	workflowHandler := handler.NewWorkflowHandler(catalog)
	artifactHandler := handler.NewArtifactHandler(artifacts, cfg.Artifacts.MaxFileSizeBytes)

	api := r.Group(cfg.APIPrefix)
	api.GET("/ws", realtime.ServeWs(hub, authService, cfg.CORS.AllowedOrigins))
	api.GET("/artifacts/download", artifactHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))
	{
		secured.POST("/bookings", middleware.RequireRoles(models.RoleAffiliateRenter, models.RoleGuestRenter, models.RoleStudent), bookingHandler.Submit)
		secured.GET("/bookings", bookingHandler.List)
		secured.GET("/bookings/:id", bookingHandler.Get)
		secured.POST("/bookings/:id/decision", middleware.RequireRoles(workflow.ApprovingRoles()...), bookingHandler.Decide)
		secured.POST("/bookings/:id/withdraw", bookingHandler.Withdraw)
		secured.GET("/bookings/:id/history", bookingHandler.History)
		secured.GET("/bookings/:id/history/export", bookingHandler.ExportHistory)
		secured.GET("/bookings/:id/artifact", bookingHandler.Artifact)
		secured.GET("/bookings/:id/audit", middleware.RequireRoles(models.RoleSuperAdmin), bookingHandler.AuditTrail)

		approvals := secured.Group("/approvals", middleware.RequireRoles(workflow.ApprovingRoles()...))
		approvals.GET("/badges", approvalHandler.Badges)
		approvals.GET("/queue", approvalHandler.Queue)

		secured.GET("/workflow/templates", workflowHandler.Templates)
		secured.POST("/workflow/classify", workflowHandler.Classify)

		secured.POST("/artifacts", middleware.RequireRoles(models.RoleAffiliateRenter, models.RoleGuestRenter, models.RoleStudent), artifactHandler.Upload)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func pingDB(db *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
