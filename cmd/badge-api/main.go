package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/badge-platform-api/api/swagger"
	"github.com/noah-isme/badge-platform-api/internal/handler"
	"github.com/noah-isme/badge-platform-api/internal/middleware"
	"github.com/noah-isme/badge-platform-api/internal/models"
	"github.com/noah-isme/badge-platform-api/internal/repository"
	"github.com/noah-isme/badge-platform-api/internal/service"
	"github.com/noah-isme/badge-platform-api/pkg/cache"
	"github.com/noah-isme/badge-platform-api/pkg/config"
	"github.com/noah-isme/badge-platform-api/pkg/database"
	"github.com/noah-isme/badge-platform-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/badge-platform-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/badge-platform-api/pkg/middleware/requestid"
	"github.com/noah-isme/badge-platform-api/pkg/storage"
)

const pendingGaugeInterval = 30 * time.Second

// @title Badge Platform API
// @version 1.0.0
// @description Badge issuance and progression service
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

	// Redis is optional: progress views fall back to direct computation
	// when the cache is unavailable.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, progress caching disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	awardRepo := repository.NewAwardRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, auditRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "badge-platform-api",
	})

	progressSvc := service.NewProgressService(awardRepo, catalogRepo, cacheRepo, auditRepo, metricsSvc, logr, service.ProgressServiceConfig{
		CacheTTL: cfg.Progress.CacheTTL,
	})

	requestSvc := service.NewRequestService(requestRepo, catalogRepo, awardRepo, progressSvc, auditRepo, metricsSvc, nil, logr)

	auditSvc := service.NewAuditService(auditRepo, logr)

	transcriptCfg := service.TranscriptServiceConfig{
		Enabled:           cfg.Transcripts.Enabled,
		WorkerConcurrency: cfg.Transcripts.WorkerConcurrency,
		WorkerRetries:     cfg.Transcripts.WorkerRetries,
	}
	var transcriptSvc *service.TranscriptService
	if cfg.Transcripts.Enabled {
		store, err := storage.NewLocalStorage(cfg.Transcripts.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init transcript storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Transcripts.SignedURLSecret, cfg.Transcripts.SignedURLTTL)
		transcriptSvc = service.NewTranscriptService(awardRepo, catalogRepo, store, signer, nil, logr, transcriptCfg)
	} else {
		transcriptSvc = service.NewTranscriptService(awardRepo, catalogRepo, nil, nil, nil, logr, transcriptCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriptSvc.Start(ctx)
	defer transcriptSvc.Stop()

	go refreshPendingGauge(ctx, requestRepo, metricsSvc)

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	awardHandler := handler.NewAwardHandler(progressSvc)
	progressHandler := handler.NewProgressHandler(progressSvc)
	transcriptHandler := handler.NewTranscriptHandler(transcriptSvc)
	auditHandler := handler.NewAuditHandler(auditSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	authSession := auth.Group("", middleware.JWT(authSvc))
	authSession.POST("/logout", authHandler.Logout)
	authSession.GET("/me", authHandler.Me)

	// Download links carry their own signed token, so no session is needed.
	api.GET("/transcripts/download", transcriptHandler.Download)

	secured := api.Group("", middleware.JWT(authSvc))

	secured.POST("/requests", requestHandler.Submit)
	secured.GET("/requests", requestHandler.List)
	secured.GET("/requests/:id", requestHandler.Get)

	review := secured.Group("/requests", middleware.RequireRoles(models.RoleAdmin, models.RoleReviewer))
	review.GET("/pending", requestHandler.ListPending)
	review.POST("/:id/approve", requestHandler.Approve)
	review.POST("/:id/reject", requestHandler.Reject)

	secured.GET("/awards", awardHandler.ListMine)
	secured.GET("/users/:userId/awards", middleware.RequireRoles(models.RoleAdmin, models.RoleReviewer), awardHandler.ListForUser)

	secured.GET("/programs", progressHandler.ListPrograms)
	secured.GET("/programs/:programId/progress", progressHandler.ProgramProgress)
	secured.GET("/skills/:skillId/progress", progressHandler.SkillProgress)
	secured.GET("/progress/summary", progressHandler.Summary)

	secured.POST("/transcripts", transcriptHandler.Request)
	secured.GET("/transcripts/:id", transcriptHandler.GetJob)

	admin := secured.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/skills/:skillId/awards", awardHandler.GrantSkill)
	admin.POST("/programs/:programId/awards", awardHandler.GrantProgram)
	admin.GET("/audit-logs", middleware.Audit(auditRepo, "AUDIT_TRAIL_VIEW", "audit"), auditHandler.List)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}

// refreshPendingGauge keeps the pending-requests gauge roughly current.
func refreshPendingGauge(ctx context.Context, repo *repository.RequestRepository, metrics *service.MetricsService) {
	ticker := time.NewTicker(pendingGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := repo.CountPending(ctx)
			if err != nil {
				continue
			}
			metrics.SetPendingRequests(count)
		}
	}
}
