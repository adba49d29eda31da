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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/care-waitlist-api/api/swagger"
	"github.com/noah-isme/care-waitlist-api/internal/handler"
	"github.com/noah-isme/care-waitlist-api/internal/middleware"
	"github.com/noah-isme/care-waitlist-api/internal/repository"
	"github.com/noah-isme/care-waitlist-api/internal/service"
	"github.com/noah-isme/care-waitlist-api/pkg/cache"
	"github.com/noah-isme/care-waitlist-api/pkg/config"
	"github.com/noah-isme/care-waitlist-api/pkg/database"
	"github.com/noah-isme/care-waitlist-api/pkg/jobs"
	"github.com/noah-isme/care-waitlist-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/care-waitlist-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/care-waitlist-api/pkg/middleware/requestid"
)

// @title Care Waitlist API
// @version 0.1.0
// @description Capacity allocation and waitlist offer engine for childcare facilities
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
		logr.Sugar().Warnw("redis unavailable, capacity snapshots uncached", "error", err)
		redisClient = nil
	}

	// Repositories.
	facilityRepo := repository.NewFacilityRepository(db)
	programRepo := repository.NewProgramRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	ruleRepo := repository.NewPriorityRuleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services. The lifecycle events queue and the advance service form a
	// cycle with the offer service, broken by two-phase construction.
	metricsSvc := service.NewMetricsService()

	var notifier service.Notifier = service.NewLogNotifier(logr)
	events := service.NewLifecycleEvents(notifier, logr, jobs.QueueConfig{
		Workers: cfg.Sweep.Workers,
	})

	capacitySvc := service.NewCapacityService(db, facilityRepo, programRepo, offerRepo,
		bookingRepo, waitlistRepo, auditRepo, cacheRepo, metricsSvc, logr,
		service.CapacityServiceConfig{
			ReserveRetries: cfg.Offers.ReserveRetries,
			ReserveBackoff: cfg.Offers.ReserveBackoff,
			SnapshotTTL:    cfg.Capacity.SnapshotTTL,
		})

	rankingSvc := service.NewRankingService(waitlistRepo, ruleRepo, programRepo, offerRepo, logr)

	offerSvc := service.NewOfferService(offerRepo, waitlistRepo, facilityRepo, programRepo,
		rankingSvc, capacitySvc, auditRepo, events, metricsSvc, logr,
		service.OfferServiceConfig{
			DefaultWindowHours: cfg.Offers.DefaultWindowHours,
			SweepBatchSize:     cfg.Sweep.BatchSize,
			ReminderLead:       cfg.Offers.ReminderLead,
		})

	advanceSvc := service.NewAdvanceService(rankingSvc, offerSvc, facilityRepo, auditRepo, logr)
	events.SetAdvancer(advanceSvc)

	waitlistSvc := service.NewWaitlistService(waitlistRepo, facilityRepo, programRepo,
		auditRepo, auditRepo, events, logr)

	exportSvc := service.NewExportService(rankingSvc, logr)

	// Background workers.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events.Start(ctx)
	defer events.Stop()

	if cfg.Sweep.Enabled {
		sweepWorker := service.NewSweepWorker(offerSvc, cfg.Sweep.Interval, logr)
		sweepWorker.Start(ctx)
		defer sweepWorker.Stop()
	}

	// HTTP surface.
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)
	offerHandler := handler.NewOfferHandler(offerSvc)
	capacityHandler := handler.NewCapacityHandler(capacitySvc, rankingSvc, advanceSvc, exportSvc)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/waitlist", waitlistHandler.Join)
		api.GET("/waitlist", waitlistHandler.List)
		api.GET("/waitlist/:entryId", waitlistHandler.Get)
		api.DELETE("/waitlist/:entryId", waitlistHandler.Remove)
		api.GET("/waitlist/:entryId/history", waitlistHandler.History)
		api.POST("/waitlist/:entryId/pause", waitlistHandler.Pause)
		api.POST("/waitlist/:entryId/resume", waitlistHandler.Resume)

		api.POST("/offers", offerHandler.Create)
		api.POST("/offers/sweep", offerHandler.Sweep)
		api.GET("/offers/:offerId", offerHandler.Get)
		api.POST("/offers/:offerId/respond", offerHandler.Respond)
		api.POST("/offers/:offerId/deposit", offerHandler.ConfirmDeposit)

		api.GET("/facilities/:facilityId/offers", offerHandler.ListByFacility)
		api.GET("/facilities/:facilityId/capacity", capacityHandler.Check)
		api.GET("/facilities/:facilityId/ranking", capacityHandler.Ranking)
		api.POST("/facilities/:facilityId/advance", capacityHandler.Advance)
		if cfg.Exports.Enabled {
			api.GET("/facilities/:facilityId/waitlist/export", capacityHandler.Export)
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := cacheRepo.Close(); err != nil {
		logr.Warn("redis close failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
