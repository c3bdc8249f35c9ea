package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/gotradegate/tradegate/internal/config"
	"github.com/gotradegate/tradegate/internal/handler"
	"github.com/gotradegate/tradegate/internal/middleware"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
	"github.com/gotradegate/tradegate/internal/repository"
	"github.com/gotradegate/tradegate/internal/service"
	"github.com/gotradegate/tradegate/internal/stream"
)

func main() {
	logger.Init(os.Getenv("TRADEGATE_LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Shared state (Redis > memory).
	var (
		redisClient  *repository.RedisClient
		counterStore service.CounterStore
		revocation   service.RevocationStore
	)
	if cfg.Redis.Addr != "" {
		client, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
			redisClient = client
			counterStore = repository.NewRedisCounterStore(client)
			revocation = repository.NewRedisRevocationStore(client)
		} else {
			logger.Error("Failed to connect to Redis, rate limiting and revocation stay per-instance", "error", err)
		}
	}

	// Durable stores (Postgres > Redis ring > memory).
	var (
		credRepo  service.CredentialRepo
		eventRepo service.EventRepo
		pgEvents  *repository.PostgresEventRepo
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			credRepo = repository.NewPostgresCredentialRepo(db)
			pgEvents = repository.NewPostgresEventRepo(db)
			eventRepo = pgEvents
		} else {
			logger.Error("Failed to connect to DB, credentials and events stay in memory", "error", err)
		}
	}
	if eventRepo == nil && redisClient != nil {
		eventRepo = repository.NewRedisEventRepo(redisClient, cfg.Redis.EventListKey, cfg.Redis.EventListMax)
	}

	// Core services.
	store := service.NewCredentialStore(credRepo)
	access := service.NewAccessControl()

	limiter := service.NewRateLimiter(counterStore, cfg.RateLimit.DefaultLimit, time.Duration(cfg.RateLimit.DefaultWindowSeconds)*time.Second)
	for _, e := range cfg.RateLimit.Endpoints {
		limiter.Configure(e.Endpoint, e.Limit, time.Duration(e.WindowSeconds)*time.Second)
	}

	auth := service.NewAuthManager(store, revocation,
		[]byte(cfg.Auth.JWTSecret),
		time.Duration(cfg.Auth.TokenTTLSeconds)*time.Second,
		time.Duration(cfg.Auth.HMACToleranceSeconds)*time.Second)

	auditSvc, err := service.NewAuditService(cfg.Audit.Dir, cfg.Audit.BufferSize, eventRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	guard := service.NewTradingGuard(access, limiter, auditSvc,
		decimal.NewFromFloat(cfg.Guard.DefaultTxLimit),
		service.GuardThresholds{
			ActivityWindow:   time.Duration(cfg.Guard.ActivityWindowSeconds) * time.Second,
			HighRiskOps:      cfg.Guard.HighRiskThreshold,
			TotalOps:         cfg.Guard.TotalOpsThreshold,
			RepeatedOp:       cfg.Guard.RepeatOpThreshold,
			RecentAuthWindow: time.Duration(cfg.Guard.RecentAuthWindowSeconds) * time.Second,
		})

	sec := service.NewSecurityManager(auth, limiter, access, guard, auditSvc)
	if cfg.Guard.TradeRateLimit > 0 {
		window := time.Duration(cfg.Guard.TradeRateWindowSeconds) * time.Second
		for _, op := range guard.Operations() {
			limiter.Configure("trading/"+op, cfg.Guard.TradeRateLimit, window)
		}
	}

	users := service.NewUserService(store, access, guard, auth)
	users.Seed(context.Background(), cfg.Users)

	hub := stream.NewHub()
	auditSvc.Subscribe(hub.Publish)

	lockdown := middleware.NewLockdownSwitch(cfg.Lockdown)

	// Handlers.
	publicHandler := handler.NewPublicHandler()
	authorizeHandler := handler.NewAuthorizeHandler(sec)
	userHandler := handler.NewUserHandler(users)
	keyHandler := handler.NewKeyHandler(users)
	tokenHandler := handler.NewTokenHandler(auth)
	eventHandler := handler.NewEventHandler(auditSvc)
	adminHandler := handler.NewAdminHandler(lockdown)

	// Router.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.Metrics())
	r.Use(middleware.IPRateLimit(cfg.RateLimit.IPQPS, cfg.RateLimit.IPBurst))
	r.Use(middleware.Audit(auditSvc))

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.Lockdown(lockdown))
	v1.Use(middleware.Auth(sec))
	{
		v1.GET("/public/health", publicHandler.Health)
		v1.GET("/public/time", publicHandler.Time)
		v1.POST("/authorize", authorizeHandler.Authorize)
		v1.GET("/authorize/resources", authorizeHandler.Resources)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.Lockdown(lockdown))
	admin.Use(middleware.AdminAuth(cfg.Auth.AdminKey, sec))
	{
		admin.POST("/users", userHandler.Create)
		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.DELETE("/users/:id", userHandler.Delete)
		admin.POST("/users/:id/roles", userHandler.AssignRole)
		admin.DELETE("/users/:id/roles/:role", userHandler.RevokeRole)
		admin.PUT("/users/:id/limit", userHandler.SetLimit)
		admin.GET("/users/:id/limit", userHandler.GetLimit)

		admin.POST("/keys", keyHandler.Create)
		admin.GET("/keys", keyHandler.List)
		admin.DELETE("/keys/:key", keyHandler.Delete)

		admin.POST("/tokens", tokenHandler.Issue)
		admin.POST("/tokens/revoke", tokenHandler.Revoke)

		admin.GET("/events", eventHandler.List)
		admin.GET("/events/stream", hub.ServeWS)

		admin.POST("/lockdown", adminHandler.SetLockdown)
		admin.GET("/lockdown", adminHandler.GetLockdown)
	}

	// Event retention sweep, Postgres only.
	retentionDone := make(chan struct{})
	if pgEvents != nil && cfg.Database.EventRetentionDays > 0 {
		interval := time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					horizon := time.Now().UTC().AddDate(0, 0, -cfg.Database.EventRetentionDays)
					if n, err := pgEvents.Purge(context.Background(), horizon); err != nil {
						logger.Error("Event retention sweep failed", "error", err)
					} else if n > 0 {
						logger.Info("Purged expired security events", "count", n)
					}
				case <-retentionDone:
					return
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("tradegate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(retentionDone)
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	auditSvc.Close()

	logger.Info("Server exiting")
}
