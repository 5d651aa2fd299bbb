package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/noah-isme/identity-api/api/swagger"
	"github.com/noah-isme/identity-api/internal/handler"
	"github.com/noah-isme/identity-api/internal/middleware"
	"github.com/noah-isme/identity-api/internal/repository"
	"github.com/noah-isme/identity-api/internal/service"
	"github.com/noah-isme/identity-api/pkg/cache"
	"github.com/noah-isme/identity-api/pkg/config"
	"github.com/noah-isme/identity-api/pkg/database"
	"github.com/noah-isme/identity-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/identity-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/identity-api/pkg/middleware/requestid"
)

// @title Identity API
// @version 1.0.0
// @description Credential issuance and validation service
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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repository.EnsureSchema(schemaCtx, db); err != nil {
		cancelSchema()
		logr.Sugar().Fatalw("failed to bootstrap schema", "error", err)
	}
	cancelSchema()

	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, login rate limiting disabled", "error", err)
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	hasher := service.NewPasswordHasher(bcrypt.DefaultCost)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiration)
	refreshStore := service.NewRefreshTokenStore(tokenRepo, cfg.JWT.RefreshExpiration, logr)
	authSvc := service.NewAuthService(userRepo, hasher, tokenSvc, refreshStore, validate, logr)
	userSvc := service.NewUserService(userRepo, hasher, validate, logr)
	metricsSvc := service.NewMetricsService()

	authHandler := handler.NewAuthHandler(authSvc, metricsSvc)
	userHandler := handler.NewUserHandler(userSvc)
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
	r.Use(middleware.Authenticate(tokenSvc, userSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group("/auth")
	{
		auth.POST("/register", userHandler.Create)
		auth.POST("/login", middleware.LoginRateLimit(redisClient, cfg.RateLimit, logr), authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", middleware.RequireIdentity(), authHandler.Me)
	}

	users := r.Group("/users", middleware.RequireIdentity())
	{
		users.GET("/:id", userHandler.Get)
	}

	go runTokenJanitor(refreshStore, cfg.Tokens.CleanupInterval, logr)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// runTokenJanitor periodically deletes expired refresh-token rows. Expired
// rows are already unusable; this only reclaims storage.
func runTokenJanitor(store *service.RefreshTokenStore, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := store.PurgeExpired(ctx, time.Now().UTC())
		cancel()
		if err != nil {
			logr.Warn("refresh token cleanup failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logr.Info("purged expired refresh tokens", zap.Int64("count", n))
		}
	}
}
