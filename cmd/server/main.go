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
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mkarlin/llm-playground/internal/api"
	"github.com/mkarlin/llm-playground/internal/audit"
	"github.com/mkarlin/llm-playground/internal/auth"
	"github.com/mkarlin/llm-playground/internal/conversations"
	"github.com/mkarlin/llm-playground/internal/db"
	"github.com/mkarlin/llm-playground/internal/llm"
	"github.com/mkarlin/llm-playground/internal/store"
	"github.com/mkarlin/llm-playground/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	postgres, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("postgres: failed to connect", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.Ping(ctx); err != nil {
		logger.Fatal("postgres: ping failed", zap.Error(err))
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		logger.Fatal("postgres: ensure schema", zap.Error(err))
	}

	users := store.NewUsers(postgres.Pool)
	convStore := store.NewConversations(postgres.Pool)
	prompts := store.NewPrompts(postgres.Pool)

	authService, err := auth.NewService(users, cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("failed to initialise auth service", zap.Error(err))
	}

	if err := authService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Fatal("failed to seed admin user", zap.Error(err))
	}

	gateway := llm.NewGateway(cfg.OpenAI, cfg.Anthropic, cfg.LLMTimeout, logger)
	titler := llm.NewTitleSynthesizer(gateway)
	convService := conversations.NewService(convStore, titler, logger)

	var recorder audit.Recorder = audit.NopRecorder{}
	if cfg.Mongo.URI != "" {
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			logger.Fatal("mongo: failed to connect", zap.Error(err))
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warn("mongo: close error", zap.Error(err))
			}
		}()

		if err := mongoStore.EnsureCollections(ctx); err != nil {
			logger.Fatal("mongo: ensure collections", zap.Error(err))
		}

		recorder = audit.NewMongoRecorder(mongoStore.GenerateLogs, logger)
	}

	var generateLimiter gin.HandlerFunc
	if cfg.Redis.Addr != "" {
		redisClient, err := db.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Fatal("redis: failed to connect", zap.Error(err))
		}
		defer redisClient.Close()

		generateLimiter = api.RedisRateLimit(redisClient, cfg.RateLimit.GeneratePerMinute, logger)
	}

	router := setupRouter(api.Deps{
		Auth:            authService,
		Conversations:   convService,
		Prompts:         prompts,
		Gateway:         gateway,
		Audit:           recorder,
		GenerateLimiter: generateLimiter,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

func setupRouter(deps api.Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(deps).RegisterRoutes(router)

	return router
}
