package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/livechat/internal/api"
	"github.com/dom/livechat/internal/cache"
	"github.com/dom/livechat/internal/config"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/repository/postgres"
	"github.com/dom/livechat/internal/service"
	"github.com/dom/livechat/internal/websocket"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file; environment variables override it")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		applog.Init("development")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	applog.Init(cfg.Environment)

	// Initialize database
	gormLevel := logger.Warn
	if cfg.IsProduction() {
		gormLevel = logger.Error
	}
	db, err := postgres.NewConnection(cfg.DatabaseURL, gormLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	repos := postgres.NewRepositories(db)

	// Recent-message cache: Redis when configured, in-process otherwise
	var messageCache cache.MessageCache
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		messageCache = cache.NewRedisCache(client, cfg.CacheTTL)
		log.Info().Msg("using redis message cache")
	} else {
		messageCache = cache.NewMemoryCache(cfg.CacheTTL)
		log.Info().Msg("using in-process message cache")
	}

	services := service.NewServices(repos, messageCache, cfg)

	registry := websocket.NewRegistry()
	gateway := websocket.NewGateway(registry, services.Auth, services.Chat, websocket.GatewayConfig{
		AllowedOrigins:    cfg.AllowedOrigins,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})

	router, authLimiter := api.NewRouter(services, gateway, cfg)
	defer authLimiter.Stop()

	// No WriteTimeout: it would also cut off long-lived websocket connections.
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Environment).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	if err := gateway.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("websocket sessions did not close in time")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
