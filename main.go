package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"wordchain/config"
	"wordchain/feed"
	"wordchain/handlers"
	"wordchain/middleware"
	"wordchain/random"
	"wordchain/routes"
	"wordchain/services"
	"wordchain/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var logger *slog.Logger
	logOpts := &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}
	if cfg.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, logOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, logOpts))
	}
	slog.SetDefault(logger)

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	seed, err := random.NewSeed()
	if err != nil {
		logger.Error("failed to seed random source", "error", err)
		os.Exit(1)
	}
	src := random.New(seed)

	// Initialize services
	changes := feed.NewRedis(redisClient, logger)
	records := store.New(db, changes, logger)
	rounds := services.NewRoundEngine(records, src, services.SystemClock, logger)
	disputes := services.NewDisputeEngine(records, rounds, cfg.DisputeWindow, services.SystemClock, logger)
	lobbies := services.NewLobbyService(records, src, cfg.GameCodeLength, cfg.DefaultTimerSeconds, logger)

	// Initialize WebSocket hub
	hub := services.NewHub(rounds, disputes, lobbies, changes, services.SystemClock, logger)
	go hub.Run(ctx)

	// Initialize handlers
	lobbyHandler := handlers.NewLobbyHandler(lobbies, hub)
	gameHandler := handlers.NewGameHandler(rounds, disputes, lobbies)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, lobbyHandler, gameHandler, hub, lobbies, cfg.JWTSecret, logger)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
