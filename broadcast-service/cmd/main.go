package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/aaronwang/bidlord/broadcast-service/internal/redis"
	wsHandler "github.com/aaronwang/bidlord/broadcast-service/internal/websocket"
	"github.com/aaronwang/bidlord/shared/broadcast"
	"github.com/aaronwang/bidlord/shared/config"
	"github.com/aaronwang/bidlord/shared/logger"
	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/aaronwang/bidlord/shared/redisconn"
)

func main() {
	config.LoadDotEnv()
	cfg := loadConfig()
	log := logger.Setup(logger.Options{Service: "broadcast-service", Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info("Starting Broadcast Service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisconn.Connect(ctx, redisconn.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Error("Failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	// Subscribe to every auction channel using pattern matching
	subscriber := redisClient.NewSubscriber(rdb, log)
	if err := subscriber.SubscribeToPattern(ctx, broadcast.Pattern); err != nil {
		log.Error("Failed to subscribe to Redis channels", slog.Any("error", err))
		os.Exit(1)
	}
	defer subscriber.Close()
	log.Info("Subscribed to auction events", slog.String("pattern", broadcast.Pattern))

	m := metrics.New()
	metricsSrv, err := m.Serve(cfg.MetricsAddr, log)
	if err != nil {
		log.Error("Failed to start metrics server", slog.Any("error", err))
		os.Exit(1)
	}

	hub := wsHandler.NewHub(cfg.SendBuffer, m, log)
	go hub.Run(ctx)

	// Redis Pub/Sub -> WebSocket viewers
	go func() {
		if err := subscriber.Listen(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Redis listener stopped", slog.Any("error", err))
			stop()
		}
	}()

	handler := wsHandler.NewHandler(hub, log)
	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     handler.SetupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Broadcast Service listening", slog.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.Any("error", err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info("Server stopped gracefully")
}

// Config holds application configuration
type Config struct {
	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SendBuffer    int
	MetricsAddr   string
	LogLevel      string
	LogFormat     string
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		SendBuffer:    config.GetEnvInt("WS_SEND_BUFFER", wsHandler.DefaultSendBuffer),
		MetricsAddr:   config.GetEnv("METRICS_ADDR", ":9103"),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:     config.GetEnv("LOG_FORMAT", "json"),
	}
}
