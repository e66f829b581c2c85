package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/bwoudt/jambonz-go/ingress/internal/apps"
	"github.com/bwoudt/jambonz-go/ingress/internal/config"
	"github.com/bwoudt/jambonz-go/ingress/internal/dispatch"
	internalhttp "github.com/bwoudt/jambonz-go/ingress/internal/http"
	"github.com/bwoudt/jambonz-go/ingress/internal/hub"
	"github.com/bwoudt/jambonz-go/ingress/internal/logger"
	"github.com/bwoudt/jambonz-go/ingress/internal/metrics"
	"github.com/bwoudt/jambonz-go/ingress/internal/session"
	"github.com/bwoudt/jambonz-go/ingress/internal/store"
	"github.com/bwoudt/jambonz-go/ingress/internal/tracing"
	"github.com/bwoudt/jambonz-go/ingress/internal/ws"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(apps.Names()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	lg.Info("Starting ingress service",
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("subprotocol", cfg.Subprotocol),
		zap.Int("routes", len(cfg.Routes)))

	m := metrics.New(cfg.MetricsNamespace)

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing, lg)
	if err != nil {
		lg.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	var journal store.Store
	if cfg.DatabaseURL != "" {
		st, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("Failed to open call journal", zap.Error(err))
		}
		defer st.Close()
		journal = st
		lg.Info("Call journal enabled", zap.String("database", cfg.DatabaseURL))
	}

	rt, err := apps.BuildRouter(cfg.Routes, lg)
	if err != nil {
		lg.Fatal("Failed to build routes", zap.Error(err))
	}
	for _, r := range cfg.Routes {
		lg.Info("Route registered", zap.String("path", r.Path), zap.String("app", r.App))
	}

	connectionHub := hub.NewHub()
	registry := session.NewRegistry()
	dispatcher := dispatch.New(registry, dispatch.Options{Logger: lg, Metrics: m, Journal: journal})

	// Initialize WebSocket server
	wsServer := ws.NewServer(cfg, connectionHub, rt, dispatcher, m, lg)

	// Create WebSocket Echo server
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Logger())
	wsEcho.Use(middleware.Recover())
	wsEcho.GET("/*", wsServer.HandleWebSocket)

	// Initialize internal HTTP server
	httpServer := internalhttp.NewServer(internalhttp.Options{
		Hub:           connectionHub,
		Registry:      registry,
		Journal:       journal,
		Metrics:       m,
		Logger:        lg,
		WebhookSecret: cfg.WebhookSecret,
		Username:      cfg.HTTPUsername,
		Password:      cfg.HTTPPassword,
	})

	// Start WebSocket server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		if err := wsEcho.Start(addr); err != nil && err != http.ErrServerClosed {
			lg.Fatal("Failed to start WebSocket server", zap.Error(err))
		}
	}()

	// Start internal HTTP server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			lg.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	lg.Info("Servers started", zap.Int("ws_port", cfg.WSPort), zap.Int("http_port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down ingress")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsEcho.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Failed to shutdown WebSocket listener gracefully", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Failed to close WebSocket connections gracefully", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		lg.Warn("Failed to flush traces", zap.Error(err))
	}

	lg.Info("Ingress stopped")
}
