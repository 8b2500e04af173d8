package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/waluebiz/whatsapp-crm-service/internal/config"
	"github.com/waluebiz/whatsapp-crm-service/internal/handler"
	"github.com/waluebiz/whatsapp-crm-service/internal/workers"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
)

// Server represents the WhatsApp CRM integration server
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer creates a new WhatsApp CRM integration server
func NewServer(cfg *config.Config) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(cfg.Env); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	if cfg.IsProduction() && cfg.ProviderWebhookSecret == "" {
		logger.Base().Warn("Running in production without a provider webhook secret; provider webhooks will be rejected")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the HTTP server and blocks until shutdown
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Base().Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Base().Info("Starting server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func main() {
	// Load .env file for local development if it exists; deployed
	// environments set real environment variables.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadFromEnv()

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Scheduled jobs: status polling, template sync, usage reporting,
	// expiry sweeps and counter resets.
	runner := workers.NewRunner(cfg, server.handlerManager.Messaging(), server.handlerManager.Calling(), server.handlerManager.Usage())
	runner.Start(ctx)

	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env))

	if err := server.Start(ctx); err != nil {
		logger.Base().Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}

	if err := server.handlerManager.Close(); err != nil {
		logger.Base().Warn("Failed to close resources", zap.Error(err))
	}
	logger.Base().Info("Server stopped")
}
