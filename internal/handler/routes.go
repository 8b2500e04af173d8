package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	adapters "github.com/waluebiz/whatsapp-crm-service/internal/adapters/http"
	"github.com/waluebiz/whatsapp-crm-service/internal/config"
	"github.com/waluebiz/whatsapp-crm-service/internal/repository"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/calling"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/messaging"
	"github.com/waluebiz/whatsapp-crm-service/internal/services/usage"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	appRedis "github.com/waluebiz/whatsapp-crm-service/pkg/redis"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their shared dependencies
type HandlerManager struct {
	config      *config.Config
	repoManager repository.RepositoryManager
	redisSvc    appRedis.RedisServiceInterface

	providerClient   *adapters.ProviderClient
	messagingService *messaging.Service
	callingService   *calling.Service
	usageService     *usage.Service

	startedAt time.Time
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	// Redis backs webhook dedupe and realtime fan-out; the service degrades
	// gracefully without it.
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisConfig := &appRedis.RedisConfig{
		Host:     redisHost,
		Port:     redisPort,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	var redisSvc appRedis.RedisServiceInterface
	if svc, err := appRedis.NewRedisService(redisConfig); err != nil {
		logger.Base().Warn("failed to initialize redis, running without dedupe and realtime events", zap.Error(err))
	} else {
		redisSvc = svc
	}

	providerClient := adapters.NewProviderClient(
		cfg.ProviderBaseURL,
		cfg.ProviderClientID,
		cfg.ProviderClientSecret,
		cfg.ProviderCallTimeout,
	)

	var publisher messaging.Publisher
	if redisSvc != nil {
		publisher = redisSvc
	}

	messagingService := messaging.NewService(repoManager, providerClient, publisher)
	callingService := calling.NewService(repoManager, providerClient, publisher)
	usageService := usage.NewService(repoManager, providerClient)

	return &HandlerManager{
		config:           cfg,
		repoManager:      repoManager,
		redisSvc:         redisSvc,
		providerClient:   providerClient,
		messagingService: messagingService,
		callingService:   callingService,
		usageService:     usageService,
		startedAt:        time.Now(),
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(LoggingMiddleware)

	// API routes for the CRM surface
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(ValidationMiddleware)

	if hm.config.MessagingEnabled {
		NewMessageHandler(hm.messagingService).SetupRoutes(apiRouter)
	}
	if hm.config.CallingEnabled {
		NewCallHandler(hm.callingService).SetupRoutes(apiRouter)
	}

	// Webhook routes sit outside the API prefix; signatures cover the raw
	// body so no validation middleware runs before them.
	NewProviderWebhookHandler(hm.messagingService, hm.callingService, hm.redisSvc, hm.config.ProviderWebhookSecret).SetupRoutes(router)
	NewMetaWebhookHandler(hm.messagingService, hm.callingService, hm.config.MetaWebhookSecret, hm.config.MetaVerifyToken).SetupRoutes(router)

	router.HandleFunc("/health", hm.handleHealth).Methods("GET")
	router.HandleFunc("/status", hm.handleStatus).Methods("GET")

	logger.Base().Info("all routes registered",
		zap.Bool("messaging_enabled", hm.config.MessagingEnabled),
		zap.Bool("calling_enabled", hm.config.CallingEnabled))
}

// Messaging returns the messaging service for worker wiring
func (hm *HandlerManager) Messaging() *messaging.Service { return hm.messagingService }

// Calling returns the calling service for worker wiring
func (hm *HandlerManager) Calling() *calling.Service { return hm.callingService }

// Usage returns the usage service for worker wiring
func (hm *HandlerManager) Usage() *usage.Service { return hm.usageService }

// Close releases shared resources
func (hm *HandlerManager) Close() error {
	if hm.redisSvc != nil {
		if err := hm.redisSvc.Close(); err != nil {
			logger.Base().Warn("failed to close redis client", zap.Error(err))
		}
	}
	return hm.repoManager.Close()
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := hm.repoManager.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (hm *HandlerManager) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "running",
		"uptime_seconds":    int64(time.Since(hm.startedAt).Seconds()),
		"messaging_enabled": hm.config.MessagingEnabled,
		"calling_enabled":   hm.config.CallingEnabled,
		"redis_connected":   hm.redisSvc != nil,
	})
}
