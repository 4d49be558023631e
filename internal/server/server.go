package server

import (
	"context"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/audit"
	"github.com/kefhub/kef-hub-go/internal/auth"
	"github.com/kefhub/kef-hub-go/internal/config"
	"github.com/kefhub/kef-hub-go/internal/db"
	"github.com/kefhub/kef-hub-go/internal/devices"
	"github.com/kefhub/kef-hub-go/internal/discovery"
	"github.com/kefhub/kef-hub-go/internal/history"
	"github.com/kefhub/kef-hub-go/internal/mqtt"
	"github.com/kefhub/kef-hub-go/internal/openapi"
	"github.com/kefhub/kef-hub-go/internal/system"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)

	linkStore := auth.NewLinkStore(5 * time.Minute)
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	linkStore.StartCleanup(shutdownCtx, time.Minute)
	auth.RegisterRoutes(router, linkStore, cfg)

	historyService := history.NewService(history.NewRepository(dbPair), cfg.HistoryRetentionDays, nil)
	if err := historyService.Start(); err != nil {
		shutdownCancel()
		dbPair.Close()
		return nil, nil, err
	}

	auditService := audit.NewService(audit.NewRepository(dbPair), cfg.AuditRetentionDays, nil)
	if err := auditService.Start(); err != nil {
		shutdownCancel()
		historyService.Stop()
		dbPair.Close()
		return nil, nil, err
	}

	stateCache := devices.NewStateCache(time.Duration(cfg.StateCacheTTLSeconds) * time.Second)
	eventHub := devices.NewEventHub(nil)

	manager := devices.NewManager(devices.ManagerOptions{
		Repository:        devices.NewRepository(dbPair),
		Cache:             stateCache,
		History:           historyService,
		Audit:             auditService,
		PollInterval:      time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		RetryPollInterval: time.Duration(cfg.RetryPollIntervalMs) * time.Millisecond,
		FailureThreshold:  cfg.PollFailureThreshold,
		SpeakerTimeout:    time.Duration(cfg.KefTimeoutMs) * time.Millisecond,
	})
	manager.AddSink(eventHub)

	var mqttBridge *mqtt.Bridge
	if cfg.MQTTBrokerURL != "" {
		mqttBridge, err = mqtt.NewBridge(cfg, manager.Command, nil)
		if err != nil {
			// A down broker should not keep speakers uncontrollable.
			log.Printf("mqtt bridge disabled err=%v", err)
		} else {
			manager.AddSink(mqttBridge)
		}
	}

	if err := manager.Start(shutdownCtx); err != nil {
		shutdownCancel()
		historyService.Stop()
		auditService.Stop()
		stateCache.Stop()
		dbPair.Close()
		return nil, nil, err
	}

	manager.RegisterRoutes(router, eventHub, historyService.Handler())
	devices.RegisterModelRoutes(router)
	auditService.RegisterRoutes(router)
	discovery.RegisterRoutes(router, time.Duration(cfg.KefTimeoutMs)*time.Millisecond)
	openapi.RegisterRoutes(router)
	system.RegisterRoutes(router, system.NewService(dbPair, manager, nil))

	shutdown := func(ctx context.Context) error {
		shutdownCancel()
		manager.Stop()
		historyService.Stop()
		auditService.Stop()
		stateCache.Stop()
		if mqttBridge != nil {
			mqttBridge.Close()
		}
		if ctx == nil {
			ctx = context.Background()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "kef-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
