package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/crewline/trustcore/internal/audit"
	"github.com/crewline/trustcore/internal/db"
	"github.com/crewline/trustcore/internal/metrics"
	"github.com/crewline/trustcore/internal/middleware"
	"github.com/crewline/trustcore/internal/trust"
)

// Server owns the trustcore service: the SQLite store, the trust engine, the
// WebSocket event hub, the periodic promotion sweeper, and the HTTP API.
type Server struct {
	config *Config
	logger *zap.Logger

	// Core components
	store   trust.Store
	engine  *trust.Engine
	auditor audit.Logger
	hub     *Hub
	sweeper *trust.Sweeper
	limiter *middleware.RateLimiter

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new trustcore server with all components wired.
func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

// initializeComponents initializes all server components.
func (s *Server) initializeComponents() error {
	// 1. SQLite store (signals, aggregates, policies, transitions)
	store, err := db.NewSQLiteStore(s.config.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", s.config.DatabasePath, err)
	}
	s.store = store

	// 2. Audit trail
	auditor, err := audit.NewLogger(&audit.Config{
		AuditLogPath: filepath.Join(s.config.AuditDir, "audit.log"),
		AppLogPath:   filepath.Join(s.config.AuditDir, "app.log"),
		MaxSize:      s.config.AuditMaxSizeMB,
		MaxBackups:   s.config.AuditMaxBackups,
		MaxAge:       s.config.AuditMaxAgeDays,
		Compress:     s.config.AuditCompress,
		LogLevel:     s.config.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	s.auditor = auditor

	// 3. WebSocket event hub
	s.hub = NewHub(s.ctx, s.config.AllowedOrigins, s.logger)

	// 4. Trust engine, publishing events to the hub
	opts := s.config.Engine
	opts.Logger = s.logger
	opts.Audit = auditor
	opts.Events = s.hub
	engine, err := trust.NewEngine(store, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize trust engine: %w", err)
	}
	s.engine = engine

	// 5. Periodic promotion sweeper
	s.sweeper = trust.NewSweeper(engine, s.config.SweepInterval, s.logger)

	// 6. API rate limiter
	if s.config.RateLimitEnabled {
		s.limiter = middleware.NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)
	}

	return nil
}

// Start seeds platform-default policies, starts the event hub, the periodic
// sweeper, and the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	// Insert-if-absent: admin-edited platform rows survive restarts.
	seeded, err := s.engine.SeedDefaults(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default policies: %w", err)
	}

	go s.hub.Run()
	s.sweeper.Start(s.ctx)

	handler := s.buildHandler()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening",
			zap.String("host", s.config.Host),
			zap.Int("port", s.config.Port),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("trustcore server started",
		zap.String("database", s.config.DatabasePath),
		zap.Int("policies_seeded", seeded),
		zap.Duration("sweep_interval", s.config.SweepInterval),
	)

	return nil
}

// Stop gracefully stops the server: HTTP listener first so no new writes
// arrive, then the sweeper, hub, audit trail, and store.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping trustcore server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.sweeper.Stop()
	s.cancel()
	s.hub.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()

	if err := s.auditor.Close(); err != nil {
		s.logger.Warn("error closing audit logger", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("error closing store", zap.Error(err))
	}

	s.logger.Info("trustcore server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Engine returns the trust engine, for tests and embedded use.
func (s *Server) Engine() *trust.Engine {
	return s.engine
}

// buildHandler assembles the router, middleware chain, and CORS layer.
func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()

	// Liveness endpoints sit outside the rate limit.
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket event stream
	router.HandleFunc("/ws/events", s.hub.ServeWS).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	s.registerAPIRoutes(api)
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}

	router.Use(s.loggingMiddleware)
	router.Use(s.recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// registerAPIRoutes configures the /api/v1 routes.
func (s *Server) registerAPIRoutes(api *mux.Router) {
	// Signal log
	api.HandleFunc("/signals", s.handleRecordSignal).Methods("POST")
	api.HandleFunc("/signals/rubber-stamp", s.handleRubberStamp).Methods("POST")

	// Threshold policies
	api.HandleFunc("/policies", s.handleUpsertPolicy).Methods("PUT")
	api.HandleFunc("/policies", s.handleListPolicies).Methods("GET")

	// Confidence and tiers
	api.HandleFunc("/confidence/{user}/{action_type}", s.handleGetConfidence).Methods("GET")
	api.HandleFunc("/tiers/{org}/{action_type}", s.handleGetOrgTier).Methods("GET")
	api.HandleFunc("/evaluate/{user}/{action_type}", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/controls/{user}/{action_type}", s.handleSetKeyControls).Methods("PUT")

	// Promotion sweep and audit read model
	api.HandleFunc("/sweep", s.handleSweep).Methods("POST")
	api.HandleFunc("/transitions", s.handleListTransitions).Methods("GET")

	// Component health detail
	api.HandleFunc("/health", s.handleHealthDetail).Methods("GET")
}

// loggingMiddleware logs each request with its status and duration and feeds
// the HTTP metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", elapsed),
		)
	})
}

// recoveryMiddleware converts handler panics into 500s instead of killing
// the process.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
