// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/autopilot-engine/internal/errors"
	"github.com/autopilot-engine/internal/logging"
	"github.com/autopilot-engine/internal/models"
	"github.com/autopilot-engine/internal/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service interfaces for dependency injection and testing

// ExecutionServiceInterface defines the execution engine operations
type ExecutionServiceInterface interface {
	Execute(ctx context.Context, order models.StrategyOrder, portfolio *models.Portfolio) (*models.ExecutedOrder, error)
	GetExecutionLog(ctx context.Context, strategy types.StrategyTag, limit int) ([]models.ExecutedOrder, error)
	GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error)
}

// AnalyzerInterface defines the portfolio analyzer operations
type AnalyzerInterface interface {
	Analyze(ctx context.Context, wallet string) (*models.Portfolio, error)
}

// MonitorServiceInterface defines the monitor operations
type MonitorServiceInterface interface {
	Monitor(ctx context.Context, wallet string) (*models.MonitorSnapshot, error)
}

// RiskManagerInterface defines the risk manager operations exposed over HTTP
type RiskManagerInterface interface {
	GetLimits(wallet string) models.RiskLimits
	SetLimits(ctx context.Context, wallet string, limits models.RiskLimits) (models.RiskLimits, error)
	BudgetState(ctx context.Context, wallet string) (models.RiskBudgetState, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	execution  ExecutionServiceInterface
	analyzer   AnalyzerInterface
	monitor    MonitorServiceInterface
	risk       RiskManagerInterface
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerMinute per client; zero disables rate limiting
	RequestsPerMinute int
	Burst             int
	// Gatherer backs /metrics; defaults to the global registry
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	execution ExecutionServiceInterface,
	analyzer AnalyzerInterface,
	monitor MonitorServiceInterface,
	risk RiskManagerInterface,
) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:    mux.NewRouter(),
		execution: execution,
		analyzer:  analyzer,
		monitor:   monitor,
		risk:      risk,
		logger:    logger.WithField("component", "api"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerMinute > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondServiceError(w, r, apperrors.NewNotFoundError("route", r.URL.Path), nil)
	})
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	gatherer := s.config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Execution endpoints
	api.HandleFunc("/orders", s.handleExecuteOrder).Methods("POST")
	api.HandleFunc("/executions", s.handleGetExecutionLog).Methods("GET")
	api.HandleFunc("/executions/stats", s.handleGetExecutionStats).Methods("GET")

	// Wallet endpoints
	api.HandleFunc("/wallets/{wallet}/risk/limits", s.handleGetRiskLimits).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/risk/limits", s.handleSetRiskLimits).Methods("PUT")
	api.HandleFunc("/wallets/{wallet}/risk/budget", s.handleGetBudgetState).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/portfolio", s.handleAnalyzePortfolio).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/monitor", s.handleMonitorPortfolio).Methods("GET")
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "autopilot-engine",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
