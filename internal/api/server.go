package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/app"
	"livecode-sandbox/internal/config"
)

// Server is the main HTTP server for the sandbox API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	app        *app.App
	stop       context.CancelFunc
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, a *app.App) *Server {
	handlers := NewHandlers(a)
	bg, stop := context.WithCancel(context.Background())

	s := &Server{
		handlers: handlers,
		cfg:      cfg,
		app:      a,
		stop:     stop,
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, all requests will be accepted")
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /execute", handlers.HandleExecute)
	apiMux.HandleFunc("POST /execute/stream", handlers.HandleExecuteStream)
	apiMux.HandleFunc("POST /validate", handlers.HandleValidate)
	apiMux.HandleFunc("GET /executions", handlers.HandleListExecutions)
	apiMux.HandleFunc("GET /executions/{id}", handlers.HandleGetExecution)

	apiMux.HandleFunc("GET /languages", handlers.HandleLanguages)
	apiMux.HandleFunc("GET /languages/{language}", handlers.HandleLanguage)
	apiMux.HandleFunc("POST /languages/detect", handlers.HandleDetect)

	apiMux.HandleFunc("GET /hooks/stats", handlers.HandleHookStats)
	apiMux.HandleFunc("GET /hooks/history", handlers.HandleHookHistory)
	apiMux.HandleFunc("DELETE /hooks/history", handlers.HandleClearHookHistory)
	apiMux.HandleFunc("POST /hooks/on_save", handlers.HandleOnSave)
	apiMux.HandleFunc("POST /hooks/{type}/enable", handlers.HandleHookToggle(true))
	apiMux.HandleFunc("POST /hooks/{type}/disable", handlers.HandleHookToggle(false))

	apiMux.HandleFunc("GET /ws/stats", handlers.HandleWSStats)
	apiMux.HandleFunc("GET /ws/sessions/{session_id}/connections", handlers.HandleSessionConnections)
	apiMux.HandleFunc("GET /ws/{session_id}", handlers.HandleWebSocket)

	authedAPI := AuthMiddleware(cfg.Security.AllowedKeys, cfg.Security.APIKeyHeader)(apiMux)

	// Health and metrics bypass auth.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(a.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Outermost last.
	var handler http.Handler = mux
	handler = MetricsMiddleware(a.Metrics)(handler)
	handler = RateLimitMiddleware(bg, cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	defer s.stop()
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports degraded when the sandbox backend is missing or a
// configured dependency stops answering.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	a := s.app
	dbOK := a.DB == nil || a.DB.Healthy(r.Context())
	redisOK := a.Bus == nil || a.Bus.Healthy(r.Context())

	resp := HealthResponse{
		Status:      "ok",
		Backend:     a.Orchestrator.BackendName(),
		Database:    a.DB != nil && dbOK,
		Redis:       a.Bus != nil && redisOK,
		Assistant:   a.Assistant != nil,
		Connections: a.Connections.TotalConnections(),
		Uptime:      time.Since(a.StartTime).Round(time.Second).String(),
	}
	if resp.Backend == "" || !dbOK || !redisOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
