package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/smazurov/biu/internal/api/models"
	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/version"
)

// Supervisor is the registry surface the API serves.
type Supervisor interface {
	control.Queuer
	Connect() (events.InitializeData, *events.Subscription)
	Snapshot() events.InitializeData
	Problems() problems.Report
}

// Options configures the API server.
type Options struct {
	Supervisor        Supervisor
	EventBus          *events.Bus  // log entries for /api/logs/stream
	PrometheusHandler http.Handler // optional, served at /metrics
	AllowedOrigins    []string     // defaults to "*"
}

// Server is the HTTP control plane: REST, SSE and WebSocket viewers.
type Server struct {
	api        huma.API
	router     chi.Router
	httpServer *http.Server
	sup        Supervisor
	eventBus   *events.Bus
	logger     logging.Logger

	sessions sessionSet
}

// NewServer creates the API server on a chi router.
func NewServer(opts *Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(corsOptions(opts.AllowedOrigins)))

	config := huma.DefaultConfig("biu API", version.Get().Version)
	config.Info.Description = "Task supervisor control plane"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	api := humachi.New(router, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:      api,
		router:   router,
		sup:      opts.Supervisor,
		eventBus: eventBus,
		logger:   logging.GetLogger("api"),
	}
	server.sessions.sessions = make(map[string]*session)

	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		router.Handle("/metrics", opts.PrometheusHandler)
	}
	router.Get("/ws", server.handleWebSocket)

	server.registerRoutes()

	return server
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With", "Origin"},
		MaxAge:         86400,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting biu API server", "addr", ln.Addr().String())
	s.logger.Info("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes viewer sessions and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	s.sessions.closeAll()

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerTaskRoutes()
	s.registerProblemRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}
