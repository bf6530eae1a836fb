package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
	"github.com/zerynth/lib-azure-iot/internal/infrastructure/logging"
	"github.com/zerynth/lib-azure-iot/internal/twincache"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the slice of the hub client the API server needs. It is
// satisfied by *iothub.Device.
type DeviceService interface {
	IsConnected() bool
	PublishEvent(payload []byte, properties map[string]string) error
	GetTwin(ctx context.Context) (int, map[string]any, error)
	ReportTwin(ctx context.Context, reported map[string]any) (int, error)
}

// TwinStore is the cached twin surface used by GET /twin. It is satisfied by
// *twincache.Repository.
type TwinStore interface {
	Get(ctx context.Context, docType string) (*twincache.Entry, error)
	SaveFull(ctx context.Context, doc map[string]any, version int) error
}

// SpoolReader exposes the spool depth for the status endpoint. It is
// satisfied by *spool.Repository.
type SpoolReader interface {
	Depth(ctx context.Context) (int, error)
}

// PeriodSource reports the current telemetry publish period. It is satisfied
// by *telemetry.Publisher.
type PeriodSource interface {
	Period() time.Duration
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Device    DeviceService
	Twins     TwinStore
	Spool     SpoolReader  // optional: status reports depth -1 without it
	Telemetry PeriodSource // optional: status omits the period without it
	Hub       *Hub         // If set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the agent's local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	device      DeviceService
	twins       TwinStore
	spool       SpoolReader
	telemetry   PeriodSource
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	tickets     *ticketStore       // single-use WebSocket auth tickets
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, device client, twin cache)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Twins == nil {
		return nil, fmt.Errorf("twin store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		device:    deps.Device,
		twins:     deps.Twins,
		spool:     deps.Spool,
		telemetry: deps.Telemetry,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}

	// Use externally-provided hub if available (needed when the agent's main
	// loop also broadcasts hub traffic over WebSocket).
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Start periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
