package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/eversmart/homecore/internal/audit"
	"github.com/eversmart/homecore/internal/automation"
	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/hub"
	"github.com/eversmart/homecore/internal/infrastructure/config"
	"github.com/eversmart/homecore/internal/infrastructure/logging"
	"github.com/eversmart/homecore/internal/scada"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceCommander is the bridge surface the API needs: command
// dispatch, session state, and the latest-value snapshot.
// Satisfied by *bridge.Bridge.
type DeviceCommander interface {
	SendCommand(devicePrefix, attributeKey string, value any) error
	Connected() bool
	Snapshot() map[string]scada.TagUpdate
}

// EventPublisher is the hub surface the API needs.
// Satisfied by *hub.Hub.
type EventPublisher interface {
	Publish(group string, event hub.Event)
	Join(group string, sink hub.Sink) *hub.Membership
	Leave(m *hub.Membership)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Devices     device.Repository
	Automations automation.Repository
	Audit       audit.Repository
	Commander   DeviceCommander
	Events      EventPublisher
	Version     string
}

// Server is the HTTP API server for homecore.
//
// It manages the HTTP listener, routes, middleware, and the websocket
// sessions that relay home events. The server is created with New()
// and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	devices     device.Repository
	automations automation.Repository
	audit       audit.Repository
	commander   DeviceCommander
	events      EventPublisher
	version     string
	server      *http.Server
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, stores, commander, hub)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if deps.Automations == nil {
		return nil, fmt.Errorf("automation repository is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	if deps.Commander == nil {
		return nil, fmt.Errorf("device commander is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event hub is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		devices:     deps.Devices,
		automations: deps.Automations,
		audit:       deps.Audit,
		commander:   deps.Commander,
		events:      deps.Events,
		version:     deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	_, s.cancel = context.WithCancel(ctx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err := s.server.ListenAndServe()
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
