package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vobby/vobby/internal/controlplane/middleware"
	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
)

const DefaultAddr = "localhost:7939"

// Backend is the bridge state the control plane reads and drives.
// *coordinator.Coordinator implements it.
type Backend interface {
	Status() coordinator.Status
	Tree() []coordinator.NodeInfo
	TreeString() string
	Documents() []mirror.Info
	Identities() []identity.Entry
	Dispatch(ev coordinator.Event) error
}

var _ Backend = (*coordinator.Coordinator)(nil)

type Config struct {
	Addr      string
	AuthToken string
	RateLimit string
}

type Server struct {
	config *Config
	server *http.Server
}

func New(config *Config, backend Backend) (*Server, error) {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	routes, err := SetupRoutes(backend, &RouteConfig{
		Auth:      middleware.TokenAuthConfig{Token: config.AuthToken},
		RateLimit: config.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("control plane routes: %w", err)
	}

	return &Server{
		config: config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           routes,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}, nil
}

// Start serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	url, err := URL(s.config.Addr)
	if err != nil {
		return err
	}
	slog.Info("control plane start", "addr", url)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// URL turns a listen address into the URL clients should use.
func URL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid address %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
