// Package core provides the API chassis for the fitpass billing service.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, logging, CORS, metrics, and authentication --
// before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fitpass/internal/config"
	"fitpass/internal/types"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch or
// equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Authenticator resolves bearer tokens into Actors. Injected so handler tests
// can substitute a fake.
type Authenticator interface {
	// ResolveToken validates the token and returns the Actor it encodes.
	// Failures are reported as *types.AppError with an auth_* code.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// Server encapsulates all dependencies for the billing API, allowing for easy
// injection during testing and distinct configuration per environment.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount authenticated domain handlers under /v1.
	// WebhookRegistrars mount unauthenticated provider callbacks at the root.
	// Populated by the application entry point; this indirection avoids
	// import cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)
	WebhookRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the chassis and prepares the server for route
// mounting. The caller mounts routes via MountRoutes after injecting the
// remaining dependencies (Authenticator, Metrics, registrars).
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}
