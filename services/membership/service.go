package membershipsvc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/metrics"
	"github.com/gear-foundation/one-of-us/internal/middleware"
	"github.com/gear-foundation/one-of-us/internal/passkey"
)

const (
	ServiceID   = "membership"
	ServiceName = "One of Us Membership Service"
	Version     = "1.0.0"

	// DefaultGaugeSchedule refreshes the member gauges.
	DefaultGaugeSchedule = "@every 30s"
)

// CountSource is the on-chain member count. *chain.CountReader implements it.
type CountSource interface {
	Count(ctx context.Context) uint32
}

// Config configures the membership service.
type Config struct {
	Store Store
	// ChainCount serves /api/chain/count when set.
	ChainCount CountSource
	// Bus serves the passkey callback page at /auth/callback when set.
	Bus         passkey.Bus
	CORSOrigins []string
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit     float64
	RateBurst     int
	GaugeSchedule string
	Clock         clock.Clock
	Logger        zerolog.Logger
}

// Service serves the membership API.
type Service struct {
	store      Store
	chainCount CountSource
	bus        passkey.Bus
	clock      clock.Clock
	logger     zerolog.Logger

	cors     *middleware.CORSMiddleware
	limiter  *middleware.RateLimiter
	schedule string
	cron     *cron.Cron
	cancel   context.CancelFunc
}

// New creates the membership service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("membership store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.GaugeSchedule == "" {
		cfg.GaugeSchedule = DefaultGaugeSchedule
	}
	if _, err := cron.ParseStandard(cfg.GaugeSchedule); err != nil {
		return nil, fmt.Errorf("invalid gauge schedule %q: %w", cfg.GaugeSchedule, err)
	}

	logger := cfg.Logger.With().Str("service", ServiceID).Logger()
	s := &Service{
		store:      cfg.Store,
		chainCount: cfg.ChainCount,
		bus:        cfg.Bus,
		clock:      cfg.Clock,
		logger:     logger,
		cors:       middleware.NewCORSMiddleware(cfg.CORSOrigins),
		schedule:   cfg.GaugeSchedule,
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
	}
	return s, nil
}

// Router returns the HTTP handler with every route and middleware attached.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Handler)
	}
	api.HandleFunc("/members/count", s.handleCount).Methods(http.MethodGet)
	api.HandleFunc("/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/members", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/members/{address}", s.handleGetMember).Methods(http.MethodGet)
	api.HandleFunc("/members/{address}/txHash", s.handleUpdateTxHash).Methods(http.MethodPut)
	api.HandleFunc("/chain/count", s.handleChainCount).Methods(http.MethodGet)

	if s.bus != nil {
		r.Handle("/auth/callback", passkey.CallbackHandler(s.bus, s.logger)).Methods(http.MethodGet)
	}

	// CORS wraps the router so preflight requests never hit method matching.
	return metrics.InstrumentHandler(s.cors.Handler(r))
}
