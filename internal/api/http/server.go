package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"feedstream/internal/domain"
	domainports "feedstream/internal/domain/ports"
	"feedstream/internal/services/feed"
)

type LoadFeedPageUseCase interface {
	Execute(ctx context.Context, req domain.PageRequest) (domain.PostPage, error)
}

// SessionConfig tunes the remote feed sessions opened on /ws/feed.
type SessionConfig struct {
	Feed           feed.Config
	PageSize       int
	Hydrate        bool
	HydrateLimit   int
	RequestTimeout time.Duration // how long a command waits for the client's result
	InboundRate    float64       // client messages per second
	InboundBurst   int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Feed:           feed.DefaultConfig(),
		PageSize:       20,
		Hydrate:        true,
		HydrateLimit:   200,
		RequestTimeout: 5 * time.Second,
		InboundRate:    100,
		InboundBurst:   200,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.HydrateLimit <= 0 {
		c.HydrateLimit = d.HydrateLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.InboundRate <= 0 {
		c.InboundRate = d.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = d.InboundBurst
	}
	return c
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	pages          LoadFeedPageUseCase
	positions      domainports.PositionStore
	places         domainports.FeedStateStore
	sessionCfg     SessionConfig
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	wsUpgrader     websocket.Upgrader
}

type ServerOption func(*Server)

func WithPositionStore(store domainports.PositionStore) ServerOption {
	return func(s *Server) {
		s.positions = store
	}
}

func WithFeedStateStore(store domainports.FeedStateStore) ServerOption {
	return func(s *Server) {
		s.places = store
	}
}

func WithSessionConfig(cfg SessionConfig) ServerOption {
	return func(s *Server) {
		s.sessionCfg = cfg
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the per-client request budget. Non-positive values keep
// the default of 100 requests per second with a burst of 200.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(pages LoadFeedPageUseCase, opts ...ServerOption) *Server {
	s := &Server{
		pages:      pages,
		sessionCfg: DefaultSessionConfig(),
		rateRPS:    100,
		rateBurst:  200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rateRPS <= 0 || s.rateBurst <= 0 {
		s.rateRPS, s.rateBurst = 100, 200
	}
	s.sessionCfg = s.sessionCfg.withDefaults()

	whitelist := newOriginWhitelist(s.allowedOrigins)
	s.wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(whitelist, origin)
		},
	}
	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeedPage)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/positions/", s.handlePositionByKey)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/feed", s.handleFeedWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "feedstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(newClientLimiter(s.rateRPS, s.rateBurst, maxTrackedClients), metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleFeedPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pages == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "post source not configured")
		return
	}

	query := r.URL.Query()
	feedType, err := parseFeedType(query.Get("type"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	limit, err := parseLimit(query.Get("limit"), s.sessionCfg.PageSize)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	page, err := s.pages.Execute(r.Context(), domain.PageRequest{
		FeedType: feedType,
		Cursor:   query.Get("cursor"),
		Limit:    limit,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if page.Posts == nil {
		page.Posts = []domain.Post{}
	}
	writeJSON(w, http.StatusOK, page)
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	PositionStore string `json:"positionStore"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok", Sessions: s.wsHub.clientCount(), PositionStore: "none"}
	status := http.StatusOK
	if s.positions != nil {
		resp.PositionStore = "ok"
		if p, ok := s.positions.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := p.Ping(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("position store ping failed", slog.String("error", err.Error()))
				resp.Status = "degraded"
				resp.PositionStore = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, status, resp)
}

// Close disconnects every websocket client. Their sessions release all
// players on the way out.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
