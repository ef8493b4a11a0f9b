// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/okian/versus/internal/adapters/http/auth"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	VoteDependencies
	StandingsDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	votesHandler     *VotesHandler
	standingsHandler *StandingsHandler

	authenticator auth.Authenticator
	corsOrigins   []string
	authHeader    string
	logger        logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithAuthenticator sets how voters are identified. Defaults to the
// X-Voter-Id header.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) {
		if a != nil {
			s.authenticator = a
		}
	}
}

// WithCORSOrigins enables CORS for the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithHealthCheck sets the readiness probe behind /healthz.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.healthHandler.check = check
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		votesHandler:     NewVotesHandler(deps),
		standingsHandler: NewStandingsHandler(deps),
		authenticator:    auth.NewHeaderAuthenticator(auth.DefaultHeader),
		logger:           logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if h, ok := s.authenticator.(*auth.HeaderAuthenticator); ok {
		s.authHeader = h.Header
	}
	s.votesHandler.logger = s.logger
	s.standingsHandler.logger = s.logger
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	authenticated := auth.Middleware(s.authenticator, func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, err)
	})

	mux.Handle("POST /votes", MetricsMiddleware(authenticated(http.HandlerFunc(s.votesHandler.HandlePostVote)).ServeHTTP, "votes"))
	mux.HandleFunc("GET /collections/{collectionId}/standings", MetricsMiddleware(s.standingsHandler.HandleList, "standings"))
	mux.HandleFunc("GET /collections/{collectionId}/standings/{itemId}", MetricsMiddleware(s.standingsHandler.HandleGet, "standing"))
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

// Handler wraps mux with CORS when origins are configured.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	if len(s.corsOrigins) == 0 {
		return mux
	}
	headers := []string{"Content-Type", "Authorization"}
	if s.authHeader != "" {
		headers = append(headers, s.authHeader)
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: headers,
		ExposedHeaders: []string{headerNextPointer},
	}).Handler(mux)
}

// voteRequest mirrors the OpenAPI schema for POST /votes. The short field
// names are accepted for older clients.
type voteRequest struct {
	CollectionID string `json:"collectionId"`
	ProjectID    string `json:"projectId"`
	WinnerItemID string `json:"winnerItemId"`
	WinnerID     string `json:"winnerId"`
	LoserItemID  string `json:"loserItemId"`
	LoserID      string `json:"loserId"`
	VoterID      string `json:"voterId"`
	UserID       string `json:"userId"`
}

func (v voteRequest) toModel() model.VoteRequest {
	return model.VoteRequest{
		CollectionID: firstNonEmpty(v.CollectionID, v.ProjectID),
		WinnerID:     firstNonEmpty(v.WinnerItemID, v.WinnerID),
		LoserID:      firstNonEmpty(v.LoserItemID, v.LoserID),
		VoterID:      firstNonEmpty(v.VoterID, v.UserID),
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
