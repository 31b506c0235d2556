package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/hubcap/pkg/audit"
	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/httputil"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/plugins"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

const maxHistoryLimit = 1000

// History searches recorded inspections.
type History interface {
	Search(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves /history from h.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// Server serves the registry API.
type Server struct {
	router   *mux.Router
	registry *plugins.Registry
	history  History
	log      logrus.FieldLogger
}

// NewServer creates a server for reg. A nil gatherer disables /metrics.
func NewServer(reg *plugins.Registry, gatherer prometheus.Gatherer, log logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: reg,
		log:      observability.OrDefault(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.HandleFunc("/records", s.listRecords).Methods(http.MethodGet)
	s.router.HandleFunc("/repositories", s.listRepositories).Methods(http.MethodGet)
	s.router.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.history != nil {
		s.router.HandleFunc("/history", s.searchHistory).Methods(http.MethodGet)
	}
	if gatherer != nil {
		s.router.Handle("/metrics", observability.Handler(gatherer)).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with recovery, request logging and tracing.
func (s *Server) Handler() http.Handler {
	h := httputil.Chain(
		httputil.RecoveryMiddleware(s.log),
		httputil.LoggingMiddleware(s.log),
	)(s.router)
	return otelhttp.NewHandler(h, "hubcap")
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	capabilityID := httputil.ParseQueryString(r, "capability", "")
	source := httputil.ParseQueryString(r, "source", "")

	records := []capability.Record{}
	for _, rec := range s.registry.Records() {
		if capabilityID != "" && rec.Capability != capability.ID(capabilityID) {
			continue
		}
		if source != "" && rec.Source != source {
			continue
		}
		records = append(records, rec)
	}
	_ = httputil.WriteSuccess(w, records)
}

// RepositoryInfo describes a repository and its current generation.
type RepositoryInfo struct {
	Kind        string                   `json:"kind"`
	Source      string                   `json:"source"`
	Settings    map[string]any           `json:"settings"`
	Generation  string                   `json:"generation,omitempty"`
	InspectedAt *time.Time               `json:"inspected_at,omitempty"`
	Records     int                      `json:"records"`
	Skipped     []repository.SkippedType `json:"skipped,omitempty"`
	Failures    []repository.Failure     `json:"failures,omitempty"`
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	withSkipped, err := httputil.ParseQueryBool(r, "details", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	repos := s.registry.Repositories()
	out := make([]RepositoryInfo, 0, len(repos))
	for _, repo := range repos {
		gen := repo.Generation()
		info := RepositoryInfo{
			Kind:     repo.Kind(),
			Source:   repo.Source(),
			Settings: repo.Settings().Redacted().Map(),
			Records:  len(gen.Records),
			Failures: gen.Failures,
		}
		if !gen.InspectedAt.IsZero() {
			at := gen.InspectedAt
			info.Generation = gen.ID.String()
			info.InspectedAt = &at
		}
		if withSkipped {
			info.Skipped = gen.Skipped
		}
		out = append(out, info)
	}
	_ = httputil.WriteSuccess(w, out)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RefreshAll(r.Context()); err != nil {
		observability.WithTraceContext(r.Context(), s.log).WithError(err).Warn("Refresh failed")
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			httputil.WriteDetailedError(w, http.StatusInternalServerError, "refresh failed", joined.Unwrap())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]any{
		"status":  "refreshed",
		"records": len(s.registry.Records()),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]any{
		"status":       "ok",
		"repositories": len(s.registry.Repositories()),
	})
}

func (s *Server) searchHistory(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Kind:   httputil.ParseQueryString(r, "kind", ""),
		Source: httputil.ParseQueryString(r, "source", ""),
		Status: audit.Status(httputil.ParseQueryString(r, "status", "")),
	}
	switch filter.Status {
	case "", audit.StatusSuccess, audit.StatusFailure:
	default:
		httputil.WriteBadRequest(w, "status must be success or failure")
		return
	}

	var err error
	if filter.Since, err = httputil.ParseQueryTime(r, "since"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", audit.DefaultLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit < 1 || filter.Limit > maxHistoryLimit {
		httputil.WriteBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
		return
	}

	entries, err := s.history.Search(r.Context(), filter)
	if err != nil {
		observability.WithTraceContext(r.Context(), s.log).WithError(err).Error("Failed to search history")
		httputil.WriteInternalError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, entries)
}
