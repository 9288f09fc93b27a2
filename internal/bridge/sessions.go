package bridge

import (
	"log/slog"
	"sync"

	"github.com/flightimport/ucsbridge/internal/cache"
	"github.com/flightimport/ucsbridge/internal/observability"
	"github.com/flightimport/ucsbridge/internal/ucs"
	"github.com/flightimport/ucsbridge/internal/ucsqueries"
)

// Sessions lazily creates one ucsqueries.Queries (backed by one UCS
// session) per upstream user, reusing the process-wide cookie registry
// so repeated logins for the same user are serialized and cached.
type Sessions struct {
	cfg        ucs.Config
	registry   *ucs.Registry
	cache      cache.ResultCache
	flightsMax int
	password   string
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	queries map[string]*ucsqueries.Queries
}

// NewSessions returns a Sessions factory. All sessions authenticate
// with the same password — the minimal HTTP control surface this
// bridge exposes does not accept per-user credentials, so every
// upstream user is expected to share the operator-configured account.
// metrics may be nil, in which case sessions created by this factory
// update no Prometheus collectors.
func NewSessions(cfg ucs.Config, registry *ucs.Registry, resultCache cache.ResultCache, flightsMax int, password string, metrics *observability.Metrics, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		cfg:        cfg,
		registry:   registry,
		cache:      resultCache,
		flightsMax: flightsMax,
		password:   password,
		metrics:    metrics,
		logger:     logger,
		queries:    make(map[string]*ucsqueries.Queries),
	}
}

// QueriesFor returns the Queries for user, creating its Session on first
// use. It fails if user does not satisfy ucs.NewSession's precondition.
func (s *Sessions) QueriesFor(user string) (*ucsqueries.Queries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queries[user]; ok {
		return q, nil
	}

	session, err := ucs.NewSession(s.cfg, s.registry, user, s.password, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	q := &ucsqueries.Queries{
		Session:    session,
		Cache:      s.cache,
		FlightsMax: s.flightsMax,
	}
	s.queries[user] = q
	return q, nil
}
