// Package httpapi wires the HTTP surface named in spec §6 onto the
// evaluator/capture/sink pipeline, grounded on the teacher's
// internal/api/server.go routing and middleware stack.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagship/internal/cohorts"
	"github.com/TimurManjosov/goflagship/internal/flags"
	"github.com/TimurManjosov/goflagship/internal/properties"
	"github.com/TimurManjosov/goflagship/internal/remoteconfig"
	"github.com/TimurManjosov/goflagship/internal/router"
	"github.com/TimurManjosov/goflagship/internal/sinks"
	"github.com/TimurManjosov/goflagship/internal/telemetry"
)

// TeamResolver maps an ingestion token to the owning team/project, per the
// posthog_team lookup named in spec §6.
type TeamResolver interface {
	ResolveToken(ctx context.Context, token string) (teamID, projectID int64, err error)
}

// FlagsLoader is the Flag State Loader surface the server depends on.
type FlagsLoader interface {
	GetOrLoad(ctx context.Context, projectID int64) (flags.List, bool, error)
}

// PropertiesStore is the follower-DB read surface for per-request property
// and hash-key-override prefetch (§5's "fan out before evaluation" model).
type PropertiesStore interface {
	LoadPersonProperties(ctx context.Context, teamID int64, distinctID string) (map[string]any, error)
	LoadGroupProperties(ctx context.Context, teamID int64, groupTypeIndex int, groupKey string) (map[string]any, error)
	LoadHashKeyOverrides(ctx context.Context, teamID int64, distinctID string) (map[string]string, error)
}

// GroupTypeLoader matches flags.GroupTypeLoader; kept local to avoid an
// import-only dependency on internal/flags from internal/pgstore.
type GroupTypeLoader interface {
	LoadGroupTypeMapping(ctx context.Context, projectID int64) (map[int]string, error)
}

// groupTypeRegistry lazily builds one flags.GroupTypeCache per project.
type groupTypeRegistry struct {
	loader GroupTypeLoader
	ttl    time.Duration

	mu     sync.Mutex
	caches map[int64]*flags.GroupTypeCache
}

func newGroupTypeRegistry(loader GroupTypeLoader, ttl time.Duration) *groupTypeRegistry {
	return &groupTypeRegistry{loader: loader, ttl: ttl, caches: map[int64]*flags.GroupTypeCache{}}
}

func (g *groupTypeRegistry) forProject(projectID int64) *flags.GroupTypeCache {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.caches[projectID]
	if !ok {
		c = flags.NewGroupTypeCache(g.loader, projectID, g.ttl)
		g.caches[projectID] = c
	}
	return c
}

// Server bundles every dependency the capture and flags endpoints need.
type Server struct {
	logger       zerolog.Logger
	teams        TeamResolver
	flagsLoader  FlagsLoader
	propsStore   PropertiesStore
	groupTypes   *groupTypeRegistry
	cohorts      *cohorts.Resolver
	restrictions router.RestrictionService
	bus          sinks.Sink
	remoteConfig *remoteconfig.Resolver

	payloadSizeLimit int
	bodyReadTimeout  time.Duration
}

// Deps bundles Server's constructor arguments.
type Deps struct {
	Logger           zerolog.Logger
	Teams            TeamResolver
	FlagsLoader      FlagsLoader
	PropsStore       PropertiesStore
	GroupTypeLoader  GroupTypeLoader
	GroupTypeTTL     time.Duration
	Cohorts          *cohorts.Resolver
	Restrictions     router.RestrictionService
	Bus              sinks.Sink
	RemoteConfig     *remoteconfig.Resolver
	PayloadSizeLimit int
	BodyReadTimeout  time.Duration
}

func NewServer(d Deps) *Server {
	return &Server{
		logger:           d.Logger,
		teams:            d.Teams,
		flagsLoader:      d.FlagsLoader,
		propsStore:       d.PropsStore,
		groupTypes:       newGroupTypeRegistry(d.GroupTypeLoader, d.GroupTypeTTL),
		cohorts:          d.Cohorts,
		restrictions:     d.Restrictions,
		bus:              d.Bus,
		remoteConfig:     d.RemoteConfig,
		payloadSizeLimit: d.PayloadSizeLimit,
		bodyReadTimeout:  d.BodyReadTimeout,
	}
}

// Routes builds the top-level router, following the teacher's middleware
// ordering (request id / real ip / recoverer / metrics / CORS / rate limit).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeoutOrDefault()))
		r.Use(httprate.LimitByIP(600, time.Minute))

		r.Post("/flags/", s.handleFlags)
		r.Get("/flags/", s.handleFlags)
		r.Options("/flags/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

		for _, p := range []string{"/e/", "/capture/", "/i/v0/e/"} {
			r.Post(p, s.handleCapture)
		}
		r.Post("/s/", s.handleSnapshotCapture)
	})

	return r
}

func (s *Server) timeoutOrDefault() time.Duration {
	if s.bodyReadTimeout > 0 {
		return s.bodyReadTimeout
	}
	return 30 * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// cohortMatcherFor builds a properties.CohortMatcher scoped to one team.
func (s *Server) cohortMatcherFor(ctx context.Context, teamID int64) properties.CohortMatcher {
	if s.cohorts == nil {
		return nil
	}
	return cohorts.TeamMatcher{Resolver: s.cohorts, TeamID: teamID, Ctx: ctx}
}
