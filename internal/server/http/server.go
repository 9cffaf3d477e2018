// Package httpserver exposes the ledger REST API over chi.
package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/metrics"
	"github.com/and161185/event-ledger/internal/service"
)

// TokenResolver maps a bearer token to a uid.
type TokenResolver interface {
	Resolve(token string) (string, error)
}

// Deps are the collaborators of the HTTP API. Metrics and Ping may be nil.
type Deps struct {
	Pages     service.PageService
	Memories  service.MemoryService
	Invites   service.InviteService
	Lifecycle service.LifecycleService
	Users     service.UserService
	Resolver  TokenResolver
	Metrics   *metrics.Collector
	Log       *zap.Logger
	Ping      func(ctx context.Context) error

	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server wires services into HTTP handlers.
type Server struct {
	pages     service.PageService
	memories  service.MemoryService
	invites   service.InviteService
	lifecycle service.LifecycleService
	users     service.UserService
	resolver  TokenResolver
	metrics   *metrics.Collector
	log       *zap.Logger
	ping      func(ctx context.Context) error
	timeout   time.Duration
	origins   []string
}

// New constructs a Server with injected services.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		pages:     d.Pages,
		memories:  d.Memories,
		invites:   d.Invites,
		lifecycle: d.Lifecycle,
		users:     d.Users,
		resolver:  d.Resolver,
		metrics:   d.Metrics,
		log:       log,
		ping:      d.Ping,
		timeout:   timeout,
		origins:   d.CORSOrigins,
	}
}

// Handler builds the router. Every route is also served under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(s.log))
	r.Use(Metrics(s.metrics))
	r.Use(Recover(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/_healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.timeout))
		r.Use(Authenticate(s.resolver, s.log))

		r.Route("/pages", func(r chi.Router) {
			r.Post("/", s.createPage)
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", s.getPage)
				r.Patch("/", s.updatePage)
				r.Delete("/", s.softDeletePage)
				r.Post("/restore", s.restorePage)
				r.Delete("/owners/{uid}", s.removeOwner)

				r.Get("/memories", s.listMemories)
				r.Post("/memories", s.saveMemory)
				r.Delete("/memories/{id}", s.deleteMemory)

				r.Post("/invites", s.createInvite)
			})
		})
		r.Post("/invites/{id}/accept", s.acceptInvite)
		r.Get("/users/me", s.me)
		r.Get("/users/me/pages", s.myPages)
	})

	return stripAPIPrefix(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stripAPIPrefix routes /api/x and /x identically.
func stripAPIPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := strings.CutPrefix(r.URL.Path, "/api"); ok && (p == "" || p[0] == '/') {
			if p == "" {
				p = "/"
			}
			r2 := r.Clone(r.Context())
			r2.URL.Path = p
			r2.URL.RawPath = ""
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}
