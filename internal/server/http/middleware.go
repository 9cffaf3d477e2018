package httpserver

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/auth"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/metrics"
)

// Logging logs one line per request. Payloads are never logged.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http",
				zap.String("method", r.Method),
				zap.String("route", routePattern(r)),
				zap.Int("status", ww.Status()),
				zap.Duration("dur", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// Recover turns a panic into a 500 response.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts and latency per route pattern. m may be nil.
func Metrics(m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			m.ObserveHTTP(r.Method, routePattern(r), ww.Status(), time.Since(start))
		})
	}
}

// Authenticate resolves an optional bearer token into the request uid.
// A missing or rejected credential leaves the request anonymous; a rejected
// one is kept in context so a 401 can name it.
func Authenticate(res TokenResolver, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				next.ServeHTTP(w, r)
				return
			}
			err := fmt.Errorf("%w: unsupported authorization scheme", errs.ErrUnauthenticated)
			if tok, ok := auth.BearerToken(h); ok && res != nil {
				var id string
				if id, err = res.Resolve(tok); err == nil {
					next.ServeHTTP(w, r.WithContext(auth.WithUID(r.Context(), id)))
					return
				}
			}
			log.Debug("credential rejected",
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			next.ServeHTTP(w, r.WithContext(auth.WithCredentialError(r.Context(), err)))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
