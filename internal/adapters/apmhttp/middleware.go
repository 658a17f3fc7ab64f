package apmhttp

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/internal/adapters/apmsql"
	"github.com/fllarpy/reqprof/internal/application/hooks"
)

// Scope is the per-request state installed by Middleware.
type Scope struct {
	Queries *apmsql.QueryLog
	HTTP    *HTTPLog
	Hooks   *hooks.Registry
}

type scopeKey struct{}

// NewScope attaches a fresh query log, HTTP log and late shutdown registry to ctx.
func NewScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{
		Queries: apmsql.NewQueryLog(),
		HTTP:    NewHTTPLog(),
		Hooks:   hooks.NewRegistry(),
	}
	ctx = apmsql.WithQueryLog(ctx, s.Queries)
	ctx = WithHTTPLog(ctx, s.HTTP)
	ctx = domain.WithHookRegistry(ctx, s.Hooks)
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFromContext returns the request scope or nil outside Middleware.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Sources returns the scope's logs as profiler collaborators. Outside a
// scope both collaborators are absent.
func Sources(ctx context.Context) domain.Sources {
	s := ScopeFromContext(ctx)
	if s == nil {
		return domain.Sources{}
	}
	return domain.Sources{Queries: s.Queries, HTTP: s.HTTP}
}

// Middleware opens a request scope around next and runs the scope's late
// shutdown actions once next has returned.
func Middleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, scope := NewScope(r.Context())
		r = r.WithContext(ctx)

		// Late actions run even when next panics or the client is gone.
		defer func() {
			if err := scope.Hooks.Run(context.WithoutCancel(ctx)); err != nil {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("Late shutdown actions failed")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
