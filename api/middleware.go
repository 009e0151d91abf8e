package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/logging"
)

// UtoridHeader carries the caller's identity, set by the authentication
// proxy in front of this service.
const UtoridHeader = "X-Utorid"

type actorKey struct{}

func withActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// actorFrom returns the authenticated actor. Only valid behind authenticate.
func actorFrom(ctx context.Context) generic.Actor {
	actor, _ := ctx.Value(actorKey{}).(generic.Actor)
	return actor
}

// requestLogger attaches a request-scoped logger to the context and logs
// each request when it completes. Must run after middleware.RequestID.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), logger)))

			logger.Info().
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// authenticate resolves X-Utorid to an Actor. Unknown or missing
// identities get 401.
func authenticate(accounts generic.AccountStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			utorid := r.Header.Get(UtoridHeader)
			if utorid == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			acc, err := accounts.GetAccount(r.Context(), utorid)
			if errors.Is(err, generic.ErrAccountNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err != nil {
				writeDomainError(w, r, err)
				return
			}

			actor := generic.Actor{ID: acc.ID, Utorid: acc.Utorid, Role: acc.Role, Suspicious: acc.Suspicious}
			ctx := withActor(r.Context(), actor)
			logger := logging.FromContext(ctx).With().Str("actor", actor.Utorid).Logger()
			next.ServeHTTP(w, r.WithContext(logging.WithContext(ctx, logger)))
		})
	}
}
