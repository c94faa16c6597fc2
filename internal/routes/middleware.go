package routes

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// withRequestID tags every request with an id, taken from the client if it
// sent one, and attaches a logger carrying it to the request context.
func (app *App) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := app.logger.With().Str("requestId", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// instrument observes the latency of h under route.
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.HttpRequestLatencySeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			zerolog.Ctx(r.Context()).Debug().
				Str("route", route).
				Str("path", r.URL.Path).
				Dur("took", time.Since(start)).
				Msg("request served")
		}()
		h(w, r)
	}
}
