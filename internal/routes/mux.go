// Package routes
package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ntentasd/nostradamus-history/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewMux(app *App) http.Handler {
	mux := http.NewServeMux()

	// health check
	mux.HandleFunc("/healthz", app.healthHandler)

	// metrics
	mux.Handle("/metrics", promhttp.Handler())

	// raw and aggregated history
	if app.Raw != nil {
		registerSeries(mux, app, "/power/raw", app.Raw)
	}
	if app.Aggregated != nil {
		registerSeries(mux, app, "/power/aggregated", app.Aggregated)
	}

	// windowed history, one prefix per window
	names := make([]string, 0, len(app.Windowed))
	for name := range app.Windowed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		registerSeries(mux, app, "/power/windowed/"+name, app.Windowed[name])
	}

	var h http.Handler = mux
	if app.CORS {
		h = utils.WithCORS(h)
	}
	return app.withRequestID(h)
}

func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if app.Cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := app.Cache.Ping(ctx); err != nil {
			utils.ReplyJSON(w, http.StatusServiceUnavailable, utils.Body{
				"state": "unhealthy",
				"error": err.Error(),
			})
			return
		}
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"state": "healthy",
	})
}
