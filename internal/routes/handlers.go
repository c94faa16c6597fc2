package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ntentasd/nostradamus-history/internal/db"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/ntentasd/nostradamus-history/pkg/utils"
	"github.com/rs/zerolog"
)

// series serves the repository operations of one record kind.
type series[T any] struct {
	app    *App
	prefix string
	repo   *db.Repository[T]
}

func registerSeries[T any](mux *http.ServeMux, app *App, prefix string, repo *db.Repository[T]) {
	s := &series[T]{app: app, prefix: prefix, repo: repo}

	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(prefix+path, instrument(prefix+path, getOnly(h)))
	}

	// per identifier routes live below /identifiers so no identifier can
	// collide with a table level route
	handle("/identifiers", s.identifiersHandler)
	handle("/total-count", s.totalCountHandler)
	handle("/identifiers/{identifier}", s.getHandler)
	handle("/identifiers/{identifier}/latest", s.latestHandler)
	handle("/identifiers/{identifier}/earliest", s.earliestHandler)
	handle("/identifiers/{identifier}/count", s.countHandler)
	handle("/identifiers/{identifier}/trend", s.trendHandler)
	handle("/identifiers/{identifier}/distribution", s.distributionHandler)
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			utils.ReplyMethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func (s *series[T]) identifiersHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := s.repo.Identifiers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": ids,
	})
}

func (s *series[T]) totalCountHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.TotalCount(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": n,
	})
}

func (s *series[T]) getHandler(w http.ResponseWriter, r *http.Request) {
	tr, err := timeRestriction(r.URL.Query())
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	records, err := s.repo.Get(r.Context(), r.PathValue("identifier"), tr)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": records,
	})
}

func (s *series[T]) latestHandler(w http.ResponseWriter, r *http.Request) {
	s.limited(w, r, s.repo.Latest)
}

func (s *series[T]) earliestHandler(w http.ResponseWriter, r *http.Request) {
	s.limited(w, r, s.repo.Earliest)
}

func (s *series[T]) limited(
	w http.ResponseWriter,
	r *http.Request,
	query func(context.Context, string, types.TimeRestriction, int) ([]T, error),
) {
	q := r.URL.Query()
	tr, err := timeRestriction(q)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}
	count, err := positiveInt(q, "count", 1)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	records, err := query(r.Context(), r.PathValue("identifier"), tr, count)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": records,
	})
}

func (s *series[T]) countHandler(w http.ResponseWriter, r *http.Request) {
	tr, err := timeRestriction(r.URL.Query())
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	n, err := s.repo.Count(r.Context(), r.PathValue("identifier"), tr)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": n,
	})
}

func (s *series[T]) trendHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := timeRestriction(q)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}
	points, err := positiveInt(q, "pointsToSmooth", 1)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	identifier := r.PathValue("identifier")
	key := fmt.Sprintf("trend:%s:%s:%s:%d", s.repo.Table().Name, identifier, tr, points)
	s.cached(w, r, key, tr, func(ctx context.Context) (any, error) {
		return s.repo.Trend(ctx, identifier, tr, points)
	})
}

func (s *series[T]) distributionHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := timeRestriction(q)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}
	buckets, err := positiveInt(q, "buckets", 4)
	if err != nil {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	identifier := r.PathValue("identifier")
	key := fmt.Sprintf("distribution:%s:%s:%s:%d", s.repo.Table().Name, identifier, tr, buckets)
	s.cached(w, r, key, tr, func(ctx context.Context) (any, error) {
		return s.repo.Distribution(ctx, identifier, tr, buckets)
	})
}

// cached serves compute through the query cache. Only closed intervals are
// cached, results of open intervals change with every new record. Concurrent
// requests for the same key share one computation, which outlives the
// request that started it.
func (s *series[T]) cached(
	w http.ResponseWriter,
	r *http.Request,
	key string,
	tr types.TimeRestriction,
	compute func(context.Context) (any, error),
) {
	ctx := r.Context()
	_, closed := tr.To()
	useCache := s.app.Cache != nil && closed

	if useCache {
		b, err := s.app.Cache.FetchAggregate(ctx, key)
		if err == nil && json.Valid(b) {
			utils.ReplyRawJSON(w, http.StatusOK, b)
			return
		}
	}

	data, err, shared := s.app.flight.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedQueryTimeout)
		defer cancel()
		return compute(ctx)
	})
	if shared {
		zerolog.Ctx(ctx).Debug().Str("key", key).Msg("shared query result")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if useCache {
		if err := s.app.Cache.StoreAggregate(ctx, key, data, queryCacheTTL); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to cache query result")
		}
	}

	utils.ReplyJSON(w, http.StatusOK, utils.Body{
		"data": data,
	})
}

func (s *series[T]) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrInvalidBucketCount) {
		utils.ReplyBadRequest(w, err.Error())
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("prefix", s.prefix).Str("path", r.URL.Path).
		Msg("query failed")
	utils.ReplyInternalServerError(w, "query failed")
}
