package routes

import (
	"time"

	"github.com/ntentasd/nostradamus-history/internal/cache"
	"github.com/ntentasd/nostradamus-history/internal/db"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	queryCacheTTL      = 5 * time.Minute
	sharedQueryTimeout = 30 * time.Second
)

// App carries the repositories served by the read API. Cache may be nil.
type App struct {
	Raw        *db.Repository[types.ActivePowerRecord]
	Aggregated *db.Repository[types.AggregatedActivePowerRecord]
	Windowed   map[string]*db.Repository[types.WindowedActivePowerRecord]
	Cache      cache.Cache
	CORS       bool
	logger     zerolog.Logger

	// collapses identical concurrent trend and distribution queries
	flight singleflight.Group
}

func New(
	raw *db.Repository[types.ActivePowerRecord],
	aggregated *db.Repository[types.AggregatedActivePowerRecord],
	windowed map[string]*db.Repository[types.WindowedActivePowerRecord],
	cache cache.Cache,
	logger zerolog.Logger,
) *App {
	return &App{
		Raw:        raw,
		Aggregated: aggregated,
		Windowed:   windowed,
		Cache:      cache,
		logger:     logger.With().Str("component", "routes").Logger(),
	}
}
