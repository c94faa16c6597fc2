// Package window groups device readings into tumbling windows.
package window

import (
	"sync"

	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
)

type pending struct {
	start int64
	sum   float64
	count int64
}

// Windower keeps the open window of every identifier for one WindowConfig.
// It is safe for concurrent use.
type Windower struct {
	cfg    types.WindowConfig
	logger zerolog.Logger

	mu   sync.Mutex
	open map[string]*pending
}

func New(cfg types.WindowConfig, logger zerolog.Logger) *Windower {
	return &Windower{
		cfg: cfg,
		logger: logger.With().
			Str("component", "windower").
			Str("window", cfg.Name).
			Logger(),
		open: make(map[string]*pending),
	}
}

func (w *Windower) Config() types.WindowConfig {
	return w.cfg
}

// Start returns the start of the window containing timestamp.
func Start(timestamp, durationMs int64) int64 {
	if durationMs <= 0 {
		return timestamp
	}
	m := timestamp % durationMs
	if m < 0 {
		m += durationMs
	}
	return timestamp - m
}

// Add accounts value to the window of identifier containing timestamp. It
// returns the window that was closed by the reading, if any. Readings older
// than the open window are dropped.
func (w *Windower) Add(identifier string, timestamp int64, value float64) []types.WindowedActivePowerRecord {
	start := Start(timestamp, w.cfg.DurationMs())

	w.mu.Lock()
	defer w.mu.Unlock()

	cur, ok := w.open[identifier]
	switch {
	case !ok:
		w.open[identifier] = &pending{start: start, sum: value, count: 1}
		return nil
	case start == cur.start:
		cur.sum += value
		cur.count++
		return nil
	case start < cur.start:
		metrics.LateReadingsTotal.WithLabelValues(w.cfg.Name).Inc()
		w.logger.Debug().
			Str("identifier", identifier).
			Int64("timestamp", timestamp).
			Int64("open", cur.start).
			Msg("dropping late reading")
		return nil
	}

	closed := w.record(identifier, cur)
	w.open[identifier] = &pending{start: start, sum: value, count: 1}
	return []types.WindowedActivePowerRecord{closed}
}

// Flush closes and returns all open windows.
func (w *Windower) Flush() []types.WindowedActivePowerRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]types.WindowedActivePowerRecord, 0, len(w.open))
	for id, cur := range w.open {
		out = append(out, w.record(id, cur))
	}
	w.open = make(map[string]*pending)
	return out
}

func (w *Windower) record(identifier string, o *pending) types.WindowedActivePowerRecord {
	return types.WindowedActivePowerRecord{
		Identifier:     identifier,
		StartTimestamp: o.start,
		Duration:       w.cfg.Duration,
		Mean:           o.sum / float64(o.count),
		Count:          o.count,
	}
}
