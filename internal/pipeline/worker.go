package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ntentasd/nostradamus-history/internal/aggregation"
	"github.com/ntentasd/nostradamus-history/internal/cache"
	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
)

// job is either an update of group with record or, if checkpoint is set,
// a request to persist the dirty states.
type job struct {
	group      string
	record     types.ActivePowerRecord
	checkpoint chan<- error
}

type worker struct {
	id     int
	jobs   chan job
	arena  *aggregation.Arena
	p      *Pipeline
	logger zerolog.Logger
}

func newWorker(id int, p *Pipeline, queueSize int) *worker {
	return &worker{
		id:     id,
		jobs:   make(chan job, queueSize),
		arena:  aggregation.NewArena(),
		p:      p,
		logger: p.logger.With().Int("worker", id).Logger(),
	}
}

func (w *worker) run(ctx context.Context) {
	for j := range w.jobs {
		if j.checkpoint != nil {
			j.checkpoint <- w.save(ctx)
			continue
		}
		w.apply(ctx, j.group, j.record)
	}
}

func (w *worker) apply(ctx context.Context, group string, r types.ActivePowerRecord) {
	_, known := w.arena.Lookup(group)
	if !known {
		metrics.AggregationGroups.Inc()
	}
	if !known || w.arena.Held(group) {
		s, err := w.load(ctx, group)
		if err != nil {
			// keep the value, retry the load on the next update
			metrics.SnapshotErrorsTotal.WithLabelValues("load").Inc()
			w.logger.Error().Err(err).Str("group", group).Msg("failed to load state snapshot, holding group")
			w.arena.Hold(group)
			w.arena.Apply(group, r)
			return
		}
		w.arena.Restore(group, s)
	}

	agg := w.arena.Apply(group, r)

	if err := w.p.emitter.Emit(ctx, agg); err != nil {
		metrics.EmitErrorsTotal.Inc()
		w.logger.Error().Err(err).Str("group", group).Int64("timestamp", agg.Timestamp).
			Msg("failed to emit aggregated record")
		return
	}
	metrics.AggregatesEmittedTotal.Inc()
}

// load reads the persisted state of group. It returns a nil state if there
// is none or the snapshot cannot be decoded, and an error only if the store
// could not be read.
func (w *worker) load(ctx context.Context, group string) (*aggregation.State, error) {
	if w.p.snapshots == nil {
		return nil, nil
	}

	b, err := w.p.snapshots.LoadState(ctx, group)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s := aggregation.NewState()
	if err := s.UnmarshalBinary(b); err != nil {
		metrics.SnapshotErrorsTotal.WithLabelValues("load").Inc()
		w.logger.Error().Err(err).Str("group", group).Msg("discarding malformed state snapshot")
		return nil, nil
	}
	w.logger.Debug().Str("group", group).Int("children", s.Len()).Msg("restored state")
	return s, nil
}

func (w *worker) save(ctx context.Context) error {
	var errs []error
	for _, group := range w.arena.Dirty() {
		s, ok := w.arena.Lookup(group)
		if !ok {
			continue
		}
		b, err := s.MarshalBinary()
		if err == nil {
			err = w.p.snapshots.SaveState(ctx, group, b)
		}
		if err != nil {
			metrics.SnapshotErrorsTotal.WithLabelValues("save").Inc()
			w.arena.MarkDirty(group)
			errs = append(errs, fmt.Errorf("save state of %s: %w", group, err))
		}
	}
	return errors.Join(errs...)
}
