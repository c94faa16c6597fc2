// Package pipeline fans readings out to every ancestor group of a device
// and keeps the per-group aggregation state.
//
// Each group id is owned by exactly one worker goroutine, selected by
// hashing the group id. All updates of a group are therefore applied
// sequentially and the states need no locking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/ntentasd/nostradamus-history/internal/topology"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("pipeline closed")

// Emitter receives every aggregated record produced by the pipeline.
type Emitter interface {
	Emit(ctx context.Context, r types.AggregatedActivePowerRecord) error
}

type EmitterFunc func(ctx context.Context, r types.AggregatedActivePowerRecord) error

func (f EmitterFunc) Emit(ctx context.Context, r types.AggregatedActivePowerRecord) error {
	return f(ctx, r)
}

// Snapshots persists encoded group states across restarts. LoadState must
// return an error matching cache.ErrCacheMiss for unknown groups.
type Snapshots interface {
	LoadState(ctx context.Context, group string) ([]byte, error)
	SaveState(ctx context.Context, group string, snapshot []byte) error
}

type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	return c
}

type Pipeline struct {
	lookup    topology.Lookup
	emitter   Emitter
	snapshots Snapshots
	logger    zerolog.Logger

	workers []*worker
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New creates a pipeline. snapshots may be nil, in which case group states
// live in memory only.
func New(cfg Config, lookup topology.Lookup, emitter Emitter, snapshots Snapshots, logger zerolog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		lookup:    lookup,
		emitter:   emitter,
		snapshots: snapshots,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers = append(p.workers, newWorker(i, p, cfg.QueueSize))
	}
	return p
}

// Start launches the workers. ctx is used for emitting and snapshot calls
// made by the workers.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			w.run(ctx)
		}(w)
	}
	p.logger.Info().Int("workers", len(p.workers)).Msg("pipeline started")
}

// Submit routes r to the owner of each of its ancestor groups. Readings of
// unknown devices are dropped and reported with an error wrapping
// topology.ErrNotFound.
func (p *Pipeline) Submit(ctx context.Context, r types.ActivePowerRecord) error {
	metrics.ReadingsTotal.Inc()

	ancestors, err := p.lookup.AncestorsOf(r.Identifier)
	if err != nil {
		metrics.LookupMissesTotal.Inc()
		p.logger.Warn().Err(err).Str("identifier", r.Identifier).Msg("dropping reading")
		return fmt.Errorf("drop reading of %s: %w", r.Identifier, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	for _, group := range ancestors {
		w := p.owner(group)
		select {
		case w.jobs <- job{group: group, record: r}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Checkpoint makes every worker persist the groups changed since the last
// checkpoint. It is a no-op without a snapshot store.
func (p *Pipeline) Checkpoint(ctx context.Context) error {
	if p.snapshots == nil {
		return nil
	}

	p.mu.RLock()
	if p.closed || !p.started {
		p.mu.RUnlock()
		return ErrClosed
	}
	replies := make([]chan error, 0, len(p.workers))
	for _, w := range p.workers {
		reply := make(chan error, 1)
		select {
		case w.jobs <- job{checkpoint: reply}:
			replies = append(replies, reply)
		case <-ctx.Done():
			p.mu.RUnlock()
			return ctx.Err()
		}
	}
	p.mu.RUnlock()

	var errs []error
	for _, reply := range replies {
		select {
		case err := <-reply:
			errs = append(errs, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting readings and waits until the workers drained their
// queues.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("pipeline stopped")
}

func (p *Pipeline) owner(group string) *worker {
	return p.workers[xxhash.Sum64String(group)%uint64(len(p.workers))]
}
