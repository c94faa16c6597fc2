package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Checkpointable persists its in-memory state on request.
type Checkpointable interface {
	Checkpoint(ctx context.Context) error
}

// Checkpointer periodically asks the pipeline to persist the aggregation
// states changed since the last run.
type Checkpointer struct {
	target   Checkpointable
	Interval time.Duration
	Timeout  time.Duration
	logger   zerolog.Logger

	cancelCtx context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

// NewCheckpointer creates a new background worker for state checkpoints.
func NewCheckpointer(target Checkpointable, interval time.Duration, logger zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		target:   target,
		Interval: interval,
		Timeout:  interval,
		logger:   logger.With().Str("component", "checkpointer").Logger(),
		done:     make(chan struct{}),
	}
}

func (c *Checkpointer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelCtx = cancel

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()

		c.logger.Info().Dur("interval", c.Interval).Msg("started")

		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Msg("stopped")
				return
			case <-ticker.C:
				if err := c.run(ctx); err != nil {
					c.logger.Error().Err(err).Msg("checkpoint failed")
				}
			}
		}
	}()
}

// Stop stops the background worker and waits for a running checkpoint.
func (c *Checkpointer) Stop() {
	c.once.Do(func() {
		if c.cancelCtx == nil {
			close(c.done)
			return
		}
		c.cancelCtx()
	})
	<-c.done
}

func (c *Checkpointer) run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	if err := c.target.Checkpoint(ctx); err != nil {
		return err
	}
	c.logger.Debug().Dur("took", time.Since(start)).Msg("checkpoint done")
	return nil
}
