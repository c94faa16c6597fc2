// Package history persists the raw and aggregated records consumed from
// Kafka and maintains the windowed records derived from them.
package history

import (
	"context"

	"github.com/ntentasd/nostradamus-history/internal/codec"
	"github.com/ntentasd/nostradamus-history/internal/db"
	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/ntentasd/nostradamus-history/internal/window"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	RawSource        = "raw"
	AggregatedSource = "aggregated"
)

// Submitter receives every decoded reading after it was persisted, usually
// the aggregation pipeline.
type Submitter interface {
	Submit(ctx context.Context, r types.ActivePowerRecord) error
}

// Windowed pairs a windower with the repository its closed windows go to.
type Windowed struct {
	Windower *window.Windower
	Repo     *db.Repository[types.WindowedActivePowerRecord]
}

type Writer struct {
	raw        *db.Repository[types.ActivePowerRecord]
	aggregated *db.Repository[types.AggregatedActivePowerRecord]
	windows    []Windowed
	next       Submitter
	logger     zerolog.Logger
}

// NewWriter creates a writer. next may be nil.
func NewWriter(
	raw *db.Repository[types.ActivePowerRecord],
	aggregated *db.Repository[types.AggregatedActivePowerRecord],
	windows []Windowed,
	next Submitter,
	logger zerolog.Logger,
) *Writer {
	return &Writer{
		raw:        raw,
		aggregated: aggregated,
		windows:    windows,
		next:       next,
		logger:     logger.With().Str("component", "history").Logger(),
	}
}

// HandleRaw stores an encoded reading together with the windows it closes
// and hands it to the submitter. Only decode and submit failures are
// returned, store failures are logged. The writes are independent, one
// failing does not cancel the others.
func (w *Writer) HandleRaw(ctx context.Context, payload []byte) error {
	rec, err := codec.DecodeActivePower(payload)
	if err != nil {
		metrics.MessageDecodeErrorsTotal.WithLabelValues(RawSource).Inc()
		return err
	}

	w.logger.Debug().
		Str("identifier", rec.Identifier).
		Int64("timestamp", rec.Timestamp).
		Float64("valueInW", rec.ValueInW).
		Msg("writing active power record")

	var g errgroup.Group
	g.Go(func() error {
		if err := w.raw.Write(ctx, rec); err != nil {
			w.logger.Error().Err(err).Str("identifier", rec.Identifier).Msg("failed to store reading")
			return err
		}
		return nil
	})
	for _, win := range w.windows {
		for _, closed := range win.Windower.Add(rec.Identifier, rec.Timestamp, rec.ValueInW) {
			g.Go(func() error {
				return w.writeWindow(ctx, win, closed)
			})
		}
	}
	_ = g.Wait()

	if w.next == nil {
		return nil
	}
	return w.next.Submit(ctx, rec)
}

// HandleAggregated stores an encoded aggregated record.
func (w *Writer) HandleAggregated(ctx context.Context, payload []byte) error {
	rec, err := codec.DecodeAggregatedActivePower(payload)
	if err != nil {
		metrics.MessageDecodeErrorsTotal.WithLabelValues(AggregatedSource).Inc()
		return err
	}

	w.logger.Debug().
		Str("identifier", rec.Identifier).
		Int64("timestamp", rec.Timestamp).
		Float64("sumInW", rec.SumInW).
		Msg("writing aggregated active power record")

	if err := w.aggregated.Write(ctx, rec); err != nil {
		w.logger.Error().Err(err).Str("identifier", rec.Identifier).Msg("failed to store aggregated record")
	}
	return nil
}

// Flush stores all open windows. It is called on shutdown and returns the
// first failed write after attempting all of them.
func (w *Writer) Flush(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, win := range w.windows {
		for _, rec := range win.Windower.Flush() {
			g.Go(func() error {
				return w.writeWindow(ctx, win, rec)
			})
		}
	}
	return g.Wait()
}

func (w *Writer) writeWindow(ctx context.Context, win Windowed, rec types.WindowedActivePowerRecord) error {
	if err := win.Repo.Write(ctx, rec); err != nil {
		w.logger.Error().Err(err).
			Str("window", win.Windower.Config().Name).
			Str("identifier", rec.Identifier).
			Int64("timestamp", rec.StartTimestamp).
			Msg("failed to store window")
		return err
	}
	return nil
}
