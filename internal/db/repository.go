package db

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// TrendUndefined is returned by Trend if there are no matching records.
const TrendUndefined = -1.0

var ErrInvalidBucketCount = errors.New("buckets count must be at least 1")

// Repository serves time-series queries over the table of one record kind.
// It does not apply deadlines, callers bound the context.
type Repository[T any] struct {
	sess   Session
	kind   Kind[T]
	logger zerolog.Logger
}

func NewRepository[T any](sess Session, kind Kind[T], logger zerolog.Logger) *Repository[T] {
	return &Repository[T]{
		sess: sess,
		kind: kind,
		logger: logger.With().
			Str("component", "repository").
			Str("table", kind.Table.Name).
			Logger(),
	}
}

func (r *Repository[T]) Table() Table {
	return r.kind.Table
}

// EnsureTable creates the table of the repository's kind if it is missing.
func (r *Repository[T]) EnsureTable(ctx context.Context) error {
	return r.sess.CreateTable(ctx, r.kind.Table)
}

// Write persists rec keyed by identifier and timestamp. Writing the same
// key twice overwrites the row.
func (r *Repository[T]) Write(ctx context.Context, rec T) error {
	if err := r.sess.Insert(ctx, r.kind.Table, r.kind.Encode(rec)); err != nil {
		metrics.DbWriteErrorsTotal.WithLabelValues(r.kind.Table.Name).Inc()
		return err
	}
	return nil
}

// Get returns all records of identifier within tr.
func (r *Repository[T]) Get(ctx context.Context, identifier string, tr types.TimeRestriction) ([]T, error) {
	ctx, span := otel.Tracer("history-db").Start(ctx, "repository.Get")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", identifier))

	return r.query(ctx, Restricted(r.kind.Table, identifier, tr))
}

// Latest returns up to count records of identifier within tr, newest first.
func (r *Repository[T]) Latest(ctx context.Context, identifier string, tr types.TimeRestriction, count int) ([]T, error) {
	ctx, span := otel.Tracer("history-db").Start(ctx, "repository.Latest")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", identifier), attribute.Int("count", count))

	sel := Restricted(r.kind.Table, identifier, tr).
		Ordered(r.kind.Table.ClusteringKey, Descending, count)
	return r.query(ctx, sel)
}

// Earliest returns up to count records of identifier within tr, oldest
// first.
func (r *Repository[T]) Earliest(ctx context.Context, identifier string, tr types.TimeRestriction, count int) ([]T, error) {
	ctx, span := otel.Tracer("history-db").Start(ctx, "repository.Earliest")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", identifier), attribute.Int("count", count))

	sel := Restricted(r.kind.Table, identifier, tr).
		Ordered(r.kind.Table.ClusteringKey, Ascending, count)
	return r.query(ctx, sel)
}

func (r *Repository[T]) Count(ctx context.Context, identifier string, tr types.TimeRestriction) (int64, error) {
	return r.sess.Count(ctx, Restricted(r.kind.Table, identifier, tr))
}

// TotalCount counts all rows of the table. This scans the whole table and
// does not scale to huge data sets.
func (r *Repository[T]) TotalCount(ctx context.Context) (int64, error) {
	return r.sess.Count(ctx, Select{Table: r.kind.Table.Name})
}

// Identifiers lists the distinct identifiers stored in the table.
func (r *Repository[T]) Identifiers(ctx context.Context) ([]string, error) {
	key := r.kind.Table.PartitionKey
	rows, err := r.sess.Query(ctx, Select{
		Table:    r.kind.Table.Name,
		Columns:  []string{key},
		Distinct: true,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, ok := row[key].(string)
		if !ok {
			metrics.DbDecodeErrorsTotal.WithLabelValues(r.kind.Table.Name).Inc()
			r.logger.Error().Interface("value", row[key]).Msg("skipping non-string identifier")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Trend is the ratio between the mean of the pointsToSmooth latest and the
// pointsToSmooth earliest values within tr. It is 1 if the earliest mean is
// not positive, and TrendUndefined if there are no matching records.
func (r *Repository[T]) Trend(ctx context.Context, identifier string, tr types.TimeRestriction, pointsToSmooth int) (float64, error) {
	earliest, err := r.Earliest(ctx, identifier, tr, pointsToSmooth)
	if err != nil {
		return 0, err
	}
	latest, err := r.Latest(ctx, identifier, tr, pointsToSmooth)
	if err != nil {
		return 0, err
	}

	start, okStart := r.mean(earliest)
	end, okEnd := r.mean(latest)
	if !okStart || !okEnd {
		r.logger.Warn().
			Str("identifier", identifier).
			Stringer("interval", tr).
			Int("pointsToSmooth", pointsToSmooth).
			Msg("trend could not be computed")
		return TrendUndefined, nil
	}

	if start <= 0 {
		return 1, nil
	}
	trend := end / start
	if trend < 0 {
		r.logger.Warn().
			Str("identifier", identifier).
			Float64("start", start).
			Float64("end", end).
			Msg("negative trend")
	}
	return trend, nil
}

// Distribution builds an equal-width histogram with bucketsCount buckets
// over the values within tr. The buckets cover [min, max], the last one
// ends exactly at max.
func (r *Repository[T]) Distribution(ctx context.Context, identifier string, tr types.TimeRestriction, bucketsCount int) ([]types.DistributionBucket, error) {
	if bucketsCount < 1 {
		return nil, ErrInvalidBucketCount
	}

	records, err := r.Get(ctx, identifier, tr)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(records))
	for i, rec := range records {
		values[i] = r.kind.Value(rec)
	}
	return Distribution(values, bucketsCount), nil
}

// Distribution buckets values into bucketsCount equal-width buckets. It
// returns an empty slice for no values.
func Distribution(values []float64, bucketsCount int) []types.DistributionBucket {
	if len(values) == 0 || bucketsCount < 1 {
		return []types.DistributionBucket{}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	sliceSize := (hi - lo) / float64(bucketsCount)

	counts := make([]int, bucketsCount)
	for _, v := range values {
		idx := 0
		if sliceSize > 0 {
			idx = int(math.Floor((v - lo) / sliceSize))
		}
		counts[clamp(idx, 0, bucketsCount-1)]++
	}

	buckets := make([]types.DistributionBucket, bucketsCount)
	lower := lo
	for i := range buckets {
		upper := lower + sliceSize
		if i == bucketsCount-1 {
			upper = hi
		}
		buckets[i] = types.DistributionBucket{Lower: lower, Upper: upper, Count: counts[i]}
		lower = upper
	}
	return buckets
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (r *Repository[T]) mean(records []T) (float64, bool) {
	if len(records) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, rec := range records {
		sum += r.kind.Value(rec)
	}
	return sum / float64(len(records)), true
}

// query runs sel and decodes the rows. Rows that fail to decode are logged
// and skipped.
func (r *Repository[T]) query(ctx context.Context, sel Select) ([]T, error) {
	rows, err := r.sess.Query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.kind.Table.Name, err)
	}

	records := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := r.kind.Decode(row)
		if err != nil {
			metrics.DbDecodeErrorsTotal.WithLabelValues(r.kind.Table.Name).Inc()
			r.logger.Error().Err(err).Msg("cannot create record from row")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
