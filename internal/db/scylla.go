package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/ntentasd/nostradamus-history/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ Session = (*Scylla)(nil)

// Scylla runs statements against a ScyllaDB or Cassandra cluster.
type Scylla struct {
	sess *gocql.Session
}

func NewScylla(sess *gocql.Session) *Scylla {
	return &Scylla{sess: sess}
}

// Connect opens a session on keyspace, creating the keyspace first if
// needed.
func Connect(nodes []string, keyspace string, timeout time.Duration) (*Scylla, error) {
	boot := gocql.NewCluster(nodes...)
	boot.Timeout = timeout
	boot.DisableInitialHostLookup = true
	bootSess, err := boot.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("unable to connect: %w", err)
	}
	err = bootSess.Query(fmt.Sprintf(`
CREATE KEYSPACE IF NOT EXISTS %s
WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}
`, keyspace)).Exec()
	bootSess.Close()
	if err != nil {
		return nil, fmt.Errorf("unable to create keyspace %s: %w", keyspace, err)
	}

	cluster := gocql.NewCluster(nodes...)
	cluster.Keyspace = keyspace
	cluster.Timeout = timeout
	cluster.Consistency = gocql.Quorum
	cluster.DisableInitialHostLookup = true
	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("unable to connect: %w", err)
	}
	return NewScylla(sess), nil
}

func (s *Scylla) Query(ctx context.Context, sel Select) ([]Row, error) {
	ctx, span := otel.Tracer("history-db").Start(ctx, "db.Query")
	defer span.End()

	stmt, args := sel.CQL(false)
	span.SetAttributes(attribute.String("db.table", sel.Table), attribute.String("db.statement", stmt))

	start := time.Now()
	iter := s.sess.Query(stmt, args...).WithContext(ctx).Iter()

	rows := make([]Row, 0, iter.NumRows())
	for {
		row := make(map[string]any)
		if !iter.MapScan(row) {
			break
		}
		rows = append(rows, row)
	}

	if err := iter.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", sel.Table, err)
	}
	metrics.DbReadLatencySeconds.WithLabelValues("select").Observe(time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "")

	return rows, nil
}

func (s *Scylla) Count(ctx context.Context, sel Select) (int64, error) {
	ctx, span := otel.Tracer("history-db").Start(ctx, "db.Count")
	defer span.End()

	stmt, args := sel.CQL(true)
	span.SetAttributes(attribute.String("db.table", sel.Table), attribute.String("db.statement", stmt))

	start := time.Now()
	var count int64
	if err := s.sess.Query(stmt, args...).WithContext(ctx).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count %s: %w", sel.Table, err)
	}
	metrics.DbReadLatencySeconds.WithLabelValues("count").Observe(time.Since(start).Seconds())
	span.SetStatus(codes.Ok, "")

	return count, nil
}

func (s *Scylla) Insert(ctx context.Context, t Table, row Row) error {
	stmt, args := t.InsertCQL(row)

	start := time.Now()
	if err := s.sess.Query(stmt, args...).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	metrics.DbWriteLatencySeconds.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

	return nil
}

func (s *Scylla) CreateTable(ctx context.Context, t Table) error {
	if err := s.sess.Query(t.CreateCQL()).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

func (s *Scylla) Close() {
	if s.sess != nil {
		s.sess.Close()
	}
}
