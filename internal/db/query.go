package db

import (
	"fmt"
	"strings"

	"github.com/ntentasd/nostradamus-history/pkg/types"
)

type Operator string

const (
	OpEq  Operator = "="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

// Clause is a single column predicate.
type Clause struct {
	Column string
	Op     Operator
	Value  any
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value)
}

// LowerBound builds the lower time predicate of tr on column. If both from
// and after are set, after wins when it is the tighter bound.
func LowerBound(tr types.TimeRestriction, column string) Clause {
	from, hasFrom := tr.From()
	after, hasAfter := tr.After()

	switch {
	case hasFrom && hasAfter && after >= from:
		return Clause{Column: column, Op: OpGt, Value: after}
	case hasFrom:
		return Clause{Column: column, Op: OpGte, Value: from}
	case hasAfter:
		return Clause{Column: column, Op: OpGt, Value: after}
	default:
		return Clause{Column: column, Op: OpGte, Value: types.MinTimestamp}
	}
}

// UpperBound builds the inclusive upper time predicate of tr on column.
func UpperBound(tr types.TimeRestriction, column string) Clause {
	return Clause{Column: column, Op: OpLte, Value: tr.ToOrDefault(types.MaxTimestamp)}
}

type Order int

const (
	Unordered Order = iota
	Ascending
	Descending
)

// Select describes a read against a single table.
type Select struct {
	Table string
	// Columns to return, all if empty.
	Columns  []string
	Distinct bool
	Where    []Clause
	OrderBy  string
	Order    Order
	// Limit of returned rows, unlimited if zero.
	Limit int
}

// Restricted selects all rows of identifier within tr.
func Restricted(t Table, identifier string, tr types.TimeRestriction) Select {
	return Select{
		Table: t.Name,
		Where: []Clause{
			{Column: t.PartitionKey, Op: OpEq, Value: identifier},
			LowerBound(tr, t.ClusteringKey),
			UpperBound(tr, t.ClusteringKey),
		},
	}
}

// Ordered returns s sorted on column with at most limit rows.
func (s Select) Ordered(column string, order Order, limit int) Select {
	s.OrderBy = column
	s.Order = order
	s.Limit = limit
	return s
}

// CQL renders s as a SELECT statement with its bind values. If count is set
// the statement counts rows instead of returning them.
func (s Select) CQL(count bool) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	switch {
	case count:
		b.WriteString("COUNT(*)")
	case s.Distinct:
		b.WriteString("DISTINCT ")
		b.WriteString(strings.Join(s.Columns, ", "))
	case len(s.Columns) == 0:
		b.WriteString("*")
	default:
		b.WriteString(strings.Join(s.Columns, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(s.Table)

	args := make([]any, 0, len(s.Where))
	for i, c := range s.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s %s ?", c.Column, c.Op)
		args = append(args, c.Value)
	}

	if !count && s.OrderBy != "" && s.Order != Unordered {
		dir := "ASC"
		if s.Order == Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", s.OrderBy, dir)
	}
	if !count && s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String(), args
}

// Column of a table with its CQL type.
type Column struct {
	Name string
	Type string
}

// Table describes a time-series table partitioned by identifier and
// clustered by timestamp.
type Table struct {
	Name          string
	PartitionKey  string
	ClusteringKey string
	Columns       []Column
}

func (t Table) CreateCQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", t.Name)
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "%s %s, ", c.Name, c.Type)
	}
	fmt.Fprintf(&b, "PRIMARY KEY ((%s), %s))", t.PartitionKey, t.ClusteringKey)
	return b.String()
}

// InsertCQL renders an upsert of row. Columns missing from row are skipped.
func (t Table) InsertCQL(row Row) (string, []any) {
	names := make([]string, 0, len(t.Columns))
	args := make([]any, 0, len(t.Columns))
	for _, c := range t.Columns {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		names = append(names, c.Name)
		args = append(args, v)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(names, ", "), marks), args
}
