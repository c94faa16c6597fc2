package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Session = (*Memory)(nil)

// Memory is an in-process Session. Rows are upserted by (partition key,
// clustering key) like in the real store.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	def  Table
	rows map[memKey]Row
}

type memKey struct {
	partition  any
	clustering any
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) CreateTable(_ context.Context, t Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.Name]; !ok {
		m.tables[t.Name] = &memTable{def: t, rows: make(map[memKey]Row)}
	}
	return nil
}

func (m *Memory) Insert(ctx context.Context, t Table, row Row) error {
	if err := m.CreateTable(ctx, t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{partition: row[t.PartitionKey], clustering: row[t.ClusteringKey]}
	stored := make(Row, len(row))
	for k, v := range row {
		stored[k] = v
	}
	m.tables[t.Name].rows[key] = stored
	return nil
}

func (m *Memory) Query(ctx context.Context, s Select) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[s.Table]
	if !ok {
		return nil, fmt.Errorf("query %s: unconfigured table", s.Table)
	}

	var rows []Row
	for _, r := range t.rows {
		if matches(r, s.Where) {
			rows = append(rows, r)
		}
	}

	if s.Distinct {
		return distinct(rows, s.Columns), nil
	}

	if s.Order != Unordered && s.OrderBy != "" {
		slices.SortFunc(rows, func(a, b Row) int {
			c := compare(a[s.OrderBy], b[s.OrderBy])
			if s.Order == Descending {
				return -c
			}
			return c
		})
	}
	if s.Limit > 0 && len(rows) > s.Limit {
		rows = rows[:s.Limit]
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, project(r, s.Columns))
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context, s Select) (int64, error) {
	s.Limit = 0
	s.Order = Unordered
	rows, err := m.Query(ctx, s)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *Memory) Close() {}

func matches(r Row, where []Clause) bool {
	for _, c := range where {
		v, ok := r[c.Column]
		if !ok {
			return false
		}
		d := compare(v, c.Value)
		switch c.Op {
		case OpEq:
			ok = d == 0
		case OpGt:
			ok = d > 0
		case OpGte:
			ok = d >= 0
		case OpLt:
			ok = d < 0
		case OpLte:
			ok = d <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// compare orders the values the store uses as keys. Mismatched types
// compare by their formatted representation.
func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func project(r Row, columns []string) Row {
	out := make(Row, len(r))
	if len(columns) == 0 {
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

func distinct(rows []Row, columns []string) []Row {
	seen := make(map[string]bool)
	var out []Row
	for _, r := range rows {
		p := project(r, columns)
		key := fmt.Sprint(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
