package store

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// MemoryTable keeps rows in process memory, partitioned by id and ordered by version
type MemoryTable struct {
	mu   sync.RWMutex
	rows map[string][]Item // id -> rows sorted by version
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[string][]Item)}
}

// Put inserts or overwrites the row with the same id and version
func (t *MemoryTable) Put(ctx context.Context, item Item, opts ...PutOption) error {
	id, version, err := rowKey(item)
	if err != nil {
		return err
	}
	o := ApplyPutOptions(opts)

	row := make(Item, len(item))
	for k, v := range item {
		row[k] = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	partition := t.rows[id]
	i, found := slices.BinarySearchFunc(partition, version, func(it Item, v int) int {
		iv, _ := IntValue(it[SortKey])
		return iv - v
	})
	if found {
		if o.IfNotExists {
			return ErrConditionFailed
		}
		partition[i] = row
		return nil
	}
	t.rows[id] = slices.Insert(partition, i, row)
	return nil
}

// Query returns the rows of one partition matching the sort key condition
func (t *MemoryTable) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Item
	for _, row := range t.rows[in.PartitionValue] {
		v, _ := IntValue(row[SortKey])
		if in.SortKey.Matches(v) {
			out = append(out, row)
		}
	}
	return orderAndLimit(out, in.Descending, in.Limit), nil
}

// QueryIndex scans every partition for rows whose attribute equals the value.
// Index names are not meaningful in memory; every attribute is indexed.
func (t *MemoryTable) QueryIndex(ctx context.Context, in IndexQueryInput) ([]Item, error) {
	if in.Attribute == "" {
		return nil, fmt.Errorf("index query on %q requires an attribute", in.IndexName)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Item
	for _, partition := range t.rows {
		for _, row := range partition {
			if v, ok := row[in.Attribute]; ok && indexMatches(v, in.Value) {
				out = append(out, row)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Item) int {
		av, _ := IntValue(a[SortKey])
		bv, _ := IntValue(b[SortKey])
		return av - bv
	})
	return orderAndLimit(out, in.Descending, in.Limit), nil
}

// Len returns the number of rows stored under id
func (t *MemoryTable) Len(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows[id])
}

// indexMatches compares an attribute with an index key by type: strings only
// equal strings and integers compare by value whatever their decoded shape.
func indexMatches(v, want any) bool {
	if s, ok := want.(string); ok {
		got, ok := v.(string)
		return ok && got == s
	}
	if _, ok := v.(string); ok {
		return false
	}
	if wn, ok := Int64Value(want); ok {
		vn, ok := Int64Value(v)
		return ok && vn == wn
	}
	return reflect.DeepEqual(v, want)
}

func orderAndLimit(rows []Item, descending bool, limit int) []Item {
	if descending {
		slices.Reverse(rows)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func rowKey(item Item) (string, int, error) {
	id, _ := item[PartitionKey].(string)
	if id == "" {
		return "", 0, fmt.Errorf("row is missing partition key %q", PartitionKey)
	}
	version, ok := IntValue(item[SortKey])
	if !ok {
		return "", 0, fmt.Errorf("row %q is missing sort key %q", id, SortKey)
	}
	return id, version, nil
}

// MemoryProvider creates in-memory tables on first request and hands out the same table afterwards
type MemoryProvider struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{tables: make(map[string]*MemoryTable)}
}

func (p *MemoryProvider) Tables(ctx context.Context, names ...string) (map[string]Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Table, len(names))
	for _, name := range names {
		out[name] = p.table(name)
	}
	return out, nil
}

// Table returns the named table, creating it when absent
func (p *MemoryProvider) Table(name string) *MemoryTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table(name)
}

func (p *MemoryProvider) table(name string) *MemoryTable {
	t, ok := p.tables[name]
	if !ok {
		t = NewMemoryTable()
		p.tables[name] = t
	}
	return t
}
