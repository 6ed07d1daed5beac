package mocks

import (
	"context"
	"sync"

	"github.com/example/sourced-repo/internal/infrastructure/store"
)

// MockTable is a mock implementation of store.Table for testing.
// Rows are kept in an in-memory table so reads observe earlier writes.
type MockTable struct {
	mu      sync.Mutex
	backing *store.MemoryTable

	// For tracking calls in tests
	PutCalls        []PutCall
	PutErr          error
	PutCallback     func(ctx context.Context, item store.Item, opts store.PutOptions) error
	QueryCalls      []store.QueryInput
	QueryErr        error
	QueryIndexCalls []store.IndexQueryInput
	QueryIndexErr   error
}

// PutCall records parameters passed to Put
type PutCall struct {
	Item    store.Item
	Options store.PutOptions
}

// NewMockTable creates a new MockTable
func NewMockTable() *MockTable {
	return &MockTable{
		backing:  store.NewMemoryTable(),
		PutCalls: make([]PutCall, 0),
	}
}

// Put records the call and stores the row unless an error is configured
func (m *MockTable) Put(ctx context.Context, item store.Item, opts ...store.PutOption) error {
	o := store.ApplyPutOptions(opts)

	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, PutCall{Item: item, Options: o})
	callback, putErr := m.PutCallback, m.PutErr
	m.mu.Unlock()

	// Use callback if provided
	if callback != nil {
		if err := callback(ctx, item, o); err != nil {
			return err
		}
	} else if putErr != nil {
		return putErr
	}

	return m.backing.Put(ctx, item, opts...)
}

// Query records the call and reads from the backing table
func (m *MockTable) Query(ctx context.Context, in store.QueryInput) ([]store.Item, error) {
	m.mu.Lock()
	m.QueryCalls = append(m.QueryCalls, in)
	err := m.QueryErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.backing.Query(ctx, in)
}

// QueryIndex records the call and reads from the backing table
func (m *MockTable) QueryIndex(ctx context.Context, in store.IndexQueryInput) ([]store.Item, error) {
	m.mu.Lock()
	m.QueryIndexCalls = append(m.QueryIndexCalls, in)
	err := m.QueryIndexErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.backing.QueryIndex(ctx, in)
}

// Seed stores rows directly without recording calls
func (m *MockTable) Seed(items ...store.Item) error {
	for _, item := range items {
		if err := m.backing.Put(context.Background(), item); err != nil {
			return err
		}
	}
	return nil
}

// Puts returns a copy of the recorded Put calls
func (m *MockTable) Puts() []PutCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PutCall(nil), m.PutCalls...)
}

// Reset clears stored rows and recorded calls
func (m *MockTable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backing = store.NewMemoryTable()
	m.PutCalls = make([]PutCall, 0)
	m.PutErr = nil
	m.PutCallback = nil
	m.QueryCalls = nil
	m.QueryErr = nil
	m.QueryIndexCalls = nil
	m.QueryIndexErr = nil
}

// MockProvider hands out fixed tables and optionally fails
type MockProvider struct {
	TablesByName map[string]store.Table
	Err          error
	Calls        [][]string
}

// NewMockProvider creates a provider serving the given tables
func NewMockProvider(tables map[string]store.Table) *MockProvider {
	return &MockProvider{TablesByName: tables}
}

func (p *MockProvider) Tables(ctx context.Context, names ...string) (map[string]store.Table, error) {
	p.Calls = append(p.Calls, names)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make(map[string]store.Table, len(names))
	for _, name := range names {
		if t, ok := p.TablesByName[name]; ok {
			out[name] = t
		}
	}
	return out, nil
}
