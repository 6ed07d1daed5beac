package store

import (
	"context"
	"errors"
)

// Key attribute names shared by the event and snapshot tables.
const (
	PartitionKey = "id"
	SortKey      = "version"
)

// ErrConditionFailed is returned by Put when a conditional write is rejected
var ErrConditionFailed = errors.New("conditional write failed")

// Item is a single table row keyed by attribute name
type Item map[string]any

// SortKeyCondition restricts a partition query on the version sort key
type SortKeyCondition struct {
	Op    string // one of the Op* constants
	Value int
}

const (
	OpGreaterThan = ">"
	OpEqual       = "="
)

// VersionAfter matches rows whose version is strictly greater than v
func VersionAfter(v int) *SortKeyCondition {
	return &SortKeyCondition{Op: OpGreaterThan, Value: v}
}

// Matches reports whether version satisfies the condition. A nil condition matches everything.
func (c *SortKeyCondition) Matches(version int) bool {
	if c == nil {
		return true
	}
	switch c.Op {
	case OpEqual:
		return version == c.Value
	default:
		return version > c.Value
	}
}

// QueryInput describes a query by partition key
type QueryInput struct {
	PartitionValue string
	SortKey        *SortKeyCondition
	Limit          int  // 0 means no limit
	Descending     bool // order by version descending
}

// IndexQueryInput describes a query through a named secondary index
type IndexQueryInput struct {
	IndexName  string
	Attribute  string
	Value      any
	Limit      int
	Descending bool
}

// PutOptions controls a single Put
type PutOptions struct {
	IfNotExists bool
}

// PutOption configures PutOptions
type PutOption func(*PutOptions)

// IfNotExists rejects the write with ErrConditionFailed when a row with the
// same partition and sort key already exists.
func IfNotExists() PutOption {
	return func(o *PutOptions) { o.IfNotExists = true }
}

// ApplyPutOptions folds opts into a PutOptions value
func ApplyPutOptions(opts []PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Table is the storage capability the repository depends on
type Table interface {
	Put(ctx context.Context, item Item, opts ...PutOption) error
	Query(ctx context.Context, in QueryInput) ([]Item, error)
	QueryIndex(ctx context.Context, in IndexQueryInput) ([]Item, error)
}

// TableProvider hands out live table handles by logical table name
type TableProvider interface {
	Tables(ctx context.Context, names ...string) (map[string]Table, error)
}
