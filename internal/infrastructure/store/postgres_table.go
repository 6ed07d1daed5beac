package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	queryCreateTable = `CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		version BIGINT NOT NULL,
		item JSONB NOT NULL,
		PRIMARY KEY (id, version)
	)`
	queryPutItem = `INSERT INTO %s (id, version, item) VALUES ($1, $2, $3)
		ON CONFLICT (id, version) DO UPDATE SET item = EXCLUDED.item`
	queryPutItemIfNotExists = `INSERT INTO %s (id, version, item) VALUES ($1, $2, $3)
		ON CONFLICT (id, version) DO NOTHING`
	querySelectPartition = `SELECT item FROM %s WHERE id = $1`
	querySelectIndex     = `SELECT item FROM %s WHERE item->>$1 = $2`
)

// PostgresTable stores rows as JSONB documents keyed by (id, version)
type PostgresTable struct {
	db        *sql.DB
	tableName string
}

func NewPostgresTable(db *sql.DB, tableName string) *PostgresTable {
	return &PostgresTable{
		db:        db,
		tableName: pq.QuoteIdentifier(tableName),
	}
}

// EnsureSchema creates the backing table when it does not exist
func (t *PostgresTable) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, fmt.Sprintf(queryCreateTable, t.tableName)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.tableName, err)
	}
	return nil
}

func (t *PostgresTable) Put(ctx context.Context, item Item, opts ...PutOption) error {
	id, version, err := rowKey(item)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	query := queryPutItem
	conditional := ApplyPutOptions(opts).IfNotExists
	if conditional {
		query = queryPutItemIfNotExists
	}

	result, err := t.db.ExecContext(ctx, fmt.Sprintf(query, t.tableName), id, version, doc)
	if err != nil {
		return fmt.Errorf("failed to put item into %s: %w", t.tableName, err)
	}
	if conditional {
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to put item into %s: %w", t.tableName, err)
		}
		if n == 0 {
			return fmt.Errorf("failed to put item into %s: %w", t.tableName, ErrConditionFailed)
		}
	}
	return nil
}

func (t *PostgresTable) Query(ctx context.Context, in QueryInput) ([]Item, error) {
	var b strings.Builder
	fmt.Fprintf(&b, querySelectPartition, t.tableName)
	args := []any{in.PartitionValue}
	if in.SortKey != nil {
		op := OpGreaterThan
		if in.SortKey.Op == OpEqual {
			op = OpEqual
		}
		args = append(args, in.SortKey.Value)
		fmt.Fprintf(&b, " AND version %s $%d", op, len(args))
	}
	writeOrderAndLimit(&b, in.Descending, in.Limit)

	return t.selectItems(ctx, b.String(), args...)
}

// QueryIndex matches a top-level attribute of the stored document. The index
// name is advisory; an expression index on (item->>'attr') serves the lookup.
func (t *PostgresTable) QueryIndex(ctx context.Context, in IndexQueryInput) ([]Item, error) {
	var b strings.Builder
	fmt.Fprintf(&b, querySelectIndex, t.tableName)
	writeOrderAndLimit(&b, in.Descending, in.Limit)

	return t.selectItems(ctx, b.String(), in.Attribute, fmt.Sprint(in.Value))
}

func (t *PostgresTable) selectItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.tableName, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", t.tableName, err)
		}
		var item Item
		if err := decodeJSON(doc, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row from %s: %w", t.tableName, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", t.tableName, err)
	}
	return items, nil
}

func writeOrderAndLimit(b *strings.Builder, descending bool, limit int) {
	if descending {
		b.WriteString(" ORDER BY version DESC")
	} else {
		b.WriteString(" ORDER BY version ASC")
	}
	if limit > 0 {
		fmt.Fprintf(b, " LIMIT %d", limit)
	}
}

// PostgresProvider hands out PostgresTables on a shared connection pool
type PostgresProvider struct {
	db           *sql.DB
	prefix       string
	ensureSchema bool
}

func NewPostgresProvider(db *sql.DB, prefix string, ensureSchema bool) *PostgresProvider {
	return &PostgresProvider{db: db, prefix: prefix, ensureSchema: ensureSchema}
}

func (p *PostgresProvider) Tables(ctx context.Context, names ...string) (map[string]Table, error) {
	if err := p.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	out := make(map[string]Table, len(names))
	for _, name := range names {
		t := NewPostgresTable(p.db, p.prefix+name)
		if p.ensureSchema {
			if err := t.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		out[name] = t
	}
	return out, nil
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
