package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultSnapshotFrequency is the number of versions after which a snapshot is taken
const DefaultSnapshotFrequency = 10

// Snapshot is a point-in-time state of an entity. State holds the
// entity-defined attributes, which are stored flat beside the key fields
// so they can back secondary indexes.
type Snapshot struct {
	ID              string         `json:"id"`
	Version         int            `json:"version"`
	SnapshotVersion int            `json:"snapshotVersion"`
	Timestamp       int64          `json:"timestamp"`
	State           map[string]any `json:"-"`
}

var snapshotKeys = []string{"id", "version", "snapshotVersion", "timestamp"}

// NewSnapshot captures state for entity id at version. state must encode to a JSON object.
func NewSnapshot(id string, version int, state any) (Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to marshal snapshot state: %w", err)
	}

	fields := map[string]any{}
	if err := decodeJSON(raw, &fields); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot state must be an object: %w", err)
	}
	for _, k := range snapshotKeys {
		delete(fields, k)
	}

	return Snapshot{
		ID:              id,
		Version:         version,
		SnapshotVersion: version,
		Timestamp:       time.Now().UnixMilli(),
		State:           fields,
	}, nil
}

// Item flattens the snapshot into a single table row
func (s Snapshot) Item() Item {
	item := make(Item, len(s.State)+len(snapshotKeys))
	for k, v := range s.State {
		item[k] = v
	}
	item["id"] = s.ID
	item["version"] = s.Version
	item["snapshotVersion"] = s.SnapshotVersion
	item["timestamp"] = s.Timestamp
	return item
}

// SnapshotFromItem converts a table row back into a Snapshot
func SnapshotFromItem(item Item) (Snapshot, error) {
	var s Snapshot
	s.ID, _ = item["id"].(string)

	version, ok := IntValue(item["version"])
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot row for %q has invalid version %v", s.ID, item["version"])
	}
	s.Version = version

	// Rows written without snapshotVersion were captured at their own version.
	s.SnapshotVersion = version
	if sv, ok := IntValue(item["snapshotVersion"]); ok {
		s.SnapshotVersion = sv
	}
	if ts, ok := Int64Value(item["timestamp"]); ok {
		s.Timestamp = ts
	}

	s.State = make(map[string]any, len(item))
	for k, v := range item {
		s.State[k] = v
	}
	for _, k := range snapshotKeys {
		delete(s.State, k)
	}
	return s, nil
}

// Decode unmarshals the full snapshot row, key fields included, into v
func (s Snapshot) Decode(v any) error {
	raw, err := json.Marshal(s.Item())
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot picks the row with the greatest version, or nil when items is empty
func LatestSnapshot(items []Item) (*Snapshot, error) {
	var latest *Snapshot
	for _, item := range items {
		s, err := SnapshotFromItem(item)
		if err != nil {
			return nil, err
		}
		if latest == nil || s.Version > latest.Version {
			latest = &s
		}
	}
	return latest, nil
}
