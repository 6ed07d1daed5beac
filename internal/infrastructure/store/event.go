package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Event is one committed state transition of an entity
type Event struct {
	ID        string          `json:"id"`
	Version   int             `json:"version"`
	Method    string          `json:"method"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// NewEvent builds a pending event for method with data encoded as JSON
func NewEvent(method string, version int, data any) (Event, error) {
	e := Event{
		Version:   version,
		Method:    method,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
		}
		e.Data = raw
	}
	return e, nil
}

// Item converts the event to its table row. The payload is stored as a
// native value rather than a JSON string.
func (e Event) Item() (Item, error) {
	item := Item{
		"id":        e.ID,
		"version":   e.Version,
		"method":    e.Method,
		"timestamp": e.Timestamp,
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		var data any
		if err := decodeJSON(e.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		item["data"] = data
	}
	return item, nil
}

// EventFromItem converts a table row back into an Event
func EventFromItem(item Item) (Event, error) {
	var e Event
	e.ID, _ = item["id"].(string)
	e.Method, _ = item["method"].(string)

	version, ok := IntValue(item["version"])
	if !ok {
		return Event{}, fmt.Errorf("event row for %q has invalid version %v", e.ID, item["version"])
	}
	e.Version = version

	if ts, ok := Int64Value(item["timestamp"]); ok {
		e.Timestamp = ts
	}

	if data, exists := item["data"]; exists && data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to encode event data: %w", err)
		}
		e.Data = raw
	}
	return e, nil
}

// IntValue extracts an int from the numeric shapes storage drivers decode into
func IntValue(v any) (int, bool) {
	n, ok := Int64Value(v)
	if !ok || n > math.MaxInt || n < math.MinInt {
		return 0, false
	}
	return int(n), true
}

// Int64Value extracts an int64 from the numeric shapes storage drivers decode into
func Int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// decodeJSON unmarshals raw into v with numbers kept as json.Number
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
