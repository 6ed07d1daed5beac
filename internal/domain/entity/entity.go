package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/example/sourced-repo/internal/infrastructure/store"
)

// Notification is a named signal queued by a behavior method and delivered
// to observers once the change is committed.
type Notification struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// Observer receives notifications emitted by an entity
type Observer func(ctx context.Context, n Notification)

type subscription struct {
	fn   Observer
	once bool
}

// Entity carries the bookkeeping every event-sourced entity needs. Concrete
// entities embed it, call Digest and Enqueue from their behavior methods and
// supply Snapshot themselves.
type Entity struct {
	ID              string `json:"id"`
	Version         int    `json:"version"`
	SnapshotVersion int    `json:"snapshotVersion"`
	Timestamp       int64  `json:"timestamp"`

	newEvents    []store.Event
	eventsToEmit []Notification
	replaying    bool

	mu        sync.Mutex
	observers map[string][]subscription
	catchAll  []Observer
}

func (e *Entity) EntityID() string         { return e.ID }
func (e *Entity) EntityVersion() int       { return e.Version }
func (e *Entity) LastSnapshotVersion() int { return e.SnapshotVersion }

// RestoreSnapshotVersion rolls back the marker set by TakeSnapshot when the
// snapshot could not be stored.
func (e *Entity) RestoreSnapshotVersion(v int) { e.SnapshotVersion = v }

// PendingEvents returns the events recorded since the last commit
func (e *Entity) PendingEvents() []store.Event {
	return append([]store.Event(nil), e.newEvents...)
}

func (e *Entity) ClearPendingEvents() {
	e.newEvents = nil
}

// TakeNotifications empties the notification queue and returns what it held
func (e *Entity) TakeNotifications() []Notification {
	queued := e.eventsToEmit
	e.eventsToEmit = nil
	return queued
}

// Digest records that method ran with data, advancing the version. While
// replaying only the version moves.
func (e *Entity) Digest(method string, data any) error {
	if e.replaying {
		e.Version++
		return nil
	}

	event, err := store.NewEvent(method, e.Version+1, data)
	if err != nil {
		return err
	}
	e.Version = event.Version
	e.Timestamp = event.Timestamp
	e.newEvents = append(e.newEvents, event)
	return nil
}

// Enqueue queues a notification for delivery after the next successful commit.
// Nothing is queued while replaying.
func (e *Entity) Enqueue(name string, args ...any) {
	if e.replaying {
		return
	}
	e.eventsToEmit = append(e.eventsToEmit, Notification{Name: name, Args: args})
}

// Replaying reports whether stored events are being applied
func (e *Entity) Replaying() bool {
	return e.replaying
}

// On registers fn for notifications called name
func (e *Entity) On(name string, fn Observer) {
	e.subscribe(name, subscription{fn: fn})
}

// Once registers fn for the next notification called name only
func (e *Entity) Once(name string, fn Observer) {
	e.subscribe(name, subscription{fn: fn, once: true})
}

// OnAny registers fn for every notification
func (e *Entity) OnAny(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catchAll = append(e.catchAll, fn)
}

func (e *Entity) subscribe(name string, s subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observers == nil {
		e.observers = make(map[string][]subscription)
	}
	e.observers[name] = append(e.observers[name], s)
}

// Emit delivers n to the observers registered for its name, then to catch-all observers
func (e *Entity) Emit(ctx context.Context, n Notification) {
	e.mu.Lock()
	subs := e.observers[n.Name]
	kept := subs[:0:0]
	for _, s := range subs {
		if !s.once {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.observers, n.Name)
	} else {
		e.observers[n.Name] = kept
	}
	catchAll := append([]Observer(nil), e.catchAll...)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(ctx, n)
	}
	for _, fn := range catchAll {
		fn(ctx, n)
	}
}

// Restore loads snapshot into target, which must be the concrete entity
// embedding e. A nil snapshot leaves target untouched.
func (e *Entity) Restore(snapshot *store.Snapshot, target any) error {
	if snapshot == nil {
		return nil
	}
	if err := snapshot.Decode(target); err != nil {
		return err
	}
	e.ID = snapshot.ID
	e.Version = snapshot.Version
	e.SnapshotVersion = snapshot.SnapshotVersion
	e.Timestamp = snapshot.Timestamp
	return nil
}

// Replay applies events in order without recording new events or
// notifications. After each event the version is pinned to the stored one.
func (e *Entity) Replay(events []store.Event, apply func(store.Event) error) error {
	e.replaying = true
	defer func() { e.replaying = false }()

	for _, event := range events {
		if err := apply(event); err != nil {
			return fmt.Errorf("failed to apply event %d (%s): %w", event.Version, event.Method, err)
		}
		if event.ID != "" {
			e.ID = event.ID
		}
		e.Version = event.Version
		e.Timestamp = event.Timestamp
	}
	return nil
}

// TakeSnapshot marks the current version as snapshotted and captures state,
// normally the concrete entity itself.
func (e *Entity) TakeSnapshot(state any) (store.Snapshot, error) {
	previous := e.SnapshotVersion
	e.SnapshotVersion = e.Version
	snapshot, err := store.NewSnapshot(e.ID, e.Version, state)
	if err != nil {
		e.SnapshotVersion = previous
		return store.Snapshot{}, err
	}
	return snapshot, nil
}

// DecodeData unmarshals an event payload into v. An empty payload leaves v unchanged.
func DecodeData(event store.Event, v any) error {
	if len(event.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(event.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", event.Method, err)
	}
	return nil
}
