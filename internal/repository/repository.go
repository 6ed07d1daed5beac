// Package repository loads event-sourced entities by replaying their events
// atop the latest snapshot and commits the events and snapshots they produce.
//
// Each entity type owns two tables, "<name>events" and "<name>snapshots",
// where name is the lower-cased entity type name. Rows are never updated in
// place: events are appended and snapshots are added under the version they
// capture.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/infrastructure/store"
)

// Sourced is what the repository needs from an entity
type Sourced interface {
	EntityID() string
	EntityVersion() int
	LastSnapshotVersion() int
	RestoreSnapshotVersion(v int)
	PendingEvents() []store.Event
	ClearPendingEvents()
	TakeNotifications() []entity.Notification
	Emit(ctx context.Context, n entity.Notification)
	Snapshot() (store.Snapshot, error)
}

// Factory rebuilds an entity from its latest snapshot, nil when none exists,
// and the events committed after it in ascending version order.
type Factory[T Sourced] func(snapshot *store.Snapshot, events []store.Event) (T, error)

// Repository persists one entity type. It holds no per-entity state and is
// safe for concurrent use once Init has returned.
type Repository[T Sourced] struct {
	entityName        string
	factory           Factory[T]
	opts              options
	eventTableName    string
	snapshotTableName string

	events    store.Table
	snapshots store.Table

	inst   instruments
	logger *slog.Logger
}

func New[T Sourced](entityName string, factory Factory[T], opts ...Option) *Repository[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	name := strings.ToLower(entityName)
	return &Repository[T]{
		entityName:        entityName,
		factory:           factory,
		opts:              o,
		eventTableName:    name + "events",
		snapshotTableName: name + "snapshots",
		inst:              newInstruments(),
		logger:            o.logger,
	}
}

func (r *Repository[T]) EntityName() string        { return r.entityName }
func (r *Repository[T]) EventTableName() string    { return r.eventTableName }
func (r *Repository[T]) SnapshotTableName() string { return r.snapshotTableName }
func (r *Repository[T]) SnapshotFrequency() int    { return r.opts.snapshotFrequency }

// IndexName returns the physical name of the snapshot index serving name
func IndexName(name string) string {
	return name + "-index"
}

// Init binds the repository to its tables. It must succeed before any other
// call; a failure is returned as ErrConfiguration and is not retried.
func (r *Repository[T]) Init(ctx context.Context, provider store.TableProvider) error {
	if provider == nil {
		return r.configError(errors.New("no table provider"))
	}

	tables, err := provider.Tables(ctx, r.eventTableName, r.snapshotTableName)
	if err != nil {
		return r.configError(err)
	}

	events, snapshots := tables[r.eventTableName], tables[r.snapshotTableName]
	if events == nil {
		return r.configError(fmt.Errorf("missing table %s", r.eventTableName))
	}
	if snapshots == nil {
		return r.configError(fmt.Errorf("missing table %s", r.snapshotTableName))
	}

	r.events, r.snapshots = events, snapshots
	r.logger.Info("[Repository] Initialized entity store", "entity", r.entityName,
		"events", r.eventTableName, "snapshots", r.snapshotTableName)
	return nil
}

func (r *Repository[T]) configError(err error) error {
	r.logger.Error("[Repository] Error initializing entity store", "entity", r.entityName, "error", err)
	return &Error{Op: "Init", Phase: PhaseInit, Entity: r.entityName, Kind: ErrConfiguration, Err: err}
}

func (r *Repository[T]) ready(op, id string) error {
	if r.events == nil || r.snapshots == nil {
		return &Error{Op: op, Entity: r.entityName, ID: id, Kind: ErrNotInitialized}
	}
	return nil
}

// Load rebuilds the entity with the given id. An id with no history yields
// whatever the factory builds from nothing; Load never reports not found.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	ctx, span := r.startSpan(ctx, "Repository.Load", id)
	defer span.End()

	var zero T
	if err := r.ready("Load", id); err != nil {
		return zero, recordError(span, err)
	}
	if id == "" {
		return zero, recordError(span, &Error{Op: "Load", Entity: r.entityName, Kind: ErrMissingIdentifier})
	}

	items, err := r.snapshots.Query(ctx, store.QueryInput{
		PartitionValue: id,
		Limit:          r.opts.snapshotLookback,
		Descending:     true,
	})
	if err != nil {
		return zero, recordError(span, r.readError("Load", PhaseSnapshotRead, id, err))
	}
	snapshot, err := store.LatestSnapshot(items)
	if err != nil {
		return zero, recordError(span, r.readError("Load", PhaseSnapshotRead, id, err))
	}

	e, err := r.rebuild(ctx, "Load", id, snapshot)
	if err != nil {
		return zero, recordError(span, err)
	}
	return e, nil
}

// LoadByIndex finds the entity whose most recent snapshot carries
// indexKey = keyValue, then rebuilds it like Load. indexName defaults to
// indexKey. Only entities that have been snapshotted with the attribute can
// be found; a miss returns false with a nil error.
func (r *Repository[T]) LoadByIndex(ctx context.Context, indexKey string, keyValue any, indexName ...string) (T, bool, error) {
	ctx, span := r.startSpan(ctx, "Repository.LoadByIndex", "")
	defer span.End()

	var zero T
	if err := r.ready("LoadByIndex", ""); err != nil {
		return zero, false, recordError(span, err)
	}

	name := indexKey
	if len(indexName) > 0 && indexName[0] != "" {
		name = indexName[0]
	}
	span.SetAttributes(attribute.String("repository.index", IndexName(name)))

	items, err := r.snapshots.QueryIndex(ctx, store.IndexQueryInput{
		IndexName:  IndexName(name),
		Attribute:  indexKey,
		Value:      keyValue,
		Descending: true,
	})
	if err != nil {
		return zero, false, recordError(span, r.readError("LoadByIndex", PhaseIndexRead, "", err))
	}
	snapshot, err := store.LatestSnapshot(items)
	if err != nil {
		return zero, false, recordError(span, r.readError("LoadByIndex", PhaseIndexRead, "", err))
	}
	if snapshot == nil {
		r.logger.Debug("[Repository] No snapshot matched index", "entity", r.entityName,
			"index", IndexName(name), "value", keyValue)
		return zero, false, nil
	}
	if snapshot.ID == "" {
		return zero, false, recordError(span, r.readError("LoadByIndex", PhaseIndexRead, "",
			errors.New("indexed snapshot has no id")))
	}

	e, err := r.rebuild(ctx, "LoadByIndex", snapshot.ID, snapshot)
	if err != nil {
		return zero, false, recordError(span, err)
	}
	return e, true, nil
}

func (r *Repository[T]) rebuild(ctx context.Context, op, id string, snapshot *store.Snapshot) (T, error) {
	var zero T

	after := 0
	if snapshot != nil {
		after = snapshot.Version
	}
	events, err := r.eventsAfter(ctx, id, after)
	if err != nil {
		return zero, r.readError(op, PhaseEventsRead, id, err)
	}

	e, err := r.factory(snapshot, events)
	if err != nil {
		return zero, &Error{Op: op, Phase: PhaseReconstruct, Entity: r.entityName, ID: id, Kind: ErrReconstruct, Err: err}
	}
	return e, nil
}

// eventsAfter returns the events of id with a version above after, ascending
func (r *Repository[T]) eventsAfter(ctx context.Context, id string, after int) ([]store.Event, error) {
	items, err := r.events.Query(ctx, store.QueryInput{
		PartitionValue: id,
		SortKey:        store.VersionAfter(after),
	})
	if err != nil {
		return nil, err
	}

	events := make([]store.Event, 0, len(items))
	for _, item := range items {
		e, err := store.EventFromItem(item)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	slices.SortStableFunc(events, func(a, b store.Event) int { return a.Version - b.Version })
	return events, nil
}

func (r *Repository[T]) readError(op string, phase Phase, id string, err error) error {
	return &Error{Op: op, Phase: phase, Entity: r.entityName, ID: id, Kind: ErrStorageRead, Err: err}
}

// Commit appends the entity's pending events, snapshots it when due and then
// delivers its queued notifications. Notifications go out only after every
// write has succeeded. On an event write failure some events may already be
// stored; callers should reload before retrying.
func (r *Repository[T]) Commit(ctx context.Context, e T, opts ...CommitOption) error {
	var co commitOptions
	for _, opt := range opts {
		opt(&co)
	}

	id := e.EntityID()
	ctx, span := r.startSpan(ctx, "Repository.Commit", id)
	defer span.End()

	if err := r.ready("Commit", id); err != nil {
		return recordError(span, err)
	}

	r.logger.Debug("[Repository] Committing entity", "entity", r.entityName, "id", id)

	if err := r.commitEvents(ctx, e); err != nil {
		return recordError(span, r.commitFailed(ctx, id, err))
	}
	if err := r.commitSnapshot(ctx, e, co.forceSnapshot); err != nil {
		return recordError(span, r.commitFailed(ctx, id, err))
	}

	r.emitNotifications(ctx, e)
	r.logger.Debug("[Repository] Committed entity", "entity", r.entityName, "id", id,
		"version", e.EntityVersion())
	return nil
}

func (r *Repository[T]) commitFailed(ctx context.Context, id string, err error) error {
	r.logger.Error("[Repository] Error committing entity", "entity", r.entityName, "id", id,
		"phase", PhaseOf(err), "error", err)
	r.inst.commitFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity.type", r.entityName),
		attribute.String("repository.phase", string(PhaseOf(err))),
	))
	return err
}

func (r *Repository[T]) commitEvents(ctx context.Context, e T) error {
	pending := e.PendingEvents()
	if len(pending) == 0 {
		return nil
	}

	id := e.EntityID()
	if id == "" {
		return &Error{Op: "Commit", Phase: PhaseEvents, Entity: r.entityName, Kind: ErrMissingIdentifier,
			Err: fmt.Errorf("cannot commit an entity of type [%s] without an [id] property", r.entityName)}
	}

	items := make([]store.Item, len(pending))
	for i := range pending {
		pending[i].ID = id
		item, err := pending[i].Item()
		if err != nil {
			return &Error{Op: "Commit", Phase: PhaseEvents, Entity: r.entityName, ID: id, Kind: ErrStorageWrite, Err: err}
		}
		items[i] = item
	}

	var putOpts []store.PutOption
	if r.opts.conditionalAppend {
		putOpts = append(putOpts, store.IfNotExists())
	}

	r.logger.Debug("[Repository] Inserting events", "entity", r.entityName, "id", id, "count", len(items))

	// Every write is attempted; failures are collected per version.
	var g errgroup.Group
	if r.opts.appendConcurrency > 0 {
		g.SetLimit(r.opts.appendConcurrency)
	}
	errs := make([]error, len(items))
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			errs[i] = r.events.Put(ctx, item, putOpts...)
			return nil
		})
	}
	_ = g.Wait()

	var failed []int
	var causes []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, pending[i].Version)
			causes = append(causes, err)
		}
	}
	if len(causes) > 0 {
		kind := ErrStorageWrite
		for _, c := range causes {
			if errors.Is(c, store.ErrConditionFailed) {
				kind = ErrConcurrentModification
				break
			}
		}
		return &Error{Op: "Commit", Phase: PhaseEvents, Entity: r.entityName, ID: id, Kind: kind,
			Err: fmt.Errorf("%d of %d events not written (versions %v): %w",
				len(causes), len(items), failed, errors.Join(causes...))}
	}

	e.ClearPendingEvents()
	r.inst.eventsAppended.Add(ctx, int64(len(items)), metric.WithAttributes(
		attribute.String("entity.type", r.entityName)))
	r.logger.Debug("[Repository] Successfully committed events", "entity", r.entityName, "id", id)
	return nil
}

func (r *Repository[T]) commitSnapshot(ctx context.Context, e T, force bool) error {
	if !force && e.EntityVersion() < e.LastSnapshotVersion()+r.opts.snapshotFrequency {
		return nil
	}

	id := e.EntityID()
	if id == "" {
		return &Error{Op: "Commit", Phase: PhaseSnapshot, Entity: r.entityName, Kind: ErrMissingIdentifier}
	}

	previous := e.LastSnapshotVersion()
	snapshot, err := e.Snapshot()
	if err != nil {
		e.RestoreSnapshotVersion(previous)
		return &Error{Op: "Commit", Phase: PhaseSnapshot, Entity: r.entityName, ID: id, Kind: ErrStorageWrite,
			Err: fmt.Errorf("failed to capture snapshot: %w", err)}
	}
	if snapshot.ID == "" {
		snapshot.ID = id
	}

	r.logger.Debug("[Repository] Inserting snapshot", "entity", r.entityName, "id", id, "version", snapshot.Version)
	if err := r.snapshots.Put(ctx, snapshot.Item()); err != nil {
		e.RestoreSnapshotVersion(previous)
		return &Error{Op: "Commit", Phase: PhaseSnapshot, Entity: r.entityName, ID: id, Kind: ErrStorageWrite, Err: err}
	}

	r.inst.snapshotsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("entity.type", r.entityName)))
	r.logger.Debug("[Repository] Successfully committed snapshot", "entity", r.entityName, "id", id)
	return nil
}

// emitNotifications empties the queue before the first delivery
func (r *Repository[T]) emitNotifications(ctx context.Context, e T) {
	for _, n := range e.TakeNotifications() {
		e.Emit(ctx, n)
	}
}
