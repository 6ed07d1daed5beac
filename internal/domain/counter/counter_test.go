package counter

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/infrastructure/store"
	"github.com/example/sourced-repo/internal/repository"
)

func newTestCounterService(t *testing.T, watchers ...Watcher) (*Service, *store.MemoryProvider) {
	t.Helper()
	provider := store.NewMemoryProvider()
	repo := NewRepository(repository.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, repo.Init(context.Background(), provider))
	return NewService(repo, watchers...), provider
}

// ============================================
// Entity Tests
// ============================================

func TestCounter_Init(t *testing.T) {
	c := New()

	require.NoError(t, c.Init("c-1", "alice"))

	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, "alice", c.Owner)
	assert.Equal(t, 1, c.Version)
	pending := c.PendingEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, MethodInit, pending[0].Method)
	assert.ErrorIs(t, c.Init("c-2", ""), ErrAlreadyInitialized)
	assert.ErrorIs(t, New().Init("", ""), ErrInvalidID)
}

func TestCounter_IncrementAndAdd(t *testing.T) {
	c := New()
	require.NoError(t, c.Init("c-1", ""))

	require.NoError(t, c.Increment())
	require.NoError(t, c.Add(5))

	assert.Equal(t, 6, c.Total)
	assert.Equal(t, 3, c.Version)
	assert.ErrorIs(t, c.Add(0), ErrInvalidAmount)
	assert.Equal(t, []entity.Notification{
		{Name: NotificationInitialized, Args: []any{"c-1"}},
		{Name: NotificationIncremented, Args: []any{1}},
		{Name: NotificationIncremented, Args: []any{6}},
	}, c.TakeNotifications())
}

func TestReconstruct(t *testing.T) {
	events := []store.Event{
		{ID: "c-1", Version: 1, Method: MethodInit, Data: []byte(`{"id":"c-1","owner":"alice"}`)},
		{ID: "c-1", Version: 2, Method: MethodIncrement},
		{ID: "c-1", Version: 3, Method: MethodAdd, Data: []byte(`{"amount":4}`)},
	}

	c, err := Reconstruct(nil, events)

	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, "alice", c.Owner)
	assert.Equal(t, 5, c.Total)
	assert.Equal(t, 3, c.Version)
	assert.Empty(t, c.PendingEvents())
	assert.Empty(t, c.TakeNotifications())
}

func TestReconstruct_UnknownMethod(t *testing.T) {
	_, err := Reconstruct(nil, []store.Event{{ID: "c-1", Version: 1, Method: "decrement"}})

	assert.ErrorIs(t, err, ErrUnknownMethod)
}

// ============================================
// Service Tests
// ============================================

func TestService_SnapshotsEveryTenVersions(t *testing.T) {
	service, provider := newTestCounterService(t)
	ctx := context.Background()
	repo := service.repo

	c := New()
	require.NoError(t, c.Init("c-1", "alice"))
	for i := 0; i < 9; i++ {
		require.NoError(t, c.Increment())
	}
	require.NoError(t, repo.Commit(ctx, c))

	assert.Equal(t, 10, provider.Table("counterevents").Len("c-1"))
	assert.Equal(t, 1, provider.Table("countersnapshots").Len("c-1"))

	snaps, err := provider.Table("countersnapshots").Query(ctx, store.QueryInput{PartitionValue: "c-1"})
	require.NoError(t, err)
	snapshot, err := store.SnapshotFromItem(snaps[0])
	require.NoError(t, err)
	assert.Equal(t, 10, snapshot.SnapshotVersion)

	loaded, err := service.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Version)
	assert.Equal(t, 9, loaded.Total)
	assert.Equal(t, 10, loaded.SnapshotVersion)
}

func TestService_LargeTotalSurvivesReload(t *testing.T) {
	service, _ := newTestCounterService(t)
	ctx := context.Background()
	repo := service.repo

	c := New()
	require.NoError(t, c.Init("c-1", "alice"))
	require.NoError(t, c.Add(9007199254740993))
	require.NoError(t, repo.Commit(ctx, c))

	loaded, err := service.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 9007199254740993, loaded.Total)

	require.NoError(t, loaded.Increment())
	require.NoError(t, repo.Commit(ctx, loaded, repository.ForceSnapshot()))

	reloaded, err := service.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 9007199254740994, reloaded.Total)
	assert.Equal(t, 3, reloaded.SnapshotVersion)
}

func TestService_CreateAndIncrement(t *testing.T) {
	var seen []entity.Notification
	var watched []string
	service, _ := newTestCounterService(t, func(c *Counter) entity.Observer {
		watched = append(watched, c.ID)
		return func(ctx context.Context, n entity.Notification) {
			seen = append(seen, n)
		}
	})
	ctx := context.Background()

	created, err := service.Create(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	c, err := service.Increment(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Total)

	c, err = service.Increment(ctx, created.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, c.Total)
	assert.Equal(t, 3, c.Version)

	require.Len(t, seen, 3)
	assert.Equal(t, []string{created.ID, created.ID, created.ID}, watched)
	assert.Equal(t, NotificationInitialized, seen[0].Name)
	assert.Equal(t, []any{6}, seen[2].Args)

	_, err = service.Increment(ctx, created.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestService_GetUnknown(t *testing.T) {
	service, _ := newTestCounterService(t)

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrCounterNotFound)
}

func TestService_FindByOwner(t *testing.T) {
	service, _ := newTestCounterService(t)
	ctx := context.Background()
	created, err := service.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = service.Create(ctx, "bob")
	require.NoError(t, err)
	_, err = service.Increment(ctx, created.ID, 2)
	require.NoError(t, err)

	found, err := service.FindByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, 2, found.Total)

	_, err = service.FindByOwner(ctx, "carol")
	assert.ErrorIs(t, err, ErrCounterNotFound)
}
