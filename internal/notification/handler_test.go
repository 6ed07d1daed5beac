package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sourced-repo/internal/infrastructure/kafka"
)

func newTestHandler() *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_Dispatches(t *testing.T) {
	h := newTestHandler()
	var got []kafka.Notification
	h.On("Counter", "incremented", func(ctx context.Context, n kafka.Notification) error {
		got = append(got, n)
		return nil
	})

	err := h.HandleMessage(context.Background(), []byte("counter-1"),
		[]byte(`{"entity":"Counter","id":"counter-1","name":"incremented","args":[3],"emittedAt":1606703172298}`))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "counter-1", got[0].ID)
	assert.Equal(t, []any{float64(3)}, got[0].Args)
	assert.Equal(t, int64(1606703172298), got[0].EmittedAt)
}

func TestHandler_Unrouted(t *testing.T) {
	h := newTestHandler()
	called := false
	h.On("Counter", "incremented", func(ctx context.Context, n kafka.Notification) error {
		called = true
		return nil
	})

	err := h.HandleMessage(context.Background(), nil, []byte(`{"entity":"Product","name":"incremented"}`))

	require.NoError(t, err)
	assert.False(t, called)
}

func TestHandler_Errors(t *testing.T) {
	h := newTestHandler()
	h.On("Counter", "initialized", func(ctx context.Context, n kafka.Notification) error {
		return errors.New("mailbox full")
	})

	assert.ErrorContains(t, h.HandleMessage(context.Background(), []byte("k"), []byte("{")), "failed to unmarshal notification k")
	assert.ErrorContains(t, h.HandleMessage(context.Background(), nil,
		[]byte(`{"entity":"Counter","id":"counter-1","name":"initialized"}`)), "Counter initialized for counter-1: mailbox full")
}
