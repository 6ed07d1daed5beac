package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sourced-repo/internal/domain/entity"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	messages []kafka.Message
	errs     []error
	cancel   context.CancelFunc
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error { return nil }

type recordingPublisher struct {
	keys   []string
	values []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, value any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

// ============================================
// Producer Tests
// ============================================

func TestProducer_Publish(t *testing.T) {
	writer := &fakeWriter{}
	producer := NewProducerWithWriter(writer)

	err := producer.Publish(context.Background(), "counter-1", map[string]int{"total": 3})

	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("counter-1"), writer.messages[0].Key)
	assert.JSONEq(t, `{"total":3}`, string(writer.messages[0].Value))
	assert.False(t, writer.messages[0].Time.IsZero())

	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}

func TestProducer_PublishErrors(t *testing.T) {
	producer := NewProducerWithWriter(&fakeWriter{})
	assert.Error(t, producer.Publish(context.Background(), "k", make(chan int)))

	producer = NewProducerWithWriter(&fakeWriter{err: errors.New("leader not available")})
	assert.ErrorContains(t, producer.Publish(context.Background(), "k", "v"), "leader not available")
}

// ============================================
// Relay Tests
// ============================================

func TestNotificationRelay_Observe(t *testing.T) {
	publisher := &recordingPublisher{}
	relay := NewNotificationRelay(publisher, quietLogger())
	relay.now = func() time.Time { return time.UnixMilli(1606703172298) }

	observer := relay.Observe("Counter", "counter-1")
	observer(context.Background(), entity.Notification{Name: "incremented", Args: []any{4}})

	require.Len(t, publisher.values, 1)
	assert.Equal(t, []string{"counter-1"}, publisher.keys)
	assert.Equal(t, Notification{
		Entity:    "Counter",
		ID:        "counter-1",
		Name:      "incremented",
		Args:      []any{4},
		EmittedAt: 1606703172298,
	}, publisher.values[0])
}

func TestNotificationRelay_PublishFailureIsLogged(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	relay := NewNotificationRelay(publisher, quietLogger())

	assert.NotPanics(t, func() {
		relay.Observe("Counter", "counter-1")(context.Background(), entity.Notification{Name: "initialized"})
	})
	assert.Empty(t, publisher.values)
}

func TestNotificationRelay_WithEntity(t *testing.T) {
	writer := &fakeWriter{}
	relay := NewNotificationRelay(NewProducerWithWriter(writer), quietLogger())

	e := &entity.Entity{ID: "counter-1"}
	e.OnAny(relay.Observe("Counter", e.ID))
	e.Emit(context.Background(), entity.Notification{Name: "initialized", Args: []any{"counter-1"}})

	require.Len(t, writer.messages, 1)
	var got Notification
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &got))
	assert.Equal(t, "Counter", got.Entity)
	assert.Equal(t, "initialized", got.Name)
	assert.Equal(t, []any{"counter-1"}, got.Args)
}

// ============================================
// Consumer Tests
// ============================================

func TestConsumer_Consume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		errs: []error{errors.New("rebalance in progress")},
		messages: []kafka.Message{
			{Key: []byte("counter-1"), Value: []byte(`{"name":"initialized"}`)},
			{Key: []byte("counter-2"), Value: []byte(`{"name":"incremented"}`)},
		},
		cancel: cancel,
	}
	consumer := NewConsumerWithReader(reader, quietLogger())

	var keys []string
	err := consumer.Consume(ctx, func(ctx context.Context, key, value []byte) error {
		keys = append(keys, string(key))
		return errors.New("handler errors do not stop the loop")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"counter-1", "counter-2"}, keys)
}
