package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/sourced-repo/internal/infrastructure/kafka"
)

// Func reacts to one relayed notification
type Func func(ctx context.Context, n kafka.Notification) error

// Handler routes relayed notifications to the functions registered for
// their entity type and name.
type Handler struct {
	mu     sync.RWMutex
	routes map[string][]Func
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{routes: make(map[string][]Func), logger: logger}
}

func routeKey(entityType, name string) string {
	return entityType + "." + name
}

// On registers fn for notifications called name emitted by entityType
func (h *Handler) On(entityType, name string, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := routeKey(entityType, name)
	h.routes[key] = append(h.routes[key], fn)
}

// HandleMessage decodes a Kafka message and dispatches it. It matches
// kafka.MessageHandler.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var n kafka.Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification %s: %w", key, err)
	}

	h.mu.RLock()
	fns := h.routes[routeKey(n.Entity, n.Name)]
	h.mu.RUnlock()

	if len(fns) == 0 {
		h.logger.Debug("[Notifier] No handler registered", "entity", n.Entity, "name", n.Name)
		return nil
	}

	for _, fn := range fns {
		if err := fn(ctx, n); err != nil {
			return fmt.Errorf("%s %s for %s: %w", n.Entity, n.Name, n.ID, err)
		}
	}
	return nil
}
