package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/sourced-repo/internal/domain/entity"
)

// Notification is the wire form of a committed entity notification
type Notification struct {
	Entity    string `json:"entity"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Args      []any  `json:"args,omitempty"`
	EmittedAt int64  `json:"emittedAt"` // unix milliseconds
}

// NotificationRelay forwards entity notifications to a topic, keyed by entity id
type NotificationRelay struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewNotificationRelay(publisher Publisher, logger *slog.Logger) *NotificationRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationRelay{publisher: publisher, logger: logger, now: time.Now}
}

// Observe returns an observer that relays the notifications of one entity.
// Publish failures are logged; the commit they follow has already succeeded.
func (r *NotificationRelay) Observe(entityType, id string) entity.Observer {
	return func(ctx context.Context, n entity.Notification) {
		msg := Notification{
			Entity:    entityType,
			ID:        id,
			Name:      n.Name,
			Args:      n.Args,
			EmittedAt: r.now().UnixMilli(),
		}
		if err := r.publisher.Publish(ctx, id, msg); err != nil {
			r.logger.Error("[Relay] Error publishing notification", "entity", entityType, "id", id,
				"name", n.Name, "error", err)
			return
		}
		r.logger.Debug("[Relay] Published notification", "entity", entityType, "id", id, "name", n.Name)
	}
}
