package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/models"
)

type Producer interface {
	PublishEvent(ctx context.Context, topic string, ev messages.Event) error
}

// Notifier publishes OrderChanged after commit. Delivery is best-effort: a failed
// publish is logged and the committed transition stays.
type Notifier struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func New(p Producer, topic string) *Notifier {
	return &Notifier{producer: p, topic: topic, now: time.Now}
}

func (n *Notifier) OrderChanged(ctx context.Context, tr models.Transition) {
	if n == nil || n.producer == nil || n.topic == "" {
		return
	}

	if err := n.producer.PublishEvent(ctx, n.topic, messages.NewOrderChanged(tr, n.now())); err != nil {
		slog.Warn("publish order changed", "order_id", tr.OrderID, "action", tr.Action, "error", err.Error())
	}
}
