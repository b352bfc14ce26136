package messages

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/BearBump/OrderDesk/internal/models"
)

// DeliveryReported is published by delivery-worker after every carrier poll and
// consumed by desk-api.
type DeliveryReported struct {
	EventID string `json:"eventId"`

	OrderID        int64  `json:"orderId"`
	TenantID       int64  `json:"tenantId"`
	CoID           int64  `json:"coId"`
	TrackingNumber string `json:"trackingNumber"`

	CheckedAt time.Time `json:"checkedAt"`

	Status    models.DeliveryStatus `json:"status,omitempty"`
	StatusRaw string                `json:"statusRaw,omitempty"`
	StatusAt  *time.Time            `json:"statusAt,omitempty"`

	NextCheckAt time.Time `json:"nextCheckAt"`

	Error *string `json:"error,omitempty"`
}

// Event is a broker payload. All events of one order share a partition key, so
// consumers see them in commit order.
type Event interface {
	PartitionKey() []byte
}

func orderKey(orderID int64) []byte {
	return []byte(strconv.FormatInt(orderID, 10))
}

func (m DeliveryReported) PartitionKey() []byte { return orderKey(m.OrderID) }

func (m DeliveryReported) Delivered() bool {
	return (m.Error == nil || *m.Error == "") && m.Status == models.DeliveryDelivered
}

// OrderChanged is published after every committed lifecycle transition.
type OrderChanged struct {
	EventID    string    `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`

	models.Transition
}

func (m OrderChanged) PartitionKey() []byte { return orderKey(m.OrderID) }

func NewOrderChanged(tr models.Transition, at time.Time) OrderChanged {
	return OrderChanged{EventID: uuid.NewString(), OccurredAt: at.UTC(), Transition: tr}
}

func NewDeliveryReported(check *models.DeliveryCheck, checkedAt time.Time) DeliveryReported {
	return DeliveryReported{
		EventID:        uuid.NewString(),
		OrderID:        check.OrderID,
		TenantID:       check.TenantID,
		CoID:           check.CoID,
		TrackingNumber: check.TrackingNumber,
		CheckedAt:      checkedAt.UTC(),
	}
}
