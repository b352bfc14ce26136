package models

import (
	"strings"
	"time"
)

// DeliveryStatus is the normalized status reported by a carrier feed.
type DeliveryStatus string

const (
	DeliveryUnknown   DeliveryStatus = "unknown"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryReturned  DeliveryStatus = "returned"
)

// ParseDeliveryStatus maps raw feed values ("DELIVERED", "in-transit", ...) onto the
// known statuses. Anything else is unknown and never triggers a transition.
func ParseDeliveryStatus(raw string) DeliveryStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch DeliveryStatus(s) {
	case DeliveryDelivered, DeliveryInTransit, DeliveryReturned:
		return DeliveryStatus(s)
	default:
		return DeliveryUnknown
	}
}

// DeliveryRow is one line of a reconciliation batch.
type DeliveryRow struct {
	TrackingCode   string `json:"tracking_code"`
	CoID           int64  `json:"co_id"`
	DeliveryStatus string `json:"delivery_status"`
}

// DeliveryCheck is a dispatched order due for a carrier status poll.
type DeliveryCheck struct {
	OrderID        int64
	TenantID       int64
	CoID           int64
	CarrierCode    string
	TrackingNumber string
	FailCount      int32
	NextCheckAt    time.Time
}
