package models

import "time"

type TrackingStatus string

const (
	TrackingUnused TrackingStatus = "unused"
	// used — окончательный статус, обратно в unused номер не возвращается.
	TrackingUsed TrackingStatus = "used"
)

// TrackingNumber is a courier-issued shipment identifier provisioned ahead of time
// for one (tenant, courier) pair.
type TrackingNumber struct {
	ID         int64          `json:"id"`
	TenantID   int64          `json:"tenant_id"`
	CourierID  int64          `json:"courier_id"`
	TrackingID string         `json:"tracking_id"`
	Status     TrackingStatus `json:"status"`
	OrderID    *int64         `json:"order_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UsedAt     *time.Time     `json:"used_at,omitempty"`
}

type InventoryLevel struct {
	TenantID  int64
	CourierID int64
	Unused    int64
}
