package models

import "time"

type ActionKind string

const (
	ActionTrackingUpdate  ActionKind = "tracking_update"
	ActionTrackingConsume ActionKind = "tracking_consume"
	ActionOrderRestore    ActionKind = "order_restore"
	ActionPaymentUnmarked ActionKind = "payment_unmarked"
	ActionOrderDelivered  ActionKind = "order_delivered"
)

// AuditLogEntry is a row of user_logs. Rows are append-only.
type AuditLogEntry struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	TenantID  int64      `json:"tenant_id"`
	Action    ActionKind `json:"action_type"`
	OrderID   int64      `json:"inquiry_id"`
	Details   string     `json:"details"`
	CreatedAt time.Time  `json:"created_at"`
}
