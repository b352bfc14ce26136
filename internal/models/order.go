package models

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderDispatch OrderStatus = "dispatch"
	OrderDone     OrderStatus = "done"
	OrderCancel   OrderStatus = "cancel"

	// Позиции заказа хранят отмену как "canceled", а не "cancel".
	ItemCanceled OrderStatus = "canceled"
)

// AllowsUnmarkPaid reports whether payment may be withdrawn from an order in this status.
func (s OrderStatus) AllowsUnmarkPaid() bool {
	switch s {
	case OrderPending, OrderDispatch, OrderDone:
		return true
	default:
		return false
	}
}

type PayStatus string

const (
	PayPaid   PayStatus = "paid"
	PayUnpaid PayStatus = "unpaid"
)

var UnmarkPaidStatuses = []OrderStatus{OrderPending, OrderDispatch, OrderDone}

type Order struct {
	ID                 int64
	TenantID           int64
	Status             OrderStatus
	PayStatus          PayStatus
	CourierID          *int64
	TrackingNumber     *string
	CancellationReason *string
	PayBy              *string
	PayDate            *time.Time
	Slip               *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (o *Order) HasTracking() bool {
	return o.TrackingNumber != nil && strings.TrimSpace(*o.TrackingNumber) != ""
}

// RestoreTarget is the status a cancelled order returns to: dispatch when it was
// already shipped (has a tracking number), pending otherwise.
func (o *Order) RestoreTarget() OrderStatus {
	if o.HasTracking() {
		return OrderDispatch
	}
	return OrderPending
}

type OrderItem struct {
	ID        int64
	OrderID   int64
	TenantID  int64
	Status    OrderStatus
	PayStatus PayStatus
	UpdatedAt time.Time
}

// Transition describes one committed lifecycle change of an order.
type Transition struct {
	OrderID        int64       `json:"order_id"`
	TenantID       int64       `json:"tenant_id"`
	ActorID        int64       `json:"actor_id"`
	Action         ActionKind  `json:"action"`
	FromStatus     OrderStatus `json:"from_status"`
	ToStatus       OrderStatus `json:"to_status"`
	FromPayStatus  PayStatus   `json:"from_pay_status"`
	ToPayStatus    PayStatus   `json:"to_pay_status"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	AuditID        int64       `json:"audit_id"`
}
