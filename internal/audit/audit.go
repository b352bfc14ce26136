// Package audit appends user_logs rows. Record is always called as the last
// statement of the unit of work it documents; its failure fails the unit.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
)

type Writer interface {
	InsertAuditLog(ctx context.Context, e models.AuditLogEntry) (int64, error)
}

var knownActions = map[models.ActionKind]struct{}{
	models.ActionTrackingUpdate:  {},
	models.ActionTrackingConsume: {},
	models.ActionOrderRestore:    {},
	models.ActionPaymentUnmarked: {},
	models.ActionOrderDelivered:  {},
}

func Record(ctx context.Context, w Writer, actorID, tenantID int64, action models.ActionKind, orderID int64, description string) (int64, error) {
	if _, ok := knownActions[action]; !ok {
		return 0, errors.Errorf("audit: unknown action %q", action)
	}
	if tenantID <= 0 {
		return 0, errors.New("audit: tenant is required")
	}
	if strings.TrimSpace(description) == "" {
		return 0, errors.New("audit: description is required")
	}

	id, err := w.InsertAuditLog(ctx, models.AuditLogEntry{
		UserID:   actorID,
		TenantID: tenantID,
		Action:   action,
		OrderID:  orderID,
		Details:  description,
	})
	if err != nil {
		return 0, errors.Wrap(err, "audit record")
	}
	return id, nil
}

func TrackingAssigned(orderID int64, trackingNumber string, courierID int64, from, to models.OrderStatus) string {
	return fmt.Sprintf("Order #%d assigned tracking %s (courier %d): status %s -> %s",
		orderID, trackingNumber, courierID, from, to)
}

// максимум номеров, перечисляемых в описании
const listedCodes = 20

func TrackingConsumed(orderID, courierID int64, codes []string, requested int) string {
	listed := codes
	suffix := ""
	if len(listed) > listedCodes {
		listed = listed[:listedCodes]
		suffix = fmt.Sprintf(" (+%d more)", len(codes)-listedCodes)
	}
	target := "no order"
	if orderID > 0 {
		target = fmt.Sprintf("order #%d", orderID)
	}
	return fmt.Sprintf("Consumed %d of %d tracking numbers for courier %d, %s: %s%s",
		len(codes), requested, courierID, target, strings.Join(listed, ", "), suffix)
}

func OrderRestored(orderID int64, from, to models.OrderStatus) string {
	return fmt.Sprintf("Order #%d restored: status %s -> %s, cancellation reason cleared", orderID, from, to)
}

func PaymentUnmarked(orderID int64, status models.OrderStatus, from, to models.PayStatus, paymentsDeleted int64) string {
	return fmt.Sprintf("Order #%d (%s) payment unmarked: pay_status %s -> %s, %d payment record(s) deleted",
		orderID, status, from, to, paymentsDeleted)
}

func OrderDelivered(orderID int64, trackingCode string, from models.OrderStatus, fromPay models.PayStatus) string {
	return fmt.Sprintf("Order #%d delivered (tracking %s): status %s -> %s, pay_status %s -> %s",
		orderID, trackingCode, from, models.OrderDone, fromPay, models.PayPaid)
}
