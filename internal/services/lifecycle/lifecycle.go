// Package lifecycle applies order status and payment transitions. Each transition
// is one unit of work: header update, item cascade, dependent deletes and the
// audit row commit together or not at all.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/audit"
	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/services/tenancy"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

const (
	MaxReconcileRows = 5000
	// совпадения трек-номера у разных tenant-ов
	trackingMatchLimit = 10
)

type Store interface {
	tenancy.Directory
	InTx(ctx context.Context, fn func(tx pgstore.OrderTx) error) error
	FindOrdersByTracking(ctx context.Context, trackingCode string, coID int64, limit int) ([]*models.Order, error)
	ListAuditLogs(ctx context.Context, tenantID, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error)
}

type Notifier interface {
	OrderChanged(ctx context.Context, tr models.Transition)
}

type Manager struct {
	store    Store
	scope    *tenancy.Resolver
	notifier Notifier
	now      func() time.Time
}

func New(store Store, n Notifier) *Manager {
	return &Manager{
		store:    store,
		scope:    tenancy.New(store),
		notifier: n,
		now:      time.Now,
	}
}

// RowOutcome is the per-row result of a reconciliation batch.
type RowOutcome struct {
	Index        int          `json:"index"`
	TrackingCode string       `json:"tracking_code"`
	CoID         int64        `json:"co_id"`
	OrderID      int64        `json:"order_id,omitempty"`
	Code         outcome.Code `json:"code"`
	Message      string       `json:"message"`
	Applied      bool         `json:"applied"`
}

// Restore returns a cancelled order to dispatch when it already carries a
// tracking number, to pending otherwise.
func (m *Manager) Restore(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error) {
	tenantID, err := m.scope.OrderTenant(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	var tr models.Transition
	err = m.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		o, err := loadOrder(ctx, tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderCancel {
			return outcome.Newf(outcome.InvalidTransition,
				"order %d is %s, only cancelled orders can be restored", orderID, o.Status)
		}

		target := o.RestoreTarget()
		n, err := tx.RestoreOrder(ctx, tenantID, orderID, target)
		if err != nil {
			return outcome.Internal(err)
		}
		if n == 0 {
			return outcome.Newf(outcome.InvalidTransition, "order %d is no longer cancelled", orderID)
		}
		if _, err := tx.CascadeItemStatus(ctx, tenantID, orderID, models.ItemCanceled, target); err != nil {
			return outcome.Internal(err)
		}

		logID, err := audit.Record(ctx, tx, actor.UserID, tenantID, models.ActionOrderRestore, orderID,
			audit.OrderRestored(orderID, o.Status, target))
		if err != nil {
			return outcome.Internal(err)
		}

		tr = transition(o, actor, models.ActionOrderRestore, target, o.PayStatus, logID)
		return nil
	})
	if err != nil {
		return nil, m.failed("restore", tenantID, orderID, err)
	}

	m.notify(ctx, tr)
	return &tr, nil
}

// UnmarkPaid withdraws the payment of a pending, dispatched or done order and
// deletes its payment record. A concurrent unmark is detected by the guarded
// header update affecting no rows.
func (m *Manager) UnmarkPaid(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error) {
	tenantID, err := m.scope.OrderTenant(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	var tr models.Transition
	err = m.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		o, err := loadOrder(ctx, tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.PayStatus != models.PayPaid {
			return outcome.Newf(outcome.NotPaid, "order %d is not paid", orderID)
		}
		if !o.Status.AllowsUnmarkPaid() {
			return outcome.Newf(outcome.InvalidStatus,
				"payment of a %s order cannot be unmarked", o.Status)
		}

		n, err := tx.UnmarkOrderPaid(ctx, tenantID, orderID)
		if err != nil {
			return outcome.Internal(err)
		}
		if n == 0 {
			return outcome.Newf(outcome.AlreadyUnmarked, "payment of order %d is already unmarked", orderID)
		}
		if _, err := tx.MarkItemsUnpaid(ctx, tenantID, orderID); err != nil {
			return outcome.Internal(err)
		}
		deleted, err := tx.DeletePayment(ctx, tenantID, orderID)
		if err != nil {
			return outcome.Internal(err)
		}

		logID, err := audit.Record(ctx, tx, actor.UserID, tenantID, models.ActionPaymentUnmarked, orderID,
			audit.PaymentUnmarked(orderID, o.Status, o.PayStatus, models.PayUnpaid, deleted))
		if err != nil {
			return outcome.Internal(err)
		}

		tr = transition(o, actor, models.ActionPaymentUnmarked, o.Status, models.PayUnpaid, logID)
		return nil
	})
	if err != nil {
		return nil, m.failed("unmark_paid", tenantID, orderID, err)
	}

	m.notify(ctx, tr)
	return &tr, nil
}

// Reconcile applies a courier delivery feed. Rows are independent: each runs in
// its own unit of work and a failing row never aborts the batch.
func (m *Manager) Reconcile(ctx context.Context, actor models.Actor, rows []models.DeliveryRow) ([]RowOutcome, error) {
	if err := tenancy.RequireActor(actor); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, outcome.New(outcome.InvalidRequest, "rows are empty")
	}
	if len(rows) > MaxReconcileRows {
		return nil, outcome.Newf(outcome.InvalidRequest, "too many rows (max %d)", MaxReconcileRows)
	}

	out := make([]RowOutcome, 0, len(rows))
	for i, row := range rows {
		res := m.reconcileRow(ctx, actor, row)
		res.Index = i
		out = append(out, res)
	}
	return out, nil
}

func (m *Manager) reconcileRow(ctx context.Context, actor models.Actor, row models.DeliveryRow) RowOutcome {
	code := strings.TrimSpace(row.TrackingCode)
	res := RowOutcome{TrackingCode: code, CoID: row.CoID}

	if code == "" || row.CoID <= 0 {
		return rowFailure(res, outcome.New(outcome.InvalidRequest, "tracking_code and co_id are required"))
	}

	status := models.ParseDeliveryStatus(row.DeliveryStatus)
	if status != models.DeliveryDelivered {
		res.Code = outcome.Success
		res.Message = "delivery status " + string(status) + ": no transition"
		return res
	}

	matches, err := m.store.FindOrdersByTracking(ctx, code, row.CoID, trackingMatchLimit)
	if err != nil {
		slog.Error("reconcile lookup", "tracking_code", code, "co_id", row.CoID, "error", err.Error())
		return rowFailure(res, outcome.Internal(err))
	}
	if len(matches) == 0 {
		return rowFailure(res, outcome.Newf(outcome.NotFound, "no order with tracking %s for carrier %d", code, row.CoID))
	}

	var target *models.Order
	for _, o := range matches {
		if actor.CanAccess(o.TenantID) {
			target = o
			break
		}
	}
	if target == nil {
		return rowFailure(res, outcome.Newf(outcome.CrossTenantConflict, "tracking %s belongs to another tenant", code))
	}
	res.OrderID = target.ID

	if _, err := m.deliver(ctx, actor, target.TenantID, target.ID, code); err != nil {
		return rowFailure(res, err)
	}
	res.Code = outcome.Success
	res.Message = "order marked done and paid"
	res.Applied = true
	return res
}

func rowFailure(res RowOutcome, err error) RowOutcome {
	r := outcome.FromError(err)
	res.Code = r.Code
	res.Message = r.Message
	return res
}

// deliver moves a dispatched order to done/paid.
func (m *Manager) deliver(ctx context.Context, actor models.Actor, tenantID, orderID int64, trackingCode string) (*models.Transition, error) {
	var tr models.Transition
	err := m.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		var err error
		tr, err = m.completeDelivery(ctx, tx, actor, tenantID, orderID, trackingCode)
		return err
	})
	if err != nil {
		return nil, m.failed("deliver", tenantID, orderID, err)
	}

	m.notify(ctx, tr)
	return &tr, nil
}

func (m *Manager) completeDelivery(ctx context.Context, tx pgstore.OrderTx, actor models.Actor, tenantID, orderID int64, trackingCode string) (models.Transition, error) {
	o, err := loadOrder(ctx, tx, tenantID, orderID)
	if err != nil {
		return models.Transition{}, err
	}
	if o.Status != models.OrderDispatch {
		return models.Transition{}, outcome.Newf(outcome.InvalidTransition,
			"order %d is %s, only dispatched orders can be delivered", orderID, o.Status)
	}

	n, err := tx.CompleteDeliveredOrder(ctx, tenantID, orderID, m.now())
	if err != nil {
		return models.Transition{}, outcome.Internal(err)
	}
	if n == 0 {
		return models.Transition{}, outcome.Newf(outcome.InvalidTransition, "order %d is no longer dispatched", orderID)
	}
	if _, err := tx.CompleteDeliveredItems(ctx, tenantID, orderID); err != nil {
		return models.Transition{}, outcome.Internal(err)
	}

	logID, err := audit.Record(ctx, tx, actor.UserID, tenantID, models.ActionOrderDelivered, orderID,
		audit.OrderDelivered(orderID, trackingCode, o.Status, o.PayStatus))
	if err != nil {
		return models.Transition{}, outcome.Internal(err)
	}

	tr := transition(o, actor, models.ActionOrderDelivered, models.OrderDone, models.PayPaid, logID)
	tr.TrackingNumber = trackingCode
	return tr, nil
}

// ApplyDeliveryReport stores the outcome of a carrier poll and, for a delivered
// parcel, completes the order as the system actor of the order's own tenant. The
// check update and the completion share one unit of work, so a failed completion
// leaves the next check time where it was. Only storage failures are returned;
// rejected reports are logged and dropped.
func (m *Manager) ApplyDeliveryReport(ctx context.Context, msg messages.DeliveryReported) error {
	if msg.OrderID <= 0 || msg.TenantID <= 0 {
		slog.Warn("delivery report without order", "event_id", msg.EventID)
		return nil
	}

	tenantID, err := m.store.FindOrderTenant(ctx, msg.OrderID)
	if errors.Is(err, pgstore.ErrNotFound) {
		slog.Warn("delivery report for unknown order", "event_id", msg.EventID, "order_id", msg.OrderID)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "resolve order tenant")
	}
	if tenantID != msg.TenantID {
		slog.Warn("delivery report tenant mismatch",
			"event_id", msg.EventID, "order_id", msg.OrderID, "tenant_id", msg.TenantID, "code", outcome.CrossTenantConflict)
		return nil
	}

	upd := pgstore.DeliveryCheckUpdate{
		OrderID:     msg.OrderID,
		TenantID:    tenantID,
		NextCheckAt: msg.NextCheckAt,
		Error:       msg.Error,
	}
	var delivered *models.Transition
	err = m.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		if _, err := tx.RecordDeliveryCheck(ctx, upd); err != nil {
			return outcome.Internal(err)
		}
		if !msg.Delivered() {
			return nil
		}
		tr, err := m.completeDelivery(ctx, tx, models.SystemActor(tenantID), tenantID, msg.OrderID, msg.TrackingNumber)
		if err != nil {
			return err
		}
		delivered = &tr
		return nil
	})
	if err != nil {
		err = m.failed("delivery_report", tenantID, msg.OrderID, err)
		// заказ уже не в dispatch: отчёт устарел, check не нужен
		if outcome.CodeOf(err) != outcome.InternalError {
			return nil
		}
		return err
	}

	if delivered != nil {
		m.notify(ctx, *delivered)
	}
	return nil
}

// ListAudit returns audit rows of an order, newest first.
func (m *Manager) ListAudit(ctx context.Context, actor models.Actor, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	tenantID, err := m.scope.OrderTenant(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	logs, err := m.store.ListAuditLogs(ctx, tenantID, orderID, limit, offset)
	if err != nil {
		return nil, m.failed("list_audit", tenantID, orderID, err)
	}
	return logs, nil
}

func loadOrder(ctx context.Context, tx pgstore.OrderTx, tenantID, orderID int64) (*models.Order, error) {
	o, err := tx.GetOrder(ctx, tenantID, orderID)
	if errors.Is(err, pgstore.ErrNotFound) {
		return nil, outcome.Newf(outcome.NotFound, "order %d not found", orderID)
	}
	if err != nil {
		return nil, outcome.Internal(err)
	}
	return o, nil
}

func transition(o *models.Order, actor models.Actor, action models.ActionKind, to models.OrderStatus, toPay models.PayStatus, auditID int64) models.Transition {
	tr := models.Transition{
		OrderID:       o.ID,
		TenantID:      o.TenantID,
		ActorID:       actor.UserID,
		Action:        action,
		FromStatus:    o.Status,
		ToStatus:      to,
		FromPayStatus: o.PayStatus,
		ToPayStatus:   toPay,
		AuditID:       auditID,
	}
	if o.TrackingNumber != nil {
		tr.TrackingNumber = *o.TrackingNumber
	}
	return tr
}

func (m *Manager) notify(ctx context.Context, tr models.Transition) {
	if m.notifier != nil {
		m.notifier.OrderChanged(ctx, tr)
	}
}

func (m *Manager) failed(op string, tenantID, orderID int64, err error) error {
	var oe *outcome.Error
	if !errors.As(err, &oe) {
		err = outcome.Internal(err)
	}
	code := outcome.CodeOf(err)
	if code == outcome.InternalError {
		slog.Error("order transition failed", "operation", op, "tenant_id", tenantID, "order_id", orderID, "error", err.Error())
		return err
	}
	slog.Info("order transition rejected", "operation", op, "tenant_id", tenantID, "order_id", orderID, "code", code)
	return err
}
