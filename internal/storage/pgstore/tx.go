package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
)

// OrderTx is the set of statements available inside one unit of work. Every
// mutating statement is guarded by tenant id and by the expected current state;
// the returned int64 is the number of affected rows.
type OrderTx interface {
	GetOrder(ctx context.Context, tenantID, orderID int64) (*models.Order, error)

	ClaimTracking(ctx context.Context, tenantID, courierID int64, limit int, orderID *int64) ([]*models.TrackingNumber, error)
	AssignOrderTracking(ctx context.Context, tenantID, orderID, courierID int64, trackingNumber string) (int64, error)

	CascadeItemStatus(ctx context.Context, tenantID, orderID int64, from, to models.OrderStatus) (int64, error)
	RestoreOrder(ctx context.Context, tenantID, orderID int64, to models.OrderStatus) (int64, error)

	UnmarkOrderPaid(ctx context.Context, tenantID, orderID int64) (int64, error)
	MarkItemsUnpaid(ctx context.Context, tenantID, orderID int64) (int64, error)
	DeletePayment(ctx context.Context, tenantID, orderID int64) (int64, error)

	CompleteDeliveredOrder(ctx context.Context, tenantID, orderID int64, at time.Time) (int64, error)
	CompleteDeliveredItems(ctx context.Context, tenantID, orderID int64) (int64, error)
	RecordDeliveryCheck(ctx context.Context, upd DeliveryCheckUpdate) (int64, error)

	InsertAuditLog(ctx context.Context, e models.AuditLogEntry) (int64, error)
}

// InTx runs fn in a read-committed transaction. Any error returned by fn, or a
// failed commit, rolls the whole unit back.
func (s *Storage) InTx(ctx context.Context, fn func(tx OrderTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&orderTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type orderTx struct {
	q querier
}

func (t *orderTx) GetOrder(ctx context.Context, tenantID, orderID int64) (*models.Order, error) {
	return getOrder(ctx, t.q, tenantID, orderID)
}

func (t *orderTx) ClaimTracking(ctx context.Context, tenantID, courierID int64, limit int, orderID *int64) ([]*models.TrackingNumber, error) {
	return claimTracking(ctx, t.q, tenantID, courierID, limit, orderID)
}

func (t *orderTx) AssignOrderTracking(ctx context.Context, tenantID, orderID, courierID int64, trackingNumber string) (int64, error) {
	return exec(ctx, t.q, "assign order tracking", `
UPDATE order_header
SET
  status = 'dispatch',
  courier_id = $3,
  tracking_number = $4,
  next_delivery_check_at = now(),
  delivery_check_fail_count = 0,
  delivery_last_error = NULL,
  updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND status = 'pending'
`, orderID, tenantID, courierID, trackingNumber)
}

func (t *orderTx) CascadeItemStatus(ctx context.Context, tenantID, orderID int64, from, to models.OrderStatus) (int64, error) {
	return exec(ctx, t.q, "cascade item status", `
UPDATE order_items
SET status = $4, updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND status = $3
`, orderID, tenantID, string(from), string(to))
}

func (t *orderTx) RestoreOrder(ctx context.Context, tenantID, orderID int64, to models.OrderStatus) (int64, error) {
	return exec(ctx, t.q, "restore order", `
UPDATE order_header
SET status = $3, cancellation_reason = NULL, updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND status = 'cancel'
`, orderID, tenantID, string(to))
}

func (t *orderTx) UnmarkOrderPaid(ctx context.Context, tenantID, orderID int64) (int64, error) {
	statuses := make([]string, 0, len(models.UnmarkPaidStatuses))
	for _, st := range models.UnmarkPaidStatuses {
		statuses = append(statuses, string(st))
	}
	return exec(ctx, t.q, "unmark order paid", `
UPDATE order_header
SET pay_status = 'unpaid', pay_by = NULL, pay_date = NULL, slip = NULL, updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND pay_status = 'paid' AND status = ANY($3)
`, orderID, tenantID, statuses)
}

func (t *orderTx) MarkItemsUnpaid(ctx context.Context, tenantID, orderID int64) (int64, error) {
	return exec(ctx, t.q, "mark items unpaid", `
UPDATE order_items
SET pay_status = 'unpaid', updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND pay_status = 'paid'
`, orderID, tenantID)
}

func (t *orderTx) DeletePayment(ctx context.Context, tenantID, orderID int64) (int64, error) {
	return exec(ctx, t.q, "delete payment", `
DELETE FROM payments WHERE order_id = $1 AND tenant_id = $2
`, orderID, tenantID)
}

func (t *orderTx) CompleteDeliveredOrder(ctx context.Context, tenantID, orderID int64, at time.Time) (int64, error) {
	return exec(ctx, t.q, "complete delivered order", `
UPDATE order_header
SET
  status = 'done',
  pay_status = 'paid',
  pay_date = $3,
  next_delivery_check_at = NULL,
  updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND status = 'dispatch'
`, orderID, tenantID, at.UTC())
}

func (t *orderTx) CompleteDeliveredItems(ctx context.Context, tenantID, orderID int64) (int64, error) {
	return exec(ctx, t.q, "complete delivered items", `
UPDATE order_items
SET status = 'done', pay_status = 'paid', updated_at = now()
WHERE order_id = $1 AND tenant_id = $2 AND status = 'dispatch'
`, orderID, tenantID)
}

func (t *orderTx) RecordDeliveryCheck(ctx context.Context, upd DeliveryCheckUpdate) (int64, error) {
	return recordDeliveryCheck(ctx, t.q, upd)
}

func (t *orderTx) InsertAuditLog(ctx context.Context, e models.AuditLogEntry) (int64, error) {
	return insertAuditLog(ctx, t.q, e)
}

func exec(ctx context.Context, q querier, what, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	return tag.RowsAffected(), nil
}
