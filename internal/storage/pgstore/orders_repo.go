package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
)

const orderColumns = `
  o.order_id, o.tenant_id, o.status, o.pay_status,
  o.courier_id, o.tracking_number, o.cancellation_reason,
  o.pay_by, o.pay_date, o.slip,
  o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var status, payStatus string
	if err := row.Scan(
		&o.ID, &o.TenantID, &status, &payStatus,
		&o.CourierID, &o.TrackingNumber, &o.CancellationReason,
		&o.PayBy, &o.PayDate, &o.Slip,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.PayStatus = models.PayStatus(payStatus)
	return &o, nil
}

func getOrder(ctx context.Context, q querier, tenantID, orderID int64) (*models.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `
SELECT`+orderColumns+`
FROM order_header o
WHERE o.order_id = $1 AND o.tenant_id = $2
`, orderID, tenantID))
	if err != nil {
		return nil, notFound(err, "select order")
	}
	return o, nil
}

func (s *Storage) GetOrder(ctx context.Context, tenantID, orderID int64) (*models.Order, error) {
	return getOrder(ctx, s.db, tenantID, orderID)
}

// FindOrderTenant возвращает владельца заказа. Это единственный запрос без фильтра
// по tenant_id: он и определяет tenant.
func (s *Storage) FindOrderTenant(ctx context.Context, orderID int64) (int64, error) {
	var tenantID int64
	err := s.db.QueryRow(ctx, `SELECT tenant_id FROM order_header WHERE order_id = $1`, orderID).Scan(&tenantID)
	if err != nil {
		return 0, notFound(err, "select order tenant")
	}
	return tenantID, nil
}

// FindOrdersByTracking returns orders across all tenants whose tracking number was
// issued by a courier of carrier company coID, newest first. Callers must check the
// tenant of every match.
func (s *Storage) FindOrdersByTracking(ctx context.Context, trackingCode string, coID int64, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM order_header o
JOIN couriers c ON c.tenant_id = o.tenant_id AND c.courier_id = o.courier_id
WHERE o.tracking_number = $1 AND c.co_id = $2
ORDER BY o.order_id DESC
LIMIT $3
`, trackingCode, coID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select orders by tracking")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueDeliveryChecks выбирает отправленные заказы, которые пора проверить у
// перевозчика, и сдвигает next_delivery_check_at на lease, чтобы параллельный
// воркер их не взял. SELECT ... FOR UPDATE OF o SKIP LOCKED.
func (s *Storage) ClaimDueDeliveryChecks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryCheck, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT
  o.order_id, o.tenant_id, cc.co_id, cc.carrier_code,
  o.tracking_number, o.delivery_check_fail_count, o.next_delivery_check_at
FROM order_header o
JOIN couriers c ON c.tenant_id = o.tenant_id AND c.courier_id = o.courier_id
JOIN carrier_companies cc ON cc.co_id = c.co_id
WHERE o.status = 'dispatch'
  AND o.tracking_number IS NOT NULL
  AND o.next_delivery_check_at <= $1
  AND cc.api_enabled
ORDER BY o.next_delivery_check_at ASC
LIMIT $2
FOR UPDATE OF o SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due delivery checks")
	}
	defer rows.Close()

	var picked []*models.DeliveryCheck
	var ids, tenants []int64
	for rows.Next() {
		var c models.DeliveryCheck
		if err := rows.Scan(
			&c.OrderID, &c.TenantID, &c.CoID, &c.CarrierCode,
			&c.TrackingNumber, &c.FailCount, &c.NextCheckAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan due delivery check")
		}
		picked = append(picked, &c)
		ids = append(ids, c.OrderID)
		tenants = append(tenants, c.TenantID)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	if len(picked) == 0 {
		return picked, nil
	}

	leaseUntil := now.UTC().Add(lease)
	if _, err := tx.Exec(ctx, `
UPDATE order_header o
SET next_delivery_check_at = $3
FROM unnest($1::bigint[], $2::bigint[]) AS p(order_id, tenant_id)
WHERE o.order_id = p.order_id AND o.tenant_id = p.tenant_id
`, ids, tenants, leaseUntil); err != nil {
		return nil, errors.Wrap(err, "lease delivery checks")
	}
	for _, c := range picked {
		c.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

type DeliveryCheckUpdate struct {
	OrderID  int64
	TenantID int64

	NextCheckAt time.Time

	Error *string
}

// recordDeliveryCheck сохраняет результат опроса перевозчика. Заказы, ушедшие из
// dispatch, не трогаем.
func recordDeliveryCheck(ctx context.Context, q querier, upd DeliveryCheckUpdate) (int64, error) {
	if upd.Error != nil && *upd.Error != "" {
		return exec(ctx, q, "update delivery check (error)", `
UPDATE order_header
SET
  delivery_check_fail_count = delivery_check_fail_count + 1,
  delivery_last_error = $3,
  next_delivery_check_at = $4
WHERE order_id = $1 AND tenant_id = $2 AND status = 'dispatch'
`, upd.OrderID, upd.TenantID, *upd.Error, upd.NextCheckAt.UTC())
	}

	return exec(ctx, q, "update delivery check (ok)", `
UPDATE order_header
SET
  delivery_check_fail_count = 0,
  delivery_last_error = NULL,
  next_delivery_check_at = $3
WHERE order_id = $1 AND tenant_id = $2 AND status = 'dispatch'
`, upd.OrderID, upd.TenantID, upd.NextCheckAt.UTC())
}
