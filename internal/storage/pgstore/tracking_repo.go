package pgstore

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
)

const trackingColumns = `id, tenant_id, courier_id, tracking_id, status, order_id, created_at, used_at`

func scanTracking(row pgx.Row) (*models.TrackingNumber, error) {
	var t models.TrackingNumber
	var status string
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.CourierID, &t.TrackingID, &status, &t.OrderID, &t.CreatedAt, &t.UsedAt,
	); err != nil {
		return nil, err
	}
	t.Status = models.TrackingStatus(status)
	return &t, nil
}

func collectTracking(rows pgx.Rows) ([]*models.TrackingNumber, error) {
	defer rows.Close()
	var out []*models.TrackingNumber
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan tracking")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountUnusedTracking(ctx context.Context, tenantID, courierID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT count(*) FROM tracking
WHERE tenant_id = $1 AND courier_id = $2 AND status = 'unused'
`, tenantID, courierID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count unused tracking")
	}
	return n, nil
}

// ListUnusedTracking returns the oldest unused numbers without reserving them.
func (s *Storage) ListUnusedTracking(ctx context.Context, tenantID, courierID int64, limit int) ([]*models.TrackingNumber, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+trackingColumns+`
FROM tracking
WHERE tenant_id = $1 AND courier_id = $2 AND status = 'unused'
ORDER BY created_at ASC, id ASC
LIMIT $3
`, tenantID, courierID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unused tracking")
	}
	return collectTracking(rows)
}

// claimTracking помечает used до limit самых старых номеров одним UPDATE.
// Строки, заблокированные параллельной транзакцией, пропускаются (SKIP LOCKED),
// поэтому два конкурентных claim никогда не получат один и тот же номер.
func claimTracking(ctx context.Context, q querier, tenantID, courierID int64, limit int, orderID *int64) ([]*models.TrackingNumber, error) {
	rows, err := q.Query(ctx, `
WITH picked AS (
  SELECT id FROM tracking
  WHERE tenant_id = $1 AND courier_id = $2 AND status = 'unused'
  ORDER BY created_at ASC, id ASC
  LIMIT $3
  FOR UPDATE SKIP LOCKED
)
UPDATE tracking t
SET status = 'used', order_id = $4, used_at = now()
FROM picked
WHERE t.id = picked.id AND t.status = 'unused'
RETURNING t.id, t.tenant_id, t.courier_id, t.tracking_id, t.status, t.order_id, t.created_at, t.used_at
`, tenantID, courierID, limit, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "claim tracking")
	}
	out, err := collectTracking(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING не гарантирует порядок.
	slices.SortFunc(out, func(a, b *models.TrackingNumber) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// InventoryLevels counts unused numbers for every active courier, including
// couriers with an empty inventory.
func (s *Storage) InventoryLevels(ctx context.Context) ([]models.InventoryLevel, error) {
	rows, err := s.db.Query(ctx, `
SELECT c.tenant_id, c.courier_id, count(t.id)
FROM couriers c
LEFT JOIN tracking t
  ON t.tenant_id = c.tenant_id AND t.courier_id = c.courier_id AND t.status = 'unused'
WHERE c.status = 'active'
GROUP BY c.tenant_id, c.courier_id
ORDER BY c.tenant_id, c.courier_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select inventory levels")
	}
	defer rows.Close()

	var out []models.InventoryLevel
	for rows.Next() {
		var l models.InventoryLevel
		if err := rows.Scan(&l.TenantID, &l.CourierID, &l.Unused); err != nil {
			return nil, errors.Wrap(err, "scan inventory level")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
