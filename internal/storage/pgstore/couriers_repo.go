package pgstore

import (
	"context"

	"github.com/BearBump/OrderDesk/internal/models"
)

func (s *Storage) GetCourier(ctx context.Context, tenantID, courierID int64) (*models.Courier, error) {
	var c models.Courier
	var status string
	err := s.db.QueryRow(ctx, `
SELECT courier_id, tenant_id, co_id, name, status
FROM couriers
WHERE tenant_id = $1 AND courier_id = $2
`, tenantID, courierID).Scan(&c.ID, &c.TenantID, &c.CoID, &c.Name, &status)
	if err != nil {
		return nil, notFound(err, "select courier")
	}
	c.Status = models.CourierStatus(status)
	return &c, nil
}
