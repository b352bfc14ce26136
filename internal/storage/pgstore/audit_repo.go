package pgstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
)

func insertAuditLog(ctx context.Context, q querier, e models.AuditLogEntry) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO user_logs (user_id, tenant_id, action_type, inquiry_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING id
`, e.UserID, e.TenantID, string(e.Action), e.OrderID, e.Details).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert audit log")
	}
	return id, nil
}

func (s *Storage) ListAuditLogs(ctx context.Context, tenantID, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, user_id, tenant_id, action_type, inquiry_id, details, created_at
FROM user_logs
WHERE tenant_id = $1 AND inquiry_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`, tenantID, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select audit logs")
	}
	defer rows.Close()

	out := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		var e models.AuditLogEntry
		var action string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TenantID, &action, &e.OrderID, &e.Details, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit log")
		}
		e.Action = models.ActionKind(action)
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
