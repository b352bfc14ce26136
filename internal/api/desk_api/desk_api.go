package desk_api

import (
	"context"

	"github.com/BearBump/OrderDesk/internal/auth"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/services/allocator"
	"github.com/BearBump/OrderDesk/internal/services/lifecycle"
)

type Allocator interface {
	Count(ctx context.Context, actor models.Actor, t allocator.Target) (int64, error)
	Peek(ctx context.Context, actor models.Actor, t allocator.Target) (*models.TrackingNumber, error)
	Reserve(ctx context.Context, actor models.Actor, t allocator.Target, count int) (*allocator.Reservation, error)
	Consume(ctx context.Context, actor models.Actor, t allocator.Target, count int, allowPartial bool) (*allocator.Reservation, error)
	AssignTracking(ctx context.Context, actor models.Actor, orderID, courierID int64) (*allocator.Assignment, error)
}

type Lifecycle interface {
	Restore(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error)
	UnmarkPaid(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error)
	Reconcile(ctx context.Context, actor models.Actor, rows []models.DeliveryRow) ([]lifecycle.RowOutcome, error)
	ListAudit(ctx context.Context, actor models.Actor, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error)
}

type InventoryRequest struct {
	CourierID    int64 `json:"courier_id"`
	TenantID     int64 `json:"tenant_id,omitempty"`
	OrderID      int64 `json:"order_id,omitempty"`
	Count        int   `json:"count,omitempty"`
	AllowPartial bool  `json:"allow_partial,omitempty"`
}

func (r *InventoryRequest) target() allocator.Target {
	return allocator.Target{TenantID: r.TenantID, OrderID: r.OrderID, CourierID: r.CourierID}
}

type CountResponse struct {
	CourierID int64 `json:"courier_id"`
	Unused    int64 `json:"unused"`
}

type AssignTrackingRequest struct {
	OrderID   int64 `json:"order_id"`
	CourierID int64 `json:"courier_id"`
}

type OrderRequest struct {
	OrderID int64 `json:"order_id"`
}

type ListAuditRequest struct {
	OrderID int64 `json:"order_id"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
}

type AuditLogsResponse struct {
	Logs []*models.AuditLogEntry `json:"logs"`
}

type ReconcileRequest struct {
	Rows []models.DeliveryRow `json:"rows"`
}

type ReconcileResponse struct {
	Rows    []lifecycle.RowOutcome `json:"rows"`
	Applied int                    `json:"applied"`
}

// DeskAPI implements DeskServiceServer on top of the allocator and the order
// lifecycle manager. The actor comes from the auth interceptor.
type DeskAPI struct {
	alloc Allocator
	life  Lifecycle
}

func New(alloc Allocator, life Lifecycle) *DeskAPI {
	return &DeskAPI{alloc: alloc, life: life}
}

func (a *DeskAPI) CountTracking(ctx context.Context, req *InventoryRequest) (*CountResponse, error) {
	n, err := a.alloc.Count(ctx, auth.FromContext(ctx), req.target())
	if err := done("count", err); err != nil {
		return nil, err
	}
	return &CountResponse{CourierID: req.CourierID, Unused: n}, nil
}

func (a *DeskAPI) PeekTracking(ctx context.Context, req *InventoryRequest) (*models.TrackingNumber, error) {
	tn, err := a.alloc.Peek(ctx, auth.FromContext(ctx), req.target())
	if err := done("peek", err); err != nil {
		return nil, err
	}
	return tn, nil
}

func (a *DeskAPI) ReserveTracking(ctx context.Context, req *InventoryRequest) (*allocator.Reservation, error) {
	res, err := a.alloc.Reserve(ctx, auth.FromContext(ctx), req.target(), req.Count)
	if err := done("reserve", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *DeskAPI) ConsumeTracking(ctx context.Context, req *InventoryRequest) (*allocator.Reservation, error) {
	res, err := a.alloc.Consume(ctx, auth.FromContext(ctx), req.target(), req.Count, req.AllowPartial)
	if err := done("consume", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *DeskAPI) AssignTracking(ctx context.Context, req *AssignTrackingRequest) (*allocator.Assignment, error) {
	res, err := a.alloc.AssignTracking(ctx, auth.FromContext(ctx), req.OrderID, req.CourierID)
	if err := done("assign_tracking", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *DeskAPI) RestoreOrder(ctx context.Context, req *OrderRequest) (*models.Transition, error) {
	tr, err := a.life.Restore(ctx, auth.FromContext(ctx), req.OrderID)
	if err := done("restore", err); err != nil {
		return nil, err
	}
	return tr, nil
}

func (a *DeskAPI) UnmarkPaid(ctx context.Context, req *OrderRequest) (*models.Transition, error) {
	tr, err := a.life.UnmarkPaid(ctx, auth.FromContext(ctx), req.OrderID)
	if err := done("unmark_paid", err); err != nil {
		return nil, err
	}
	return tr, nil
}

func (a *DeskAPI) ListAuditLogs(ctx context.Context, req *ListAuditRequest) (*AuditLogsResponse, error) {
	logs, err := a.life.ListAudit(ctx, auth.FromContext(ctx), req.OrderID, req.Limit, req.Offset)
	if err := done("list_audit", err); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*models.AuditLogEntry{}
	}
	return &AuditLogsResponse{Logs: logs}, nil
}

func (a *DeskAPI) Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileResponse, error) {
	rows, err := a.life.Reconcile(ctx, auth.FromContext(ctx), req.Rows)
	if err := done("reconcile", err); err != nil {
		return nil, err
	}
	resp := &ReconcileResponse{Rows: rows}
	for _, r := range rows {
		if r.Applied {
			resp.Applied++
		}
	}
	return resp, nil
}

func done(op string, err error) error {
	metrics.ObserveOperation(op, string(outcome.CodeOf(err)))
	if err != nil {
		return toStatus(err)
	}
	return nil
}
