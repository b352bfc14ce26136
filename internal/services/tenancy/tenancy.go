// Package tenancy resolves the tenant every core operation runs under. The order's
// own tenant column is authoritative; a caller-supplied tenant is a fallback for
// calls made before an order exists and must belong to the actor.
package tenancy

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

type Directory interface {
	FindOrderTenant(ctx context.Context, orderID int64) (int64, error)
	GetCourier(ctx context.Context, tenantID, courierID int64) (*models.Courier, error)
}

// Ref is what the caller knows about the target. Zero means "not supplied".
type Ref struct {
	OrderID  int64
	TenantID int64
}

type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

func RequireActor(a models.Actor) error {
	if !a.Authenticated {
		return outcome.New(outcome.Unauthorized, "authentication required")
	}
	return nil
}

func (r *Resolver) Tenant(ctx context.Context, actor models.Actor, ref Ref) (int64, error) {
	if err := RequireActor(actor); err != nil {
		return 0, err
	}
	if ref.OrderID < 0 || ref.TenantID < 0 {
		return 0, outcome.New(outcome.InvalidRequest, "identifiers must be positive")
	}

	if ref.OrderID > 0 {
		tenantID, err := r.OrderTenant(ctx, actor, ref.OrderID)
		if err != nil {
			return 0, err
		}
		if ref.TenantID > 0 && ref.TenantID != tenantID {
			return 0, outcome.Newf(outcome.CrossTenantConflict,
				"order %d does not belong to tenant %d", ref.OrderID, ref.TenantID)
		}
		return tenantID, nil
	}

	if ref.TenantID > 0 {
		if !actor.CanAccess(ref.TenantID) {
			return 0, outcome.Newf(outcome.CrossTenantConflict, "tenant %d is not allowed for this session", ref.TenantID)
		}
		return ref.TenantID, nil
	}

	if actor.SessionTenantID != nil && actor.CanAccess(*actor.SessionTenantID) {
		return *actor.SessionTenantID, nil
	}
	return 0, outcome.New(outcome.InvalidRequest, "tenant cannot be resolved")
}

// OrderTenant returns the owner of the order, failing when the actor may not act on it.
func (r *Resolver) OrderTenant(ctx context.Context, actor models.Actor, orderID int64) (int64, error) {
	if err := RequireActor(actor); err != nil {
		return 0, err
	}
	if orderID <= 0 {
		return 0, outcome.New(outcome.InvalidRequest, "order_id must be positive")
	}

	tenantID, err := r.dir.FindOrderTenant(ctx, orderID)
	if errors.Is(err, pgstore.ErrNotFound) {
		return 0, outcome.Newf(outcome.NotFound, "order %d not found", orderID)
	}
	if err != nil {
		slog.Error("resolve order tenant", "order_id", orderID, "error", err.Error())
		return 0, outcome.Internal(err)
	}
	if !actor.CanAccess(tenantID) {
		return 0, outcome.Newf(outcome.CrossTenantConflict, "order %d belongs to another tenant", orderID)
	}
	return tenantID, nil
}

// ActiveCourier loads a courier of the tenant. Inactive, foreign and missing
// couriers are all NotFound.
func (r *Resolver) ActiveCourier(ctx context.Context, tenantID, courierID int64) (*models.Courier, error) {
	if courierID <= 0 {
		return nil, outcome.New(outcome.InvalidRequest, "courier_id must be positive")
	}

	c, err := r.dir.GetCourier(ctx, tenantID, courierID)
	if errors.Is(err, pgstore.ErrNotFound) {
		return nil, outcome.Newf(outcome.NotFound, "courier %d not found", courierID)
	}
	if err != nil {
		slog.Error("load courier", "tenant_id", tenantID, "courier_id", courierID, "error", err.Error())
		return nil, outcome.Internal(err)
	}
	if !c.Active() {
		return nil, outcome.Newf(outcome.NotFound, "courier %d is not active", courierID)
	}
	return c, nil
}
