package tenancy

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

type fakeDirectory struct {
	orders   map[int64]int64
	couriers map[[2]int64]*models.Courier
	err      error
}

func (d *fakeDirectory) FindOrderTenant(_ context.Context, orderID int64) (int64, error) {
	if d.err != nil {
		return 0, d.err
	}
	t, ok := d.orders[orderID]
	if !ok {
		return 0, errors.Wrap(pgstore.ErrNotFound, "select order tenant")
	}
	return t, nil
}

func (d *fakeDirectory) GetCourier(_ context.Context, tenantID, courierID int64) (*models.Courier, error) {
	if d.err != nil {
		return nil, d.err
	}
	c, ok := d.couriers[[2]int64{tenantID, courierID}]
	if !ok {
		return nil, errors.Wrap(pgstore.ErrNotFound, "select courier")
	}
	return c, nil
}

func newDir() *fakeDirectory {
	return &fakeDirectory{
		orders: map[int64]int64{100: 1, 200: 2},
		couriers: map[[2]int64]*models.Courier{
			{1, 5}: {ID: 5, TenantID: 1, Status: models.CourierActive},
			{1, 6}: {ID: 6, TenantID: 1, Status: models.CourierInactive},
			{2, 5}: {ID: 5, TenantID: 2, Status: models.CourierActive},
		},
	}
}

func actor(tenant int64) models.Actor {
	return models.NewActor(42, &tenant, nil)
}

func TestTenant(t *testing.T) {
	r := New(newDir())
	ctx := context.Background()

	_, err := r.Tenant(ctx, models.Actor{}, Ref{OrderID: 100})
	require.Equal(t, outcome.Unauthorized, outcome.CodeOf(err))

	got, err := r.Tenant(ctx, actor(1), Ref{OrderID: 100})
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	// tenant из заказа важнее переданного клиентом
	_, err = r.Tenant(ctx, actor(1), Ref{OrderID: 100, TenantID: 2})
	require.Equal(t, outcome.CrossTenantConflict, outcome.CodeOf(err))

	_, err = r.Tenant(ctx, actor(1), Ref{OrderID: 200})
	require.Equal(t, outcome.CrossTenantConflict, outcome.CodeOf(err))

	_, err = r.Tenant(ctx, actor(1), Ref{OrderID: 999})
	require.Equal(t, outcome.NotFound, outcome.CodeOf(err))

	got, err = r.Tenant(ctx, actor(1), Ref{TenantID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	_, err = r.Tenant(ctx, actor(1), Ref{TenantID: 2})
	require.Equal(t, outcome.CrossTenantConflict, outcome.CodeOf(err))

	multi := models.NewActor(42, nil, []int64{1, 2})
	got, err = r.Tenant(ctx, multi, Ref{TenantID: 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), got)

	_, err = r.Tenant(ctx, multi, Ref{})
	require.Equal(t, outcome.InvalidRequest, outcome.CodeOf(err))

	got, err = r.Tenant(ctx, actor(1), Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	_, err = r.Tenant(ctx, actor(1), Ref{OrderID: -1})
	require.Equal(t, outcome.InvalidRequest, outcome.CodeOf(err))
}

func TestTenant_StorageError(t *testing.T) {
	d := newDir()
	d.err = errors.New("connection refused")
	r := New(d)

	_, err := r.Tenant(context.Background(), actor(1), Ref{OrderID: 100})
	require.Equal(t, outcome.InternalError, outcome.CodeOf(err))
	require.Equal(t, "internal error", outcome.FromError(err).Message)
}

func TestActiveCourier(t *testing.T) {
	r := New(newDir())
	ctx := context.Background()

	c, err := r.ActiveCourier(ctx, 1, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.TenantID)

	_, err = r.ActiveCourier(ctx, 1, 6)
	require.Equal(t, outcome.NotFound, outcome.CodeOf(err))

	_, err = r.ActiveCourier(ctx, 3, 5)
	require.Equal(t, outcome.NotFound, outcome.CodeOf(err))

	_, err = r.ActiveCourier(ctx, 1, 0)
	require.Equal(t, outcome.InvalidRequest, outcome.CodeOf(err))
}
