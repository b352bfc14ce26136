// Package pgtest starts a throwaway postgres for integration tests and seeds the
// reference data the order desk does not own (carriers, couriers, orders, inventory).
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

func Start(t *testing.T) *pgstore.Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "orderdesk_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/orderdesk_test?sslmode=disable"
	st, err := pgstore.New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func Carrier(t *testing.T, st *pgstore.Storage, code string, apiEnabled bool) int64 {
	t.Helper()
	var id int64
	err := st.DB().QueryRow(context.Background(), `
INSERT INTO carrier_companies (name, carrier_code, api_enabled) VALUES ($1, $1, $2) RETURNING co_id
`, code, apiEnabled).Scan(&id)
	require.NoError(t, err)
	return id
}

func Courier(t *testing.T, st *pgstore.Storage, tenantID, courierID, coID int64, status models.CourierStatus) {
	t.Helper()
	_, err := st.DB().Exec(context.Background(), `
INSERT INTO couriers (courier_id, tenant_id, co_id, name, status) VALUES ($1, $2, $3, 'courier', $4)
`, courierID, tenantID, coID, string(status))
	require.NoError(t, err)
}

// Tracking provisions unused numbers in the given order; each one is created a
// second after the previous so FIFO order is unambiguous.
func Tracking(t *testing.T, st *pgstore.Storage, tenantID, courierID int64, codes ...string) []int64 {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]int64, 0, len(codes))
	for i, code := range codes {
		var id int64
		err := st.DB().QueryRow(context.Background(), `
INSERT INTO tracking (tenant_id, courier_id, tracking_id, created_at) VALUES ($1, $2, $3, $4) RETURNING id
`, tenantID, courierID, code, base.Add(time.Duration(i)*time.Second)).Scan(&id)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

type Item struct {
	Status    models.OrderStatus
	PayStatus models.PayStatus
}

type Order struct {
	TenantID           int64
	Status             models.OrderStatus
	PayStatus          models.PayStatus
	CourierID          *int64
	TrackingNumber     *string
	CancellationReason *string
	PayBy              *string
	Slip               *string
	Paid               bool // pay_date = now() и запись в payments
	NextCheckAt        *time.Time
	Items              []Item
}

func SeedOrder(t *testing.T, st *pgstore.Storage, o Order) int64 {
	t.Helper()
	ctx := context.Background()
	if o.PayStatus == "" {
		o.PayStatus = models.PayUnpaid
	}

	var payDate *time.Time
	if o.Paid {
		now := time.Now().UTC()
		payDate = &now
	}

	var id int64
	err := st.DB().QueryRow(ctx, `
INSERT INTO order_header (
  tenant_id, status, pay_status, courier_id, tracking_number,
  cancellation_reason, pay_by, pay_date, slip, next_delivery_check_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING order_id
`, o.TenantID, string(o.Status), string(o.PayStatus), o.CourierID, o.TrackingNumber,
		o.CancellationReason, o.PayBy, payDate, o.Slip, o.NextCheckAt).Scan(&id)
	require.NoError(t, err)

	for _, it := range o.Items {
		ps := it.PayStatus
		if ps == "" {
			ps = models.PayUnpaid
		}
		_, err := st.DB().Exec(ctx, `
INSERT INTO order_items (order_id, tenant_id, status, pay_status) VALUES ($1, $2, $3, $4)
`, id, o.TenantID, string(it.Status), string(ps))
		require.NoError(t, err)
	}

	if o.Paid {
		_, err := st.DB().Exec(ctx, `
INSERT INTO payments (order_id, tenant_id, amount, method) VALUES ($1, $2, 100, 'card')
`, id, o.TenantID)
		require.NoError(t, err)
	}
	return id
}

func Items(t *testing.T, st *pgstore.Storage, orderID int64) []Item {
	t.Helper()
	rows, err := st.DB().Query(context.Background(), `
SELECT status, pay_status FROM order_items WHERE order_id = $1 ORDER BY id
`, orderID)
	require.NoError(t, err)
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var status, pay string
		require.NoError(t, rows.Scan(&status, &pay))
		out = append(out, Item{Status: models.OrderStatus(status), PayStatus: models.PayStatus(pay)})
	}
	require.NoError(t, rows.Err())
	return out
}

func Count(t *testing.T, st *pgstore.Storage, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func Ptr[T any](v T) *T { return &v }
