// Package mocks holds testify doubles for the postgres storage.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

type MockOrderTx struct {
	mock.Mock
}

var _ pgstore.OrderTx = (*MockOrderTx)(nil)

func (m *MockOrderTx) GetOrder(ctx context.Context, tenantID, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, tenantID, orderID)
	var o *models.Order
	if v := args.Get(0); v != nil {
		o = v.(*models.Order)
	}
	return o, args.Error(1)
}

func (m *MockOrderTx) ClaimTracking(ctx context.Context, tenantID, courierID int64, limit int, orderID *int64) ([]*models.TrackingNumber, error) {
	args := m.Called(ctx, tenantID, courierID, limit, orderID)
	var out []*models.TrackingNumber
	if v := args.Get(0); v != nil {
		out = v.([]*models.TrackingNumber)
	}
	return out, args.Error(1)
}

func (m *MockOrderTx) AssignOrderTracking(ctx context.Context, tenantID, orderID, courierID int64, trackingNumber string) (int64, error) {
	args := m.Called(ctx, tenantID, orderID, courierID, trackingNumber)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) CascadeItemStatus(ctx context.Context, tenantID, orderID int64, from, to models.OrderStatus) (int64, error) {
	args := m.Called(ctx, tenantID, orderID, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) RestoreOrder(ctx context.Context, tenantID, orderID int64, to models.OrderStatus) (int64, error) {
	args := m.Called(ctx, tenantID, orderID, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) UnmarkOrderPaid(ctx context.Context, tenantID, orderID int64) (int64, error) {
	args := m.Called(ctx, tenantID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) MarkItemsUnpaid(ctx context.Context, tenantID, orderID int64) (int64, error) {
	args := m.Called(ctx, tenantID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) DeletePayment(ctx context.Context, tenantID, orderID int64) (int64, error) {
	args := m.Called(ctx, tenantID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) CompleteDeliveredOrder(ctx context.Context, tenantID, orderID int64, at time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, orderID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) CompleteDeliveredItems(ctx context.Context, tenantID, orderID int64) (int64, error) {
	args := m.Called(ctx, tenantID, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) RecordDeliveryCheck(ctx context.Context, upd pgstore.DeliveryCheckUpdate) (int64, error) {
	args := m.Called(ctx, upd)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderTx) InsertAuditLog(ctx context.Context, e models.AuditLogEntry) (int64, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(int64), args.Error(1)
}

// MockStorage covers the non-transactional storage surface. InTx runs the callback
// against Tx and counts commits and rollbacks instead of touching a database.
type MockStorage struct {
	mock.Mock

	Tx        *MockOrderTx
	Commits   int
	Rollbacks int
}

func NewMockStorage() *MockStorage {
	return &MockStorage{Tx: &MockOrderTx{}}
}

func (m *MockStorage) InTx(ctx context.Context, fn func(tx pgstore.OrderTx) error) error {
	if err := fn(m.Tx); err != nil {
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

func (m *MockStorage) FindOrderTenant(ctx context.Context, orderID int64) (int64, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) GetCourier(ctx context.Context, tenantID, courierID int64) (*models.Courier, error) {
	args := m.Called(ctx, tenantID, courierID)
	var c *models.Courier
	if v := args.Get(0); v != nil {
		c = v.(*models.Courier)
	}
	return c, args.Error(1)
}

func (m *MockStorage) CountUnusedTracking(ctx context.Context, tenantID, courierID int64) (int64, error) {
	args := m.Called(ctx, tenantID, courierID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) ListUnusedTracking(ctx context.Context, tenantID, courierID int64, limit int) ([]*models.TrackingNumber, error) {
	args := m.Called(ctx, tenantID, courierID, limit)
	var out []*models.TrackingNumber
	if v := args.Get(0); v != nil {
		out = v.([]*models.TrackingNumber)
	}
	return out, args.Error(1)
}

func (m *MockStorage) FindOrdersByTracking(ctx context.Context, trackingCode string, coID int64, limit int) ([]*models.Order, error) {
	args := m.Called(ctx, trackingCode, coID, limit)
	var out []*models.Order
	if v := args.Get(0); v != nil {
		out = v.([]*models.Order)
	}
	return out, args.Error(1)
}

func (m *MockStorage) ListAuditLogs(ctx context.Context, tenantID, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, tenantID, orderID, limit, offset)
	var out []*models.AuditLogEntry
	if v := args.Get(0); v != nil {
		out = v.([]*models.AuditLogEntry)
	}
	return out, args.Error(1)
}
