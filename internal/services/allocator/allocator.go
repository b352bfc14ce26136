// Package allocator hands out courier tracking numbers from the per-tenant inventory.
package allocator

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/audit"
	"github.com/BearBump/OrderDesk/internal/cache"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/services/tenancy"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

const DefaultMaxReserve = 500

type Store interface {
	tenancy.Directory
	CountUnusedTracking(ctx context.Context, tenantID, courierID int64) (int64, error)
	ListUnusedTracking(ctx context.Context, tenantID, courierID int64, limit int) ([]*models.TrackingNumber, error)
	InTx(ctx context.Context, fn func(tx pgstore.OrderTx) error) error
}

type Notifier interface {
	OrderChanged(ctx context.Context, tr models.Transition)
}

// Target addresses one courier inventory. OrderID, when set, decides the tenant.
type Target struct {
	TenantID  int64
	OrderID   int64
	CourierID int64
}

type Reservation struct {
	Numbers    []*models.TrackingNumber `json:"numbers"`
	Requested  int                      `json:"requested"`
	Returned   int                      `json:"returned"`
	Sufficient bool                     `json:"sufficient"`
}

func newReservation(numbers []*models.TrackingNumber, requested int) *Reservation {
	if numbers == nil {
		numbers = []*models.TrackingNumber{}
	}
	return &Reservation{
		Numbers:    numbers,
		Requested:  requested,
		Returned:   len(numbers),
		Sufficient: len(numbers) == requested,
	}
}

type Assignment struct {
	Transition models.Transition     `json:"transition"`
	Tracking   *models.TrackingNumber `json:"tracking"`
}

type Service struct {
	store    Store
	scope    *tenancy.Resolver
	cache    cache.BytesCache
	countTTL time.Duration
	notifier Notifier
	maxCount int
}

func New(store Store, c cache.BytesCache, countTTL time.Duration, n Notifier) *Service {
	return &Service{
		store:    store,
		scope:    tenancy.New(store),
		cache:    c,
		countTTL: countTTL,
		notifier: n,
		maxCount: DefaultMaxReserve,
	}
}

func (s *Service) WithMaxCount(n int) *Service {
	if n > 0 {
		s.maxCount = n
	}
	return s
}

func (s *Service) resolve(ctx context.Context, actor models.Actor, t Target) (int64, error) {
	tenantID, err := s.scope.Tenant(ctx, actor, tenancy.Ref{OrderID: t.OrderID, TenantID: t.TenantID})
	if err != nil {
		return 0, err
	}
	if _, err := s.scope.ActiveCourier(ctx, tenantID, t.CourierID); err != nil {
		return 0, err
	}
	return tenantID, nil
}

func (s *Service) validateCount(count int) error {
	if count <= 0 {
		return outcome.New(outcome.InvalidRequest, "count must be positive")
	}
	if count > s.maxCount {
		return outcome.Newf(outcome.InvalidRequest, "count must not exceed %d", s.maxCount)
	}
	return nil
}

// Count returns the number of unused numbers. The value may be served from cache
// for up to countTTL; every claim through this service invalidates it.
func (s *Service) Count(ctx context.Context, actor models.Actor, t Target) (int64, error) {
	tenantID, err := s.resolve(ctx, actor, t)
	if err != nil {
		return 0, err
	}

	key := cache.InventoryKey(tenantID, t.CourierID)
	if s.cache != nil && s.countTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			if n, perr := strconv.ParseInt(string(b), 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	n, err := s.store.CountUnusedTracking(ctx, tenantID, t.CourierID)
	if err != nil {
		return 0, s.internal("count", tenantID, t.OrderID, err)
	}

	if s.cache != nil && s.countTTL > 0 {
		_ = s.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), s.countTTL)
	}
	return n, nil
}

func (s *Service) Peek(ctx context.Context, actor models.Actor, t Target) (*models.TrackingNumber, error) {
	tenantID, err := s.resolve(ctx, actor, t)
	if err != nil {
		return nil, err
	}

	list, err := s.store.ListUnusedTracking(ctx, tenantID, t.CourierID, 1)
	if err != nil {
		return nil, s.internal("peek", tenantID, t.OrderID, err)
	}
	if len(list) == 0 {
		return nil, outcome.Newf(outcome.NotFound, "no unused tracking numbers for courier %d", t.CourierID)
	}
	return list[0], nil
}

// Reserve previews up to count oldest unused numbers without consuming them.
// A shortfall is reported through Sufficient, never as an error. Counts above
// maxCount are served as maxCount and come back with Sufficient=false.
func (s *Service) Reserve(ctx context.Context, actor models.Actor, t Target, count int) (*Reservation, error) {
	if err := tenancy.RequireActor(actor); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, outcome.New(outcome.InvalidRequest, "count must be positive")
	}
	tenantID, err := s.resolve(ctx, actor, t)
	if err != nil {
		return nil, err
	}

	list, err := s.store.ListUnusedTracking(ctx, tenantID, t.CourierID, min(count, s.maxCount))
	if err != nil {
		return nil, s.internal("reserve", tenantID, t.OrderID, err)
	}
	return newReservation(list, count), nil
}

// Consume claims up to count numbers in one unit of work and records it. Without
// allowPartial a shortfall fails with InsufficientInventory and releases the claim.
func (s *Service) Consume(ctx context.Context, actor models.Actor, t Target, count int, allowPartial bool) (*Reservation, error) {
	if err := tenancy.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := s.validateCount(count); err != nil {
		return nil, err
	}
	tenantID, err := s.resolve(ctx, actor, t)
	if err != nil {
		return nil, err
	}

	var orderRef *int64
	if t.OrderID > 0 {
		orderRef = &t.OrderID
	}

	var res *Reservation
	err = s.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		claimed, err := tx.ClaimTracking(ctx, tenantID, t.CourierID, count, orderRef)
		if err != nil {
			return outcome.Internal(err)
		}
		if len(claimed) < count && !allowPartial {
			return outcome.Newf(outcome.InsufficientInventory,
				"requested %d tracking numbers, %d available", count, len(claimed))
		}
		res = newReservation(claimed, count)
		if len(claimed) == 0 {
			return nil
		}

		codes := make([]string, 0, len(claimed))
		for _, tn := range claimed {
			codes = append(codes, tn.TrackingID)
		}
		if _, err := audit.Record(ctx, tx, actor.UserID, tenantID, models.ActionTrackingConsume, t.OrderID,
			audit.TrackingConsumed(t.OrderID, t.CourierID, codes, count)); err != nil {
			return outcome.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.failed("consume", tenantID, t.OrderID, err)
	}

	s.invalidate(ctx, tenantID, t.CourierID)
	return res, nil
}

// AssignTracking dispatches a pending order: it claims the oldest unused number of
// the courier, stores it on the order and cascades dispatch to pending items.
func (s *Service) AssignTracking(ctx context.Context, actor models.Actor, orderID, courierID int64) (*Assignment, error) {
	tenantID, err := s.scope.OrderTenant(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.scope.ActiveCourier(ctx, tenantID, courierID); err != nil {
		return nil, err
	}

	var out *Assignment
	err = s.store.InTx(ctx, func(tx pgstore.OrderTx) error {
		o, err := tx.GetOrder(ctx, tenantID, orderID)
		if errors.Is(err, pgstore.ErrNotFound) {
			return outcome.Newf(outcome.NotFound, "order %d not found", orderID)
		}
		if err != nil {
			return outcome.Internal(err)
		}
		if o.Status != models.OrderPending {
			return outcome.Newf(outcome.InvalidTransition,
				"order %d is %s, tracking can only be assigned to pending orders", orderID, o.Status)
		}

		claimed, err := tx.ClaimTracking(ctx, tenantID, courierID, 1, &orderID)
		if err != nil {
			return outcome.Internal(err)
		}
		if len(claimed) == 0 {
			return outcome.Newf(outcome.InsufficientInventory, "no unused tracking numbers for courier %d", courierID)
		}
		tn := claimed[0]

		n, err := tx.AssignOrderTracking(ctx, tenantID, orderID, courierID, tn.TrackingID)
		if err != nil {
			return outcome.Internal(err)
		}
		if n == 0 {
			return outcome.Newf(outcome.InvalidTransition, "order %d changed concurrently", orderID)
		}
		if _, err := tx.CascadeItemStatus(ctx, tenantID, orderID, models.OrderPending, models.OrderDispatch); err != nil {
			return outcome.Internal(err)
		}

		logID, err := audit.Record(ctx, tx, actor.UserID, tenantID, models.ActionTrackingUpdate, orderID,
			audit.TrackingAssigned(orderID, tn.TrackingID, courierID, o.Status, models.OrderDispatch))
		if err != nil {
			return outcome.Internal(err)
		}

		out = &Assignment{
			Tracking: tn,
			Transition: models.Transition{
				OrderID:        orderID,
				TenantID:       tenantID,
				ActorID:        actor.UserID,
				Action:         models.ActionTrackingUpdate,
				FromStatus:     o.Status,
				ToStatus:       models.OrderDispatch,
				FromPayStatus:  o.PayStatus,
				ToPayStatus:    o.PayStatus,
				TrackingNumber: tn.TrackingID,
				AuditID:        logID,
			},
		}
		return nil
	})
	if err != nil {
		return nil, s.failed("assign_tracking", tenantID, orderID, err)
	}

	s.invalidate(ctx, tenantID, courierID)
	if s.notifier != nil {
		s.notifier.OrderChanged(ctx, out.Transition)
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, tenantID, courierID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.InventoryKey(tenantID, courierID)); err != nil {
		slog.Warn("invalidate inventory count", "tenant_id", tenantID, "courier_id", courierID, "error", err.Error())
	}
}

func (s *Service) internal(op string, tenantID, orderID int64, err error) error {
	return s.failed(op, tenantID, orderID, outcome.Internal(err))
}

func (s *Service) failed(op string, tenantID, orderID int64, err error) error {
	var oe *outcome.Error
	if !errors.As(err, &oe) {
		err = outcome.Internal(err)
	}
	code := outcome.CodeOf(err)
	if code == outcome.InternalError {
		slog.Error("tracking operation failed", "operation", op, "tenant_id", tenantID, "order_id", orderID, "error", err.Error())
		return err
	}
	slog.Info("tracking operation rejected", "operation", op, "tenant_id", tenantID, "order_id", orderID, "code", code)
	return err
}
