package fake

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
)

// FakeClient — перевозчик для локального запуска и тестов. Статус детерминирован
// по (carrier, tracking number): примерно каждый пятый трек доставлен.
type FakeClient struct {
	mu     sync.RWMutex
	forced map[string]models.DeliveryStatus
}

func New() *FakeClient {
	return &FakeClient{forced: map[string]models.DeliveryStatus{}}
}

// Force pins the status reported for a tracking number.
func (f *FakeClient) Force(trackingNumber string, status models.DeliveryStatus) *FakeClient {
	f.mu.Lock()
	f.forced[trackingNumber] = status
	f.mu.Unlock()
	return f
}

func (f *FakeClient) GetStatus(ctx context.Context, carrierCode, trackingNumber string) (carrier.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return carrier.StatusResult{}, err
	}
	now := time.Now().UTC()

	f.mu.RLock()
	status, ok := f.forced[trackingNumber]
	f.mu.RUnlock()

	if !ok {
		h := fnv.New32a()
		_, _ = h.Write([]byte(carrierCode))
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write([]byte(trackingNumber))
		v := h.Sum32()

		status = models.DeliveryInTransit
		switch {
		case v%5 == 0:
			status = models.DeliveryDelivered
		case v%17 == 0:
			status = models.DeliveryReturned
		}
	}

	return carrier.StatusResult{
		Status:       status,
		StatusRaw:    "fake: " + string(status),
		StatusAt:     &now,
		LastLocation: "fake hub",
		Checkpoints:  1,
	}, nil
}
