package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
)

type fakeRepo struct {
	mu    sync.Mutex
	calls int
	batch []*models.DeliveryCheck
	err   error
}

func (r *fakeRepo) ClaimDueDeliveryChecks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := r.batch
	r.batch = nil
	return out, r.err
}

func (r *fakeRepo) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

type noopCarrier struct{}

func (c noopCarrier) GetStatus(ctx context.Context, carrierCode, trackingNumber string) (carrier.StatusResult, error) {
	return carrier.StatusResult{Status: models.DeliveryInTransit}, nil
}

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, noopCarrier{}, noopProducer{}, nil, "t").WithSettings(5*time.Millisecond, 1, 1, 1*time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, repo.Calls(), 1)
}

func TestPoller_RunOnce_Stats(t *testing.T) {
	repo := &fakeRepo{batch: []*models.DeliveryCheck{
		{OrderID: 1, TenantID: 1, CarrierCode: "C", TrackingNumber: "A"},
		{OrderID: 2, TenantID: 1, CarrierCode: "C", TrackingNumber: "B"},
		{OrderID: 3, TenantID: 2, CarrierCode: "C", TrackingNumber: "C"},
	}}
	p := New(repo, noopCarrier{}, noopProducer{}, nil, "t").WithSettings(time.Second, 10, 2, time.Second, 1)

	p.RunOnce(context.Background())

	st := p.Stats()
	require.Equal(t, int64(3), st.TotalClaimed)
	require.Equal(t, int64(3), st.TotalProcessed)
	require.Zero(t, st.TotalErrors)
	require.Zero(t, st.InFlight)
	require.NotNil(t, st.LastCycleAt)
}

func TestPoller_RunOnce_ClaimError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	p := New(repo, noopCarrier{}, noopProducer{}, nil, "t")

	p.RunOnce(context.Background())
	require.Equal(t, "db down", p.Stats().LastError)
}

func TestPoller_Trigger(t *testing.T) {
	repo := &fakeRepo{}
	p := New(repo, noopCarrier{}, noopProducer{}, nil, "t").WithSettings(time.Hour, 1, 1, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.Trigger()
	require.Eventually(t, func() bool { return repo.Calls() >= 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, p.Stats().LastTriggerAt)

	cancel()
	<-done
}
