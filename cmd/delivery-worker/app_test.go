package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/fake"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/track24http"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/services/poller"
)

type fakeRepo struct {
	calls atomic.Int32
}

func (r *fakeRepo) ClaimDueDeliveryChecks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryCheck, error) {
	r.calls.Add(1)
	return []*models.DeliveryCheck{}, nil
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func testFactories(repo *fakeRepo, closed *bool) workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			return repo, func() { *closed = true }, nil
		},
		newProducer:      func(cfg *config.Config) poller.Producer { return noopProducer{} },
		newRateLimiter:   func(cfg *config.Config) poller.RateLimiter { return nil },
		newCarrierClient: func(cfg *config.Config) carrier.Client { return fake.New() },
	}
}

func TestDefaultWorkerFactories_SelectCarrierClient(t *testing.T) {
	f := defaultWorkerFactories()

	c1 := f.newCarrierClient(&config.Config{OrderDesk: config.OrderDeskConfig{
		CarrierMode:    "track24",
		CarrierBaseURL: "http://localhost:9000",
		CarrierAPIKey:  "k",
		CarrierDomain:  "d",
	}})
	_, ok := c1.(*track24http.Client)
	require.True(t, ok)

	c2 := f.newCarrierClient(&config.Config{OrderDesk: config.OrderDeskConfig{
		CarrierMode:    "unknown",
		CarrierBaseURL: "http://localhost:9000",
	}})
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	c3 := f.newCarrierClient(&config.Config{OrderDesk: config.OrderDeskConfig{CarrierMode: "track24"}})
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestPlannerConfig_FromSeconds(t *testing.T) {
	pc := plannerConfig(config.OrderDeskConfig{
		WorkerNextCheckInTransitMinSeconds: 60,
		WorkerNextCheckInTransitMaxSeconds: 120,
		WorkerBackoff1Seconds:              10,
	})
	require.Equal(t, time.Minute, pc.InTransitMinDelay)
	require.Equal(t, 2*time.Minute, pc.InTransitMaxDelay)
	require.Equal(t, 10*time.Second, pc.Backoff1)
	require.Zero(t, pc.UnknownDelay)
}

func TestRunDeliveryWorker_ContextCanceled(t *testing.T) {
	closed := false
	cfg := &config.Config{
		Kafka:     config.KafkaConfig{DeliveryReportedTopicName: "t"},
		OrderDesk: config.OrderDeskConfig{WorkerPollIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunDeliveryWorker(ctx, cfg, testFactories(&fakeRepo{}, &closed), workerHTTPOpts{})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, closed)
}

func TestRunDeliveryWorker_HTTPTrigger(t *testing.T) {
	sw := filepath.Join(t.TempDir(), "worker.swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	repo := &fakeRepo{}
	closed := false
	cfg := &config.Config{OrderDesk: config.OrderDeskConfig{WorkerPollIntervalSeconds: 3600, WorkerBatchSize: 5}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunDeliveryWorker(ctx, cfg, testFactories(repo, &closed), workerHTTPOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return repo.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/config")
	require.NoError(t, err)
	var conf map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conf))
	_ = resp.Body.Close()
	require.Equal(t, float64(5), conf["batchSize"])

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var st poller.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	require.NotNil(t, st.LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.True(t, closed)
}

func TestRunWorkerHTTPServer_MissingSwagger(t *testing.T) {
	err := runWorkerHTTPServer(context.Background(), workerHTTPOpts{httpAddr: "127.0.0.1:0"})
	require.Error(t, err)
}
