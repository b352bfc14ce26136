package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/broker/kafka"
	"github.com/BearBump/OrderDesk/internal/cache/rediscache"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/fake"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier/track24http"
	"github.com/BearBump/OrderDesk/internal/services/poller"
	"github.com/BearBump/OrderDesk/internal/storage/pgstore"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) poller.Producer
	newRateLimiter   func(cfg *config.Config) poller.RateLimiter
	newCarrierClient func(cfg *config.Config) carrier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			st, err := pgstore.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			// Без base_url работаем с локальным fake.
			if cfg.OrderDesk.CarrierBaseURL != "" && cfg.OrderDesk.CarrierMode == "track24" {
				return track24http.New(cfg.OrderDesk.CarrierBaseURL, cfg.OrderDesk.CarrierAPIKey, cfg.OrderDesk.CarrierDomain)
			}
			return fake.New()
		},
	}
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func plannerConfig(oc config.OrderDeskConfig) poller.PlannerConfig {
	return poller.PlannerConfig{
		InTransitMinDelay: secondsOr(oc.WorkerNextCheckInTransitMinSeconds, 0),
		InTransitMaxDelay: secondsOr(oc.WorkerNextCheckInTransitMaxSeconds, 0),
		UnknownDelay:      secondsOr(oc.WorkerNextCheckUnknownSeconds, 0),
		Backoff1:          secondsOr(oc.WorkerBackoff1Seconds, 0),
		Backoff2:          secondsOr(oc.WorkerBackoff2Seconds, 0),
		Backoff3:          secondsOr(oc.WorkerBackoff3Seconds, 0),
		Backoff4:          secondsOr(oc.WorkerBackoff4Seconds, 0),
	}
}

func newPoller(cfg *config.Config, repo poller.Repository, producer poller.Producer, rl poller.RateLimiter, c carrier.Client) *poller.Poller {
	topic := cfg.Kafka.DeliveryReportedTopicName
	if topic == "" {
		topic = "delivery.reported"
	}
	oc := cfg.OrderDesk

	batchSize := oc.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := oc.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	rlPerMin := int64(oc.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	return poller.New(repo, c, producer, rl, topic).
		WithSettings(secondsOr(oc.WorkerPollIntervalSeconds, 2*time.Second), batchSize, concurrency,
			secondsOr(oc.WorkerLeaseSeconds, 120*time.Second), rlPerMin).
		WithPlanner(plannerConfig(oc)).
		WithCarrierRateLimit("CDEK", oc.WorkerRateLimitCDEKPerMinute).
		WithCarrierRateLimit("POST_RU", oc.WorkerRateLimitPostRuPerMinute)
}

// RunDeliveryWorker polls carriers until ctx is done. The worker HTTP server is
// started only when a swagger path is configured.
func RunDeliveryWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := newPoller(cfg, repo, f.newProducer(cfg), f.newRateLimiter(cfg), f.newCarrierClient(cfg))

	if httpOpts.swaggerPath != "" {
		httpOpts.poller = p
		httpOpts.cfg = cfg
		go func() {
			if err := runWorkerHTTPServer(ctx, httpOpts); err != nil && ctx.Err() == nil {
				slog.Error("worker http server", "error", err.Error())
			}
		}()
	}

	return p.Run(ctx)
}
