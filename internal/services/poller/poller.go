package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/cache"
	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
)

type Repository interface {
	ClaimDueDeliveryChecks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryCheck, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const (
	publishAttempts = 10
	rateLimitWindow = 70 * time.Second
	rateLimitPause  = 500 * time.Millisecond
)

// Poller claims dispatched orders whose delivery check is due, asks the carrier
// for the parcel status and publishes a DeliveryReported message per order.
type Poller struct {
	repo     Repository
	carrier  carrier.Client
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	carrierLimits      map[string]int64

	now func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, c carrier.Client, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		repo:               repo,
		carrier:            c,
		producer:           producer,
		rl:                 rl,
		topic:              topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		carrierLimits:      map[string]int64{},
		now:                func() time.Time { return time.Now().UTC() },
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// WithCarrierRateLimit overrides the per-minute request limit for one carrier code.
func (p *Poller) WithCarrierRateLimit(carrierCode string, perMin int) *Poller {
	if carrierCode != "" && perMin > 0 {
		p.carrierLimits[carrierCode] = int64(perMin)
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.RunOnce(ctx)
		case <-p.triggerCh:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and processes it with bounded concurrency.
func (p *Poller) RunOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDueDeliveryChecks(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due delivery checks", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, check := range items {
		check := check
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, check); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("process delivery check", "order_id", check.OrderID, "tenant_id", check.TenantID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) limitFor(carrierCode string) int64 {
	if l, ok := p.carrierLimits[carrierCode]; ok {
		return l
	}
	return p.rateLimitPerMinute
}

func (p *Poller) processOne(ctx context.Context, check *models.DeliveryCheck) error {
	now := p.now()

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		allowed, n, err := p.rl.Allow(ctx, cache.CarrierRateKey(check.CarrierCode, now), p.limitFor(check.CarrierCode), rateLimitWindow)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
			slog.Warn("rate limit exceeded", "carrier", check.CarrierCode, "count", n)
			if err := sleep(ctx, rateLimitPause); err != nil {
				return err
			}
		}
	}

	msg := messages.NewDeliveryReported(check, now)

	res, err := p.carrier.GetStatus(ctx, check.CarrierCode, check.TrackingNumber)
	if err != nil {
		e := err.Error()
		msg.Error = &e
		msg.NextCheckAt = now.Add(p.planner.BackoffDelay(check.FailCount + 1))
		metrics.ObserveCarrierCheck(check.CarrierCode, "error")
	} else {
		msg.Status = res.Status
		msg.StatusRaw = res.StatusRaw
		msg.StatusAt = res.StatusAt
		msg.NextCheckAt = now.Add(p.planner.NextCheckDelay(res.Status))
		metrics.ObserveCarrierCheck(check.CarrierCode, string(res.Status))
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	key := msg.PartitionKey()
	// Kafka может быть не готова сразу после старта docker compose.
	var pubErr error
	for i := 0; i < publishAttempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, key, b); pubErr == nil {
			return nil
		}
		if err := sleep(ctx, time.Duration(150*(i+1))*time.Millisecond); err != nil {
			return err
		}
	}
	return errors.Wrap(pubErr, "publish delivery report")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
