package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	FinalDelay time.Duration // default: 365 days

	InTransitMinDelay time.Duration // default: 1 minute
	InTransitMaxDelay time.Duration // default: 1 minute

	UnknownDelay time.Duration // default: 1 minute

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		FinalDelay: 365 * 24 * time.Hour,

		InTransitMinDelay: 1 * time.Minute,
		InTransitMaxDelay: 1 * time.Minute,

		UnknownDelay: 1 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner decides when a dispatched order is polled again.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.FinalDelay <= 0 {
		cfg.FinalDelay = def.FinalDelay
	}
	if cfg.InTransitMinDelay <= 0 {
		cfg.InTransitMinDelay = def.InTransitMinDelay
	}
	if cfg.InTransitMaxDelay <= 0 {
		cfg.InTransitMaxDelay = def.InTransitMaxDelay
	}
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) NextCheckDelay(status models.DeliveryStatus) time.Duration {
	switch status {
	case models.DeliveryDelivered, models.DeliveryReturned:
		return p.cfg.FinalDelay
	case models.DeliveryInTransit:
		lo, hi := p.cfg.InTransitMinDelay, p.cfg.InTransitMaxDelay
		if hi == lo {
			return lo
		}
		secMin := int(lo.Seconds())
		secMax := int(hi.Seconds())
		if secMin < 0 {
			secMin = 0
		}
		if secMax < secMin {
			secMax = secMin
		}
		return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.UnknownDelay
	}
}

// BackoffDelay is the delay after the n-th consecutive carrier failure.
func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
