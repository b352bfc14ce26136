package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/models"
)

const DefaultInventorySchedule = "@every 5m"

type InventorySource interface {
	InventoryLevels(ctx context.Context) ([]models.InventoryLevel, error)
}

// InventoryWatch periodically exports the unused tracking stock of every active
// courier and warns when a courier runs low.
type InventoryWatch struct {
	src       InventorySource
	watermark int64
	schedule  string
	timeout   time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

func NewInventoryWatch(src InventorySource, schedule string, watermark int, logger *slog.Logger) *InventoryWatch {
	if schedule == "" {
		schedule = DefaultInventorySchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryWatch{
		src:       src,
		watermark: int64(watermark),
		schedule:  schedule,
		timeout:   30 * time.Second,
		cron:      cron.New(),
		logger:    logger.With("component", "inventory_watch"),
	}
}

// RunOnce returns the levels below the watermark.
func (j *InventoryWatch) RunOnce(ctx context.Context) ([]models.InventoryLevel, error) {
	levels, err := j.src.InventoryLevels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "inventory levels")
	}

	var low []models.InventoryLevel
	for _, l := range levels {
		metrics.SetTrackingUnused(l.TenantID, l.CourierID, l.Unused)
		if l.Unused < j.watermark {
			low = append(low, l)
			j.logger.WarnContext(ctx, "tracking stock is low",
				"tenant_id", l.TenantID, "courier_id", l.CourierID, "unused", l.Unused, "watermark", j.watermark)
		}
	}
	return low, nil
}

func (j *InventoryWatch) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.ErrorContext(ctx, "inventory watch failed", "error", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "schedule %q", j.schedule)
	}

	j.cron.Start()
	j.logger.Info("inventory watch started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running check to finish.
func (j *InventoryWatch) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("inventory watch stopped")
}
