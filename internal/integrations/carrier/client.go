package carrier

import (
	"context"
	"time"

	"github.com/BearBump/OrderDesk/internal/models"
)

// StatusResult is the normalized answer of a carrier tracking API.
type StatusResult struct {
	Status       models.DeliveryStatus
	StatusRaw    string
	StatusAt     *time.Time
	LastLocation string
	Checkpoints  int
}

type Client interface {
	GetStatus(ctx context.Context, carrierCode, trackingNumber string) (StatusResult, error)
}
