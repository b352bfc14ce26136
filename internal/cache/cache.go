package cache

import (
	"context"
	"fmt"
	"time"
)

// BytesCache is the read-through cache used in front of inventory counts.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func InventoryKey(tenantID, courierID int64) string {
	return fmt.Sprintf("inventory:%d:%d:unused", tenantID, courierID)
}

// CarrierRateKey: ключ поминутного окна лимита запросов к перевозчику.
func CarrierRateKey(carrierCode string, at time.Time) string {
	return fmt.Sprintf("rl:carrier:%s:%s", carrierCode, at.UTC().Format("200601021504"))
}
