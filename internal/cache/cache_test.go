package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "inventory:3:12:unused", InventoryKey(3, 12))

	at := time.Date(2026, 3, 1, 10, 7, 59, 0, time.UTC)
	require.Equal(t, "rl:carrier:CDEK:202603011007", CarrierRateKey("CDEK", at))
}
