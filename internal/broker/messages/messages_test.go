package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/OrderDesk/internal/models"
)

func TestNewOrderChanged_FlattensTransition(t *testing.T) {
	tr := models.Transition{
		OrderID: 5, TenantID: 2, Action: models.ActionOrderRestore,
		FromStatus: models.OrderCancel, ToStatus: models.OrderPending,
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewOrderChanged(tr, at)

	_, err := uuid.Parse(ev.EventID)
	require.NoError(t, err)

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, float64(5), m["order_id"])
	require.Equal(t, "order_restore", m["action"])
	require.Equal(t, "2026-01-02T03:04:05Z", m["occurredAt"])
}

func TestDeliveryReported_Delivered(t *testing.T) {
	check := &models.DeliveryCheck{OrderID: 1, TenantID: 2, CoID: 3, TrackingNumber: "T"}
	m := NewDeliveryReported(check, time.Now())
	require.NotEmpty(t, m.EventID)
	require.False(t, m.Delivered())

	m.Status = models.DeliveryDelivered
	require.True(t, m.Delivered())

	e := "timeout"
	m.Error = &e
	require.False(t, m.Delivered())
}

func TestPartitionKey_IsOrderID(t *testing.T) {
	var ev Event = NewOrderChanged(models.Transition{OrderID: 42}, time.Now())
	require.Equal(t, []byte("42"), ev.PartitionKey())

	ev = NewDeliveryReported(&models.DeliveryCheck{OrderID: 7, TenantID: 1}, time.Now())
	require.Equal(t, []byte("7"), ev.PartitionKey())
}
