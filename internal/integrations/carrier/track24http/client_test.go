package track24http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/OrderDesk/internal/models"
)

func TestClient_GetStatus_Delivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tracking.json.php", r.URL.Path)
		require.Equal(t, "demo", r.URL.Query().Get("apiKey"))
		require.Equal(t, "d", r.URL.Query().Get("domain"))
		require.Equal(t, "CODE", r.URL.Query().Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": {
    "events": [
      {"operationDateTime":"01.01.2025 00:00:00","operationAttribute":"Accepted","operationType":"ACCEPTED","operationPlaceName":"Moscow"},
      {"operationDateTime":"01.01.2025 00:10:00","operationAttribute":"Вручено адресату","operationType":"HANDED","operationPlaceName":"Kazan"}
    ]
  }
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo", "d")
	res, err := c.GetStatus(context.Background(), "IGNORED", "CODE")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryDelivered, res.Status)
	require.Equal(t, "Kazan", res.LastLocation)
	require.Equal(t, 2, res.Checkpoints)
	require.NotNil(t, res.StatusAt)
	require.WithinDuration(t, time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC), *res.StatusAt, time.Second)
}

func TestClient_GetStatus_NoEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"events":[]}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k", "d").GetStatus(context.Background(), "CDEK", "X")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryUnknown, res.Status)
}

func TestClient_GetStatus_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") == "BAD" {
			_, _ = w.Write([]byte(`{"status":"error","message":"invalid code"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "d")
	_, err := c.GetStatus(context.Background(), "CDEK", "BAD")
	require.ErrorContains(t, err, "invalid code")

	_, err = c.GetStatus(context.Background(), "CDEK", "X")
	require.ErrorContains(t, err, "http 502")
}

func TestClassify(t *testing.T) {
	require.Equal(t, models.DeliveryDelivered, classify("DELIVERED", ""))
	require.Equal(t, models.DeliveryInTransit, classify("IN_TRANSIT", "Delivered soon"))
	require.Equal(t, models.DeliveryDelivered, classify("HANDED", "Вручено получателю"))
	require.Equal(t, models.DeliveryReturned, classify("", "Возврат отправителю"))
	require.Equal(t, models.DeliveryInTransit, classify("SORTING", "Сортировка"))
}
