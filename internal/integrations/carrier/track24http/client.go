package track24http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/integrations/carrier"
	"github.com/BearBump/OrderDesk/internal/models"
)

type Client struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *http.Client
}

func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		domain:  domain,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type track24Resp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Events []struct {
			OperationDateTime  string `json:"operationDateTime"`
			OperationAttribute string `json:"operationAttribute"`
			OperationType      string `json:"operationType"`
			OperationPlaceName string `json:"operationPlaceName"`
		} `json:"events"`
	} `json:"data"`
}

func (c *Client) GetStatus(ctx context.Context, carrierCode, trackingNumber string) (carrier.StatusResult, error) {
	_ = carrierCode // Track24 определяет перевозчика по номеру

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.StatusResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking.json.php"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	q.Set("code", trackingNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.StatusResult{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.StatusResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.StatusResult{}, errors.Errorf("track24 http %d", resp.StatusCode)
	}

	var r track24Resp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.StatusResult{}, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return carrier.StatusResult{}, errors.Errorf("track24 status=%s %s", r.Status, r.Message)
	}

	res := carrier.StatusResult{
		Status:      models.DeliveryUnknown,
		Checkpoints: len(r.Data.Events),
	}
	if len(r.Data.Events) == 0 {
		return res, nil
	}

	last := r.Data.Events[len(r.Data.Events)-1]
	res.StatusRaw = last.OperationAttribute
	res.LastLocation = last.OperationPlaceName
	res.Status = classify(last.OperationType, last.OperationAttribute)

	// Track24: "02.07.2014 19:16:00"
	if last.OperationDateTime != "" {
		if t, err := time.ParseInLocation("02.01.2006 15:04:05", last.OperationDateTime, time.UTC); err == nil {
			at := t.UTC()
			res.StatusAt = &at
		}
	}
	return res, nil
}

// classify normalizes the last checkpoint. Operation type wins when it is one of
// the known codes, otherwise the free-text attribute is searched for hints.
func classify(opType, attr string) models.DeliveryStatus {
	if st := models.ParseDeliveryStatus(opType); st != models.DeliveryUnknown {
		return st
	}
	switch {
	case containsReturnedHint(attr):
		return models.DeliveryReturned
	case containsDeliveredHint(attr):
		return models.DeliveryDelivered
	default:
		return models.DeliveryInTransit
	}
}

func containsDeliveredHint(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "вруч") || strings.Contains(low, "достав") || strings.Contains(low, "delivered")
}

func containsReturnedHint(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "возврат") || strings.Contains(low, "return")
}
