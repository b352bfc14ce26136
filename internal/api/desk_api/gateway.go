package desk_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/services/allocator"
)

// RegisterDeskServiceHandlerFromEndpoint dials the gRPC endpoint and mounts the
// REST routes on mux. The connection is closed when ctx is done.
func RegisterDeskServiceHandlerFromEndpoint(ctx context.Context, mux *runtime.ServeMux, endpoint string, opts []grpc.DialOption) error {
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return errors.Wrap(err, "dial desk service")
	}
	go func() {
		<-ctx.Done()
		if cerr := conn.Close(); cerr != nil {
			slog.Warn("close desk service conn", "error", cerr.Error())
		}
	}()
	return RegisterDeskServiceHandler(mux, conn)
}

func RegisterDeskServiceHandler(mux *runtime.ServeMux, conn grpc.ClientConnInterface) error {
	g := &gateway{conn: conn}
	routes := []struct {
		method  string
		pattern string
		h       runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/couriers/{courier_id}/tracking/count", g.countTracking},
		{http.MethodGet, "/v1/couriers/{courier_id}/tracking/peek", g.peekTracking},
		{http.MethodGet, "/v1/couriers/{courier_id}/tracking/reserve", g.reserveTracking},
		{http.MethodPost, "/v1/couriers/{courier_id}/tracking/consume", g.consumeTracking},
		{http.MethodPost, "/v1/orders/{order_id}/tracking", g.assignTracking},
		{http.MethodPost, "/v1/orders/{order_id}/restore", g.restoreOrder},
		{http.MethodPost, "/v1/orders/{order_id}/unmark-paid", g.unmarkPaid},
		{http.MethodGet, "/v1/orders/{order_id}/logs", g.listAuditLogs},
		{http.MethodPost, "/v1/reconciliation", g.reconcile},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return errors.Wrapf(err, "route %s %s", r.method, r.pattern)
		}
	}
	return nil
}

type gateway struct {
	conn grpc.ClientConnInterface
}

func (g *gateway) invoke(w http.ResponseWriter, r *http.Request, method string, in, out any) {
	ctx := r.Context()
	if h := r.Header.Get("Authorization"); h != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", h)
	}
	if err := g.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		writeResult(w, ResultFromError(err))
		return
	}
	writeResult(w, outcome.OK(out))
}

func writeResult(w http.ResponseWriter, res outcome.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(res)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeResult(w, outcome.Result{Code: outcome.InvalidRequest, Message: msg})
}

func pathID(params map[string]string, name string) (int64, bool) {
	v, err := strconv.ParseInt(params[name], 10, 64)
	return v, err == nil && v > 0
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	return v, err == nil && v >= 0
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (g *gateway) inventoryRequest(w http.ResponseWriter, r *http.Request, params map[string]string) (*InventoryRequest, bool) {
	courierID, ok := pathID(params, "courier_id")
	if !ok {
		badRequest(w, "courier_id must be a positive integer")
		return nil, false
	}
	tenantID, ok := queryInt(r, "tenant_id")
	if !ok {
		badRequest(w, "tenant_id must be a non-negative integer")
		return nil, false
	}
	orderID, ok := queryInt(r, "order_id")
	if !ok {
		badRequest(w, "order_id must be a non-negative integer")
		return nil, false
	}
	return &InventoryRequest{CourierID: courierID, TenantID: tenantID, OrderID: orderID}, true
}

func (g *gateway) countTracking(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, ok := g.inventoryRequest(w, r, params)
	if !ok {
		return
	}
	g.invoke(w, r, "CountTracking", req, new(CountResponse))
}

func (g *gateway) peekTracking(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, ok := g.inventoryRequest(w, r, params)
	if !ok {
		return
	}
	g.invoke(w, r, "PeekTracking", req, new(models.TrackingNumber))
}

func (g *gateway) reserveTracking(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, ok := g.inventoryRequest(w, r, params)
	if !ok {
		return
	}
	count, ok := queryInt(r, "count")
	if !ok {
		badRequest(w, "count must be a positive integer")
		return
	}
	req.Count = int(count)
	g.invoke(w, r, "ReserveTracking", req, new(allocator.Reservation))
}

func (g *gateway) consumeTracking(w http.ResponseWriter, r *http.Request, params map[string]string) {
	courierID, ok := pathID(params, "courier_id")
	if !ok {
		badRequest(w, "courier_id must be a positive integer")
		return
	}
	req := &InventoryRequest{}
	if err := decodeBody(r, req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.CourierID = courierID
	g.invoke(w, r, "ConsumeTracking", req, new(allocator.Reservation))
}

func (g *gateway) assignTracking(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderID, ok := pathID(params, "order_id")
	if !ok {
		badRequest(w, "order_id must be a positive integer")
		return
	}
	req := &AssignTrackingRequest{}
	if err := decodeBody(r, req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.OrderID = orderID
	g.invoke(w, r, "AssignTracking", req, new(allocator.Assignment))
}

func (g *gateway) restoreOrder(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderID, ok := pathID(params, "order_id")
	if !ok {
		badRequest(w, "order_id must be a positive integer")
		return
	}
	g.invoke(w, r, "RestoreOrder", &OrderRequest{OrderID: orderID}, new(models.Transition))
}

func (g *gateway) unmarkPaid(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderID, ok := pathID(params, "order_id")
	if !ok {
		badRequest(w, "order_id must be a positive integer")
		return
	}
	g.invoke(w, r, "UnmarkPaid", &OrderRequest{OrderID: orderID}, new(models.Transition))
}

func (g *gateway) listAuditLogs(w http.ResponseWriter, r *http.Request, params map[string]string) {
	orderID, ok := pathID(params, "order_id")
	if !ok {
		badRequest(w, "order_id must be a positive integer")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		badRequest(w, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		badRequest(w, "offset must be a non-negative integer")
		return
	}
	g.invoke(w, r, "ListAuditLogs", &ListAuditRequest{OrderID: orderID, Limit: int(limit), Offset: int(offset)}, new(AuditLogsResponse))
}

func (g *gateway) reconcile(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req := &ReconcileRequest{}
	if err := decodeBody(r, req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	g.invoke(w, r, "Reconcile", req, new(ReconcileResponse))
}
