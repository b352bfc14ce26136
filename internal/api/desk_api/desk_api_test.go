package desk_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/BearBump/OrderDesk/internal/auth"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
	"github.com/BearBump/OrderDesk/internal/services/allocator"
	"github.com/BearBump/OrderDesk/internal/services/lifecycle"
)

type fakeAllocator struct {
	lastActor  models.Actor
	lastTarget allocator.Target
	lastCount  int
	partial    bool

	countErr   error
	reserve    *allocator.Reservation
	consumeErr error
	assignErr  error
}

func (f *fakeAllocator) Count(ctx context.Context, actor models.Actor, t allocator.Target) (int64, error) {
	f.lastActor, f.lastTarget = actor, t
	if !actor.Authenticated {
		return 0, outcome.New(outcome.Unauthorized, "no session")
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	return 5, nil
}

func (f *fakeAllocator) Peek(ctx context.Context, actor models.Actor, t allocator.Target) (*models.TrackingNumber, error) {
	f.lastActor, f.lastTarget = actor, t
	return &models.TrackingNumber{ID: 1, TenantID: 7, CourierID: t.CourierID, TrackingID: "TRK-1", Status: models.TrackingUnused}, nil
}

func (f *fakeAllocator) Reserve(ctx context.Context, actor models.Actor, t allocator.Target, count int) (*allocator.Reservation, error) {
	f.lastActor, f.lastTarget, f.lastCount = actor, t, count
	return f.reserve, nil
}

func (f *fakeAllocator) Consume(ctx context.Context, actor models.Actor, t allocator.Target, count int, allowPartial bool) (*allocator.Reservation, error) {
	f.lastActor, f.lastTarget, f.lastCount, f.partial = actor, t, count, allowPartial
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return &allocator.Reservation{Numbers: []*models.TrackingNumber{}, Requested: count}, nil
}

func (f *fakeAllocator) AssignTracking(ctx context.Context, actor models.Actor, orderID, courierID int64) (*allocator.Assignment, error) {
	f.lastActor = actor
	f.lastTarget = allocator.Target{OrderID: orderID, CourierID: courierID}
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	return &allocator.Assignment{
		Transition: models.Transition{OrderID: orderID, ToStatus: models.OrderDispatch},
		Tracking:   &models.TrackingNumber{TrackingID: "TRK-9"},
	}, nil
}

type fakeLifecycle struct {
	lastOrder int64
	restore   error
	rows      []lifecycle.RowOutcome
}

func (f *fakeLifecycle) Restore(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error) {
	f.lastOrder = orderID
	if f.restore != nil {
		return nil, f.restore
	}
	return &models.Transition{OrderID: orderID, FromStatus: models.OrderCancel, ToStatus: models.OrderPending}, nil
}

func (f *fakeLifecycle) UnmarkPaid(ctx context.Context, actor models.Actor, orderID int64) (*models.Transition, error) {
	f.lastOrder = orderID
	return nil, outcome.New(outcome.AlreadyUnmarked, "order is already unpaid")
}

func (f *fakeLifecycle) Reconcile(ctx context.Context, actor models.Actor, rows []models.DeliveryRow) ([]lifecycle.RowOutcome, error) {
	return f.rows, nil
}

func (f *fakeLifecycle) ListAudit(ctx context.Context, actor models.Actor, orderID int64, limit, offset int) ([]*models.AuditLogEntry, error) {
	f.lastOrder = orderID
	return nil, nil
}

type envelope struct {
	OK      bool            `json:"ok"`
	Code    outcome.Code    `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type DeskAPISuite struct {
	suite.Suite

	alloc *fakeAllocator
	life  *fakeLifecycle
	auth  *auth.Authenticator
	token string

	grpcSrv *grpc.Server
	conn    *grpc.ClientConn
	httpSrv *httptest.Server
}

func (s *DeskAPISuite) SetupTest() {
	s.alloc = &fakeAllocator{}
	s.life = &fakeLifecycle{}
	s.auth = auth.New("test-secret")

	tenant := int64(7)
	tok, err := s.auth.Issue(15, &tenant, nil)
	s.Require().NoError(err)
	s.token = tok

	lis := bufconn.Listen(1 << 20)
	s.grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(s.auth)))
	RegisterDeskServiceServer(s.grpcSrv, New(s.alloc, s.life))
	go func() { _ = s.grpcSrv.Serve(lis) }()

	s.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)

	mux := runtime.NewServeMux()
	s.Require().NoError(RegisterDeskServiceHandler(mux, s.conn))
	s.httpSrv = httptest.NewServer(mux)
}

func (s *DeskAPISuite) TearDownTest() {
	s.httpSrv.Close()
	_ = s.conn.Close()
	s.grpcSrv.Stop()
}

func (s *DeskAPISuite) do(method, path string, body any, authorized bool) (int, envelope) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.httpSrv.URL+path, rd)
	s.Require().NoError(err)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var env envelope
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *DeskAPISuite) TestCount_Unauthenticated() {
	code, env := s.do(http.MethodGet, "/v1/couriers/3/tracking/count", nil, false)
	s.Equal(http.StatusUnauthorized, code)
	s.False(env.OK)
	s.Equal(outcome.Unauthorized, env.Code)
}

func (s *DeskAPISuite) TestCount_InvalidToken() {
	req, err := http.NewRequest(http.MethodGet, s.httpSrv.URL+"/v1/couriers/3/tracking/count", nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *DeskAPISuite) TestCount_OK() {
	code, env := s.do(http.MethodGet, "/v1/couriers/3/tracking/count?tenant_id=7&order_id=11", nil, true)
	s.Equal(http.StatusOK, code)
	s.True(env.OK)
	s.Equal(outcome.Success, env.Code)

	var data CountResponse
	s.Require().NoError(json.Unmarshal(env.Data, &data))
	s.Equal(int64(5), data.Unused)
	s.Equal(allocator.Target{TenantID: 7, OrderID: 11, CourierID: 3}, s.alloc.lastTarget)
	s.Equal(int64(15), s.alloc.lastActor.UserID)
}

func (s *DeskAPISuite) TestCount_BadParams() {
	code, env := s.do(http.MethodGet, "/v1/couriers/abc/tracking/count", nil, true)
	s.Equal(http.StatusBadRequest, code)
	s.Equal(outcome.InvalidRequest, env.Code)

	code, _ = s.do(http.MethodGet, "/v1/couriers/3/tracking/count?tenant_id=x", nil, true)
	s.Equal(http.StatusBadRequest, code)
}

func (s *DeskAPISuite) TestCount_InternalErrorHidden() {
	s.alloc.countErr = outcome.Internal(errors.New("pq: connection refused to 10.0.0.1"))
	code, env := s.do(http.MethodGet, "/v1/couriers/3/tracking/count", nil, true)
	s.Equal(http.StatusInternalServerError, code)
	s.Equal(outcome.InternalError, env.Code)
	s.Equal("internal error", env.Message)
}

func (s *DeskAPISuite) TestPeek_OK() {
	code, env := s.do(http.MethodGet, "/v1/couriers/3/tracking/peek", nil, true)
	s.Equal(http.StatusOK, code)

	var tn models.TrackingNumber
	s.Require().NoError(json.Unmarshal(env.Data, &tn))
	s.Equal("TRK-1", tn.TrackingID)
}

func (s *DeskAPISuite) TestReserve_ShortfallIsSuccess() {
	s.alloc.reserve = &allocator.Reservation{
		Numbers:    []*models.TrackingNumber{{TrackingID: "A"}},
		Requested:  3,
		Returned:   1,
		Sufficient: false,
	}
	code, env := s.do(http.MethodGet, "/v1/couriers/3/tracking/reserve?count=3", nil, true)
	s.Equal(http.StatusOK, code)
	s.True(env.OK)
	s.Equal(3, s.alloc.lastCount)

	var res allocator.Reservation
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.False(res.Sufficient)
	s.Equal(1, res.Returned)
}

func (s *DeskAPISuite) TestConsume_Insufficient() {
	s.alloc.consumeErr = outcome.New(outcome.InsufficientInventory, "requested 4 tracking numbers, 1 available")
	code, env := s.do(http.MethodPost, "/v1/couriers/3/tracking/consume",
		map[string]any{"count": 4, "tenant_id": 7}, true)
	s.Equal(http.StatusConflict, code)
	s.Equal(outcome.InsufficientInventory, env.Code)
	s.Contains(env.Message, "1 available")
	s.Equal(allocator.Target{TenantID: 7, CourierID: 3}, s.alloc.lastTarget)
}

func (s *DeskAPISuite) TestConsume_Partial() {
	code, _ := s.do(http.MethodPost, "/v1/couriers/3/tracking/consume",
		map[string]any{"count": 2, "allow_partial": true}, true)
	s.Equal(http.StatusOK, code)
	s.True(s.alloc.partial)
	s.Equal(2, s.alloc.lastCount)
}

func (s *DeskAPISuite) TestConsume_UnknownField() {
	code, env := s.do(http.MethodPost, "/v1/couriers/3/tracking/consume", map[string]any{"cnt": 2}, true)
	s.Equal(http.StatusBadRequest, code)
	s.Equal(outcome.InvalidRequest, env.Code)
}

func (s *DeskAPISuite) TestAssignTracking() {
	code, env := s.do(http.MethodPost, "/v1/orders/100/tracking", map[string]any{"courier_id": 3}, true)
	s.Equal(http.StatusOK, code)
	s.Equal(allocator.Target{OrderID: 100, CourierID: 3}, s.alloc.lastTarget)

	var a allocator.Assignment
	s.Require().NoError(json.Unmarshal(env.Data, &a))
	s.Equal("TRK-9", a.Tracking.TrackingID)
	s.Equal(models.OrderDispatch, a.Transition.ToStatus)

	s.alloc.assignErr = outcome.New(outcome.CrossTenantConflict, "order belongs to another tenant")
	code, env = s.do(http.MethodPost, "/v1/orders/100/tracking", map[string]any{"courier_id": 3}, true)
	s.Equal(http.StatusForbidden, code)
	s.Equal(outcome.CrossTenantConflict, env.Code)
}

func (s *DeskAPISuite) TestRestoreAndUnmark() {
	code, env := s.do(http.MethodPost, "/v1/orders/55/restore", nil, true)
	s.Equal(http.StatusOK, code)
	s.Equal(int64(55), s.life.lastOrder)

	var tr models.Transition
	s.Require().NoError(json.Unmarshal(env.Data, &tr))
	s.Equal(models.OrderPending, tr.ToStatus)

	s.life.restore = outcome.New(outcome.InvalidStatus, "order is not cancelled")
	code, env = s.do(http.MethodPost, "/v1/orders/55/restore", nil, true)
	s.Equal(http.StatusConflict, code)
	s.Equal(outcome.InvalidStatus, env.Code)

	code, env = s.do(http.MethodPost, "/v1/orders/55/unmark-paid", nil, true)
	s.Equal(http.StatusConflict, code)
	s.Equal(outcome.AlreadyUnmarked, env.Code)
}

func (s *DeskAPISuite) TestListAuditLogs_EmptyList() {
	code, env := s.do(http.MethodGet, "/v1/orders/55/logs?limit=10", nil, true)
	s.Equal(http.StatusOK, code)
	s.JSONEq(`{"logs":[]}`, string(env.Data))
}

func (s *DeskAPISuite) TestReconcile() {
	s.life.rows = []lifecycle.RowOutcome{
		{Index: 0, TrackingCode: "A", Code: outcome.Success, Applied: true},
		{Index: 1, TrackingCode: "B", Code: outcome.NotFound},
	}
	code, env := s.do(http.MethodPost, "/v1/reconciliation", map[string]any{
		"rows": []map[string]any{
			{"tracking_code": "A", "co_id": 1, "delivery_status": "delivered"},
			{"tracking_code": "B", "co_id": 1, "delivery_status": "delivered"},
		},
	}, true)
	s.Equal(http.StatusOK, code)

	var res ReconcileResponse
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.Equal(1, res.Applied)
	s.Len(res.Rows, 2)
}

func (s *DeskAPISuite) TestGRPC_StatusCarriesOutcomeCode() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out models.Transition
	err := s.conn.Invoke(ctx, "/"+ServiceName+"/UnmarkPaid", &OrderRequest{OrderID: 1}, &out, grpc.CallContentSubtype(codecName))
	s.Require().Error(err)
	s.Equal(codes.FailedPrecondition, status.Code(err))
	s.Equal(outcome.AlreadyUnmarked, ResultFromError(err).Code)
}

func TestDeskAPISuite(t *testing.T) {
	suite.Run(t, new(DeskAPISuite))
}

func TestResultFromError_PlainStatus(t *testing.T) {
	require.Equal(t, outcome.InvalidRequest, ResultFromError(status.Error(codes.InvalidArgument, "bad")).Code)
	require.Equal(t, outcome.CrossTenantConflict, ResultFromError(status.Error(codes.PermissionDenied, "no")).Code)

	internal := ResultFromError(status.Error(codes.Unavailable, "dial tcp 10.0.0.1"))
	require.Equal(t, outcome.InternalError, internal.Code)
	require.Equal(t, "internal error", internal.Message)
}

func TestToStatus_RoundTrip(t *testing.T) {
	for _, c := range []outcome.Code{outcome.NotFound, outcome.NotPaid, outcome.InvalidTransition, outcome.InsufficientInventory} {
		res := ResultFromError(toStatus(outcome.New(c, "m")))
		require.Equal(t, c, res.Code)
		require.Equal(t, "m", res.Message)
	}
}
