package desk_api

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/BearBump/OrderDesk/internal/auth"
	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/services/allocator"
)

const (
	ServiceName = "orderdesk.v1.DeskService"
	codecName   = "json"
)

type DeskServiceServer interface {
	CountTracking(context.Context, *InventoryRequest) (*CountResponse, error)
	PeekTracking(context.Context, *InventoryRequest) (*models.TrackingNumber, error)
	ReserveTracking(context.Context, *InventoryRequest) (*allocator.Reservation, error)
	ConsumeTracking(context.Context, *InventoryRequest) (*allocator.Reservation, error)
	AssignTracking(context.Context, *AssignTrackingRequest) (*allocator.Assignment, error)
	RestoreOrder(context.Context, *OrderRequest) (*models.Transition, error)
	UnmarkPaid(context.Context, *OrderRequest) (*models.Transition, error)
	ListAuditLogs(context.Context, *ListAuditRequest) (*AuditLogsResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
}

var _ DeskServiceServer = (*DeskAPI)(nil)

// jsonCodec lets the service carry plain Go structs instead of generated
// protobuf messages. Clients select it with grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func unary[Req, Resp any](method string, call func(DeskServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DeskServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var DeskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CountTracking", DeskServiceServer.CountTracking),
		unary("PeekTracking", DeskServiceServer.PeekTracking),
		unary("ReserveTracking", DeskServiceServer.ReserveTracking),
		unary("ConsumeTracking", DeskServiceServer.ConsumeTracking),
		unary("AssignTracking", DeskServiceServer.AssignTracking),
		unary("RestoreOrder", DeskServiceServer.RestoreOrder),
		unary("UnmarkPaid", DeskServiceServer.UnmarkPaid),
		unary("ListAuditLogs", DeskServiceServer.ListAuditLogs),
		unary("Reconcile", DeskServiceServer.Reconcile),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderdesk/v1/desk.proto",
}

func RegisterDeskServiceServer(s grpc.ServiceRegistrar, srv DeskServiceServer) {
	s.RegisterService(&DeskServiceDesc, srv)
}

// AuthInterceptor resolves the bearer token of DeskService calls into an actor.
// Calls without a token reach the service unauthenticated and are rejected there.
func AuthInterceptor(a *auth.Authenticator) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}
		actor, err := a.ActorFromHeader(header)
		if err != nil {
			return nil, toStatus(err)
		}
		return handler(auth.WithActor(ctx, actor), req)
	}
}
