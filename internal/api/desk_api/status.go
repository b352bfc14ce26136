package desk_api

import (
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BearBump/OrderDesk/internal/outcome"
)

const errorDomain = "orderdesk.v1"

func grpcCode(c outcome.Code) codes.Code {
	switch c {
	case outcome.Success:
		return codes.OK
	case outcome.Unauthorized:
		return codes.Unauthenticated
	case outcome.InvalidRequest:
		return codes.InvalidArgument
	case outcome.NotFound:
		return codes.NotFound
	case outcome.CrossTenantConflict:
		return codes.PermissionDenied
	case outcome.InvalidTransition, outcome.InvalidStatus, outcome.NotPaid, outcome.AlreadyUnmarked:
		return codes.FailedPrecondition
	case outcome.InsufficientInventory:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// toStatus converts a service failure into a gRPC status. The outcome code
// travels in ErrorInfo.Reason so clients get it back unchanged.
func toStatus(err error) error {
	res := outcome.FromError(err)
	st := status.New(grpcCode(res.Code), res.Message)
	if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(res.Code), Domain: errorDomain}); derr == nil {
		st = withInfo
	}
	return st.Err()
}

// ResultFromError is the inverse of toStatus, used by the HTTP gateway.
func ResultFromError(err error) outcome.Result {
	st, ok := status.FromError(err)
	if !ok {
		return outcome.FromError(err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return outcome.Result{Code: outcome.Code(info.GetReason()), Message: st.Message()}
		}
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return outcome.Result{Code: outcome.Unauthorized, Message: st.Message()}
	case codes.InvalidArgument:
		return outcome.Result{Code: outcome.InvalidRequest, Message: st.Message()}
	case codes.NotFound:
		return outcome.Result{Code: outcome.NotFound, Message: st.Message()}
	case codes.PermissionDenied:
		return outcome.Result{Code: outcome.CrossTenantConflict, Message: st.Message()}
	default:
		return outcome.Result{Code: outcome.InternalError, Message: "internal error"}
	}
}
