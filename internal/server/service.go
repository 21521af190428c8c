package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wheelguard.v1.Interlock"

// Method names. Requests and responses are google.protobuf.Struct so the
// service needs no generated stubs.
const (
	MethodStatus              = "Status"
	MethodRequestHighTorque   = "RequestHighTorque"
	MethodProvideConsent      = "ProvideConsent"
	MethodReportComboStart    = "ReportComboStart"
	MethodConfirmHighTorque   = "ConfirmHighTorque"
	MethodCancelChallenge     = "CancelChallenge"
	MethodDisableHighTorque   = "DisableHighTorque"
	MethodReportFault         = "ReportFault"
	MethodClearFault          = "ClearFault"
	MethodConsentRequirements = "ConsentRequirements"
	MethodListFaults          = "ListFaults"
)

// FullMethod returns "/wheelguard.v1.Interlock/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// InterlockServer is the operator API served over gRPC.
type InterlockServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestHighTorque(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProvideConsent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportComboStart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmHighTorque(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelChallenge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DisableHighTorque(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportFault(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearFault(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConsentRequirements(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFaults(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type rpcFunc func(InterlockServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn rpcFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(InterlockServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(InterlockServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Interlock service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InterlockServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, InterlockServer.Status),
		unary(MethodRequestHighTorque, InterlockServer.RequestHighTorque),
		unary(MethodProvideConsent, InterlockServer.ProvideConsent),
		unary(MethodReportComboStart, InterlockServer.ReportComboStart),
		unary(MethodConfirmHighTorque, InterlockServer.ConfirmHighTorque),
		unary(MethodCancelChallenge, InterlockServer.CancelChallenge),
		unary(MethodDisableHighTorque, InterlockServer.DisableHighTorque),
		unary(MethodReportFault, InterlockServer.ReportFault),
		unary(MethodClearFault, InterlockServer.ClearFault),
		unary(MethodConsentRequirements, InterlockServer.ConsentRequirements),
		unary(MethodListFaults, InterlockServer.ListFaults),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wheelguard/v1/interlock",
}
