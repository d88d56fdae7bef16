package pluginrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name every plugin
// process registers under.
const ServiceName = "hipcheck.plugin.PluginService"

const (
	methodGetQuerySchemas             = "/" + ServiceName + "/GetQuerySchemas"
	methodSetConfiguration            = "/" + ServiceName + "/SetConfiguration"
	methodGetDefaultPolicyExpression  = "/" + ServiceName + "/GetDefaultPolicyExpression"
	methodGetDefaultQueryExplanation  = "/" + ServiceName + "/GetDefaultQueryExplanation"
	methodInitiateQueryProtocol       = "/" + ServiceName + "/InitiateQueryProtocol"
)

// Server is the interface a plugin process implements. The core
// module never implements this itself — plugins are external
// binaries — but test doubles do, exercised against the same
// ServiceDesc a real plugin registers against.
type Server interface {
	GetQuerySchemas(*GetQuerySchemasRequest, GetQuerySchemas_Server) error
	SetConfiguration(context.Context, *SetConfigurationRequest) (*SetConfigurationResponse, error)
	GetDefaultPolicyExpression(context.Context, *GetDefaultPolicyExpressionRequest) (*GetDefaultPolicyExpressionResponse, error)
	GetDefaultQueryExplanation(context.Context, *GetDefaultQueryExplanationRequest) (*GetDefaultQueryExplanationResponse, error)
	InitiateQueryProtocol(QueryProtocol_Server) error
}

// GetQuerySchemas_Server is the server-side handle for the
// GetQuerySchemas server-streaming RPC.
type GetQuerySchemas_Server interface {
	Send(*QuerySchema) error
	grpc.ServerStream
}

// QueryProtocol_Server is the server-side handle for the bidirectional
// InitiateQueryProtocol stream.
type QueryProtocol_Server interface {
	Send(*QueryFrame) error
	Recv() (*QueryFrame, error)
	grpc.ServerStream
}

type getQuerySchemasServer struct{ grpc.ServerStream }

func (s *getQuerySchemasServer) Send(m *QuerySchema) error { return s.ServerStream.SendMsg(m) }

type queryProtocolServer struct{ grpc.ServerStream }

func (s *queryProtocolServer) Send(m *QueryFrame) error { return s.ServerStream.SendMsg(m) }
func (s *queryProtocolServer) Recv() (*QueryFrame, error) {
	m := new(QueryFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func handleGetQuerySchemas(srv any, stream grpc.ServerStream) error {
	return srv.(Server).GetQuerySchemas(new(GetQuerySchemasRequest), &getQuerySchemasServer{stream})
}

func handleInitiateQueryProtocol(srv any, stream grpc.ServerStream) error {
	return srv.(Server).InitiateQueryProtocol(&queryProtocolServer{stream})
}

func handleSetConfiguration(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetConfigurationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SetConfiguration(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetConfiguration}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).SetConfiguration(ctx, req.(*SetConfigurationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleGetDefaultPolicyExpression(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetDefaultPolicyExpressionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetDefaultPolicyExpression(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetDefaultPolicyExpression}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetDefaultPolicyExpression(ctx, req.(*GetDefaultPolicyExpressionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func handleGetDefaultQueryExplanation(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetDefaultQueryExplanationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetDefaultQueryExplanation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetDefaultQueryExplanation}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetDefaultQueryExplanation(ctx, req.(*GetDefaultQueryExplanationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is registered with a *grpc.Server by any test double
// standing in for a real plugin process.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetConfiguration", Handler: handleSetConfiguration},
		{MethodName: "GetDefaultPolicyExpression", Handler: handleGetDefaultPolicyExpression},
		{MethodName: "GetDefaultQueryExplanation", Handler: handleGetDefaultQueryExplanation},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GetQuerySchemas", Handler: handleGetQuerySchemas, ServerStreams: true},
		{StreamName: "InitiateQueryProtocol", Handler: handleInitiateQueryProtocol, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "pluginrpc",
}

// RegisterServer registers srv against s, mirroring the registration a
// plugin process performs at startup.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
