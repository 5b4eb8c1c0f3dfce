package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "moshr.workerd.v1.Worker"

// Full method names, as seen by interceptors.
const (
	MethodHealth        = "/" + ServiceName + "/Health"
	MethodPreviewAppend = "/" + ServiceName + "/PreviewAppend"
)

// WorkerServer is implemented by moshr-workerd.
type WorkerServer interface {
	Mosh(context.Context, *MoshRequest) (*MoshResponse, error)
	Render(context.Context, *RenderRequest) (*RenderResponse, error)
	PreviewStart(context.Context, *PreviewStartRequest) (*Empty, error)
	PreviewAppend(context.Context, *PreviewAppendRequest) (*PreviewAppendResponse, error)
	PreviewFinish(context.Context, *PreviewFinishRequest) (*PreviewFinishResponse, error)
	PreviewDiscard(context.Context, *PreviewDiscardRequest) (*Empty, error)
	Health(context.Context, *Empty) (*HealthResponse, error)
	Events(*EventsRequest, grpc.ServerStreamingServer[Event]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(WorkerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkerServer), ctx, req.(*Req))
			})
		},
	}
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(EventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WorkerServer).Events(in, &grpc.GenericServerStream[EventsRequest, Event]{ServerStream: stream})
}

// ServiceDesc describes the worker service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Mosh", WorkerServer.Mosh),
		unary("Render", WorkerServer.Render),
		unary("PreviewStart", WorkerServer.PreviewStart),
		unary("PreviewAppend", WorkerServer.PreviewAppend),
		unary("PreviewFinish", WorkerServer.PreviewFinish),
		unary("PreviewDiscard", WorkerServer.PreviewDiscard),
		unary("Health", WorkerServer.Health),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
	Metadata: "moshr/workerd/v1",
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&ServiceDesc, srv)
}
