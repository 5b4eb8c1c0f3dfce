package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// WorkerClient is a typed client for the worker service.
type WorkerClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerClient wraps cc.
func NewWorkerClient(cc grpc.ClientConnInterface) *WorkerClient {
	return &WorkerClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WorkerClient) Mosh(ctx context.Context, in *MoshRequest, opts ...grpc.CallOption) (*MoshResponse, error) {
	return invoke[MoshRequest, MoshResponse](ctx, c.cc, "Mosh", in, opts)
}

func (c *WorkerClient) Render(ctx context.Context, in *RenderRequest, opts ...grpc.CallOption) (*RenderResponse, error) {
	return invoke[RenderRequest, RenderResponse](ctx, c.cc, "Render", in, opts)
}

func (c *WorkerClient) PreviewStart(ctx context.Context, in *PreviewStartRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[PreviewStartRequest, Empty](ctx, c.cc, "PreviewStart", in, opts)
}

func (c *WorkerClient) PreviewAppend(ctx context.Context, in *PreviewAppendRequest, opts ...grpc.CallOption) (*PreviewAppendResponse, error) {
	return invoke[PreviewAppendRequest, PreviewAppendResponse](ctx, c.cc, "PreviewAppend", in, opts)
}

func (c *WorkerClient) PreviewFinish(ctx context.Context, in *PreviewFinishRequest, opts ...grpc.CallOption) (*PreviewFinishResponse, error) {
	return invoke[PreviewFinishRequest, PreviewFinishResponse](ctx, c.cc, "PreviewFinish", in, opts)
}

func (c *WorkerClient) PreviewDiscard(ctx context.Context, in *PreviewDiscardRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[PreviewDiscardRequest, Empty](ctx, c.cc, "PreviewDiscard", in, opts)
}

func (c *WorkerClient) Health(ctx context.Context, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[Empty, HealthResponse](ctx, c.cc, "Health", &Empty{}, opts)
}

// Events opens the server stream of worker events.
func (c *WorkerClient) Events(ctx context.Context, in *EventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Events"), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[EventsRequest, Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
