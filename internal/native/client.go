package native

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// ClientOptions configures a worker connection.
type ClientOptions struct {
	AuthToken      string
	MaxMessageSize int
	Logger         *slog.Logger
}

// Client is a connection to a running worker.
type Client struct {
	rpc    *rpc.WorkerClient
	closer io.Closer
	bus    *EventBus
}

// Dial connects to the worker listening on the unix socket path.
func Dial(socket string, opts ClientOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMessageSize > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMessageSize),
			grpc.MaxCallSendMsgSize(opts.MaxMessageSize),
		))
	}
	if opts.AuthToken != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(rpc.TokenCredentials(opts.AuthToken)))
	}
	conn, err := grpc.NewClient("unix://"+socket, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to worker: %w", err)
	}
	return NewClient(conn, conn, opts.Logger), nil
}

// NewClient wraps an existing connection. closer may be nil.
func NewClient(cc grpc.ClientConnInterface, closer io.Closer, logger *slog.Logger) *Client {
	wc := rpc.NewWorkerClient(cc)
	return &Client{rpc: wc, closer: closer, bus: NewEventBus(wc, logger)}
}

// Events returns the client's event bus.
func (c *Client) Events() *EventBus { return c.bus }

// Close releases the connection.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Health queries worker status.
func (c *Client) Health(ctx context.Context) (*rpc.HealthResponse, error) {
	return c.rpc.Health(ctx)
}

// Mosh runs the frame-drop step for a datamosh job.
func (c *Client) Mosh(ctx context.Context, req *rpc.MoshRequest) (*rpc.MoshResponse, error) {
	resp, err := c.rpc.Mosh(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("worker mosh: %w", err)
	}
	return resp, nil
}

// Render runs a pixel effect over a whole clip.
func (c *Client) Render(ctx context.Context, req *rpc.RenderRequest) (*rpc.RenderResponse, error) {
	resp, err := c.rpc.Render(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("worker render: %w", err)
	}
	return resp, nil
}

// PreviewStart implements PreviewWorker.
func (c *Client) PreviewStart(ctx context.Context, id string, width, height int) error {
	_, err := c.rpc.PreviewStart(ctx, &rpc.PreviewStartRequest{ID: id, Width: width, Height: height})
	return mapPreviewError(err)
}

// PreviewAppend implements PreviewWorker.
func (c *Client) PreviewAppend(ctx context.Context, id string, chunk []byte) error {
	_, err := c.rpc.PreviewAppend(ctx, &rpc.PreviewAppendRequest{ID: id, Chunk: chunk})
	return mapPreviewError(err)
}

// PreviewFinish implements PreviewWorker.
func (c *Client) PreviewFinish(ctx context.Context, id string, effect EffectConfig) (string, error) {
	resp, err := c.rpc.PreviewFinish(ctx, &rpc.PreviewFinishRequest{ID: id, Effect: effect.Effect, Params: effect.Params})
	if err != nil {
		return "", mapPreviewError(err)
	}
	return resp.OutputPath, nil
}

// PreviewDiscard implements PreviewWorker.
func (c *Client) PreviewDiscard(ctx context.Context, id string) error {
	_, err := c.rpc.PreviewDiscard(ctx, &rpc.PreviewDiscardRequest{ID: id})
	return mapPreviewError(err)
}

// mapPreviewError turns the worker's size complaints back into ErrFrameSizeMismatch.
func mapPreviewError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.InvalidArgument {
		return fmt.Errorf("%w: %s", ErrFrameSizeMismatch, status.Convert(err).Message())
	}
	return err
}
