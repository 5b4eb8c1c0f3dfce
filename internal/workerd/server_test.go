package workerd

import (
	"bytes"
	"context"
	"image/png"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

func startWorker(t *testing.T, cfg Config, runner *ffmpeg.Runner) (*Server, *rpc.WorkerClient) {
	t.Helper()
	srv := NewServer(cfg, runner, nil)
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.AuthToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(rpc.TokenCredentials(cfg.AuthToken)))
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, rpc.NewWorkerClient(conn)
}

func TestServer_Health(t *testing.T) {
	_, client := startWorker(t, Config{AuthToken: "secret"}, nil)
	resp, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), resp.PID)
	assert.Equal(t, 0, resp.ActiveSessions)
}

func TestServer_PreviewRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, client := startWorker(t, Config{PreviewDir: dir}, nil)
	ctx := context.Background()

	_, err := client.PreviewStart(ctx, &rpc.PreviewStartRequest{ID: "p1", Width: 2, Height: 2})
	require.NoError(t, err)
	pix := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 10, 20, 30, 255,
	}
	for off := 0; off < len(pix); off += 6 {
		_, err := client.PreviewAppend(ctx, &rpc.PreviewAppendRequest{ID: "p1", Chunk: pix[off:min(off+6, len(pix))]})
		require.NoError(t, err)
	}
	resp, err := client.PreviewFinish(ctx, &rpc.PreviewFinishRequest{ID: "p1", Effect: "invert"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p1.png"), resp.OutputPath)

	data, err := os.ReadFile(resp.OutputPath)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0, 0xffff, 0xffff}, []uint32{r, g, b})
}

func TestServer_PreviewErrors(t *testing.T) {
	_, client := startWorker(t, Config{PreviewDir: t.TempDir()}, nil)
	ctx := context.Background()

	_, err := client.PreviewAppend(ctx, &rpc.PreviewAppendRequest{ID: "nope", Chunk: []byte{1}})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.PreviewStart(ctx, &rpc.PreviewStartRequest{ID: "p", Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = client.PreviewAppend(ctx, &rpc.PreviewAppendRequest{ID: "p", Chunk: make([]byte, 5)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.PreviewFinish(ctx, &rpc.PreviewFinishRequest{ID: "p"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.PreviewDiscard(ctx, &rpc.PreviewDiscardRequest{ID: "p"})
	require.NoError(t, err)
}

func TestServer_MoshPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	_, client := startWorker(t, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.Events(ctx, &rpc.EventsRequest{Channels: []string{"datamosh-progress", "datamosh-log"}})
	require.NoError(t, err)
	hello, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, rpc.ChannelHello, hello.Channel)

	aud := []byte{0, 0, 0, 1, 0x09, 0xf0}
	var in []byte
	in = append(in, aud...)
	in = append(in, 0, 0, 0, 1, 0x67, 0x42, 0, 0x1e, 0, 0, 0, 1, 0x68, 0xce, 0x38, 0x80, 0, 0, 1, 0x65, 0x88, 1)
	for i := range 4 {
		in = append(in, aud...)
		if i == 2 {
			in = append(in, 0, 0, 1, 0x65, 0x88, byte(i+2))
		} else {
			in = append(in, 0, 0, 1, 0x41, 0x9a, byte(i+2))
		}
	}
	inPath := filepath.Join(dir, "in.h264")
	outPath := filepath.Join(dir, "out.h264")
	require.NoError(t, os.WriteFile(inPath, in, 0o644))

	resp, err := client.Mosh(context.Background(), &rpc.MoshRequest{
		JobID: "job-9", InputPath: inPath, OutputPath: outPath,
		FPS: 1, Duration: 5, Windows: []rpc.Window{{Start: 0, End: 5}}, Intensity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Frames)
	assert.Equal(t, 1, resp.Dropped)

	var sawProgress, sawSummary bool
	deadline := time.After(5 * time.Second)
	for !(sawProgress && sawSummary) {
		evCh := make(chan *rpc.Event, 1)
		go func() {
			ev, err := stream.Recv()
			if err == nil {
				evCh <- ev
			}
		}()
		select {
		case ev := <-evCh:
			assert.Equal(t, "job-9", ev.JobID)
			if ev.Channel == "datamosh-progress" {
				sawProgress = true
			}
			if ev.Channel == "datamosh-log" && bytes.Contains([]byte(ev.Line), []byte("1 keyframes replaced")) {
				sawSummary = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for mosh events")
		}
	}
}

func TestServer_MoshValidation(t *testing.T) {
	_, client := startWorker(t, Config{}, nil)
	_, err := client.Mosh(context.Background(), &rpc.MoshRequest{InputPath: "a", OutputPath: "a", FPS: 30})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Mosh(context.Background(), &rpc.MoshRequest{InputPath: filepath.Join(t.TempDir(), "missing"), OutputPath: filepath.Join(t.TempDir(), "o"), FPS: 30})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_RenderRejectsUnknownEffect(t *testing.T) {
	_, client := startWorker(t, Config{}, nil)
	_, err := client.Render(context.Background(), &rpc.RenderRequest{
		InputPath: "in.mp4", OutputPath: "out.mp4", Width: 2, Height: 2, FPS: 25, Effect: "melt",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_RenderWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi",
		"-i", "testsrc=size=64x48:rate=10", "-t", "1", "-pix_fmt", "yuv420p", in)
	require.NoError(t, gen.Run())

	runner := ffmpeg.NewRunner(ffmpeg.NewResolver(config.FFmpegConfig{}), nil)
	_, client := startWorker(t, Config{}, runner)
	resp, err := client.Render(context.Background(), &rpc.RenderRequest{
		JobID: "r1", InputPath: in, OutputPath: out,
		Width: 64, Height: 48, FPS: 10, Duration: 1,
		Effect: "invert", Encoding: rpc.Encoding{Encoder: "mpeg4"},
	})
	require.NoError(t, err)
	assert.Greater(t, resp.Frames, int64(0))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
