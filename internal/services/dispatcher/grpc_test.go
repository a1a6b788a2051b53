package dispatcher

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

func startServer(t *testing.T, b realtime.Backend, selected string) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	d, _ := newTestDispatcher(b)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	RegisterCommandService(srv, NewServer(d, func() string { return selected }))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return NewClient(cc)
}

func TestGRPCQuickWater(t *testing.T) {
	mem := realtime.NewMemory()
	c := startServer(t, mem, "sel")

	reply, err := c.QuickWater(context.Background(), &WaterRequest{Minutes: 7})
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if reply.Command == nil || reply.Command.TargetDeviceID != "sel" || reply.Command.Duration != 7 {
		t.Fatalf("reply: %+v", reply)
	}
	got := readCommand(t, mem, "sel")
	if got["action"] != "ON" {
		t.Errorf("slot: %v", got)
	}
}

func TestGRPCExplicitDeviceAndPing(t *testing.T) {
	mem := realtime.NewMemory()
	c := startServer(t, mem, "sel")
	ctx := context.Background()

	if _, err := c.SetValve(ctx, &ValveRequest{DeviceID: "other", State: "off"}); err != nil {
		t.Fatalf("set valve: %v", err)
	}
	if got := readCommand(t, mem, "other"); got["action"] != string(entities.ActionOff) {
		t.Errorf("slot: %v", got)
	}

	reply, err := c.Ping(ctx, &DeviceRequest{DeviceID: "other"})
	if err != nil || reply.Test == nil || reply.Test.Command != "ping" {
		t.Errorf("ping: %v %+v", err, reply)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	f := realtime.NewFaulty(realtime.NewMemory())
	c := startServer(t, f, "sel")
	ctx := context.Background()

	_, err := c.SetMode(ctx, &ModeRequest{Mode: "sideways"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad mode: got %v", err)
	}

	f.SetWriteErr(errors.New("backend offline"))
	_, err = c.EmergencyStop(ctx, &DeviceRequest{})
	if status.Code(err) != codes.Unavailable {
		t.Errorf("write failure: got %v", err)
	}
	if st, _ := status.FromError(err); st.Message() != "dispatcher: write command: backend offline" {
		t.Errorf("message: %q", st.Message())
	}
}
