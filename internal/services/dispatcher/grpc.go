package dispatcher

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const ServiceName = "drip.v1.CommandService"

// Codec carries the command messages as JSON over gRPC.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

type ValveRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	State    string `json:"state"`
}

type WaterRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	Minutes  int    `json:"minutes"`
}

type ModeRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	Mode     string `json:"mode"`
}

// DeviceRequest targets a device without further arguments.
type DeviceRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
}

type CommandReply struct {
	Command *entities.Command     `json:"command,omitempty"`
	Test    *entities.TestCommand `json:"test,omitempty"`
}

type CommandServiceServer interface {
	SetValve(context.Context, *ValveRequest) (*CommandReply, error)
	QuickWater(context.Context, *WaterRequest) (*CommandReply, error)
	EmergencyStop(context.Context, *DeviceRequest) (*CommandReply, error)
	SetMode(context.Context, *ModeRequest) (*CommandReply, error)
	Ping(context.Context, *DeviceRequest) (*CommandReply, error)
}

// Server exposes a Dispatcher over gRPC. Requests without a device id go to
// the device returned by Selected.
type Server struct {
	d        *Dispatcher
	selected func() string
}

var _ CommandServiceServer = (*Server)(nil)

func NewServer(d *Dispatcher, selected func() string) *Server {
	if selected == nil {
		selected = func() string { return "" }
	}
	return &Server{d: d, selected: selected}
}

func (s *Server) target(id string) string {
	if id != "" {
		return id
	}
	return s.selected()
}

func (s *Server) SetValve(ctx context.Context, req *ValveRequest) (*CommandReply, error) {
	cmd, err := s.d.SetValve(ctx, s.target(req.DeviceID), entities.ValveStatus(req.State))
	return commandReply(cmd, err)
}

func (s *Server) QuickWater(ctx context.Context, req *WaterRequest) (*CommandReply, error) {
	cmd, err := s.d.QuickWater(ctx, s.target(req.DeviceID), req.Minutes)
	return commandReply(cmd, err)
}

func (s *Server) EmergencyStop(ctx context.Context, req *DeviceRequest) (*CommandReply, error) {
	cmd, err := s.d.EmergencyStop(ctx, s.target(req.DeviceID))
	return commandReply(cmd, err)
}

func (s *Server) SetMode(ctx context.Context, req *ModeRequest) (*CommandReply, error) {
	cmd, err := s.d.SetMode(ctx, s.target(req.DeviceID), entities.Mode(req.Mode))
	return commandReply(cmd, err)
}

func (s *Server) Ping(ctx context.Context, req *DeviceRequest) (*CommandReply, error) {
	test, err := s.d.Ping(ctx, s.target(req.DeviceID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &CommandReply{Test: &test}, nil
}

func commandReply(cmd entities.Command, err error) (*CommandReply, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &CommandReply{Command: &cmd}, nil
}

func toStatus(err error) error {
	if errors.Is(err, ErrInvalidCommand) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

func RegisterCommandService(s grpc.ServiceRegistrar, srv CommandServiceServer) {
	s.RegisterService(&commandServiceDesc, srv)
}

func unary[Req any](call func(CommandServiceServer, context.Context, *Req) (*CommandReply, error), method string) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CommandServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CommandServiceServer), ctx, req.(*Req))
			})
		},
	}
}

var commandServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(CommandServiceServer.SetValve, "SetValve"),
		unary(CommandServiceServer.QuickWater, "QuickWater"),
		unary(CommandServiceServer.EmergencyStop, "EmergencyStop"),
		unary(CommandServiceServer.SetMode, "SetMode"),
		unary(CommandServiceServer.Ping, "Ping"),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drip/v1/command.proto",
}

// Client calls a remote CommandService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, method string, in any) (*CommandReply, error) {
	out := new(CommandReply)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.ForceCodec(Codec{})); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetValve(ctx context.Context, in *ValveRequest) (*CommandReply, error) {
	return c.invoke(ctx, "SetValve", in)
}

func (c *Client) QuickWater(ctx context.Context, in *WaterRequest) (*CommandReply, error) {
	return c.invoke(ctx, "QuickWater", in)
}

func (c *Client) EmergencyStop(ctx context.Context, in *DeviceRequest) (*CommandReply, error) {
	return c.invoke(ctx, "EmergencyStop", in)
}

func (c *Client) SetMode(ctx context.Context, in *ModeRequest) (*CommandReply, error) {
	return c.invoke(ctx, "SetMode", in)
}

func (c *Client) Ping(ctx context.Context, in *DeviceRequest) (*CommandReply, error) {
	return c.invoke(ctx, "Ping", in)
}
