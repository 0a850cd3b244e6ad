// Package adminrpc exposes room supervision to operators over gRPC. The
// service uses well-known protobuf types so no generated code is needed.
package adminrpc

import (
    "context"
    "errors"
    "time"

    "github.com/rs/zerolog"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"
    "google.golang.org/protobuf/types/known/emptypb"
    "google.golang.org/protobuf/types/known/structpb"
    "google.golang.org/protobuf/types/known/wrapperspb"

    "supermafia/judge/internal/supervisor"
    "supermafia/judge/internal/types"
)

const serviceName = "judge.admin.v1.Supervisor"

// Rooms is the supervisor surface operators can drive.
type Rooms interface {
    Spawn(ctx context.Context, code string) error
    Remove(code string)
    Rooms() []types.RoomInfo
}

type Server struct {
    rooms Rooms
    log   zerolog.Logger
}

func NewServer(rooms Rooms, log zerolog.Logger) *Server {
    return &Server{rooms: rooms, log: log.With().Str("component", "adminrpc").Logger()}
}

// Register mounts the admin service on s.
func Register(s *grpc.Server, srv *Server) {
    s.RegisterService(&serviceDesc, srv)
}

func (s *Server) Spawn(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
    if req.GetValue() == "" {
        return nil, status.Error(codes.InvalidArgument, "room code required")
    }
    if err := s.rooms.Spawn(ctx, req.GetValue()); err != nil {
        s.log.Warn().Err(err).Str("room", req.GetValue()).Msg("spawn failed")
        return nil, status.Error(spawnCode(err), err.Error())
    }
    return &emptypb.Empty{}, nil
}

func (s *Server) Remove(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
    s.rooms.Remove(req.GetValue())
    return &emptypb.Empty{}, nil
}

func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
    infos := s.rooms.Rooms()
    vals := make([]any, 0, len(infos))
    for _, info := range infos {
        vals = append(vals, map[string]any{
            "code":         info.Code,
            "room_name":    info.RoomName,
            "spawned_at":   info.SpawnedAt.Format(time.RFC3339),
            "state":        info.State,
            "holder":       info.Holder,
            "participants": info.Participants,
        })
    }
    return structpb.NewList(vals)
}

func spawnCode(err error) codes.Code {
    switch {
    case errors.Is(err, supervisor.ErrNotAdmitted):
        return codes.InvalidArgument
    case errors.Is(err, supervisor.ErrMissingCredentials):
        return codes.FailedPrecondition
    case errors.Is(err, supervisor.ErrTransport):
        return codes.Unavailable
    }
    return codes.Internal
}

type adminServer interface {
    Spawn(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
    Remove(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
    List(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

func unary[Req any, Resp any](name string, call func(adminServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
    return grpc.MethodDesc{
        MethodName: name,
        Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
            in := new(Req)
            if err := dec(in); err != nil {
                return nil, err
            }
            if interceptor == nil {
                return call(srv.(adminServer), ctx, in)
            }
            info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
            return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
                return call(srv.(adminServer), ctx, req.(*Req))
            })
        },
    }
}

var serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*adminServer)(nil),
    Methods: []grpc.MethodDesc{
        unary("Spawn", adminServer.Spawn),
        unary("Remove", adminServer.Remove),
        unary("List", adminServer.List),
    },
    Streams:  []grpc.StreamDesc{},
    Metadata: "judge/admin.proto",
}
