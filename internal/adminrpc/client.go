package adminrpc

import (
    "context"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/protobuf/types/known/emptypb"
    "google.golang.org/protobuf/types/known/structpb"
    "google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the admin service.
type Client struct {
    conn *grpc.ClientConn
}

func Dial(addr string) (*Client, error) {
    conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
    if err != nil {
        return nil, err
    }
    return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Spawn(ctx context.Context, code string) error {
    return c.conn.Invoke(ctx, "/"+serviceName+"/Spawn", wrapperspb.String(code), new(emptypb.Empty))
}

func (c *Client) Remove(ctx context.Context, code string) error {
    return c.conn.Invoke(ctx, "/"+serviceName+"/Remove", wrapperspb.String(code), new(emptypb.Empty))
}

// List returns one map per supervised room.
func (c *Client) List(ctx context.Context) ([]map[string]any, error) {
    out := new(structpb.ListValue)
    if err := c.conn.Invoke(ctx, "/"+serviceName+"/List", new(emptypb.Empty), out); err != nil {
        return nil, err
    }
    rooms := make([]map[string]any, 0, len(out.GetValues()))
    for _, v := range out.GetValues() {
        if s := v.GetStructValue(); s != nil {
            rooms = append(rooms, s.AsMap())
        }
    }
    return rooms, nil
}
