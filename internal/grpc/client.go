package grpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"robolab/simserver/internal/command"
	"robolab/simserver/internal/robot"
)

// Client is a thin typed wrapper over a connection to the simulation service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Execute sends one wire command and returns the resulting snapshot.
func (c *Client) Execute(ctx context.Context, wire command.Wire, opts ...grpc.CallOption) (robot.State, error) {
	req, err := EncodeCommand(wire)
	if err != nil {
		return robot.State{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeMethod, req, out, opts...); err != nil {
		return robot.State{}, err
	}
	return DecodeState(out)
}

// StreamState calls fn for every snapshot until the stream ends, ctx is cancelled or fn
// returns an error. maxRateHz of zero streams every tick.
func (c *Client) StreamState(ctx context.Context, maxRateHz float64, fn func(robot.State) error, opts ...grpc.CallOption) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], streamStateMethod, opts...)
	if err != nil {
		return err
	}
	req, err := structpb.NewStruct(map[string]any{maxRateField: maxRateHz})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		state, err := DecodeState(msg)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
	}
}
