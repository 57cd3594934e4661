package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin wrapper around a grpc.ClientConn dialed with this
// package's JSON codec, used by cmd/ipwisctl and integration tests.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an RPC Server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	return c.conn.Invoke(ctx, fullMethod, req, resp)
}

// Spawn calls the Spawn RPC.
func (c *Client) Spawn(ctx context.Context, req *SpawnRequest) (*SpawnResponse, error) {
	resp := new(SpawnResponse)
	if err := c.invoke(ctx, "Spawn", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Poll calls the Poll RPC.
func (c *Client) Poll(ctx context.Context, req *PollRequest) (*PollResponse, error) {
	resp := new(PollResponse)
	if err := c.invoke(ctx, "Poll", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Wait calls the Wait RPC.
func (c *Client) Wait(ctx context.Context, req *WaitRequest) (*WaitResponse, error) {
	resp := new(WaitResponse)
	if err := c.invoke(ctx, "Wait", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Release calls the Release RPC.
func (c *Client) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	resp := new(ReleaseResponse)
	if err := c.invoke(ctx, "Release", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
