package pluginrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Dial opens a connection to a plugin's locally bound gRPC endpoint,
// blocking until it is ready or ctx ends, and uses the JSON codec
// registered in codec.go for every call made through the returned
// connection.
func Dial(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("pluginrpc: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Client is a thin, typed wrapper over a plugin's *grpc.ClientConn.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

// GetQuerySchemas drains the full set of query schemas a plugin
// advertises, collapsing re-emitted chunks of the same query_name.
func (c *Client) GetQuerySchemas(ctx context.Context) ([]QuerySchema, error) {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "GetQuerySchemas", ServerStreams: true}, methodGetQuerySchemas)
	if err != nil {
		return nil, fmt.Errorf("pluginrpc: open GetQuerySchemas stream: %w", err)
	}
	if err := stream.SendMsg(&GetQuerySchemasRequest{}); err != nil {
		return nil, fmt.Errorf("pluginrpc: send GetQuerySchemas request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("pluginrpc: close GetQuerySchemas send side: %w", err)
	}

	byName := map[string]*QuerySchema{}
	var order []string
	for {
		msg := new(QuerySchema)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("pluginrpc: receive query schema: %w", err)
		}
		if existing, ok := byName[msg.QueryName]; ok {
			existing.KeySchema += msg.KeySchema
			existing.OutputSchema += msg.OutputSchema
			continue
		}
		byName[msg.QueryName] = msg
		order = append(order, msg.QueryName)
	}

	out := make([]QuerySchema, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

// SetConfiguration pushes configuration JSON to the plugin.
func (c *Client) SetConfiguration(ctx context.Context, configJSON string) (*SetConfigurationResponse, error) {
	resp := new(SetConfigurationResponse)
	if err := c.conn.Invoke(ctx, methodSetConfiguration, &SetConfigurationRequest{Configuration: configJSON}, resp); err != nil {
		return nil, fmt.Errorf("pluginrpc: SetConfiguration: %w", err)
	}
	return resp, nil
}

// GetDefaultPolicyExpression fetches the plugin's advertised default
// policy expression, if any.
func (c *Client) GetDefaultPolicyExpression(ctx context.Context) (string, error) {
	resp := new(GetDefaultPolicyExpressionResponse)
	if err := c.conn.Invoke(ctx, methodGetDefaultPolicyExpression, &GetDefaultPolicyExpressionRequest{}, resp); err != nil {
		return "", fmt.Errorf("pluginrpc: GetDefaultPolicyExpression: %w", err)
	}
	return resp.PolicyExpression, nil
}

// GetDefaultQueryExplanation fetches the plugin's one-sentence
// description of its default query.
func (c *Client) GetDefaultQueryExplanation(ctx context.Context) (string, error) {
	resp := new(GetDefaultQueryExplanationResponse)
	if err := c.conn.Invoke(ctx, methodGetDefaultQueryExplanation, &GetDefaultQueryExplanationRequest{}, resp); err != nil {
		return "", fmt.Errorf("pluginrpc: GetDefaultQueryExplanation: %w", err)
	}
	return resp.Explanation, nil
}

// QueryProtocolStream is the client side of the bidirectional frame
// multiplexer, opened once per plugin and shared across every
// in-flight query the engine sends that plugin.
type QueryProtocolStream struct {
	grpc.ClientStream
}

// Send writes one frame to the plugin.
func (s *QueryProtocolStream) Send(f *QueryFrame) error { return s.ClientStream.SendMsg(f) }

// Recv blocks for the next frame from the plugin.
func (s *QueryProtocolStream) Recv() (*QueryFrame, error) {
	m := new(QueryFrame)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// InitiateQueryProtocol opens the long-lived bidirectional stream.
func (c *Client) InitiateQueryProtocol(ctx context.Context) (*QueryProtocolStream, error) {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "InitiateQueryProtocol",
		ServerStreams: true,
		ClientStreams: true,
	}, methodInitiateQueryProtocol)
	if err != nil {
		return nil, fmt.Errorf("pluginrpc: open InitiateQueryProtocol stream: %w", err)
	}
	return &QueryProtocolStream{ClientStream: stream}, nil
}
