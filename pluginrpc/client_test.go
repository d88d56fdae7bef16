package pluginrpc_test

import (
	"context"
	"net"
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakePlugin is a minimal pluginrpc.Server used to exercise Client
// against a real in-memory gRPC round trip.
type fakePlugin struct {
	schemas      []pluginrpc.QuerySchema
	schemaChunks int // number of QuerySchema sends per schema, to exercise chunk-collapsing
	policyExpr   string
	explanation  string
	configStatus pluginrpc.ConfigurationStatus
	echoFrames   []*pluginrpc.QueryFrame
}

func (f *fakePlugin) GetQuerySchemas(_ *pluginrpc.GetQuerySchemasRequest, stream pluginrpc.GetQuerySchemas_Server) error {
	chunks := f.schemaChunks
	if chunks == 0 {
		chunks = 1
	}
	for _, s := range f.schemas {
		for i := 0; i < chunks; i++ {
			chunk := pluginrpc.QuerySchema{
				QueryName:    s.QueryName,
				KeySchema:    s.KeySchema,
				OutputSchema: s.OutputSchema,
			}
			if chunks > 1 {
				// Split each field across chunks to prove the client
				// reassembles by concatenation, not last-write-wins.
				half := len(s.KeySchema) / chunks
				start := i * half
				end := start + half
				if i == chunks-1 {
					end = len(s.KeySchema)
				}
				chunk.KeySchema = s.KeySchema[start:end]
				chunk.OutputSchema = ""
				if i == 0 {
					chunk.OutputSchema = s.OutputSchema
				}
			}
			if err := stream.Send(&chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakePlugin) SetConfiguration(_ context.Context, req *pluginrpc.SetConfigurationRequest) (*pluginrpc.SetConfigurationResponse, error) {
	status := f.configStatus
	if status == "" {
		status = pluginrpc.ConfigStatusOK
	}
	return &pluginrpc.SetConfigurationResponse{Status: status, Message: req.Configuration}, nil
}

func (f *fakePlugin) GetDefaultPolicyExpression(context.Context, *pluginrpc.GetDefaultPolicyExpressionRequest) (*pluginrpc.GetDefaultPolicyExpressionResponse, error) {
	return &pluginrpc.GetDefaultPolicyExpressionResponse{PolicyExpression: f.policyExpr}, nil
}

func (f *fakePlugin) GetDefaultQueryExplanation(context.Context, *pluginrpc.GetDefaultQueryExplanationRequest) (*pluginrpc.GetDefaultQueryExplanationResponse, error) {
	return &pluginrpc.GetDefaultQueryExplanationResponse{Explanation: f.explanation}, nil
}

func (f *fakePlugin) InitiateQueryProtocol(stream pluginrpc.QueryProtocol_Server) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			return nil
		}
		reply := *frame
		reply.State = pluginrpc.QueryStateReplyComplete
		reply.Output = "{\"echo\":" + frame.Key + "}"
		if err := stream.Send(&reply); err != nil {
			return err
		}
	}
}

const bufSize = 1024 * 1024

func setupPluginRPCTestServer(t *testing.T, srv pluginrpc.Server) (*pluginrpc.Client, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)

	s := grpc.NewServer()
	pluginrpc.RegisterServer(s, srv)

	go func() {
		_ = s.Serve(lis)
	}()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(pluginrpc.CodecName)),
	)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		s.Stop()
		lis.Close()
	}
	return pluginrpc.NewClient(conn), cleanup
}

func TestClientGetQuerySchemas(t *testing.T) {
	fake := &fakePlugin{schemas: []pluginrpc.QuerySchema{
		{QueryName: "", KeySchema: `{"type":"string"}`, OutputSchema: `{"type":"number"}`},
		{QueryName: "active", KeySchema: `{"type":"object"}`, OutputSchema: `{"type":"boolean"}`},
	}}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	schemas, err := client.GetQuerySchemas(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, "", schemas[0].QueryName)
	assert.Equal(t, `{"type":"string"}`, schemas[0].KeySchema)
	assert.Equal(t, "active", schemas[1].QueryName)
}

func TestClientGetQuerySchemasCollapsesChunks(t *testing.T) {
	fake := &fakePlugin{
		schemaChunks: 3,
		schemas: []pluginrpc.QuerySchema{
			{QueryName: "default", KeySchema: "abcdef", OutputSchema: "out"},
		},
	}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	schemas, err := client.GetQuerySchemas(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "abcdef", schemas[0].KeySchema)
	assert.Equal(t, "out", schemas[0].OutputSchema)
}

func TestClientSetConfiguration(t *testing.T) {
	fake := &fakePlugin{configStatus: pluginrpc.ConfigStatusOK}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	resp, err := client.SetConfiguration(context.Background(), `{"threshold":5}`)
	require.NoError(t, err)
	assert.Equal(t, pluginrpc.ConfigStatusOK, resp.Status)
	assert.Equal(t, `{"threshold":5}`, resp.Message)
}

func TestClientGetDefaultPolicyExpression(t *testing.T) {
	fake := &fakePlugin{policyExpr: "(lte $ 0.02)"}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	expr, err := client.GetDefaultPolicyExpression(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "(lte $ 0.02)", expr)
}

func TestClientGetDefaultQueryExplanation(t *testing.T) {
	fake := &fakePlugin{explanation: "counts outdated dependencies"}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	explanation, err := client.GetDefaultQueryExplanation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "counts outdated dependencies", explanation)
}

func TestClientInitiateQueryProtocolRoundTrip(t *testing.T) {
	fake := &fakePlugin{}
	client, cleanup := setupPluginRPCTestServer(t, fake)
	defer cleanup()

	stream, err := client.InitiateQueryProtocol(context.Background())
	require.NoError(t, err)

	req := &pluginrpc.QueryFrame{
		ID:    1,
		State: pluginrpc.QueryStateSubmitComplete,
		Key:   "42",
	}
	require.NoError(t, stream.Send(req))

	reply, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, int32(1), reply.ID)
	assert.Equal(t, pluginrpc.QueryStateReplyComplete, reply.State)
	assert.Equal(t, `{"echo":42}`, reply.Output)
}
