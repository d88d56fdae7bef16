package pluginexec_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginexec"
	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type initFakePlugin struct {
	configStatus pluginrpc.ConfigurationStatus
	configMsg    string
}

func (f *initFakePlugin) GetQuerySchemas(_ *pluginrpc.GetQuerySchemasRequest, stream pluginrpc.GetQuerySchemas_Server) error {
	return stream.Send(&pluginrpc.QuerySchema{QueryName: "", KeySchema: "{}", OutputSchema: "{}"})
}

func (f *initFakePlugin) SetConfiguration(_ context.Context, req *pluginrpc.SetConfigurationRequest) (*pluginrpc.SetConfigurationResponse, error) {
	status := f.configStatus
	if status == "" {
		status = pluginrpc.ConfigStatusOK
	}
	return &pluginrpc.SetConfigurationResponse{Status: status, Message: f.configMsg}, nil
}

func (f *initFakePlugin) GetDefaultPolicyExpression(context.Context, *pluginrpc.GetDefaultPolicyExpressionRequest) (*pluginrpc.GetDefaultPolicyExpressionResponse, error) {
	return &pluginrpc.GetDefaultPolicyExpressionResponse{PolicyExpression: "(lte $ 0.02)"}, nil
}

func (f *initFakePlugin) GetDefaultQueryExplanation(context.Context, *pluginrpc.GetDefaultQueryExplanationRequest) (*pluginrpc.GetDefaultQueryExplanationResponse, error) {
	return &pluginrpc.GetDefaultQueryExplanationResponse{Explanation: "checks activity"}, nil
}

func (f *initFakePlugin) InitiateQueryProtocol(stream pluginrpc.QueryProtocol_Server) error {
	<-context.Background().Done()
	return nil
}

func dialFakePlugin(t *testing.T, srv pluginrpc.Server) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	pluginrpc.RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(pluginrpc.CodecName)),
	)
	require.NoError(t, err)
	return conn, func() { conn.Close(); s.Stop(); lis.Close() }
}

func TestInitializeSucceeds(t *testing.T) {
	conn, cleanup := dialFakePlugin(t, &initFakePlugin{})
	defer cleanup()

	id, err := plugin.NewID("mitre", "activity", "0.1.0")
	require.NoError(t, err)
	handle := plugin.NewHandle(id, nil, 40000, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := pluginexec.Initialize(ctx, handle, `{"threshold":7}`)
	require.NoError(t, err)
	assert.NotNil(t, stream)

	require.Len(t, handle.Descriptor.Queries, 1)
	assert.Equal(t, "(lte $ 0.02)", handle.DefaultPolicyExpr)
	assert.Equal(t, "checks activity", handle.DefaultQueryExplanation)
}

func TestInitializeTranslatesRejectedConfiguration(t *testing.T) {
	conn, cleanup := dialFakePlugin(t, &initFakePlugin{
		configStatus: pluginrpc.ConfigStatusMissingRequiredConfig,
		configMsg:    "missing field: threshold",
	})
	defer cleanup()

	id, err := plugin.NewID("mitre", "activity", "0.1.0")
	require.NoError(t, err)
	handle := plugin.NewHandle(id, nil, 40000, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pluginexec.Initialize(ctx, handle, `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field: threshold")
}
