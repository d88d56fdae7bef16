package pluginexec

import (
	"context"
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
)

// substatusByStatus translates each rejecting RPC-level
// ConfigurationStatus into the typed error taxonomy; the accepted
// status has no entry.
var substatusByStatus = map[pluginrpc.ConfigurationStatus]hcerr.ConfigSubstatus{
	pluginrpc.ConfigStatusMissingRequiredConfig: hcerr.ConfigMissingRequiredConfig,
	pluginrpc.ConfigStatusUnrecognizedConfig:    hcerr.ConfigUnrecognizedConfig,
	pluginrpc.ConfigStatusInvalidConfigValue:    hcerr.ConfigInvalidConfigValue,
	pluginrpc.ConfigStatusInternalError:         hcerr.ConfigInternalError,
	pluginrpc.ConfigStatusFileNotFound:          hcerr.ConfigFileNotFound,
	pluginrpc.ConfigStatusParseError:            hcerr.ConfigParseError,
	pluginrpc.ConfigStatusEnvVarNotSet:          hcerr.ConfigEnvVarNotSet,
	pluginrpc.ConfigStatusMissingProgram:        hcerr.ConfigMissingProgram,
}

// Initialize runs the post-connect handshake on a freshly spawned
// plugin: drain its query schemas, push its configuration, fetch its
// optional defaults, and open the long-lived query stream.
func Initialize(ctx context.Context, handle *plugin.Handle, configJSON string) (*pluginrpc.QueryProtocolStream, error) {
	client := pluginrpc.NewClient(handle.Conn)

	schemas, err := client.GetQuerySchemas(ctx)
	if err != nil {
		return nil, hcerr.Wrap(handle.ID.String(), hcerr.KindPluginProcess, "fetch query schemas", err)
	}
	descriptor := plugin.Descriptor{ID: handle.ID}
	for _, s := range schemas {
		descriptor.Queries = append(descriptor.Queries, plugin.QueryDescriptor{
			Name:         s.QueryName,
			KeySchema:    s.KeySchema,
			OutputSchema: s.OutputSchema,
		})
	}
	handle.Descriptor = descriptor

	resp, err := client.SetConfiguration(ctx, configJSON)
	if err != nil {
		return nil, hcerr.Wrap(handle.ID.String(), hcerr.KindPluginProcess, "push configuration", err)
	}
	if resp.Status != pluginrpc.ConfigStatusOK {
		substatus, known := substatusByStatus[resp.Status]
		if !known {
			substatus = hcerr.ConfigUnspecified
		}
		return nil, hcerr.New(handle.ID.String(), hcerr.KindPluginConfig,
			fmt.Sprintf("configuration rejected: %s", resp.Message)).WithSubstatus(substatus)
	}

	if policyExpr, err := client.GetDefaultPolicyExpression(ctx); err == nil {
		handle.DefaultPolicyExpr = policyExpr
	}
	if explanation, err := client.GetDefaultQueryExplanation(ctx); err == nil {
		handle.DefaultQueryExplanation = explanation
	}

	stream, err := client.InitiateQueryProtocol(ctx)
	if err != nil {
		return nil, hcerr.Wrap(handle.ID.String(), hcerr.KindPluginProcess, "open query protocol stream", err)
	}
	return stream, nil
}
