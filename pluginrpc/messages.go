package pluginrpc

// QuerySchema is one entry streamed back by GetQuerySchemas: the
// query's name (empty names the default query) and its JSON schemas.
type QuerySchema struct {
	QueryName    string `json:"query_name"`
	KeySchema    string `json:"key_schema"`
	OutputSchema string `json:"output_schema"`
}

// GetQuerySchemasRequest carries no fields; the plugin streams back
// every query it exposes regardless of input.
type GetQuerySchemasRequest struct{}

// SetConfigurationRequest pushes the host's resolved configuration for
// a plugin as a JSON object, already merged from the policy file's
// per-analysis config and any patch block.
type SetConfigurationRequest struct {
	Configuration string `json:"configuration"`
}

// ConfigurationStatus mirrors hcerr.ConfigSubstatus on the wire.
type ConfigurationStatus string

const (
	ConfigStatusOK                    ConfigurationStatus = "Ok"
	ConfigStatusMissingRequiredConfig ConfigurationStatus = "MissingRequiredConfig"
	ConfigStatusUnrecognizedConfig    ConfigurationStatus = "UnrecognizedConfig"
	ConfigStatusInvalidConfigValue    ConfigurationStatus = "InvalidConfigValue"
	ConfigStatusInternalError         ConfigurationStatus = "InternalError"
	ConfigStatusFileNotFound          ConfigurationStatus = "FileNotFound"
	ConfigStatusParseError            ConfigurationStatus = "ParseError"
	ConfigStatusEnvVarNotSet          ConfigurationStatus = "EnvVarNotSet"
	ConfigStatusMissingProgram        ConfigurationStatus = "MissingProgram"
)

// SetConfigurationResponse reports whether the plugin accepted the
// pushed configuration.
type SetConfigurationResponse struct {
	Status  ConfigurationStatus `json:"status"`
	Message string              `json:"message"`
}

// GetDefaultPolicyExpressionRequest carries no fields.
type GetDefaultPolicyExpressionRequest struct{}

// GetDefaultPolicyExpressionResponse is the plugin's advertised
// default policy expression, empty if it declares none.
type GetDefaultPolicyExpressionResponse struct {
	PolicyExpression string `json:"policy_expression"`
}

// GetDefaultQueryExplanationRequest carries no fields.
type GetDefaultQueryExplanationRequest struct{}

// GetDefaultQueryExplanationResponse is a one-sentence description of
// what the plugin's default query computes.
type GetDefaultQueryExplanationResponse struct {
	Explanation string `json:"explanation"`
}

// QueryState mirrors wire.State on the RPC boundary.
type QueryState int32

const (
	QueryStateUnspecified QueryState = iota
	QueryStateSubmitInProgress
	QueryStateSubmitComplete
	QueryStateReplyInProgress
	QueryStateReplyComplete
)

// QueryFrame is the wire-stable message multiplexed over
// InitiateQueryProtocol, matching the field set fixed in the external
// interface contract.
type QueryFrame struct {
	ID            int32      `json:"id"`
	State         QueryState `json:"state"`
	PublisherName string     `json:"publisher_name"`
	PluginName    string     `json:"plugin_name"`
	QueryName     string     `json:"query_name"`
	Key           string     `json:"key"`
	Output        string     `json:"output"`
	Concern       []string   `json:"concern"`
}
