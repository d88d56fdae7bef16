package pluginexec_test

import (
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/pluginexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := pluginexec.DefaultConfig()
	assert.Equal(t, 3, cfg.MaxSpawnAttempts)
	assert.Equal(t, 5, cfg.MaxConnAttempts)
	assert.Equal(t, pluginexec.PortRange{Min: 40000, Max: 65535}, cfg.PortRange)
	assert.Equal(t, 100000, cfg.BackoffIntervalMicros)
	assert.Equal(t, 10, cfg.JitterPercent)
	assert.Equal(t, 10, cfg.GRPCMsgBufferSize)
}

func TestLoadConfigOverridesOnlyPresentFields(t *testing.T) {
	src := []byte(`
max_spawn_attempts 5
port_range 50000 51000
`)
	cfg, err := pluginexec.LoadConfig(src)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxSpawnAttempts)
	assert.Equal(t, pluginexec.PortRange{Min: 50000, Max: 51000}, cfg.PortRange)
	// untouched fields keep their defaults
	assert.Equal(t, 5, cfg.MaxConnAttempts)
	assert.Equal(t, 10, cfg.JitterPercent)
}

func TestLoadConfigEmptySourceReturnsDefaults(t *testing.T) {
	cfg, err := pluginexec.LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, pluginexec.DefaultConfig(), cfg)
}

func TestLoadConfigRejectsInvalidPortRange(t *testing.T) {
	_, err := pluginexec.LoadConfig([]byte(`port_range 60000 50000`))
	assert.Error(t, err)
}

func TestLoadConfigRejectsNonIntegerValue(t *testing.T) {
	_, err := pluginexec.LoadConfig([]byte(`max_spawn_attempts "five"`))
	assert.Error(t, err)
}
