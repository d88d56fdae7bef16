package pluginexec_test

import (
	"context"
	"testing"
	"time"

	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginexec"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// TestLaunchFailsWhenNothingListens exercises the spawn loop against a
// binary that starts but never opens the gRPC port and writes no bind
// error, proving Launch returns an error after the failed connect
// rather than hanging.
func TestLaunchFailsWhenNothingListens(t *testing.T) {
	id, err := plugin.NewID("mitre", "activity", "0.1.0")
	assert.NoError(t, err)

	cfg := pluginexec.Config{
		MaxSpawnAttempts:      2,
		MaxConnAttempts:       1,
		PortRange:             pluginexec.PortRange{Min: 41000, Max: 41001},
		BackoffIntervalMicros: 1000,
		JitterPercent:         0,
		GRPCMsgBufferSize:     10,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = pluginexec.Launch(ctx, zap.NewNop(), id, "/bin/sleep", []string{"5"}, cfg)
	assert.Error(t, err)
}
