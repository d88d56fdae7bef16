package hclog_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(hclog.Options{Output: &buf})
	logger.Info("plugin started", "plugin", "mitre/activity")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "plugin started", decoded["msg"])
	assert.Equal(t, "mitre/activity", decoded["plugin"])
}

func TestDiscardDropsOutput(t *testing.T) {
	logger := hclog.Discard()
	assert.NotPanics(t, func() {
		logger.Info("anything")
	})
}
