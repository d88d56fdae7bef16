package wire_test

import (
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizerSingleFrame(t *testing.T) {
	frames := []wire.Frame{{ID: 1, State: wire.StateReplyComplete, Output: "6"}}
	q, err := wire.Reassemble(frames)
	require.NoError(t, err)
	assert.Equal(t, wire.DirectionResponse, q.Direction)
	assert.Equal(t, "6", q.Output)
}

func TestSynthesizerAccumulatesInProgress(t *testing.T) {
	frames := []wire.Frame{
		{ID: 1, State: wire.StateReplyInProgress, Output: "ab"},
		{ID: 1, State: wire.StateReplyInProgress, Output: "cd"},
		{ID: 1, State: wire.StateReplyComplete, Output: "ef"},
	}
	q, err := wire.Reassemble(frames)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", q.Output)
}

func TestSynthesizerIncompleteReturnsNil(t *testing.T) {
	var s wire.Synthesizer
	q, err := s.Add([]wire.Frame{{ID: 1, State: wire.StateReplyInProgress, Output: "a"}})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestSynthesizerRejectsUnspecifiedFirst(t *testing.T) {
	_, err := wire.Reassemble([]wire.Frame{{ID: 1, State: wire.StateUnspecified}})
	assert.Error(t, err)
}

func TestSynthesizerRejectsSubmitReplyMismatch(t *testing.T) {
	var s wire.Synthesizer
	_, err := s.Add([]wire.Frame{
		{ID: 1, State: wire.StateSubmitInProgress},
		{ID: 1, State: wire.StateReplyComplete},
	})
	assert.Error(t, err)
}

func TestSynthesizerRejectsFrameAfterComplete(t *testing.T) {
	var s wire.Synthesizer
	_, err := s.Add([]wire.Frame{
		{ID: 1, State: wire.StateReplyComplete, Output: "done"},
		{ID: 1, State: wire.StateReplyInProgress, Output: "more"},
	})
	assert.Error(t, err)
}
