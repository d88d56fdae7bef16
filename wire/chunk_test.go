package wire_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortConcerns(q *wire.Query) {
	sort.Strings(q.Concerns)
}

func TestChunkRoundTrip(t *testing.T) {
	q := wire.Query{
		ID:        1,
		Direction: wire.DirectionResponse,
		Route:     wire.Route{Publisher: "mitre", Plugin: "activity", Query: ""},
		Key:       `{"n":3}`,
		Output:    strings.Repeat("a", 5000),
		Concerns:  []string{"c1", "c2", "c3"},
	}
	frames, err := wire.Chunk(q, 512)
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, wire.StateReplyInProgress, f.State)
	}
	assert.Equal(t, wire.StateReplyComplete, frames[len(frames)-1].State)

	got, err := wire.Reassemble(frames)
	require.NoError(t, err)
	sortConcerns(got)
	want := q
	sortConcerns(&want)
	assert.Equal(t, want, *got)
}

func TestChunkFitsWithoutSplitting(t *testing.T) {
	q := wire.Query{
		ID:        2,
		Direction: wire.DirectionRequest,
		Route:     wire.Route{Publisher: "mitre", Plugin: "activity"},
		Key:       `{"n":3}`,
	}
	frames, err := wire.Chunk(q, wire.MaxChunkSize)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, wire.StateSubmitComplete, frames[0].State)
}

// Regression: the literal UTF-8 key "aこれは実験です" chunked at B=10
// must never split mid-codepoint.
func TestChunkUTF8BoundaryRegression(t *testing.T) {
	q := wire.Query{
		ID:        0,
		Direction: wire.DirectionResponse,
		Key:       `"aこれは実験です"`,
		Output:    `""`,
		Concerns:  []string{"< 10", "0123456789", "< 10#2"},
	}
	frames, err := wire.Chunk(q, 10)
	require.NoError(t, err)

	inProgress := 0
	for _, f := range frames {
		assert.True(t, len(f.Key) <= 10)
		if !utf8Valid(f.Key) {
			t.Fatalf("frame key %q is not valid UTF-8", f.Key)
		}
		if f.State == wire.StateReplyInProgress {
			inProgress++
		}
	}
	assert.Equal(t, 4, inProgress)
	assert.Equal(t, wire.StateReplyComplete, frames[len(frames)-1].State)
	assert.Len(t, frames, 5)

	got, err := wire.Reassemble(frames)
	require.NoError(t, err)
	sortConcerns(got)
	want := q
	sortConcerns(&want)
	assert.Equal(t, want, *got)
}

func utf8Valid(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

func TestChunkConcernExceedsBudgetErrors(t *testing.T) {
	q := wire.Query{
		ID:       3,
		Key:      "",
		Output:   "",
		Concerns: []string{strings.Repeat("x", 11)},
	}
	_, err := wire.Chunk(q, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concern larger than max chunk size")
}

func TestChunkZeroBudgetErrorsUnlessAlreadyFits(t *testing.T) {
	q := wire.Query{ID: 4, Key: "x"}
	_, err := wire.Chunk(q, 0)
	require.Error(t, err)

	empty := wire.Query{ID: 5}
	frames, err := wire.Chunk(empty, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
}
