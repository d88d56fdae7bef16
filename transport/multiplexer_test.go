package transport_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"github.com/hipcheck-oss/hipcheck-core/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is an in-memory Stream: inbound is fed by the test,
// outbound records every frame the multiplexer sends.
type fakeStream struct {
	inbound chan *pluginrpc.QueryFrame
	closed  chan struct{}

	mu       sync.Mutex
	outbound []*pluginrpc.QueryFrame
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound: make(chan *pluginrpc.QueryFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeStream) Send(frame *pluginrpc.QueryFrame) error {
	f.mu.Lock()
	f.outbound = append(f.outbound, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Recv() (*pluginrpc.QueryFrame, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeStream) push(frame *pluginrpc.QueryFrame) { f.inbound <- frame }
func (f *fakeStream) close()                           { close(f.closed) }

func (f *fakeStream) sent() []*pluginrpc.QueryFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*pluginrpc.QueryFrame, len(f.outbound))
	copy(out, f.outbound)
	return out
}

func TestRecvDrainsBacklogForOwnID(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)
	mux.Claim(1)

	fs.push(&pluginrpc.QueryFrame{ID: 1, State: pluginrpc.QueryStateReplyInProgress, Output: "a"})
	fs.push(&pluginrpc.QueryFrame{ID: 1, State: pluginrpc.QueryStateReplyComplete, Output: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frames, err := mux.Recv(ctx, 1)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Output)
	assert.Equal(t, "b", frames[1].Output)
}

func TestRecvRoutesOtherIDsIntoTheirOwnBacklog(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)
	mux.Claim(1)
	mux.Claim(2)

	fs.push(&pluginrpc.QueryFrame{ID: 2, State: pluginrpc.QueryStateReplyComplete, Output: "for-two"})
	fs.push(&pluginrpc.QueryFrame{ID: 1, State: pluginrpc.QueryStateReplyComplete, Output: "for-one"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frames1, err := mux.Recv(ctx, 1)
	require.NoError(t, err)
	require.Len(t, frames1, 1)
	assert.Equal(t, "for-one", frames1[0].Output)

	frames2, err := mux.Recv(ctx, 2)
	require.NoError(t, err)
	require.Len(t, frames2, 1)
	assert.Equal(t, "for-two", frames2[0].Output)
}

func TestNextSessionDetectsUnclaimedSubmitFrame(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)

	fs.push(&pluginrpc.QueryFrame{ID: 99, State: pluginrpc.QueryStateSubmitComplete, Key: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, frames, err := mux.NextSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(99), id)
	require.Len(t, frames, 1)
	assert.Equal(t, "hello", frames[0].Key)
}

func TestNextSessionIgnoresAlreadyClaimedIDs(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)
	mux.Claim(5)

	fs.push(&pluginrpc.QueryFrame{ID: 5, State: pluginrpc.QueryStateSubmitComplete})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := mux.NextSession(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendSerializesOntoTheStream(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)

	ctx := context.Background()
	require.NoError(t, mux.Send(ctx, &pluginrpc.QueryFrame{ID: 1, Key: "a"}))
	require.NoError(t, mux.Send(ctx, &pluginrpc.QueryFrame{ID: 2, Key: "b"}))

	require.Eventually(t, func() bool { return len(fs.sent()) == 2 }, time.Second, 10*time.Millisecond)
	sent := fs.sent()
	assert.Equal(t, "a", sent[0].Key)
	assert.Equal(t, "b", sent[1].Key)
}

func TestRecvReturnsErrorAfterStreamCloses(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)
	mux.Claim(1)
	fs.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := mux.Recv(ctx, 1)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRecvUnblocksOnContextCancellation(t *testing.T) {
	fs := newFakeStream()
	mux := transport.New(fs, 4)
	mux.Claim(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := mux.Recv(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
