// Package transport multiplexes the single bidirectional gRPC stream
// a plugin exposes across many concurrent logical queries, each
// identified by a correlation id, and demuxes inbound frames back to
// whichever caller is waiting on that id.
package transport

import (
	"context"
	"io"
	"sync"

	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
)

// Stream is the minimal interface a plugin's bidirectional query
// stream must satisfy; pluginrpc.QueryProtocolStream implements it.
type Stream interface {
	Send(*pluginrpc.QueryFrame) error
	Recv() (*pluginrpc.QueryFrame, error)
}

// MultiplexedQueryReceiver owns the polling loop over one plugin's
// stream and the backlog that lets many concurrent callers each
// recv() only the frames addressed to their own correlation id.
type MultiplexedQueryReceiver struct {
	stream   Stream
	outbound chan *pluginrpc.QueryFrame

	mu      sync.Mutex
	active  map[int32]bool
	backlog map[int32][]*pluginrpc.QueryFrame
	waiters map[int32]chan struct{}
	closed  bool
	recvErr error

	newSessions chan int32
}

// New starts the send and receive pumps for stream. bufSize bounds
// the outbound channel, mirroring grpc_msg_buffer_size.
func New(stream Stream, bufSize int) *MultiplexedQueryReceiver {
	m := &MultiplexedQueryReceiver{
		stream:      stream,
		outbound:    make(chan *pluginrpc.QueryFrame, bufSize),
		active:      make(map[int32]bool),
		backlog:     make(map[int32][]*pluginrpc.QueryFrame),
		waiters:     make(map[int32]chan struct{}),
		newSessions: make(chan int32, bufSize),
	}
	go m.sendLoop()
	go m.recvLoop()
	return m
}

// sendLoop is the only goroutine that ever writes to the stream,
// which is what serializes concurrent senders.
func (m *MultiplexedQueryReceiver) sendLoop() {
	for frame := range m.outbound {
		if err := m.stream.Send(frame); err != nil {
			return
		}
	}
}

// recvLoop is the only goroutine that ever reads from the stream.
func (m *MultiplexedQueryReceiver) recvLoop() {
	for {
		frame, err := m.stream.Recv()
		if err != nil {
			m.mu.Lock()
			m.closed = true
			m.recvErr = err
			waiters := m.waiters
			m.waiters = nil
			m.mu.Unlock()
			for _, w := range waiters {
				close(w)
			}
			close(m.newSessions)
			return
		}
		m.route(frame)
	}
}

// route files one inbound frame into the backlog for its id, waking
// any caller blocked in recv for that id, and signals a new session
// when the id wasn't already active and the frame opens one.
func (m *MultiplexedQueryReceiver) route(frame *pluginrpc.QueryFrame) {
	m.mu.Lock()
	isNewSession := !m.active[frame.ID] &&
		(frame.State == pluginrpc.QueryStateSubmitComplete || frame.State == pluginrpc.QueryStateSubmitInProgress)
	if isNewSession {
		m.active[frame.ID] = true
	}
	m.backlog[frame.ID] = append(m.backlog[frame.ID], frame)
	var waiter chan struct{}
	if m.waiters != nil {
		waiter = m.waiters[frame.ID]
		delete(m.waiters, frame.ID)
	}
	m.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
	if isNewSession {
		m.newSessions <- frame.ID
	}
}

// Claim marks id as belonging to a query the caller is originating,
// so the reply frames routed back under that id are never mistaken
// for a new inbound session.
func (m *MultiplexedQueryReceiver) Claim(id int32) {
	m.mu.Lock()
	m.active[id] = true
	m.mu.Unlock()
}

// Send enqueues frame on the shared outbound channel, blocking only
// on backpressure from grpc_msg_buffer_size or ctx cancellation.
func (m *MultiplexedQueryReceiver) Send(ctx context.Context, frame *pluginrpc.QueryFrame) error {
	select {
	case m.outbound <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next non-empty batch of frames queued for id,
// draining the backlog if it already has entries, otherwise blocking
// until recvLoop delivers one or the stream closes.
func (m *MultiplexedQueryReceiver) Recv(ctx context.Context, id int32) ([]*pluginrpc.QueryFrame, error) {
	for {
		m.mu.Lock()
		if frames := m.backlog[id]; len(frames) > 0 {
			delete(m.backlog, id)
			m.mu.Unlock()
			return frames, nil
		}
		if m.closed {
			err := m.recvErr
			m.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		waiter := make(chan struct{})
		if m.waiters == nil {
			m.waiters = make(map[int32]chan struct{})
		}
		m.waiters[id] = waiter
		m.mu.Unlock()

		select {
		case <-waiter:
			continue
		case <-ctx.Done():
			m.mu.Lock()
			delete(m.waiters, id)
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// NextSession blocks until a plugin opens a new inbound query (a
// frame whose id was not already active), returning that id and its
// first batch of frames. The caller owns the id afterward and should
// hand it to a per-query handler that subsequently calls Recv/Send.
func (m *MultiplexedQueryReceiver) NextSession(ctx context.Context) (int32, []*pluginrpc.QueryFrame, error) {
	select {
	case id, ok := <-m.newSessions:
		if !ok {
			m.mu.Lock()
			err := m.recvErr
			m.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, nil, err
		}
		frames, err := m.Recv(ctx, id)
		return id, frames, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Close stops accepting new outbound frames. The underlying stream is
// owned by the caller (typically a plugin.Handle) and is not touched
// here.
func (m *MultiplexedQueryReceiver) Close() {
	close(m.outbound)
}
