package plugin

import (
	"os/exec"
	"sync"

	"google.golang.org/grpc"
)

// QueryDescriptor advertises one query endpoint a plugin exposes: its
// name (empty string names the default query), and the JSON schemas
// for its key and output. Schemas are opaque JSON text — validating
// a key/output against them is outside this module's scope.
type QueryDescriptor struct {
	Name         string
	KeySchema    string
	OutputSchema string
}

// Descriptor is the full set of query endpoints a plugin advertises,
// gathered by streaming GetQuerySchemas to completion.
type Descriptor struct {
	ID      ID
	Queries []QueryDescriptor
}

// DefaultQuery returns the descriptor for the plugin's default (empty
// name) query, if advertised.
func (d Descriptor) DefaultQuery() (QueryDescriptor, bool) {
	for _, q := range d.Queries {
		if q.Name == "" {
			return q, true
		}
	}
	return QueryDescriptor{}, false
}

// Handle owns exactly one running plugin process and the gRPC
// connection to it. It is created by the executor, consumed by the
// transport and query engine, and destroyed by killing the child
// process. A Handle must not be copied after construction.
type Handle struct {
	ID ID

	// Descriptor is populated once GetQuerySchemas has been drained.
	Descriptor Descriptor

	// DefaultPolicyExpr is the plugin's advertised default policy
	// expression, or empty if it declares none.
	DefaultPolicyExpr string

	// DefaultQueryExplanation is a one-sentence description of what
	// the plugin's default query computes.
	DefaultQueryExplanation string

	// Conn is the live gRPC channel to the plugin's local endpoint.
	Conn *grpc.ClientConn

	mu      sync.Mutex
	cmd     *exec.Cmd
	killed  bool
	port    int
	onClose []func()
}

// NewHandle wraps a spawned process and its connection into a Handle.
func NewHandle(id ID, cmd *exec.Cmd, port int, conn *grpc.ClientConn) *Handle {
	return &Handle{ID: id, cmd: cmd, port: port, Conn: conn}
}

// Port returns the TCP port the plugin was told to bind.
func (h *Handle) Port() int {
	return h.port
}

// OnClose registers a cleanup callback run exactly once when Close is
// called, in registration order. Intended for releasing transport/engine
// state tied to this handle's lifetime.
func (h *Handle) OnClose(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = append(h.onClose, fn)
}

// Close kills the child process and closes the gRPC connection.
// Errors from closing the connection or killing the process are
// discarded (neither returned nor logged), so teardown always proceeds.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return
	}
	h.killed = true

	if h.Conn != nil {
		_ = h.Conn.Close()
	}
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_, _ = h.cmd.Process.Wait()
	}
	for _, fn := range h.onClose {
		fn()
	}
}
