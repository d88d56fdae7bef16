package queryengine

import (
	"context"
	"encoding/json"

	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"github.com/hipcheck-oss/hipcheck-core/wire"
)

// watchNestedSessions is spawned once per outstanding execute() call
// and watches t for plugin-initiated sessions — a plugin answering
// the query execute() just sent it, needing data from another plugin
// (or its own default query) first. It runs with ctx inherited from
// that execute() call, so a nested resolution carries the same
// in-progress key set its parent does and a genuine cycle back
// through it is caught instead of deadlocking.
func (e *Engine) watchNestedSessions(ctx context.Context, origin plugin.Ref, t PluginTransport) {
	defer e.wg.Done()
	for {
		id, frames, err := t.NextSession(ctx)
		if err != nil {
			return
		}
		e.wg.Add(1)
		go e.handleNestedSession(ctx, origin, t, id, frames)
	}
}

// handleNestedSession reassembles one nested request, resolves it
// (recursively, through the same Engine), and chunks the answer back
// onto the id the plugin opened it with.
func (e *Engine) handleNestedSession(ctx context.Context, origin plugin.Ref, t PluginTransport, id int32, initial []*pluginrpc.QueryFrame) {
	defer e.wg.Done()

	var synth wire.Synthesizer
	req, err := synth.Add(toWireFrames(initial))
	for req == nil && err == nil {
		var batch []*pluginrpc.QueryFrame
		batch, err = t.Recv(ctx, id)
		if err != nil {
			return
		}
		req, err = synth.Add(toWireFrames(batch))
	}
	if err != nil {
		return
	}

	target := plugin.Ref{Publisher: plugin.Publisher(req.Route.Publisher), Name: plugin.Name(req.Route.Plugin)}
	if target.Publisher == "" && target.Name == "" {
		target = origin
	}

	var key any
	if len(req.Key) > 0 {
		if jsonErr := json.Unmarshal([]byte(req.Key), &key); jsonErr != nil {
			e.sendNestedError(ctx, t, id, req.Route, jsonErr)
			return
		}
	}

	value, queryErr := e.Query(ctx, target, req.Route.Query, key)
	if queryErr != nil {
		e.sendNestedError(ctx, t, id, req.Route, queryErr)
		return
	}

	outJSON, err := json.Marshal(value)
	if err != nil {
		e.sendNestedError(ctx, t, id, req.Route, err)
		return
	}

	reply := wire.Query{
		ID:        id,
		Direction: wire.DirectionResponse,
		Route:     req.Route,
		Output:    string(outJSON),
	}
	e.sendReply(ctx, t, reply)
}

// sendNestedError answers a nested request that failed to resolve. No
// error field exists on the wire frame, so the failure is carried as
// a concern alongside an empty (null) output; the requesting plugin
// is expected to treat a null reply to a nested query as a failure.
func (e *Engine) sendNestedError(ctx context.Context, t PluginTransport, id int32, route wire.Route, cause error) {
	reply := wire.Query{
		ID:        id,
		Direction: wire.DirectionResponse,
		Route:     route,
		Output:    "null",
		Concerns:  []string{cause.Error()},
	}
	e.sendReply(ctx, t, reply)
}

func (e *Engine) sendReply(ctx context.Context, t PluginTransport, reply wire.Query) {
	frames, err := wire.Chunk(reply, wire.MaxChunkSize)
	if err != nil {
		return
	}
	for _, f := range frames {
		if err := t.Send(ctx, toRPCFrame(f)); err != nil {
			return
		}
	}
}

func toWireFrames(batch []*pluginrpc.QueryFrame) []wire.Frame {
	out := make([]wire.Frame, len(batch))
	for i, f := range batch {
		out[i] = toWireFrame(f)
	}
	return out
}
