// Package queryengine drives one plugin query to completion, handling
// any nested plugin-to-plugin queries a plugin issues along the way,
// and memoizes every answer by its (publisher, plugin, query, key)
// tuple so a second identical call never touches the plugin again.
package queryengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"github.com/hipcheck-oss/hipcheck-core/querycache"
	"github.com/hipcheck-oss/hipcheck-core/wire"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSharedCache adds a process-external second tier to the engine's
// memoization cache: a miss in-process is checked against c before
// falling back to a live plugin query, and a fresh answer is written
// through to c. Never required for correctness within one run.
func WithSharedCache(c querycache.Cache) Option {
	return func(e *Engine) {
		e.shared = c
	}
}

// WithTracerProvider overrides the trace.TracerProvider used to span
// each Query call. Defaults to the global provider
// (otel.GetTracerProvider()), which is a no-op until an application
// wires a real SDK exporter in.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer("queryengine")
	}
}

// WithMeterProvider overrides the metric.MeterProvider backing the
// cache hit/miss counter. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.setMeter(mp.Meter("queryengine"))
	}
}

// PluginTransport is the per-plugin multiplexer surface the engine
// needs; transport.MultiplexedQueryReceiver satisfies it.
type PluginTransport interface {
	Claim(id int32)
	Send(ctx context.Context, frame *pluginrpc.QueryFrame) error
	Recv(ctx context.Context, id int32) ([]*pluginrpc.QueryFrame, error)
	NextSession(ctx context.Context) (int32, []*pluginrpc.QueryFrame, error)
}

type cacheEntry struct {
	done  chan struct{}
	value any
	err   error
}

type inProgressKey struct{}

// Engine resolves queries against every plugin registered with it,
// recursively evaluating nested requests and memoizing every answer.
type Engine struct {
	mu      sync.Mutex
	plugins map[plugin.Ref]PluginTransport
	cache   map[string]*cacheEntry
	nextID  atomic.Int32

	closeCtx    context.Context
	closeCancel context.CancelFunc
	wg          sync.WaitGroup

	shared querycache.Cache

	tracer     trace.Tracer
	cacheCount metric.Int64Counter
}

func (e *Engine) setMeter(m metric.Meter) {
	counter, err := m.Int64Counter("queryengine.cache_result",
		metric.WithDescription("Count of Query calls by how the answer was resolved (memo_hit, shared_hit, plugin_call)."))
	if err == nil {
		e.cacheCount = counter
	}
}

func (e *Engine) recordCacheResult(ctx context.Context, outcome string) {
	if e.cacheCount == nil {
		return
	}
	e.cacheCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// New constructs an Engine. Cancelling bgCtx (or calling Close) is a
// best-effort shutdown signal: it does not preempt calls already
// blocked on a caller-supplied ctx of their own.
func New(bgCtx context.Context, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(bgCtx)
	e := &Engine{
		plugins:     make(map[plugin.Ref]PluginTransport),
		cache:       make(map[string]*cacheEntry),
		closeCtx:    ctx,
		closeCancel: cancel,
		tracer:      otel.Tracer("queryengine"),
	}
	e.setMeter(otel.Meter("queryengine"))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterPlugin wires a live plugin's transport into the engine.
// Nested sessions that plugin opens are only watched for while some
// Query call is actively awaiting that plugin's reply, since per the
// protocol a plugin only emits a nested Submit frame in response to
// a query it is currently being asked.
func (e *Engine) RegisterPlugin(ref plugin.Ref, t PluginTransport) {
	e.mu.Lock()
	e.plugins[ref] = t
	e.mu.Unlock()
}

// Close waits for any in-flight nested-session goroutines spawned by
// outstanding Query calls to finish. It is best-effort: a Query whose
// own ctx is never cancelled and never completes will make Close
// block until it does.
func (e *Engine) Close() {
	e.closeCancel()
	e.wg.Wait()
}

func (e *Engine) transportFor(ref plugin.Ref) (PluginTransport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.plugins[ref]
	return t, ok
}

// Query resolves one (publisher, plugin, query, key) tuple to its
// output value, memoizing the result and collapsing concurrent
// duplicate calls into a single underlying plugin request.
func (e *Engine) Query(ctx context.Context, ref plugin.Ref, queryName string, key any) (any, error) {
	ctx, span := e.tracer.Start(ctx, "queryengine.Query", trace.WithAttributes(
		attribute.String("hipcheck.plugin", ref.String()),
		attribute.String("hipcheck.query", queryName),
	))
	defer span.End()

	canon, err := canonicalJSON(key)
	if err != nil {
		return nil, hcerr.Wrap("queryengine", hcerr.KindProtocol, "memoization key", err)
	}
	cacheKey := ref.String() + "\x00" + queryName + "\x00" + canon

	if seen, _ := ctx.Value(inProgressKey{}).(map[string]bool); seen[cacheKey] {
		return nil, hcerr.Wrap("queryengine", hcerr.KindProtocol,
			fmt.Sprintf("cycle detected resolving %s", cacheKey), hcerr.ErrUnspecifiedQueryState)
	}

	entry, created := e.loadOrCreateEntry(cacheKey)
	if !created {
		<-entry.done
		e.recordCacheResult(ctx, "memo_hit")
		return entry.value, entry.err
	}

	if e.shared != nil {
		if raw, ok, err := e.shared.Get(ctx, cacheKey); err == nil && ok {
			var value any
			if err := json.Unmarshal([]byte(raw), &value); err == nil {
				entry.value = value
				close(entry.done)
				e.recordCacheResult(ctx, "shared_hit")
				return value, nil
			}
		}
	}

	e.recordCacheResult(ctx, "plugin_call")
	childStack := extendInProgress(ctx, cacheKey)
	value, err := e.execute(context.WithValue(ctx, inProgressKey{}, childStack), ref, queryName, key)
	entry.value, entry.err = value, err
	close(entry.done)

	if err == nil && e.shared != nil {
		if raw, marshalErr := json.Marshal(value); marshalErr == nil {
			_ = e.shared.Set(ctx, cacheKey, string(raw))
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return value, err
}

func extendInProgress(ctx context.Context, key string) map[string]bool {
	parent, _ := ctx.Value(inProgressKey{}).(map[string]bool)
	next := make(map[string]bool, len(parent)+1)
	for k := range parent {
		next[k] = true
	}
	next[key] = true
	return next
}

func (e *Engine) loadOrCreateEntry(key string) (*cacheEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.cache[key]; ok {
		return entry, false
	}
	entry := &cacheEntry{done: make(chan struct{})}
	e.cache[key] = entry
	return entry, true
}

// BatchQuery evaluates keys against one (ref, queryName) pair
// concurrently, preserving input order in the returned slice
// regardless of completion order.
func (e *Engine) BatchQuery(ctx context.Context, ref plugin.Ref, queryName string, keys []any) ([]any, error) {
	results := make([]any, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k any) {
			defer wg.Done()
			results[i], errs[i] = e.Query(ctx, ref, queryName, k)
		}(i, k)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// execute sends one fresh query session to ref's plugin and drives it
// to completion, handling ReplyInProgress accumulation transparently.
func (e *Engine) execute(ctx context.Context, ref plugin.Ref, queryName string, key any) (any, error) {
	t, ok := e.transportFor(ref)
	if !ok {
		return nil, hcerr.New("queryengine", hcerr.KindPluginProcess, fmt.Sprintf("plugin %s is not registered", ref))
	}

	keyJSON, err := json.Marshal(key)
	if err != nil {
		return nil, hcerr.Wrap("queryengine", hcerr.KindProtocol, "marshal query key", err)
	}

	id := e.nextID.Add(1)
	t.Claim(id)

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	e.wg.Add(1)
	go e.watchNestedSessions(watchCtx, ref, t)

	q := wire.Query{
		ID:        id,
		Direction: wire.DirectionRequest,
		Route:     wire.Route{Publisher: string(ref.Publisher), Plugin: string(ref.Name), Query: queryName},
		Key:       string(keyJSON),
	}
	frames, err := wire.Chunk(q, wire.MaxChunkSize)
	if err != nil {
		return nil, hcerr.Wrap("queryengine", hcerr.KindChunking, "chunk query request", err)
	}
	for _, f := range frames {
		if err := t.Send(ctx, toRPCFrame(f)); err != nil {
			return nil, hcerr.Wrap(ref.String(), hcerr.KindPluginProcess, "send query frame", err)
		}
	}

	var synth wire.Synthesizer
	for {
		batch, err := t.Recv(ctx, id)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, hcerr.Wrap(ref.String(), hcerr.KindProtocol, "awaiting reply", hcerr.ErrRemoteClosed)
			}
			return nil, hcerr.Wrap(ref.String(), hcerr.KindProtocol, "awaiting reply", err)
		}

		wireFrames := make([]wire.Frame, len(batch))
		for i, f := range batch {
			wireFrames[i] = toWireFrame(f)
		}
		result, err := synth.Add(wireFrames)
		if err != nil {
			return nil, hcerr.Wrap(ref.String(), hcerr.KindProtocol, "reassemble reply", err)
		}
		if result == nil {
			continue
		}

		var out any
		if len(result.Output) > 0 {
			if err := json.Unmarshal([]byte(result.Output), &out); err != nil {
				return nil, hcerr.Wrap(ref.String(), hcerr.KindProtocol, "decode reply output", err)
			}
		}
		return out, nil
	}
}

func toRPCFrame(f wire.Frame) *pluginrpc.QueryFrame {
	return &pluginrpc.QueryFrame{
		ID:            f.ID,
		State:         pluginrpc.QueryState(f.State),
		PublisherName: f.PublisherName,
		PluginName:    f.PluginName,
		QueryName:     f.QueryName,
		Key:           f.Key,
		Output:        f.Output,
		Concern:       f.Concern,
	}
}

func toWireFrame(f *pluginrpc.QueryFrame) wire.Frame {
	return wire.Frame{
		ID:            f.ID,
		State:         wire.State(f.State),
		PublisherName: f.PublisherName,
		PluginName:    f.PluginName,
		QueryName:     f.QueryName,
		Key:           f.Key,
		Output:        f.Output,
		Concern:       f.Concern,
	}
}

func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", hcerr.ErrNaNKey, err)
	}
	return string(b), nil
}
