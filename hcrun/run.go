// Package hcrun is the top-level facade that drives one full run: spawn
// every plugin a policy file declares in declaration order, resolve
// each analysis's default query against the target, and score the
// collected outcomes into a final report. It wires together
// pluginexec (component C), transport (component D), queryengine
// (component E), and policyfile (component F).
package hcrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/hipcheck-oss/hipcheck-core/hclog"
	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginexec"
	"github.com/hipcheck-oss/hipcheck-core/policyfile"
	"github.com/hipcheck-oss/hipcheck-core/querycache"
	"github.com/hipcheck-oss/hipcheck-core/queryengine"
	"github.com/hipcheck-oss/hipcheck-core/registry"
	"github.com/hipcheck-oss/hipcheck-core/transport"
	"go.uber.org/zap"
)

// BinaryResolver turns a declared plugin identity into the binary and
// arguments pluginexec should spawn. Resolving a manifest to a local
// binary (fetching, extracting, verifying its hash) is out of scope
// here; a caller wires in whatever download/cache layer it uses.
type BinaryResolver func(id plugin.ID) (binaryPath string, args []string, err error)

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithLogger overrides the runner's logger. Defaults to a JSON handler
// on stdout at Info level, matching the teacher's default construction.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithZapLogger overrides the logger passed down into pluginexec's
// spawn/connect retry loop, which is zap-based. Defaults to
// zap.NewProduction().
func WithZapLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.zapLog = logger }
}

// WithExecConfig overrides the executor tuning used to spawn every
// plugin. Defaults to pluginexec.DefaultConfig().
func WithExecConfig(cfg pluginexec.Config) Option {
	return func(r *Runner) { r.execConfig = cfg }
}

// WithSharedCache adds a querycache.Cache as the query engine's
// process-external second-tier memoization cache.
func WithSharedCache(c querycache.Cache) Option {
	return func(r *Runner) { r.sharedCache = c }
}

// WithRegistry registers every spawned plugin instance for discovery.
// Purely observational: never consulted to resolve a query.
func WithRegistry(reg registry.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// Runner drives one policy file's analyses to completion against one
// target and produces a scored Report.
type Runner struct {
	logger      *slog.Logger
	zapLog      *zap.Logger
	execConfig  pluginexec.Config
	sharedCache querycache.Cache
	registry    registry.Registry
	resolve     BinaryResolver
}

// New constructs a Runner. resolve supplies the binary location for
// each plugin the policy file declares; it is the only required
// argument since the rest of a run is fully determined by the policy
// file and the target.
func New(resolve BinaryResolver, opts ...Option) *Runner {
	zapLog, _ := zap.NewProduction()
	r := &Runner{
		logger:     hclog.New(hclog.Options{Level: slog.LevelInfo}),
		zapLog:     zapLog,
		execConfig: pluginexec.DefaultConfig(),
		resolve:    resolve,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runningPlugin bundles one spawned plugin's handle with the
// multiplexer fronting its query stream.
type runningPlugin struct {
	id        plugin.ID
	handle    *plugin.Handle
	transport *transport.MultiplexedQueryReceiver
}

// Run parses the policy file at policyPath, spawns every plugin it
// declares in declaration order, runs each analysis's default query
// against target, and returns the scored report. Every spawned process
// is torn down before Run returns, success or failure.
func (r *Runner) Run(ctx context.Context, policyPath string, target any) (policyfile.Report, error) {
	src, err := os.ReadFile(policyPath)
	if err != nil {
		return policyfile.Report{}, hcerr.Wrap("hcrun", hcerr.KindIO, "read policy file", err)
	}
	file, err := policyfile.Parse(src)
	if err != nil {
		return policyfile.Report{}, hcerr.Wrap("hcrun", hcerr.KindIO, "parse policy file", err)
	}

	engine := queryengine.New(ctx, r.engineOptions()...)
	defer engine.Close()

	running, err := r.startPlugins(ctx, file, engine)
	defer r.teardown(running)
	if err != nil {
		return policyfile.Report{}, err
	}

	defaults := r.collectDefaultPolicyExprs(running)
	outcomes := r.runAnalyses(ctx, engine, file, target)

	return policyfile.Score(file.Analyze, outcomes, defaults)
}

func (r *Runner) engineOptions() []queryengine.Option {
	if r.sharedCache == nil {
		return nil
	}
	return []queryengine.Option{queryengine.WithSharedCache(r.sharedCache)}
}

// startPlugins spawns every declared plugin in file order (spec.md
// §4.F's deterministic startup ordering) and registers each one's
// transport with engine. On the first spawn failure it returns the
// partial list already started, so the caller can still tear them
// down, alongside the error.
func (r *Runner) startPlugins(ctx context.Context, file policyfile.File, engine *queryengine.Engine) ([]runningPlugin, error) {
	running := make([]runningPlugin, 0, len(file.Plugins))
	for _, declared := range file.Plugins {
		id, err := plugin.NewID(declared.Name.Publisher, declared.Name.Name, declared.Version)
		if err != nil {
			return running, hcerr.Wrap("hcrun", hcerr.KindPluginConfig, "invalid plugin identity", err)
		}

		binaryPath, args, err := r.resolve(id)
		if err != nil {
			return running, hcerr.Wrap(id.String(), hcerr.KindPluginProcess, "resolve plugin binary", err)
		}

		r.logger.Info("starting plugin", "plugin", id.String())
		handle, err := pluginexec.Launch(ctx, r.zapLog, id, binaryPath, args, r.execConfig)
		if err != nil {
			return running, hcerr.Wrap(id.String(), hcerr.KindPluginProcess, "launch plugin", err)
		}

		configJSON, err := configJSONFor(file, declared.Name)
		if err != nil {
			handle.Close()
			return running, err
		}

		stream, err := pluginexec.Initialize(ctx, handle, configJSON)
		if err != nil {
			handle.Close()
			return running, err
		}

		mux := transport.New(stream, r.execConfig.GRPCMsgBufferSize)
		handle.OnClose(mux.Close)

		engine.RegisterPlugin(id.Ref, mux)
		running = append(running, runningPlugin{id: id, handle: handle, transport: mux})

		r.register(ctx, id, handle)
	}
	return running, nil
}

func (r *Runner) register(ctx context.Context, id plugin.ID, handle *plugin.Handle) {
	if r.registry == nil {
		return
	}
	info := registry.ServiceInfo{
		Kind:       "plugin",
		Name:       string(id.Name),
		Version:    id.Version.String(),
		InstanceID: uuid.New().String(),
		Endpoint:   fmt.Sprintf("localhost:%d", handle.Port()),
		Metadata:   map[string]string{"publisher": string(id.Publisher)},
	}
	if err := r.registry.Register(ctx, info); err != nil {
		r.logger.Warn("plugin registry registration failed", "plugin", id.String(), "error", err)
		return
	}
	handle.OnClose(func() {
		_ = r.registry.Deregister(context.Background(), info)
	})
}

// configJSONFor resolves the configuration a plugin should receive:
// its `config { ... }` block from the analysis it was declared under,
// with the keys of any matching `patch` entry laid over it (a patch key
// replaces an analysis key of the same name). Absent either, it sends
// an empty object.
func configJSONFor(file policyfile.File, name policyfile.PluginName) (string, error) {
	cfg := policyfile.Config{}
	if analysis, ok := file.Analyze.FindAnalysisByName(name.String()); ok {
		for k, v := range analysis.Config {
			cfg[k] = v
		}
	}
	for _, patch := range file.Patch {
		if patch.Name == name {
			for k, v := range patch.Config {
				cfg[k] = v
			}
		}
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", hcerr.Wrap("hcrun", hcerr.KindPluginConfig, "marshal plugin configuration", err)
	}
	return string(b), nil
}

// collectDefaultPolicyExprs gathers every spawned plugin's advertised
// default policy expression, keyed by "publisher/name" the way
// policyfile.Score expects.
func (r *Runner) collectDefaultPolicyExprs(running []runningPlugin) policyfile.DefaultPolicyExprs {
	defaults := make(policyfile.DefaultPolicyExprs, len(running))
	for _, p := range running {
		if p.handle.DefaultPolicyExpr != "" {
			defaults[p.id.Ref.String()] = p.handle.DefaultPolicyExpr
		}
	}
	return defaults
}

// runAnalyses runs every analysis plugin's default query against
// target concurrently, collecting one AnalysisOutcome per analysis. A
// plugin that isn't currently running, or whose query errors, is
// recorded as errored rather than aborting the whole run: spec.md
// §4.F expects analyses to fail independently.
func (r *Runner) runAnalyses(ctx context.Context, engine *queryengine.Engine, file policyfile.File, target any) map[string]policyfile.AnalysisOutcome {
	names := collectAnalysisNames(file.Analyze.Categories)

	outcomes := make(map[string]policyfile.AnalysisOutcome, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name policyfile.PluginName) {
			defer wg.Done()
			ref := plugin.Ref{Publisher: plugin.Publisher(name.Publisher), Name: plugin.Name(name.Name)}
			value, err := engine.Query(ctx, ref, "", target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("analysis query failed", "plugin", name.String(), "error", err)
				outcomes[name.String()] = policyfile.AnalysisOutcome{Name: name, Errored: true}
				return
			}
			outcomes[name.String()] = policyfile.AnalysisOutcome{Name: name, Value: value}
		}(name)
	}
	wg.Wait()
	return outcomes
}

func collectAnalysisNames(cats []policyfile.Category) []policyfile.PluginName {
	var names []policyfile.PluginName
	for _, cat := range cats {
		for _, child := range cat.Children {
			if child.Analysis != nil {
				names = append(names, child.Analysis.Name)
			}
			if child.Category != nil {
				names = append(names, collectAnalysisNames([]policyfile.Category{*child.Category})...)
			}
		}
	}
	return names
}

// teardown closes every spawned plugin's handle in reverse startup
// order, so a plugin never outlives one it might still be nested into.
func (r *Runner) teardown(running []runningPlugin) {
	for i := len(running) - 1; i >= 0; i-- {
		running[i].handle.Close()
	}
}
