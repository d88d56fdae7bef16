package pluginexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/hipcheck-oss/hipcheck-core/plugin"
	"github.com/hipcheck-oss/hipcheck-core/pluginrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// errPortInUse marks a connection failure caused by the chosen port
// already being bound, which is retryable by picking a new port.
var errPortInUse = errors.New("pluginexec: port already in use")

// Launch runs the spawn algorithm for one plugin: pick a port, start
// the binary, and connect. The whole attempt (new port, new process) is
// repeated, up to cfg.MaxSpawnAttempts times, only when a failed connect
// is attributed to a port conflict (see bindErrorSignals); any other
// failure ends Launch after that attempt.
func Launch(ctx context.Context, logger *zap.Logger, id plugin.ID, binaryPath string, args []string, cfg Config) (*plugin.Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxSpawnAttempts; attempt++ {
		handle, err := spawnOnce(ctx, logger, id, binaryPath, args, cfg)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !errors.Is(err, errPortInUse) {
			return nil, hcerr.Wrap(id.String(), hcerr.KindPluginProcess, "spawn failed fatally", err)
		}
		logger.Warn("plugin spawn attempt failed, retrying",
			zap.String("plugin", id.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, hcerr.Wrap(id.String(), hcerr.KindPluginProcess,
		fmt.Sprintf("exhausted %d spawn attempts", cfg.MaxSpawnAttempts), lastErr)
}

// bindErrorSignals are substrings a plugin's stderr is checked against
// to tell "this port was already bound" apart from any other spawn
// failure. Matching one of these is the only thing that makes a spawn
// failure retryable.
var bindErrorSignals = []string{
	"address already in use",
	"bind: address already in use",
	"eaddrinuse",
}

func spawnOnce(ctx context.Context, logger *zap.Logger, id plugin.ID, binaryPath string, args []string, cfg Config) (*plugin.Handle, error) {
	port := choosePort(cfg.PortRange)

	cmdArgs := append(append([]string{}, args...), "--port", strconv.Itoa(port))
	cmd := exec.CommandContext(ctx, binaryPath, cmdArgs...)
	cmd.Stdout = os.Stdout
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pluginexec: start %s: %w", binaryPath, err)
	}

	conn, err := connectWithRetry(ctx, logger, id, port, cfg)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		if looksLikeBindError(stderrBuf.String()) {
			return nil, fmt.Errorf("%w: %v", errPortInUse, err)
		}
		// The process started but never became reachable for a reason
		// other than a contested port (crash, handshake/TLS failure,
		// etc.) — fatal, not worth retrying with a fresh port.
		return nil, fmt.Errorf("pluginexec: spawn %s: %w", binaryPath, err)
	}

	return plugin.NewHandle(id, cmd, port, conn), nil
}

func looksLikeBindError(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, signal := range bindErrorSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// connectWithRetry attempts to open a gRPC channel to the freshly
// spawned plugin, sleeping a jittered backoff interval between tries.
func connectWithRetry(ctx context.Context, logger *zap.Logger, id plugin.ID, port int, cfg Config) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxConnAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := pluginrpc.Dial(dialCtx, addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug("plugin connection attempt failed",
			zap.String("plugin", id.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == cfg.MaxConnAttempts {
			break
		}
		if err := sleepBackoff(ctx, cfg.BackoffIntervalMicros, cfg.JitterPercent); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("pluginexec: connect to %s: %w", addr, lastErr)
}

// sleepBackoff sleeps backoff_interval_micros × (1 + rand(±jitter_percent%)),
// returning early if ctx is cancelled first.
func sleepBackoff(ctx context.Context, intervalMicros, jitterPercent int) error {
	jitter := 1.0
	if jitterPercent > 0 {
		spread := float64(jitterPercent) / 100.0
		jitter = 1.0 + (rand.Float64()*2-1)*spread
	}
	d := time.Duration(float64(intervalMicros)*jitter) * time.Microsecond
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func choosePort(r PortRange) int {
	span := r.Max - r.Min + 1
	return r.Min + rand.Intn(span)
}
