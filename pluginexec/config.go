// Package pluginexec launches plugin binaries chosen by a policy file,
// retrying spawn and connection attempts with backoff, and performs
// the handshake sequence that turns a freshly started process into a
// usable plugin.Handle.
package pluginexec

import (
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
	"github.com/sblinch/kdl-go"
)

// PortRange bounds the ports the executor may choose when launching a
// plugin, inclusive on both ends.
type PortRange struct {
	Min int
	Max int
}

// Config holds the executor's tunables, overridable per-deployment by
// an Exec.kdl file; every field defaults to the value Hipcheck ships.
type Config struct {
	MaxSpawnAttempts      int
	MaxConnAttempts       int
	PortRange             PortRange
	BackoffIntervalMicros int
	JitterPercent         int
	GRPCMsgBufferSize     int
}

// DefaultConfig returns the executor's built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxSpawnAttempts:      3,
		MaxConnAttempts:       5,
		PortRange:             PortRange{Min: 40000, Max: 65535},
		BackoffIntervalMicros: 100000,
		JitterPercent:         10,
		GRPCMsgBufferSize:     10,
	}
}

// LoadConfig parses an Exec.kdl document, starting from DefaultConfig
// and overriding only the fields the document sets.
func LoadConfig(src []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(src) == 0 {
		return cfg, nil
	}
	doc, err := kdl.Parse(src)
	if err != nil {
		return Config{}, hcerr.Wrap("pluginexec", hcerr.KindIO, "parse Exec.kdl", err)
	}
	for _, node := range doc.Nodes {
		switch node.Name {
		case "max_spawn_attempts":
			cfg.MaxSpawnAttempts, err = firstInt(node)
		case "max_conn_attempts":
			cfg.MaxConnAttempts, err = firstInt(node)
		case "port_range":
			cfg.PortRange, err = parsePortRange(node)
		case "backoff_interval_micros":
			cfg.BackoffIntervalMicros, err = firstInt(node)
		case "jitter_percent":
			cfg.JitterPercent, err = firstInt(node)
		case "grpc_msg_buffer_size":
			cfg.GRPCMsgBufferSize, err = firstInt(node)
		}
		if err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func firstInt(node *kdl.Node) (int, error) {
	if len(node.Arguments) == 0 {
		return 0, hcerr.New("pluginexec", hcerr.KindIO, fmt.Sprintf("%s: missing value", node.Name))
	}
	v, err := node.Arguments[0].Int64()
	if err != nil {
		return 0, hcerr.Wrap("pluginexec", hcerr.KindIO, fmt.Sprintf("%s: expected an integer", node.Name), err)
	}
	return int(v), nil
}

// parsePortRange reads a `port_range min max` node.
func parsePortRange(node *kdl.Node) (PortRange, error) {
	if len(node.Arguments) != 2 {
		return PortRange{}, hcerr.New("pluginexec", hcerr.KindIO, "port_range: expected two integer arguments")
	}
	min, err := node.Arguments[0].Int64()
	if err != nil {
		return PortRange{}, hcerr.Wrap("pluginexec", hcerr.KindIO, "port_range: min must be an integer", err)
	}
	max, err := node.Arguments[1].Int64()
	if err != nil {
		return PortRange{}, hcerr.Wrap("pluginexec", hcerr.KindIO, "port_range: max must be an integer", err)
	}
	if max < min {
		return PortRange{}, hcerr.New("pluginexec", hcerr.KindIO, "port_range: max must not be less than min")
	}
	return PortRange{Min: int(min), Max: int(max)}, nil
}
