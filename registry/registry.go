// Package registry provides optional service discovery for spawned
// hipcheck plugin processes.
//
// Every spawned plugin instance can register itself at runtime so
// other tooling (dashboards, a second hipcheck process sharing a
// fleet) can find it. The Client in this package connects to an
// external etcd cluster at the configured endpoints; it does not start
// an in-process (embedded) etcd server.
//
// A plugin process uses the Registry interface to register on spawn,
// maintain presence via lease keepalives, and deregister when its
// plugin.Handle closes. This is pure observability: hipcheck's own
// plugin lookup goes through plugin.Ref/pluginexec, never through
// this registry.
package registry

import (
	"context"
	"time"
)

// ServiceInfo describes one spawned plugin instance.
type ServiceInfo struct {
	// Kind is always "plugin" for hipcheck.
	Kind string `json:"kind"`

	// Name is the plugin name (e.g., "activity", "churn").
	Name string `json:"name"`

	// Version is the plugin's semantic version (e.g., "1.2.3").
	Version string `json:"version"`

	// InstanceID is a unique identifier for this specific process,
	// allowing multiple instances of the same plugin to run concurrently.
	InstanceID string `json:"instance_id"`

	// Endpoint is the network address where this instance's gRPC
	// server can be reached, e.g. "localhost:50051".
	Endpoint string `json:"endpoint"`

	// Metadata carries free-form labels for dashboards and discovery
	// tooling; hcrun sets the plugin's publisher under "publisher".
	Metadata map[string]string `json:"metadata"`

	// StartedAt is the timestamp when this instance started.
	StartedAt time.Time `json:"started_at"`
}

// Registry defines the service registration and discovery interface.
//
// Implementations must provide thread-safe access to service registration,
// discovery, and watch capabilities. The registry uses etcd leases with TTL
// to automatically remove stale entries when components crash or disconnect.
//
// Example usage:
//
//	reg, _ := registry.NewClient(config)
//	defer reg.Close()
//
//	info := ServiceInfo{
//	    Kind:       "plugin",
//	    Name:       "activity",
//	    Version:    "1.0.0",
//	    InstanceID: uuid.New().String(),
//	    Endpoint:   "localhost:50051",
//	    Metadata:   map[string]string{"publisher": "mitre"},
//	    StartedAt:  time.Now(),
//	}
//
//	reg.Register(ctx, info)
//	defer reg.Deregister(ctx, info)
type Registry interface {
	// Register adds this service instance to the registry.
	//
	// The service will be discoverable by other components immediately.
	// The implementation must create an etcd lease with the configured TTL
	// and associate the service entry with that lease. A background goroutine
	// should renew the lease periodically (typically every TTL/3).
	//
	// If the service instance is already registered (same InstanceID), this
	// should update the existing entry rather than creating a duplicate.
	//
	// Returns an error if the registry is unavailable or if the lease cannot
	// be created.
	Register(ctx context.Context, info ServiceInfo) error

	// Deregister removes this service instance from the registry.
	//
	// This should be called during graceful shutdown to immediately remove
	// the service from discovery. The implementation should revoke the
	// associated etcd lease, which will delete the service entry.
	//
	// If the service is not registered, this is a no-op (not an error).
	//
	// Returns an error if the registry is unavailable.
	Deregister(ctx context.Context, info ServiceInfo) error

	// Discover finds all instances of a service by kind and name.
	//
	// For example, to find all instances of the "activity" plugin:
	//   instances, _ := reg.Discover(ctx, "plugin", "activity")
	//
	// The returned slice may be empty if no instances are currently registered.
	// Instances are returned in arbitrary order.
	//
	// Returns an error if the registry is unavailable or if the query fails.
	Discover(ctx context.Context, kind, name string) ([]ServiceInfo, error)

	// DiscoverAll finds all instances of a given kind.
	//
	// For example, to find every registered plugin:
	//   plugins, _ := reg.DiscoverAll(ctx, "plugin")
	//
	// This is useful for status displays and dashboards.
	//
	// The returned slice may be empty if no instances are registered.
	//
	// Returns an error if the registry is unavailable or if the query fails.
	DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error)

	// Watch returns a channel that receives updates when services change.
	//
	// The channel will emit the current list of instances whenever:
	//   - A new instance registers
	//   - An existing instance deregisters
	//   - An instance's lease expires (crashed or disconnected)
	//
	// The initial state is sent immediately upon calling Watch. Subsequent
	// updates are sent as changes occur.
	//
	// The watch is scoped to a specific kind and name. To watch every
	// plugin, call Watch multiple times or use DiscoverAll periodically.
	//
	// The channel is closed when:
	//   - The provided context is canceled
	//   - Close() is called on the registry
	//   - An unrecoverable error occurs
	//
	// Example:
	//   ch, _ := reg.Watch(ctx, "plugin", "activity")
	//   for instances := range ch {
	//       log.Printf("activity instances: %d", len(instances))
	//   }
	//
	// Returns an error if the registry is unavailable or if the watch cannot
	// be established.
	Watch(ctx context.Context, kind, name string) (<-chan []ServiceInfo, error)

	// Close releases registry resources and stops all background goroutines.
	//
	// This should be called during application shutdown. After Close() is called,
	// all other methods will return errors.
	//
	// For Client, this closes the etcd client connection.
	//
	// All active watches will be terminated and their channels closed.
	//
	// Returns an error if cleanup fails, though this is typically ignored during
	// shutdown.
	Close() error
}

// Config holds registry connection configuration.
//
// NewClient reads Endpoints, Namespace, TTL and TLS. It always connects
// to an external etcd cluster at Endpoints, optionally over TLS. It does
// not read Type, DataDir or ListenAddress, and it never starts an
// embedded etcd server.
type Config struct {
	// Type names a registry mode ("embedded" or "etcd").
	// NewClient does not read this field.
	Type string `json:"type"`

	// Endpoints is the list of etcd endpoints to connect to
	// Format: ["host1:2379", "host2:2379", "host3:2379"]
	// Required: NewClient returns an error when it is empty
	Endpoints []string `json:"endpoints"`

	// Namespace is the etcd key prefix for all hipcheck plugin registrations
	// All services are stored under /{namespace}/{kind}/{name}/{instance-id}
	// Default: "hipcheck"
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds
	// Services must renew their lease within this interval or be removed
	// Default: 30 seconds
	// Recommended: 15-60 seconds depending on failure detection requirements
	TTL int `json:"ttl"`

	// DataDir names a data directory for an embedded etcd server
	// NewClient does not read this field
	DataDir string `json:"data_dir"`

	// ListenAddress names a client listen address for an embedded etcd server
	// Format: "host:port"
	// NewClient does not read this field
	ListenAddress string `json:"listen_address"`

	// TLS holds TLS configuration for secure etcd communication
	// Optional
	// If nil, TLS is disabled
	TLS *TLSConfig `json:"tls"`
}

// TLSConfig holds TLS certificate configuration for secure registry communication.
//
// When TLS is enabled, all communication with etcd is encrypted and authenticated
// using mutual TLS (mTLS). This is strongly recommended for production deployments.
type TLSConfig struct {
	// Enabled determines whether TLS is active
	// If false, all other fields are ignored
	Enabled bool `json:"enabled"`

	// CertFile is the path to the client certificate file (PEM format)
	// Required if Enabled=true
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the client private key file (PEM format)
	// Required if Enabled=true
	KeyFile string `json:"key_file"`

	// CAFile is the path to the certificate authority file (PEM format)
	// Used to verify the etcd server's certificate
	// Required if Enabled=true
	CAFile string `json:"ca_file"`
}
