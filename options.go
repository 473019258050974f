package redisserver

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// config holds the configuration for a Server
type config struct {
	// Listener
	addr     string
	password string

	// Persistence
	dir        string
	dbFilename string

	// Replication
	masterAddr     string
	masterPassword string
	listeningPort  int
	replicationID  string
	syncTimeout    time.Duration
	connectTimeout time.Duration

	// Admin endpoint
	adminAddr   string
	adminSecret string

	// Observability
	logger  Logger
	metrics MetricsCollector

	// Behavioral options
	readOnly    bool
	idleTimeout time.Duration
	cleanup     storage.CleanupConfig
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:           ":6379",
		dir:            ".",
		dbFilename:     "dump.rdb",
		syncTimeout:    30 * time.Second,
		connectTimeout: 5 * time.Second,
		cleanup:        storage.CleanupConfigDefault,
	}
}

func (c *config) isReplica() bool {
	return c.masterAddr != ""
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithAddr sets the address the server listens on
//
// Example:
//
//	WithAddr(":6379")
//	WithAddr("127.0.0.1:0")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConfigError{Option: "addr", Value: addr, Err: err}
		}
		c.addr = addr
		return nil
	}
}

// WithPassword requires clients to AUTH with password
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithDir sets the directory holding the RDB file
func WithDir(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return &ConfigError{Option: "dir", Value: dir, Err: ErrInvalidConfig}
		}
		c.dir = dir
		return nil
	}
}

// WithDBFilename sets the RDB file name loaded at startup and written by SAVE
func WithDBFilename(name string) Option {
	return func(c *config) error {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return &ConfigError{Option: "dbfilename", Value: name, Err: ErrInvalidConfig}
		}
		c.dbFilename = name
		return nil
	}
}

// WithReplicaOf makes the server a replica of the master at addr. Both
// "host:port" and the redis.conf form "host port" are accepted.
//
// Example:
//
//	WithReplicaOf("localhost 6379")
func WithReplicaOf(addr string) Option {
	return func(c *config) error {
		normalized, err := ParseReplicaOf(addr)
		if err != nil {
			return err
		}
		c.masterAddr = normalized
		return nil
	}
}

// ParseReplicaOf converts "host port" or "host:port" into a dial address.
func ParseReplicaOf(s string) (string, error) {
	s = strings.TrimSpace(s)
	host, port := "", ""
	if fields := strings.Fields(s); len(fields) == 2 {
		host, port = fields[0], fields[1]
	} else {
		var err error
		if host, port, err = net.SplitHostPort(s); err != nil {
			return "", &ConfigError{Option: "replicaof", Value: s, Err: ErrInvalidConfig}
		}
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 || host == "" {
		return "", &ConfigError{Option: "replicaof", Value: s, Err: ErrInvalidConfig}
	}
	return net.JoinHostPort(host, port), nil
}

// WithMasterAuth sets the password sent to the master before the handshake
func WithMasterAuth(password string) Option {
	return func(c *config) error {
		c.masterPassword = password
		return nil
	}
}

// WithReplicaListeningPort overrides the port announced to the master with
// REPLCONF listening-port. By default the listening port of this server is sent.
func WithReplicaListeningPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return &ConfigError{Option: "replica listening port", Value: port, Err: ErrInvalidConfig}
		}
		c.listeningPort = port
		return nil
	}
}

// WithReplicationID sets the replication ID a master announces. By default a
// random one is generated.
func WithReplicationID(id string) Option {
	return func(c *config) error {
		if len(id) != 40 {
			return &ConfigError{Option: "replication id", Value: id, Err: ErrInvalidConfig}
		}
		c.replicationID = id
		return nil
	}
}

// WithSyncTimeout sets the time allowed for the handshake and snapshot
// transfer of a replica
//
// Example:
//
//	WithSyncTimeout(60 * time.Second)
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return &ConfigError{Option: "sync timeout", Value: timeout, Err: ErrInvalidConfig}
		}
		c.syncTimeout = timeout
		return nil
	}
}

// WithConnectTimeout sets the connection timeout for the master connection
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return &ConfigError{Option: "connect timeout", Value: timeout, Err: ErrInvalidConfig}
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithIdleTimeout closes client connections idle for longer than timeout
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return &ConfigError{Option: "idle timeout", Value: timeout, Err: ErrInvalidConfig}
		}
		c.idleTimeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return &ConfigError{Option: "logger", Value: nil, Err: ErrInvalidConfig}
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(metrics.New("master"))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithReadOnly rejects client writes on a master too. A replica is always
// read-only.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) error {
		c.readOnly = readOnly
		return nil
	}
}

// WithAdminAddr enables the HTTP admin endpoint on addr
func WithAdminAddr(addr string) Option {
	return func(c *config) error {
		if addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return &ConfigError{Option: "admin addr", Value: addr, Err: err}
			}
		}
		c.adminAddr = addr
		return nil
	}
}

// WithAdminSecret requires admin requests to carry a token issued with
// admin.NewToken(secret, ttl)
func WithAdminSecret(secret string) Option {
	return func(c *config) error {
		c.adminSecret = secret
		return nil
	}
}

// WithCleanup configures the active-expire sweep
//
// Example:
//
//	WithCleanup(storage.CleanupConfigDisabled)
func WithCleanup(cleanup storage.CleanupConfig) Option {
	return func(c *config) error {
		if cleanup.SampleSize < 0 || cleanup.MaxRounds < 0 {
			return &ConfigError{Option: "cleanup", Value: cleanup, Err: ErrInvalidConfig}
		}
		c.cleanup = cleanup
		return nil
	}
}
