package redisserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/admin"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// SyncStatus represents the current synchronization status of a replica
type SyncStatus struct {
	InitialSyncCompleted bool
	Connected            bool
	MasterHost           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
}

// Server is a Redis-compatible in-memory server, acting either as a
// replication master or as a replica of another server.
type Server struct {
	// Configuration
	config *config
	logger Logger

	// Components
	ks      *storage.Keyspace
	srv     *server.Server
	master  *replication.Master
	replica *replication.Replica
	admin   *admin.Server

	// State
	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Server with the given options and loads the RDB file from
// the configured directory, if one exists. A snapshot that is present but
// malformed is an error: the server never starts on partial data.
//
// The server is created but not started. Use Start to begin serving.
//
// Example:
//
//	srv, err := redisserver.New(
//		redisserver.WithAddr(":6379"),
//		redisserver.WithDir("/var/lib/redis"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		app := byte('M')
		if cfg.isReplica() {
			app = 'S'
		}
		cfg.logger = defaultLogger(app)
	}

	s := &Server{
		config: cfg,
		logger: cfg.logger,
		ks:     storage.New(storage.WithCleanup(cfg.cleanup)),
	}
	if err := s.loadSnapshot(); err != nil {
		s.ks.Close()
		return nil, err
	}

	s.srv = server.NewServer(server.Config{
		Addr:        cfg.addr,
		Dir:         cfg.dir,
		DBFilename:  cfg.dbFilename,
		Password:    cfg.password,
		ReadOnly:    cfg.readOnly,
		IdleTimeout: cfg.idleTimeout,
	}, s.ks)
	s.srv.SetLogger(&loggerAdapter{logger: cfg.logger})
	if cfg.metrics != nil {
		s.srv.SetMetrics(&metricsAdapter{metrics: cfg.metrics})
	}

	if cfg.isReplica() {
		s.replica = replication.NewReplica(cfg.masterAddr, s.ks, s.srv)
		if cfg.masterPassword != "" {
			s.replica.SetAuth(cfg.masterPassword)
		}
		s.replica.SetLogger(&loggerAdapter{logger: cfg.logger})
		if cfg.metrics != nil {
			s.replica.SetMetrics(&metricsAdapter{metrics: cfg.metrics})
		}
		s.replica.SetConnectTimeout(cfg.connectTimeout)
		s.replica.SetSyncTimeout(cfg.syncTimeout)
		s.srv.SetReplica(s.replica)
	} else {
		s.master = replication.NewMaster(s.ks, cfg.replicationID)
		s.master.SetLogger(&loggerAdapter{logger: cfg.logger})
		if cfg.metrics != nil {
			s.master.SetMetrics(&metricsAdapter{metrics: cfg.metrics})
		}
		s.srv.SetMaster(s.master)
	}

	if cfg.adminAddr != "" {
		s.admin = admin.New(admin.Config{
			Secret:  cfg.adminSecret,
			Metrics: s.writeMetrics,
			Status:  func() interface{} { return s.ReplicationInfo() },
			Health:  s.health,
			Logger:  &loggerAdapter{logger: cfg.logger},
		})
	}

	return s, nil
}

// loadSnapshot installs database 0 of the configured RDB file. A missing
// file leaves the keyspace empty.
func (s *Server) loadSnapshot() error {
	path := filepath.Join(s.config.dir, s.config.dbFilename)
	start := time.Now()

	img, err := rdb.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("No RDB file to load", Field{Key: "path", Value: path})
		return nil
	}
	if err != nil {
		return fmt.Errorf("startup snapshot: %w", err)
	}

	entries := img.Entries(0, time.Now())
	s.ks.ReplaceAll(entries)
	for _, db := range img.Databases() {
		if db != 0 {
			s.logger.Info("Ignoring keys of a database other than 0", Field{Key: "db", Value: db})
		}
	}
	s.logger.Info("DB loaded from disk",
		Field{Key: "path", Value: path},
		Field{Key: "keys", Value: len(entries)},
		Field{Key: "seconds", Value: time.Since(start).Seconds()})
	return nil
}

// Start starts serving clients and, on a replica, connects to the master.
// It returns once the listener is bound; use WaitForSync to wait for a
// replica's initial synchronization.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.srv.Start(); err != nil {
		return err
	}

	if s.replica != nil {
		port := s.config.listeningPort
		if port == 0 {
			port = s.port()
		}
		s.replica.SetListeningPort(port)
		if err := s.replica.Start(); err != nil {
			s.srv.Stop()
			return err
		}
	}

	if s.admin != nil {
		if err := s.admin.Start(s.config.adminAddr); err != nil {
			if s.replica != nil {
				s.replica.Stop()
			}
			s.srv.Stop()
			return err
		}
	}

	s.started = true
	return nil
}

// WaitForSync blocks until a replica has installed the master's snapshot,
// the link fails, or ctx is done.
func (s *Server) WaitForSync(ctx context.Context) error {
	if s.replica == nil {
		return ErrNotReplica
	}
	if !s.isStarted() {
		return ErrNotConnected
	}
	err := s.replica.WaitForSync(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// OnSyncComplete registers a callback for when a replica's initial sync
// completes. It is ignored on a master.
func (s *Server) OnSyncComplete(fn func()) {
	if s.replica != nil {
		s.replica.OnSyncComplete(fn)
	}
}

// SyncStatus returns the synchronization status of a replica. On a master
// it returns the zero value.
func (s *Server) SyncStatus() SyncStatus {
	if s.replica == nil {
		return SyncStatus{}
	}
	status := s.replica.SyncStatus()
	return SyncStatus{
		InitialSyncCompleted: status.InitialSyncCompleted,
		Connected:            status.Status.Up(),
		MasterHost:           status.MasterHost,
		MasterReplID:         status.MasterReplID,
		ReplicationOffset:    status.ReplicationOffset,
		LastSyncTime:         status.LastSyncTime,
		BytesReceived:        status.BytesReceived,
		CommandsProcessed:    status.CommandsProcessed,
	}
}

// Close stops serving, closes the replication link and replica sessions,
// and releases the keyspace.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.admin != nil {
		errs = append(errs, s.admin.Close())
	}
	if s.replica != nil {
		errs = append(errs, s.replica.Stop())
	}
	if s.master != nil {
		s.master.Close()
	}
	errs = append(errs, s.srv.Stop(), s.ks.Close())
	return errors.Join(errs...)
}

// Addr returns the address clients connect to
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// AdminAddr returns the admin endpoint address, or "" when disabled
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

// Storage returns the keyspace for direct access
func (s *Server) Storage() storage.Storage {
	return s.ks
}

// Role returns "master" or "slave", as INFO replication does
func (s *Server) Role() string {
	if s.replica != nil {
		return "slave"
	}
	return "master"
}

// IsConnected reports whether a replica is streaming from its master. A
// master is always connected.
func (s *Server) IsConnected() bool {
	return s.replica == nil || s.replica.Status().Up()
}

// Save writes the keyspace to the configured RDB file
func (s *Server) Save() error {
	return s.srv.Save()
}

// ReplicationInfo returns the replication status served by the admin
// endpoint
func (s *Server) ReplicationInfo() map[string]interface{} {
	info := map[string]interface{}{"role": s.Role()}

	if s.replica != nil {
		stats := s.replica.Stats()
		info["master_addr"] = stats.MasterAddr
		info["master_replid"] = stats.MasterReplID
		info["link_status"] = stats.Status.String()
		info["offset"] = stats.ReplicationOffset
		info["initial_sync_completed"] = stats.InitialSyncCompleted
		info["bytes_received"] = stats.BytesReceived
		info["commands_processed"] = stats.CommandsProcessed
		info["snapshot_bytes"] = stats.SnapshotBytes
		if stats.LastError != "" {
			info["last_error"] = stats.LastError
		}
		return info
	}

	info["replid"] = s.master.ReplicationID()
	info["offset"] = s.master.Offset()
	info["replicas"] = s.master.Replicas()
	return info
}

// Info returns keyspace, replication and version information
func (s *Server) Info() map[string]interface{} {
	info := s.ks.Info()
	info["replication"] = s.ReplicationInfo()
	info["server"] = s.srv.Stats()
	info["version"] = VersionInfo()
	return info
}

func (s *Server) writeMetrics(w io.Writer) {
	if p, ok := s.config.metrics.(interface{ WritePrometheus(io.Writer) }); ok {
		p.WritePrometheus(w)
	}
}

func (s *Server) health() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (s *Server) port() int {
	_, port, err := net.SplitHostPort(s.srv.Addr())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// isStarted returns true if the server is started (thread-safe)
func (s *Server) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}
