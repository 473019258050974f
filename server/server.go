package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for server metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordClientCount(count int)
	RecordError(errorType string)
}

// Config is the part of the server configuration the command handlers need.
type Config struct {
	Addr       string
	Dir        string
	DBFilename string
	Password   string

	// ReadOnly rejects client writes. A replica is always read-only.
	ReadOnly bool

	// IdleTimeout closes client connections idle for longer; zero disables it.
	IdleTimeout time.Duration
}

// Server provides Redis protocol server functionality
type Server struct {
	ks      *storage.Keyspace
	config  Config
	master  *replication.Master
	replica *replication.Replica

	logger  Logger
	metrics MetricsCollector

	// Connection management
	listener     net.Listener
	clients      *xsync.MapOf[uint64, *Client]
	nextClientID atomic.Uint64
	masterClient *Client

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	startTime    time.Time
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
	dirty        atomic.Int64
	lastSave     atomic.Int64
}

// Client represents a connected Redis client
type Client struct {
	id     uint64
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Client state
	authenticated bool
	fromMaster    bool
	name          string
	replInfo      replication.ReplicaInfo
	takeover      atomic.Bool // PSYNC accepted; the connection now belongs to the replication master
	quit          bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new Redis protocol server over ks
func NewServer(config Config, ks *storage.Keyspace) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		ks:        ks,
		config:    config,
		logger:    nopLogger{},
		clients:   xsync.NewMapOf[uint64, *Client](),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.lastSave.Store(time.Now().Unix())
	s.masterClient = &Client{server: s, authenticated: true, fromMaster: true, ctx: ctx}
	return s
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the metrics collector
func (s *Server) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// SetMaster makes the server a replication master: writes are propagated
// through m and PSYNC attaches replicas to it.
func (s *Server) SetMaster(m *replication.Master) {
	s.master = m
}

// SetReplica makes the server a replica of r's master. Client writes are
// refused and INFO reports the link.
func (s *Server) SetReplica(r *replication.Replica) {
	s.replica = r
}

// Start starts listening and serving clients
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.logger.Info("Ready to accept connections", "addr", s.listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the server and closes every client connection
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(_ uint64, client *Client) bool {
		client.Close()
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": s.clientCount(),
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
	}
}

// clientCount counts client connections, not replica links
func (s *Server) clientCount() int {
	n := 0
	s.clients.Range(func(_ uint64, c *Client) bool {
		if !c.takeover.Load() {
			n++
		}
		return true
	})
	return n
}

func (s *Server) isReadOnly() bool {
	return s.config.ReadOnly || s.replica != nil
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("Accept failed", "error", err)
			return
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		id:            s.nextClientID.Add(1),
		conn:          conn,
		reader:        protocol.NewReader(conn),
		writer:        protocol.NewWriter(conn),
		server:        s,
		authenticated: s.config.Password == "",
		ctx:           ctx,
		cancel:        cancel,
	}

	s.clients.Store(client.id, client)
	s.recordClientCount()

	// Stop may already have swept the client registry
	if s.ctx.Err() != nil {
		client.Close()
		return
	}

	s.wg.Add(1)
	go client.handle()
}

func (s *Server) recordClientCount() {
	if s.metrics != nil {
		s.metrics.RecordClientCount(s.clientCount())
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
	if _, loaded := c.server.clients.LoadAndDelete(c.id); loaded {
		c.server.recordClientCount()
	}
}

// handle reads and executes commands until the connection ends
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.config.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout))
		}

		cmd, _, err := c.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || c.ctx.Err() != nil {
				return
			}
			if protocol.IsProtocolError(err) {
				c.server.logger.Debug("Protocol error from client", "client", c.conn.RemoteAddr().String(), "error", err)
				var pe *protocol.ProtocolError
				errors.As(err, &pe)
				c.writeError("ERR Protocol error: " + pe.Message)
			}
			return
		}

		reply := c.execute(cmd)
		if reply.Type != 0 {
			if reply.IsError() {
				c.server.errorCount.Add(1)
			}
			c.writer.WriteValue(reply)
			if err := c.writer.Flush(); err != nil {
				return
			}
		}

		switch {
		case c.quit:
			return
		case c.takeover.Load():
			c.serveReplica()
			return
		}
	}
}

// serveReplica hands the connection to the replication master after PSYNC.
func (c *Client) serveReplica() {
	c.conn.SetReadDeadline(time.Time{})
	c.server.recordClientCount()

	err := c.server.master.ServeReplica(c.conn, c.reader, c.writer, c.replInfo)
	if err != nil && c.ctx.Err() == nil {
		c.server.logger.Info("Replica link closed", "replica", c.conn.RemoteAddr().String(), "error", err)
	}
}

// ApplyReplicated executes a command streamed by the master. It runs through
// the same handlers as client commands, without the read-only check.
func (s *Server) ApplyReplicated(cmd *protocol.Command) error {
	reply := s.masterClient.execute(cmd)
	if reply.IsError() {
		return errors.New(reply.Error())
	}
	return nil
}

// Response writers

func (c *Client) writeError(s string) {
	c.server.errorCount.Add(1)
	c.writer.WriteError(s)
	c.writer.Flush()
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}

var _ replication.Applier = (*Server)(nil)
