package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// maxSnapshotSize bounds the full-resync payload a replica will buffer.
const maxSnapshotSize = 4 << 30

// Applier executes a command received from the master exactly as a local
// client write would be executed.
type Applier interface {
	ApplyReplicated(cmd *protocol.Command) error
}

// Replica is the replica side of replication: one outbound connection to a
// master that performs the handshake, installs the full-resync snapshot and
// then applies the master's command stream. A replica does not reconnect;
// once the link fails it stays disconnected and the keyspace keeps serving
// the last applied state.
type Replica struct {
	masterAddr     string
	masterPassword string
	listeningPort  int
	ks             *storage.Keyspace
	applier        Applier

	// Connection state
	mu     sync.RWMutex
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer

	status atomic.Int32
	offset atomic.Int64

	// Control
	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
	started  int32
	stopped  int32

	stats *ReplicationStats
	sync  *syncState

	// Configuration
	logger         Logger
	metrics        MetricsCollector
	connectTimeout time.Duration
	syncTimeout    time.Duration
}

// NewReplica creates a replica of the master at masterAddr. The snapshot is
// installed into ks and streamed commands are passed to applier.
func NewReplica(masterAddr string, ks *storage.Keyspace, applier Applier) *Replica {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Replica{
		masterAddr:     masterAddr,
		ks:             ks,
		applier:        applier,
		ctx:            ctx,
		cancel:         cancel,
		doneChan:       make(chan struct{}),
		stats:          &ReplicationStats{MasterAddr: masterAddr},
		sync:           newSyncState(),
		logger:         nopLogger{},
		connectTimeout: 5 * time.Second,
		syncTimeout:    30 * time.Second,
	}
	r.status.Store(int32(LinkConnecting))
	return r
}

// SetAuth sets the password sent with AUTH before the handshake
func (r *Replica) SetAuth(password string) {
	r.masterPassword = password
}

// SetLogger sets the logger
func (r *Replica) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics sets the metrics collector
func (r *Replica) SetMetrics(metrics MetricsCollector) {
	r.metrics = metrics
}

// SetListeningPort sets the port announced with REPLCONF listening-port
func (r *Replica) SetListeningPort(port int) {
	r.listeningPort = port
}

// SetConnectTimeout sets the connection timeout
func (r *Replica) SetConnectTimeout(timeout time.Duration) {
	r.connectTimeout = timeout
}

// SetSyncTimeout bounds the handshake and the snapshot transfer
func (r *Replica) SetSyncTimeout(timeout time.Duration) {
	r.syncTimeout = timeout
}

// MasterAddr returns the configured master address
func (r *Replica) MasterAddr() string {
	return r.masterAddr
}

// Status returns the current link status
func (r *Replica) Status() LinkStatus {
	return LinkStatus(r.status.Load())
}

// Offset returns the number of stream bytes processed so far, starting from
// the offset the master announced with FULLRESYNC.
func (r *Replica) Offset() int64 {
	return r.offset.Load()
}

// Start begins replication in the background. Use WaitForSync to wait for
// the initial snapshot.
func (r *Replica) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return fmt.Errorf("replica already started")
	}
	r.logger.Info("Connecting to MASTER", "master", r.masterAddr)
	go r.run()
	return nil
}

// Stop closes the link and waits for the replication goroutine to exit.
func (r *Replica) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.stopped, 0, 1) {
		return nil
	}
	r.cancel()
	r.disconnect()

	if atomic.LoadInt32(&r.started) == 0 {
		return nil
	}
	select {
	case <-r.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Done is closed when the link has terminated.
func (r *Replica) Done() <-chan struct{} {
	return r.doneChan
}

// Stats returns current replication statistics
func (r *Replica) Stats() ReplicationStats {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()

	return ReplicationStats{
		Status:               r.Status(),
		MasterAddr:           r.stats.MasterAddr,
		MasterReplID:         r.stats.MasterReplID,
		ReplicationOffset:    r.Offset(),
		LastSyncTime:         r.stats.LastSyncTime,
		BytesReceived:        r.stats.BytesReceived,
		CommandsProcessed:    r.stats.CommandsProcessed,
		SnapshotBytes:        r.stats.SnapshotBytes,
		LastError:            r.stats.LastError,
		InitialSyncCompleted: r.stats.InitialSyncCompleted,
	}
}

func (r *Replica) run() {
	defer close(r.doneChan)

	err := r.connect()
	if err == nil {
		err = r.handshake()
	}
	if err == nil {
		err = r.fullSync()
	}
	if err == nil {
		err = r.streamCommands()
	}

	r.disconnect()
	r.setStatus(LinkDisconnected)
	if atomic.LoadInt32(&r.stopped) == 1 {
		err = ErrStopped
	} else {
		r.logger.Error("Replication link down", "master", r.masterAddr, "error", err)
		r.recordMetricError(errorKind(err))
	}

	r.updateStats(func(s *ReplicationStats) {
		s.LastError = err.Error()
	})
	r.sync.fail(err)
}

func (r *Replica) connect() error {
	r.setStatus(LinkConnecting)

	dialer := &net.Dialer{Timeout: r.connectTimeout}
	conn, err := dialer.DialContext(r.ctx, "tcp", r.masterAddr)
	if err != nil {
		return &LinkError{Addr: r.masterAddr, Err: err}
	}

	r.mu.Lock()
	r.conn = conn
	r.reader = protocol.NewReader(conn)
	r.writer = protocol.NewWriter(conn)
	r.mu.Unlock()

	// Stop may have run between the dial and the assignment above
	if r.ctx.Err() != nil {
		conn.Close()
		return ErrStopped
	}

	r.logger.Info("MASTER <-> REPLICA sync started", "master", r.masterAddr)
	return nil
}

// disconnect closes the connection, unblocking any pending read. The field
// is left set since the replication goroutine may still be using it.
func (r *Replica) disconnect() {
	r.mu.RLock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.RUnlock()
}

// handshake runs AUTH when a password is set, PING, REPLCONF listening-port,
// REPLCONF capa and PSYNC, leaving the offset at the value announced with
// FULLRESYNC.
func (r *Replica) handshake() error {
	r.setStatus(LinkHandshaking)
	if r.syncTimeout > 0 {
		r.conn.SetDeadline(time.Now().Add(r.syncTimeout))
	}

	type step struct {
		name   string
		args   []string
		expect string
	}
	var steps []step
	if r.masterPassword != "" {
		steps = append(steps, step{"AUTH", []string{"AUTH", r.masterPassword}, "OK"})
	}
	steps = append(steps,
		step{"PING", []string{"PING"}, "PONG"},
		step{"REPLCONF listening-port", []string{"REPLCONF", "listening-port", strconv.Itoa(r.listeningPort)}, "OK"},
		step{"REPLCONF capa", []string{"REPLCONF", "capa", "psync2"}, "OK"},
	)
	for _, step := range steps {
		reply, err := r.roundTrip(step.args...)
		if err != nil {
			return &HandshakeError{Step: step.name, Err: err}
		}
		if reply.Type != protocol.TypeSimpleString || !strings.EqualFold(reply.String(), step.expect) {
			return &HandshakeError{Step: step.name, Reply: reply.String()}
		}
		r.logger.Debug("Handshake step done", "step", step.name)
	}

	// Partial resync is not supported, so PSYNC always asks for a full one
	reply, err := r.roundTrip("PSYNC", "?", "-1")
	if err != nil {
		return &HandshakeError{Step: "PSYNC", Err: err}
	}
	parts := strings.Fields(reply.String())
	if reply.Type != protocol.TypeSimpleString || len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return &HandshakeError{Step: "PSYNC", Reply: reply.String()}
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || offset < 0 {
		return &HandshakeError{Step: "PSYNC", Reply: reply.String(), Err: fmt.Errorf("invalid offset %q", parts[2])}
	}

	r.offset.Store(offset)
	r.updateStats(func(s *ReplicationStats) {
		s.MasterReplID = parts[1]
	})
	r.logger.Info("Full resync from master", "replid", parts[1], "offset", offset)
	return nil
}

func (r *Replica) roundTrip(args ...string) (protocol.Value, error) {
	if err := r.writer.WriteCommand(args[0], args[1:]...); err != nil {
		return protocol.Value{}, err
	}
	if err := r.writer.Flush(); err != nil {
		return protocol.Value{}, err
	}
	return r.reader.ReadNext()
}

// fullSync reads the snapshot payload in full and installs it. A payload that
// fails to decode leaves the keyspace untouched.
func (r *Replica) fullSync() error {
	r.setStatus(LinkSyncing)
	start := time.Now()

	payload, err := r.reader.ReadSnapshotPayload(maxSnapshotSize)
	if err != nil {
		if protocol.IsProtocolError(err) {
			return &HandshakeError{Step: "snapshot", Err: err}
		}
		return &LinkError{Addr: r.masterAddr, Err: err}
	}
	r.logger.Debug("Received snapshot payload", "bytes", len(payload))

	img, err := rdb.LoadBytes(payload)
	if err != nil {
		return fmt.Errorf("load snapshot from master: %w", err)
	}
	entries := img.Entries(0, time.Now())
	r.ks.ReplaceAll(entries)

	r.conn.SetDeadline(time.Time{})

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordSyncDuration(duration)
		r.metrics.RecordNetworkBytes(int64(len(payload)))
	}
	r.updateStats(func(s *ReplicationStats) {
		s.InitialSyncCompleted = true
		s.LastSyncTime = time.Now()
		s.SnapshotBytes = int64(len(payload))
		s.BytesReceived += int64(len(payload))
	})

	r.logger.Info("MASTER <-> REPLICA sync: Finished with success", "keys", len(entries), "bytes", len(payload), "duration", duration)
	r.setStatus(LinkStreaming)
	r.sync.complete()
	return nil
}

// streamCommands applies the master's command stream. Every command,
// including PING and REPLCONF, advances the offset by its encoded length.
func (r *Replica) streamCommands() error {
	for {
		cmd, n, err := r.reader.ReadCommand()
		if err != nil {
			if r.ctx.Err() != nil {
				return ErrStopped
			}
			return &LinkError{Addr: r.masterAddr, Err: err}
		}

		start := time.Now()
		if err := r.processCommand(cmd); err != nil {
			return err
		}
		r.offset.Add(int64(n))

		if r.metrics != nil {
			r.metrics.RecordCommandProcessed(cmd.Name, time.Since(start))
			r.metrics.RecordNetworkBytes(int64(n))
		}
		r.updateStats(func(s *ReplicationStats) {
			s.CommandsProcessed++
			s.BytesReceived += int64(n)
		})
	}
}

// processCommand handles one streamed command. Only a failure to answer
// GETACK ends the link; a command the applier rejects is logged and skipped.
func (r *Replica) processCommand(cmd *protocol.Command) error {
	switch cmd.Name {
	case "REPLCONF":
		if strings.EqualFold(cmd.Arg(0), "GETACK") {
			return r.sendAck()
		}
		return nil
	case "PING", "SELECT":
		return nil
	}

	if err := r.applier.ApplyReplicated(cmd); err != nil {
		r.logger.Error("Failed to apply replicated command", "command", cmd.Name, "error", err)
		r.recordMetricError("apply")
	}
	return nil
}

// sendAck answers GETACK with the offset before the GETACK itself.
func (r *Replica) sendAck() error {
	offset := strconv.FormatInt(r.offset.Load(), 10)
	if err := r.writer.WriteCommand("REPLCONF", "ACK", offset); err != nil {
		return &LinkError{Addr: r.masterAddr, Err: err}
	}
	if err := r.writer.Flush(); err != nil {
		return &LinkError{Addr: r.masterAddr, Err: err}
	}
	return nil
}

func (r *Replica) setStatus(s LinkStatus) {
	r.status.Store(int32(s))
}

func (r *Replica) updateStats(fn func(*ReplicationStats)) {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()
	fn(r.stats)
}

func (r *Replica) recordMetricError(errorType string) {
	if r.metrics != nil {
		r.metrics.RecordError(errorType)
	}
}

func errorKind(err error) string {
	var (
		he *HandshakeError
		le *LinkError
	)
	switch {
	case errors.As(err, &he):
		return "handshake"
	case rdb.IsFormatError(err):
		return "snapshot"
	case errors.As(err, &le):
		return "link"
	default:
		return "replication"
	}
}
