package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// ReplicaInfo is what a replica announced with REPLCONF before PSYNC.
type ReplicaInfo struct {
	ListeningPort int
	Capabilities  []string
}

// ReplicaStatus describes one attached replica.
type ReplicaStatus struct {
	ID     uint64
	IP     string
	Port   int
	State  string // wait_bgsave until the snapshot is sent, then online
	Offset int64  // last acknowledged offset
}

// Master is the master side of replication: it owns the replication ID, the
// replication offset and the set of attached replica sessions.
//
// Write commands must be handed to Propagate from inside the keyspace
// critical section that applied them, so the order of the stream matches
// the order of the keyspace.
type Master struct {
	ks      *storage.Keyspace
	replID  string
	logger  Logger
	metrics MetricsCollector

	// mu serializes offset advances, stream appends and session attaches
	mu     sync.Mutex
	offset int64

	sessions *xsync.MapOf[uint64, *Session]
	nextID   atomic.Uint64

	ackMu sync.Mutex
	ackCh chan struct{}
}

// NewMaster creates the master state for ks. An empty replID generates one.
func NewMaster(ks *storage.Keyspace, replID string) *Master {
	if replID == "" {
		replID = GenerateReplicationID()
	}
	return &Master{
		ks:       ks,
		replID:   replID,
		logger:   nopLogger{},
		sessions: xsync.NewMapOf[uint64, *Session](),
		ackCh:    make(chan struct{}),
	}
}

// GenerateReplicationID returns a random 40 character hex identifier.
func GenerateReplicationID() string {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("replication: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// SetLogger sets the logger
func (m *Master) SetLogger(logger Logger) {
	m.logger = logger
}

// SetMetrics sets the metrics collector
func (m *Master) SetMetrics(metrics MetricsCollector) {
	m.metrics = metrics
}

// ReplicationID returns the master replication ID
func (m *Master) ReplicationID() string {
	return m.replID
}

// Offset returns the number of bytes propagated since startup.
func (m *Master) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Propagate appends raw to every replica stream and advances the offset by
// its length. raw must not be modified afterwards.
func (m *Master) Propagate(raw []byte) {
	m.mu.Lock()
	m.appendLocked(raw)
	m.mu.Unlock()
}

func (m *Master) appendLocked(raw []byte) {
	m.offset += int64(len(raw))
	m.sessions.Range(func(_ uint64, s *Session) bool {
		s.enqueue(raw)
		return true
	})
}

// ServeReplica performs a full resync on a connection that has just sent
// PSYNC, then streams propagated commands to it until the connection fails.
// rd and wr must be the connection's reader and writer, so that bytes the
// replica already pipelined are not lost.
func (m *Master) ServeReplica(conn net.Conn, rd *protocol.Reader, wr *protocol.Writer, info ReplicaInfo) error {
	s := newSession(m.nextID.Add(1), conn, wr, info)

	// Snapshot, offset and registration happen at one instant: no write can
	// land between them, so the replica sees every later write exactly once.
	var (
		entries []storage.Entry
		offset  int64
	)
	m.ks.View(func(tx *storage.ReadTxn) error {
		entries = tx.Entries()
		m.mu.Lock()
		offset = m.offset
		m.sessions.Store(s.id, s)
		m.mu.Unlock()
		return nil
	})
	defer m.detach(s)
	m.recordReplicaCount()

	m.logger.Info("Replica asks for synchronization", "replica", s.addr, "listening_port", info.ListeningPort)

	start := time.Now()
	payload, err := rdb.EncodeEntries(entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := wr.WriteSimpleString(fmt.Sprintf("FULLRESYNC %s %d", m.replID, offset)); err != nil {
		return &LinkError{Addr: s.addr, Err: err}
	}
	if err := wr.WriteSnapshotPayload(payload); err != nil {
		return &LinkError{Addr: s.addr, Err: err}
	}
	if err := wr.Flush(); err != nil {
		return &LinkError{Addr: s.addr, Err: err}
	}
	s.online.Store(true)

	if m.metrics != nil {
		m.metrics.RecordSyncDuration(time.Since(start))
		m.metrics.RecordNetworkBytes(int64(len(payload)))
	}
	m.logger.Info("Synchronization with replica succeeded", "replica", s.addr, "keys", len(entries), "bytes", len(payload), "offset", offset)

	go s.writeLoop(m.logger)
	return m.readAcks(s, rd)
}

// readAcks consumes what the replica sends back, which is REPLCONF ACK.
func (m *Master) readAcks(s *Session, rd *protocol.Reader) error {
	for {
		cmd, _, err := rd.ReadCommand()
		if err != nil {
			return &LinkError{Addr: s.addr, Err: err}
		}
		if cmd.Name != "REPLCONF" || !strings.EqualFold(cmd.Arg(0), "ACK") {
			m.logger.Debug("Ignoring command from replica", "replica", s.addr, "command", cmd.Name)
			continue
		}
		offset, err := strconv.ParseInt(cmd.Arg(1), 10, 64)
		if err != nil {
			m.logger.Debug("Invalid ACK offset", "replica", s.addr, "offset", cmd.Arg(1))
			continue
		}
		s.acked.Store(offset)
		m.notifyAck()
	}
}

func (m *Master) detach(s *Session) {
	m.sessions.Delete(s.id)
	s.close()
	m.notifyAck()
	m.recordReplicaCount()
	m.logger.Info("Connection with replica lost", "replica", s.addr)
}

// WaitForAcks implements WAIT. It returns as soon as numReplicas replicas
// have acknowledged every write propagated before the call, or when timeout
// elapses (zero waits until ctx is done). When not enough replicas are
// caught up yet, REPLCONF GETACK * is appended to every stream first.
func (m *Master) WaitForAcks(ctx context.Context, numReplicas int, timeout time.Duration) int {
	m.mu.Lock()
	target := m.offset
	if n := m.ackedCount(target); n >= numReplicas {
		m.mu.Unlock()
		return n
	}
	m.appendLocked(protocol.EncodeCommand("REPLCONF", "GETACK", "*"))
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		signal := m.ackSignal()
		n := m.ackedCount(target)
		if n >= numReplicas {
			return n
		}
		select {
		case <-signal:
		case <-expired:
			return m.ackedCount(target)
		case <-ctx.Done():
			return m.ackedCount(target)
		}
	}
}

func (m *Master) ackedCount(target int64) int {
	return lo.CountBy(m.sessionList(), func(s *Session) bool {
		return s.online.Load() && s.acked.Load() >= target
	})
}

func (m *Master) ackSignal() <-chan struct{} {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	return m.ackCh
}

func (m *Master) notifyAck() {
	m.ackMu.Lock()
	close(m.ackCh)
	m.ackCh = make(chan struct{})
	m.ackMu.Unlock()
}

// ReplicaCount returns the number of attached replicas.
func (m *Master) ReplicaCount() int {
	return m.sessions.Size()
}

// Replicas returns the attached replicas in attach order.
func (m *Master) Replicas() []ReplicaStatus {
	return lo.Map(m.sessionList(), func(s *Session, _ int) ReplicaStatus {
		return s.status()
	})
}

func (m *Master) sessionList() []*Session {
	list := make([]*Session, 0, m.sessions.Size())
	m.sessions.Range(func(_ uint64, s *Session) bool {
		list = append(list, s)
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Close disconnects every replica.
func (m *Master) Close() {
	for _, s := range m.sessionList() {
		s.close()
	}
}

func (m *Master) recordReplicaCount() {
	if m.metrics != nil {
		m.metrics.RecordReplicaCount(m.sessions.Size())
	}
}

// Session is one attached replica. Propagated commands are queued without
// bound and written by the session's own goroutine, so a slow replica never
// blocks the clients whose writes it receives.
type Session struct {
	id   uint64
	addr string
	info ReplicaInfo
	conn net.Conn
	w    *protocol.Writer

	mu      sync.Mutex
	pending [][]byte
	notify  chan struct{}

	online    atomic.Bool
	acked     atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id uint64, conn net.Conn, w *protocol.Writer, info ReplicaInfo) *Session {
	return &Session{
		id:     id,
		addr:   conn.RemoteAddr().String(),
		info:   info,
		conn:   conn,
		w:      w,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Session) enqueue(raw []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, raw)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) writeLoop(logger Logger) {
	for {
		select {
		case <-s.notify:
		case <-s.done:
			return
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, raw := range batch {
			if err := s.w.WriteRaw(raw); err != nil {
				logger.Error("Write to replica failed", "replica", s.addr, "error", err)
				s.close()
				return
			}
		}
		if err := s.w.Flush(); err != nil {
			logger.Error("Write to replica failed", "replica", s.addr, "error", err)
			s.close()
			return
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) status() ReplicaStatus {
	ip := s.addr
	if host, _, err := net.SplitHostPort(s.addr); err == nil {
		ip = host
	}
	state := "wait_bgsave"
	if s.online.Load() {
		state = "online"
	}
	return ReplicaStatus{
		ID:     s.id,
		IP:     ip,
		Port:   s.info.ListeningPort,
		State:  state,
		Offset: s.acked.Load(),
	}
}
