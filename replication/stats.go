package replication

import (
	"sync"
	"time"
)

// LinkStatus is the state of a replica's connection to its master.
type LinkStatus int32

const (
	LinkConnecting LinkStatus = iota
	LinkHandshaking
	LinkSyncing
	LinkStreaming
	LinkDisconnected
)

// String returns the status name
func (s LinkStatus) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkHandshaking:
		return "handshaking"
	case LinkSyncing:
		return "sync"
	case LinkStreaming:
		return "streaming"
	case LinkDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Up reports whether the link is applying the master's command stream, the
// condition INFO reports as master_link_status:up.
func (s LinkStatus) Up() bool {
	return s == LinkStreaming
}

// ReplicationStats tracks replica-side replication statistics
type ReplicationStats struct {
	mu sync.RWMutex

	Status            LinkStatus
	MasterAddr        string
	MasterReplID      string
	ReplicationOffset int64
	LastSyncTime      time.Time
	BytesReceived     int64
	CommandsProcessed int64
	SnapshotBytes     int64
	LastError         string

	InitialSyncCompleted bool
}

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReplicaCount(count int)
	RecordError(errorType string)
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
