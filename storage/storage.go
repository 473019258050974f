package storage

import (
	"time"
)

// Storage is the keyspace API consumed by the command dispatcher and the
// replication layer. *Keyspace is the only implementation.
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, expiry *time.Time)
	Del(keys ...string) int64
	Exists(keys ...string) int64

	// Expiration operations
	TTL(key string) time.Duration
	PTTL(key string) time.Duration

	// Key operations
	Keys(pattern string) []string
	KeyCount() int64
	FlushAll()
	Type(key string) ValueType

	// Serialized multi-step access
	View(fn func(tx *ReadTxn) error) error
	Update(fn func(tx *Txn) error) error

	// Bulk operations used by snapshot load/save and full resync
	ReplaceAll(entries []Entry)
	Snapshot() []Entry

	// Info and stats
	Info() map[string]interface{}
	Digest() uint64

	// Shutdown
	Close() error
}

// CleanupConfig holds configuration for the sampled active-expire sweep.
// A zero Interval disables the sweep; expired keys are then only removed
// lazily when accessed.
type CleanupConfig struct {
	// Interval between sweep cycles
	Interval time.Duration
	// SampleSize is the number of keys with an expiry sampled per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// ExpiredThreshold continues cleanup if this fraction of sampled keys were expired
	ExpiredThreshold float64
}

// CleanupConfigDefault is close to Redis' own active expire cycle
var CleanupConfigDefault = CleanupConfig{
	Interval:         100 * time.Millisecond,
	SampleSize:       20,
	MaxRounds:        4,
	ExpiredThreshold: 0.25,
}

// CleanupConfigLowLatency keeps each sweep short to minimise write-lock hold time
var CleanupConfigLowLatency = CleanupConfig{
	Interval:         250 * time.Millisecond,
	SampleSize:       10,
	MaxRounds:        2,
	ExpiredThreshold: 0.5,
}

// CleanupConfigDisabled turns the sweep off
var CleanupConfigDisabled = CleanupConfig{}
