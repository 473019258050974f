package storage

import (
	"encoding/binary"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Keyspace is the in-memory database 0. A single RWMutex orders every
// mutation, so the sequence of writes observed through Update is exactly the
// sequence applied to the map.
type Keyspace struct {
	mu      sync.RWMutex
	data    map[string]*Value
	expires map[string]struct{} // keys whose Value carries an expiry

	now           func() time.Time
	cleanupConfig CleanupConfig
	cleanupStop   chan struct{}
	cleanupDone   chan struct{}
	closeOnce     sync.Once
}

// Option configures a Keyspace
type Option func(*Keyspace)

// WithCleanup sets the active-expire sweep configuration
func WithCleanup(config CleanupConfig) Option {
	return func(ks *Keyspace) {
		ks.cleanupConfig = config
	}
}

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(ks *Keyspace) {
		if now != nil {
			ks.now = now
		}
	}
}

// New creates an empty keyspace. The active-expire sweep starts immediately
// unless disabled with WithCleanup(CleanupConfigDisabled).
func New(opts ...Option) *Keyspace {
	ks := &Keyspace{
		data:          make(map[string]*Value),
		expires:       make(map[string]struct{}),
		now:           time.Now,
		cleanupConfig: CleanupConfigDefault,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ks)
	}

	if ks.cleanupConfig.Interval > 0 {
		go ks.cleanupExpiredKeys()
	} else {
		close(ks.cleanupDone)
	}
	return ks
}

// ReadTxn is a consistent read-only view of the keyspace, valid only inside
// the View or Update callback that produced it.
type ReadTxn struct {
	ks      *Keyspace
	now     time.Time
	expired []string
}

// Txn is a ReadTxn that may also mutate the keyspace.
type Txn struct {
	ReadTxn
}

// View runs fn with the keyspace read-locked.
func (ks *Keyspace) View(fn func(tx *ReadTxn) error) error {
	ks.mu.RLock()
	tx := &ReadTxn{ks: ks, now: ks.now()}
	err := fn(tx)
	ks.mu.RUnlock()

	for _, key := range tx.expired {
		ks.deleteExpiredKey(key)
	}
	return err
}

// Update runs fn with the keyspace write-locked. No other reader or writer
// observes the keyspace until fn returns.
func (ks *Keyspace) Update(fn func(tx *Txn) error) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return fn(&Txn{ReadTxn{ks: ks, now: ks.now()}})
}

// Now returns the time used for expiry decisions in this transaction
func (tx *ReadTxn) Now() time.Time {
	return tx.now
}

// Lookup returns the live value stored at key. An expired value is reported
// as absent and queued for removal once the lock is released.
func (tx *ReadTxn) Lookup(key string) (*Value, bool) {
	v, ok := tx.ks.data[key]
	if !ok {
		return nil, false
	}
	if v.IsExpired(tx.now) {
		tx.expired = append(tx.expired, key)
		return nil, false
	}
	return v, true
}

// Exists counts how many of keys are live
func (tx *ReadTxn) Exists(keys ...string) int64 {
	var n int64
	for _, key := range keys {
		if _, ok := tx.Lookup(key); ok {
			n++
		}
	}
	return n
}

// Keys returns the live keys matching a glob pattern, sorted
func (tx *ReadTxn) Keys(pattern string) []string {
	keys := make([]string, 0)
	for key, v := range tx.ks.data {
		if v.IsExpired(tx.now) {
			continue
		}
		if MatchPattern(key, pattern) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys
func (tx *ReadTxn) Len() int {
	n := len(tx.ks.data)
	for key := range tx.ks.expires {
		if tx.ks.data[key].IsExpired(tx.now) {
			n--
		}
	}
	return n
}

// Entries returns every live key, sorted by key. The values are shared with
// the keyspace and must not be modified.
func (tx *ReadTxn) Entries() []Entry {
	entries := make([]Entry, 0, len(tx.ks.data))
	for key, v := range tx.ks.data {
		if v.IsExpired(tx.now) {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Lookup returns the live value at key, removing it first if it has expired
func (tx *Txn) Lookup(key string) (*Value, bool) {
	v, ok := tx.ks.data[key]
	if !ok {
		return nil, false
	}
	if v.IsExpired(tx.now) {
		tx.ks.remove(key)
		return nil, false
	}
	return v, true
}

// Put installs v at key, replacing any prior value and expiry
func (tx *Txn) Put(key string, v *Value) {
	tx.ks.data[key] = v
	if v.Expiry != nil {
		tx.ks.expires[key] = struct{}{}
	} else {
		delete(tx.ks.expires, key)
	}
}

// Set stores a string value with an optional expiry
func (tx *Txn) Set(key string, value []byte, expiry *time.Time) {
	tx.Put(key, NewString(value, expiry))
}

// Del removes keys and returns how many were live
func (tx *Txn) Del(keys ...string) int64 {
	var n int64
	for _, key := range keys {
		if _, ok := tx.Lookup(key); ok {
			tx.ks.remove(key)
			n++
		}
	}
	return n
}

// Flush removes every key
func (tx *Txn) Flush() {
	tx.ks.data = make(map[string]*Value)
	tx.ks.expires = make(map[string]struct{})
}

// ReplaceAll discards the current contents and installs entries.
func (tx *Txn) ReplaceAll(entries []Entry) {
	tx.Flush()
	for _, e := range entries {
		tx.Put(e.Key, e.Value)
	}
}

func (ks *Keyspace) remove(key string) {
	delete(ks.data, key)
	delete(ks.expires, key)
}

// Get retrieves a string value by key
func (ks *Keyspace) Get(key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
		err   error
	)
	ks.View(func(tx *ReadTxn) error {
		v, ok := tx.Lookup(key)
		if !ok {
			return nil
		}
		found = true
		data, err = v.Bytes()
		return nil
	})
	return data, found, err
}

// Lookup returns the live value at key, of any type
func (ks *Keyspace) Lookup(key string) (*Value, bool) {
	var (
		v  *Value
		ok bool
	)
	ks.View(func(tx *ReadTxn) error {
		v, ok = tx.Lookup(key)
		return nil
	})
	return v, ok
}

// Set stores a string value with optional expiration
func (ks *Keyspace) Set(key string, value []byte, expiry *time.Time) {
	ks.Update(func(tx *Txn) error {
		tx.Set(key, value, expiry)
		return nil
	})
}

// Del deletes one or more keys
func (ks *Keyspace) Del(keys ...string) int64 {
	var n int64
	ks.Update(func(tx *Txn) error {
		n = tx.Del(keys...)
		return nil
	})
	return n
}

// Exists counts the live keys among keys
func (ks *Keyspace) Exists(keys ...string) int64 {
	var n int64
	ks.View(func(tx *ReadTxn) error {
		n = tx.Exists(keys...)
		return nil
	})
	return n
}

// TTL returns the remaining time to live rounded down to seconds.
// -1 means no expiry and -2 means the key does not exist, as in Redis.
func (ks *Keyspace) TTL(key string) time.Duration {
	ttl := ks.PTTL(key)
	if ttl < 0 {
		return ttl
	}
	return ttl.Truncate(time.Second)
}

// PTTL returns the remaining time to live with millisecond precision
func (ks *Keyspace) PTTL(key string) time.Duration {
	ttl := time.Duration(-2)
	ks.View(func(tx *ReadTxn) error {
		v, ok := tx.Lookup(key)
		switch {
		case !ok:
		case v.Expiry == nil:
			ttl = -1
		default:
			ttl = v.Expiry.Sub(tx.now).Truncate(time.Millisecond)
		}
		return nil
	})
	return ttl
}

// Keys returns all live keys matching the pattern
func (ks *Keyspace) Keys(pattern string) []string {
	var keys []string
	ks.View(func(tx *ReadTxn) error {
		keys = tx.Keys(pattern)
		return nil
	})
	return keys
}

// KeyCount returns the number of live keys
func (ks *Keyspace) KeyCount() int64 {
	var n int
	ks.View(func(tx *ReadTxn) error {
		n = tx.Len()
		return nil
	})
	return int64(n)
}

// FlushAll removes every key
func (ks *Keyspace) FlushAll() {
	ks.Update(func(tx *Txn) error {
		tx.Flush()
		return nil
	})
}

// Type returns the type of the value at key; ValueType(-1) reports "none"
func (ks *Keyspace) Type(key string) ValueType {
	if v, ok := ks.Lookup(key); ok {
		return v.Type
	}
	return ValueType(-1)
}

// ReplaceAll atomically swaps the whole contents for entries
func (ks *Keyspace) ReplaceAll(entries []Entry) {
	ks.Update(func(tx *Txn) error {
		tx.ReplaceAll(entries)
		return nil
	})
}

// Snapshot returns the live entries as of one instant
func (ks *Keyspace) Snapshot() []Entry {
	var entries []Entry
	ks.View(func(tx *ReadTxn) error {
		entries = tx.Entries()
		return nil
	})
	return entries
}

// Info returns keyspace statistics in the shape of INFO keyspace
func (ks *Keyspace) Info() map[string]interface{} {
	info := map[string]interface{}{}
	ks.View(func(tx *ReadTxn) error {
		keys, expires := 0, 0
		for key, v := range ks.data {
			if v.IsExpired(tx.now) {
				continue
			}
			keys++
			if _, ok := ks.expires[key]; ok {
				expires++
			}
		}
		info["keys"] = keys
		info["expires"] = expires
		return nil
	})
	return info
}

// Digest returns an order-independent fingerprint of the live contents.
// Two keyspaces holding the same keys, values and expiries have equal digests.
func (ks *Keyspace) Digest() uint64 {
	h := xxhash.New()
	var scratch [8]byte
	for _, e := range ks.Snapshot() {
		writeField(h, []byte(e.Key))
		h.Write([]byte{byte(e.Value.Type)})
		digestValue(h, e.Value)
		var ms int64
		if e.Value.Expiry != nil {
			ms = e.Value.Expiry.UnixMilli()
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(ms))
		h.Write(scratch[:])
	}
	return h.Sum64()
}

func digestValue(h *xxhash.Digest, v *Value) {
	switch data := v.Data.(type) {
	case *StringValue:
		writeField(h, data.Data)
	case *ListValue:
		for _, el := range data.Elements {
			writeField(h, el)
		}
	case *SetValue:
		members := make([]string, 0, len(data.Members))
		for m := range data.Members {
			members = append(members, m)
		}
		sort.Strings(members)
		for _, m := range members {
			writeField(h, []byte(m))
		}
	case *HashValue:
		fields := make([]string, 0, len(data.Fields))
		for f := range data.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			writeField(h, []byte(f))
			writeField(h, data.Fields[f])
		}
	}
}

func writeField(h *xxhash.Digest, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Close stops the background sweep
func (ks *Keyspace) Close() error {
	ks.closeOnce.Do(func() {
		if ks.cleanupConfig.Interval > 0 {
			close(ks.cleanupStop)
		}
	})
	<-ks.cleanupDone
	return nil
}

// cleanupExpiredKeys runs in background to clean up expired keys
func (ks *Keyspace) cleanupExpiredKeys() {
	defer close(ks.cleanupDone)

	ticker := time.NewTicker(ks.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ks.cleanupStop:
			return
		case <-ticker.C:
			ks.performCleanup()
		}
	}
}

// performCleanup samples keys with an expiry and deletes the expired ones,
// repeating while a large share of the sample turned out to be expired.
func (ks *Keyspace) performCleanup() {
	config := ks.cleanupConfig
	for round := 0; round < config.MaxRounds; round++ {
		sampled, expired := ks.sampleAndDeleteExpired(config.SampleSize)
		if sampled == 0 || float64(expired)/float64(sampled) < config.ExpiredThreshold {
			return
		}
		runtime.Gosched()
	}
}

func (ks *Keyspace) sampleAndDeleteExpired(sampleSize int) (sampled, expired int) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.now()
	// Map iteration order is randomised, which is the sample.
	for key := range ks.expires {
		if sampled == sampleSize {
			break
		}
		sampled++
		if ks.data[key].IsExpired(now) {
			ks.remove(key)
			expired++
		}
	}
	return sampled, expired
}

// deleteExpiredKey removes key if it is still expired under the write lock
func (ks *Keyspace) deleteExpiredKey(key string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if v, ok := ks.data[key]; ok && v.IsExpired(ks.now()) {
		ks.remove(key)
	}
}

var _ Storage = (*Keyspace)(nil)
