package replication

import (
	"context"
	"sync"
	"time"
)

// syncState records whether the initial synchronization finished and lets
// any number of goroutines wait for it.
type syncState struct {
	mu        sync.Mutex
	done      bool
	err       error
	ch        chan struct{}
	callbacks []func()
}

func newSyncState() *syncState {
	return &syncState{ch: make(chan struct{})}
}

func (s *syncState) complete() {
	s.finish(nil)
}

// fail ends the wait with err. It has no effect after a successful sync.
func (s *syncState) fail(err error) {
	s.finish(err)
}

func (s *syncState) finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
	var callbacks []func()
	if err == nil {
		callbacks = s.callbacks
	}
	s.callbacks = nil
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

func (s *syncState) result() (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done, s.err
}

// SyncStatus represents the current synchronization status
type SyncStatus struct {
	InitialSyncCompleted bool
	Status               LinkStatus
	MasterHost           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
}

// WaitForSync blocks until the snapshot from the master is installed. It
// returns the link error if the link failed first.
func (r *Replica) WaitForSync(ctx context.Context) error {
	select {
	case <-r.sync.ch:
		_, err := r.sync.result()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSyncComplete registers a callback for when the initial sync completes.
// If it already has, fn runs right away in its own goroutine.
func (r *Replica) OnSyncComplete(fn func()) {
	s := r.sync
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		if s.err == nil {
			go fn()
		}
		return
	}
	s.callbacks = append(s.callbacks, fn)
}

// SyncStatus returns the current synchronization status
func (r *Replica) SyncStatus() SyncStatus {
	stats := r.Stats()
	return SyncStatus{
		InitialSyncCompleted: stats.InitialSyncCompleted,
		Status:               stats.Status,
		MasterHost:           stats.MasterAddr,
		MasterReplID:         stats.MasterReplID,
		ReplicationOffset:    stats.ReplicationOffset,
		LastSyncTime:         stats.LastSyncTime,
		BytesReceived:        stats.BytesReceived,
		CommandsProcessed:    stats.CommandsProcessed,
	}
}
