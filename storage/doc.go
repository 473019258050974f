// Package storage holds the server's keyspace: a single logical database
// mapping keys to typed values with optional absolute expiry.
//
// All access goes through one reader/writer lock. Update callbacks run with
// the write lock held, so a caller can apply a mutation and record it for
// replication as one indivisible step:
//
//	ks := storage.New()
//	ks.Update(func(tx *storage.Txn) error {
//		tx.Set("key", []byte("value"), nil)
//		return nil
//	})
//
// Expired keys are invisible to every read as soon as their deadline passes.
// They are physically removed on access or by a sampled background sweep.
package storage
