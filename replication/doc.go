// Package replication implements both sides of Redis master-replica
// replication with full resynchronization.
//
// On the master, a Master tracks the replication ID, the replication offset
// and the attached replicas. The server hands each PSYNC connection to
// ServeReplica, which sends FULLRESYNC and a snapshot of the keyspace and
// then streams every command passed to Propagate:
//
//	master := replication.NewMaster(ks, "")
//	ks.Update(func(tx *storage.Txn) error {
//		tx.Set("key", value, nil)
//		master.Propagate(cmd.Encode())
//		return nil
//	})
//
// On a replica, a Replica connects to the master, runs the handshake
// (PING, REPLCONF listening-port, REPLCONF capa, PSYNC), installs the
// snapshot and applies the command stream through an Applier:
//
//	replica := replication.NewReplica("localhost:6379", ks, applier)
//	replica.Start()
//	err := replica.WaitForSync(ctx)
//
// Partial resynchronization is not supported and a replica does not
// reconnect after its link fails.
package replication
