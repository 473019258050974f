// Package server accepts Redis client connections and executes their
// commands against a storage.Keyspace.
//
// Each connection is served by its own goroutine. Commands are looked up in a
// table that records their arity and whether they write; write commands run
// inside a keyspace transaction and, when the server is a replication master,
// are propagated to replicas before the transaction releases its lock.
//
// Supported commands:
//   - Connection: AUTH, PING, ECHO, SELECT (database 0 only), CLIENT, COMMAND, QUIT
//   - Keyspace: GET, SET (EX, PX, EXAT, PXAT, KEEPTTL, NX, XX, GET), DEL, EXISTS,
//     TYPE, TTL, PTTL, KEYS, DBSIZE, FLUSHALL
//   - Server: INFO, CONFIG GET, SAVE, DEBUG DIGEST
//   - Replication: REPLCONF, PSYNC, WAIT
//
// A server configured with SetReplica refuses client writes with a READONLY
// error and applies the master's stream through ApplyReplicated.
package server
