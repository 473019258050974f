// Command redis-server runs a Redis-compatible in-memory server, either as a
// replication master or as a replica of another server.
//
//	redis-server --port 6379 --dir /var/lib/redis
//	redis-server --port 6380 --replicaof "localhost 6379"
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
