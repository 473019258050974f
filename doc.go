// Package redisserver provides a Redis-compatible in-memory key-value server
// with master/replica replication.
//
// A Server is either a master, which accepts writes and streams them to any
// number of replicas, or a replica of another server (a real Redis master
// works too), which installs the master's snapshot and then applies its
// command stream.
//
// Basic usage:
//
//	master, err := redisserver.New(
//		redisserver.WithAddr(":6379"),
//		redisserver.WithDir("/var/lib/redis"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer master.Close()
//
//	if err := master.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// And a replica of it:
//
//	replica, err := redisserver.New(
//		redisserver.WithAddr(":6380"),
//		redisserver.WithReplicaOf("localhost 6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer replica.Close()
//
//	if err := replica.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := replica.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The packages underneath can be used on their own: protocol (RESP2 codec),
// storage (keyspace with lazy expiry), rdb (snapshot format), replication
// (master and replica sides of the link) and server (command dispatcher).
package redisserver
