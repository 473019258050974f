package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RedisVersion is the version reported by INFO server.
const RedisVersion = "7.2.0"

var infoSections = []string{"server", "clients", "stats", "persistence", "replication", "keyspace"}

func handleInfo(c *Client, cmd *protocol.Command) protocol.Value {
	s := c.server
	wanted := lo.Map(cmd.Args, func(arg []byte, _ int) string { return strings.ToLower(string(arg)) })
	all := len(wanted) == 0 || lo.Contains(wanted, "all") || lo.Contains(wanted, "everything") || lo.Contains(wanted, "default")

	var b strings.Builder
	for _, section := range infoSections {
		if !all && !lo.Contains(wanted, section) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		switch section {
		case "server":
			s.writeServerInfo(&b)
		case "clients":
			fmt.Fprintf(&b, "# Clients\r\nconnected_clients:%d\r\n", s.clientCount())
		case "stats":
			fmt.Fprintf(&b, "# Stats\r\ntotal_connections_received:%d\r\ntotal_commands_processed:%d\r\ntotal_error_replies:%d\r\n",
				s.connCount.Load(), s.commandCount.Load(), s.errorCount.Load())
		case "persistence":
			fmt.Fprintf(&b, "# Persistence\r\nloading:0\r\nrdb_changes_since_last_save:%d\r\nrdb_last_save_time:%d\r\n",
				s.dirty.Load(), s.lastSave.Load())
		case "replication":
			s.writeReplicationInfo(&b)
		case "keyspace":
			b.WriteString("# Keyspace\r\n")
			info := s.ks.Info()
			if keys := info["keys"].(int); keys > 0 {
				fmt.Fprintf(&b, "db0:keys=%d,expires=%d,avg_ttl=0\r\n", keys, info["expires"].(int))
			}
		}
	}
	return protocol.BulkStringFromString(b.String())
}

func (s *Server) writeServerInfo(b *strings.Builder) {
	uptime := int64(time.Since(s.startTime).Seconds())
	fmt.Fprintf(b, "# Server\r\nredis_version:%s\r\nredis_mode:standalone\r\nprocess_id:%d\r\ntcp_port:%d\r\nuptime_in_seconds:%d\r\nuptime_in_days:%d\r\n",
		RedisVersion, os.Getpid(), s.port(), uptime, uptime/86400)
}

func (s *Server) writeReplicationInfo(b *strings.Builder) {
	b.WriteString("# Replication\r\n")

	if r := s.replica; r != nil {
		host, port, _ := net.SplitHostPort(r.MasterAddr())
		stats := r.Stats()
		linkStatus := "down"
		if stats.Status.Up() {
			linkStatus = "up"
		}
		syncing := 0
		if !stats.InitialSyncCompleted {
			syncing = 1
		}
		fmt.Fprintf(b, "role:slave\r\nmaster_host:%s\r\nmaster_port:%s\r\nmaster_link_status:%s\r\nmaster_sync_in_progress:%d\r\nslave_repl_offset:%d\r\nslave_read_only:1\r\nconnected_slaves:0\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
			host, port, linkStatus, syncing, r.Offset(), stats.MasterReplID, r.Offset())
		return
	}

	b.WriteString("role:master\r\n")
	if s.master == nil {
		b.WriteString("connected_slaves:0\r\n")
		return
	}
	replicas := s.master.Replicas()
	fmt.Fprintf(b, "connected_slaves:%d\r\n", len(replicas))
	for i, r := range replicas {
		fmt.Fprintf(b, "slave%d:ip=%s,port=%d,state=%s,offset=%d,lag=0\r\n", i, r.IP, r.Port, r.State, r.Offset)
	}
	fmt.Fprintf(b, "master_replid:%s\r\nmaster_repl_offset:%d\r\n", s.master.ReplicationID(), s.master.Offset())
}

func (s *Server) port() int {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// configParameters returns the values CONFIG GET reports.
func (s *Server) configParameters() map[string]string {
	bind, _, _ := net.SplitHostPort(s.Addr())
	params := map[string]string{
		"dir":               s.config.Dir,
		"dbfilename":        s.config.DBFilename,
		"port":              strconv.Itoa(s.port()),
		"bind":              bind,
		"replicaof":         "",
		"replica-read-only": "yes",
		"save":              "",
		"appendonly":        "no",
		"databases":         "1",
	}
	if s.replica != nil {
		host, port, _ := net.SplitHostPort(s.replica.MasterAddr())
		params["replicaof"] = host + " " + port
	}
	return params
}

func handleConfig(c *Client, cmd *protocol.Command) protocol.Value {
	if !strings.EqualFold(cmd.Arg(0), "GET") {
		return protocol.ErrorValue(fmt.Sprintf("ERR unknown subcommand '%s'. Try CONFIG HELP.", cmd.Arg(0)))
	}
	if len(cmd.Args) < 2 {
		return wrongArgs("config|get")
	}

	params := c.server.configParameters()
	names := lo.Keys(params)
	sort.Strings(names)

	matched := lo.Filter(names, func(name string, _ int) bool {
		return lo.SomeBy(cmd.Args[1:], func(pattern []byte) bool {
			return storage.MatchPattern(name, strings.ToLower(string(pattern)))
		})
	})

	values := make([]protocol.Value, 0, 2*len(matched))
	for _, name := range matched {
		values = append(values, protocol.BulkStringFromString(name), protocol.BulkStringFromString(params[name]))
	}
	return protocol.ArrayOf(values...)
}

// Persistence

// Save writes the keyspace to the configured RDB file.
func (s *Server) Save() error {
	path := filepath.Join(s.config.Dir, s.config.DBFilename)
	dirty := s.dirty.Load()
	if err := rdb.SaveFile(path, rdb.FromEntries(s.ks.Snapshot())); err != nil {
		return err
	}
	s.dirty.Add(-dirty)
	s.lastSave.Store(time.Now().Unix())
	s.logger.Info("DB saved on disk", "path", path)
	return nil
}

func handleSave(c *Client, cmd *protocol.Command) protocol.Value {
	if err := c.server.Save(); err != nil {
		c.server.logger.Error("Failed to save RDB", "error", err)
		return protocol.ErrorValue("ERR " + err.Error())
	}
	return okReply
}

func handleDebug(c *Client, cmd *protocol.Command) protocol.Value {
	switch strings.ToUpper(cmd.Arg(0)) {
	case "DIGEST":
		return protocol.SimpleString(fmt.Sprintf("%016x", c.server.ks.Digest()))
	}
	return protocol.ErrorValue(fmt.Sprintf("ERR unknown subcommand '%s'. Try DEBUG HELP.", cmd.Arg(0)))
}
