package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func handleReplconf(c *Client, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args)%2 != 0 {
		return syntaxError
	}
	for i := 0; i < len(cmd.Args); i += 2 {
		switch option := strings.ToLower(cmd.Arg(i)); option {
		case "listening-port":
			port, err := strconv.Atoi(cmd.Arg(i + 1))
			if err != nil || port < 0 || port > 65535 {
				return notIntegerErr
			}
			c.replInfo.ListeningPort = port
		case "capa":
			c.replInfo.Capabilities = append(c.replInfo.Capabilities, strings.ToLower(cmd.Arg(i+1)))
		case "ack", "getack":
			// ACKs on an attached link are consumed by the replication
			// master; anywhere else they get no reply.
			return noReply
		case "ip-address", "rdb-only", "rdb-filter-only":
		default:
			return protocol.ErrorValue("ERR Unrecognized REPLCONF option: " + cmd.Arg(i))
		}
	}
	return okReply
}

func handlePSync(c *Client, cmd *protocol.Command) protocol.Value {
	s := c.server
	if s.replica != nil || s.master == nil {
		return protocol.ErrorValue("ERR Can't SYNC while not connected with my master")
	}
	if c.fromMaster {
		return protocol.ErrorValue("ERR PSYNC not allowed on the replication link")
	}
	s.logger.Debug("PSYNC accepted, handing connection to replication", "replica", c.conn.RemoteAddr().String(), "replid", cmd.Arg(0), "offset", cmd.Arg(1))
	c.takeover.Store(true)
	return noReply
}

func handleWait(c *Client, cmd *protocol.Command) protocol.Value {
	s := c.server
	if s.replica != nil {
		return protocol.ErrorValue("ERR WAIT cannot be used with replica instances. Please also note that since Redis 4.0 if a replica is configured to be writable (which is not the default) writes to replicas are just local and are not propagated.")
	}
	numReplicas, err := strconv.ParseInt(cmd.Arg(0), 10, 64)
	if err != nil {
		return notIntegerErr
	}
	timeoutMs, err := strconv.ParseInt(cmd.Arg(1), 10, 64)
	if err != nil {
		return notIntegerErr
	}
	if timeoutMs < 0 {
		return protocol.ErrorValue("ERR timeout is negative")
	}
	if s.master == nil {
		return protocol.Integer(0)
	}
	n := s.master.WaitForAcks(c.ctx, int(numReplicas), time.Duration(timeoutMs)*time.Millisecond)
	return protocol.Integer(int64(n))
}
