package server

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// noReply is returned by handlers that must not answer, such as REPLCONF ACK.
var noReply protocol.Value

type handlerFunc func(c *Client, cmd *protocol.Command) protocol.Value

type commandDef struct {
	name    string
	arity   int // including the command name; negative means at least -arity
	write   bool
	handler handlerFunc
}

var commandTable map[string]*commandDef

func init() {
	defs := []*commandDef{
		{"AUTH", 2, false, handleAuth},
		{"PING", -1, false, handlePing},
		{"ECHO", 2, false, handleEcho},
		{"QUIT", -1, false, handleQuit},
		{"SELECT", 2, false, handleSelect},
		{"COMMAND", -1, false, handleCommand},
		{"CLIENT", -2, false, handleClient},
		{"GET", 2, false, handleGet},
		{"SET", -3, true, handleSet},
		{"DEL", -2, true, handleDel},
		{"EXISTS", -2, false, handleExists},
		{"TYPE", 2, false, handleType},
		{"TTL", 2, false, handleTTL},
		{"PTTL", 2, false, handlePTTL},
		{"KEYS", 2, false, handleKeys},
		{"DBSIZE", 1, false, handleDBSize},
		{"FLUSHALL", -1, true, handleFlushAll},
		{"CONFIG", -2, false, handleConfig},
		{"INFO", -1, false, handleInfo},
		{"SAVE", 1, false, handleSave},
		{"DEBUG", -2, false, handleDebug},
		{"REPLCONF", -1, false, handleReplconf},
		{"PSYNC", 3, false, handlePSync},
		{"WAIT", 3, false, handleWait},
	}
	commandTable = make(map[string]*commandDef, len(defs))
	for _, def := range defs {
		commandTable[def.name] = def
	}
}

// execute runs one command and returns its reply.
func (c *Client) execute(cmd *protocol.Command) protocol.Value {
	s := c.server
	s.commandCount.Add(1)
	start := time.Now()

	def, ok := commandTable[cmd.Name]
	if !ok {
		return protocol.ErrorValue(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd.Name)))
	}
	if !c.authenticated && cmd.Name != "AUTH" {
		return protocol.ErrorValue("NOAUTH Authentication required.")
	}
	n := len(cmd.Args) + 1
	if (def.arity > 0 && n != def.arity) || (def.arity < 0 && n < -def.arity) {
		return wrongArgs(cmd.Name)
	}
	if def.write && !c.fromMaster && s.isReadOnly() {
		return protocol.ErrorValue("READONLY You can't write against a read only replica.")
	}

	reply := def.handler(c, cmd)

	if s.metrics != nil {
		s.metrics.RecordCommandProcessed(cmd.Name, time.Since(start))
		if reply.IsError() {
			s.metrics.RecordError("command")
		}
	}
	return reply
}

// update runs fn inside the keyspace write lock. A non-nil command returned
// by fn is propagated to replicas before the lock is released, so replicas
// see writes in exactly the order they were applied.
func (s *Server) update(fn func(tx *storage.Txn) (protocol.Value, *protocol.Command)) protocol.Value {
	var reply protocol.Value
	s.ks.Update(func(tx *storage.Txn) error {
		var propagate *protocol.Command
		reply, propagate = fn(tx)
		if propagate != nil {
			s.dirty.Add(1)
			if s.master != nil {
				s.master.Propagate(propagate.Encode())
			}
		}
		return nil
	})
	return reply
}

func wrongArgs(name string) protocol.Value {
	return protocol.ErrorValue(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(name)))
}

var (
	okReply        = protocol.SimpleString("OK")
	syntaxError    = protocol.ErrorValue("ERR syntax error")
	notIntegerErr  = protocol.ErrorValue("ERR value is not an integer or out of range")
	wrongTypeReply = protocol.ErrorValue(storage.ErrWrongType.Error())
)

func keysOf(args [][]byte) []string {
	keys := make([]string, len(args))
	for i, arg := range args {
		keys[i] = string(arg)
	}
	return keys
}

// Connection commands

func handleAuth(c *Client, cmd *protocol.Command) protocol.Value {
	if c.server.config.Password == "" {
		return protocol.ErrorValue("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}
	if cmd.Arg(0) != c.server.config.Password {
		return protocol.ErrorValue("WRONGPASS invalid username-password pair or user is disabled.")
	}
	c.authenticated = true
	return okReply
}

func handlePing(c *Client, cmd *protocol.Command) protocol.Value {
	switch len(cmd.Args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkString(cmd.Args[0])
	}
	return wrongArgs(cmd.Name)
}

func handleEcho(c *Client, cmd *protocol.Command) protocol.Value {
	return protocol.BulkString(cmd.Args[0])
}

func handleQuit(c *Client, cmd *protocol.Command) protocol.Value {
	c.quit = true
	return okReply
}

func handleSelect(c *Client, cmd *protocol.Command) protocol.Value {
	db, err := strconv.Atoi(cmd.Arg(0))
	if err != nil {
		return notIntegerErr
	}
	if db != 0 {
		return protocol.ErrorValue("ERR DB index is out of range")
	}
	return okReply
}

func handleCommand(c *Client, cmd *protocol.Command) protocol.Value {
	if strings.EqualFold(cmd.Arg(0), "COUNT") {
		return protocol.Integer(int64(len(commandTable)))
	}
	return protocol.ArrayOf()
}

func handleClient(c *Client, cmd *protocol.Command) protocol.Value {
	switch strings.ToUpper(cmd.Arg(0)) {
	case "ID":
		return protocol.Integer(int64(c.id))
	case "SETNAME":
		if len(cmd.Args) != 2 {
			return wrongArgs("client|setname")
		}
		c.name = cmd.Arg(1)
		return okReply
	case "GETNAME":
		if c.name == "" {
			return protocol.NullBulkString()
		}
		return protocol.BulkStringFromString(c.name)
	case "SETINFO":
		return okReply
	}
	return protocol.ErrorValue(fmt.Sprintf("ERR unknown subcommand '%s'. Try CLIENT HELP.", cmd.Arg(0)))
}

// Keyspace commands

func handleGet(c *Client, cmd *protocol.Command) protocol.Value {
	value, exists, err := c.server.ks.Get(cmd.Arg(0))
	if err != nil {
		return wrongTypeReply
	}
	if !exists {
		return protocol.NullBulkString()
	}
	return protocol.BulkString(value)
}

// setOptions are the parsed modifiers of SET.
type setOptions struct {
	expiry  *time.Time
	keepTTL bool
	nx, xx  bool
	get     bool
}

func parseSetOptions(args [][]byte, now time.Time) (setOptions, protocol.Value) {
	var opts setOptions
	hasExpiry := false
	for i := 0; i < len(args); i++ {
		switch opt := strings.ToUpper(string(args[i])); opt {
		case "NX":
			if opts.xx {
				return opts, syntaxError
			}
			opts.nx = true
		case "XX":
			if opts.nx {
				return opts, syntaxError
			}
			opts.xx = true
		case "GET":
			opts.get = true
		case "KEEPTTL":
			if hasExpiry {
				return opts, syntaxError
			}
			opts.keepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if hasExpiry || opts.keepTTL || i+1 >= len(args) {
				return opts, syntaxError
			}
			i++
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return opts, notIntegerErr
			}
			expiry, ok := expiryFromOption(opt, n, now)
			if !ok {
				return opts, protocol.ErrorValue("ERR invalid expire time in 'set' command")
			}
			opts.expiry = &expiry
			hasExpiry = true
		default:
			return opts, syntaxError
		}
	}
	return opts, noReply
}

func expiryFromOption(opt string, n int64, now time.Time) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	switch opt {
	case "EX", "EXAT":
		if n > math.MaxInt64/1000 {
			return time.Time{}, false
		}
		n *= 1000
	}
	if opt == "EX" || opt == "PX" {
		if n > math.MaxInt64-now.UnixMilli() {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * time.Millisecond), true
	}
	return time.UnixMilli(n), true
}

// handleSet implements SET. Replicas receive the write as
// SET key value [PXAT unix-ms], which applies identically whatever their
// clock and whether or not NX or XX held on the master.
func handleSet(c *Client, cmd *protocol.Command) protocol.Value {
	key := cmd.Arg(0)
	value := cmd.Args[1]
	opts, errReply := parseSetOptions(cmd.Args[2:], time.Now())
	if errReply.Type != 0 {
		return errReply
	}

	return c.server.update(func(tx *storage.Txn) (protocol.Value, *protocol.Command) {
		old, exists := tx.Lookup(key)

		reply := okReply
		if opts.get {
			reply = protocol.NullBulkString()
			if exists {
				data, err := old.Bytes()
				if err != nil {
					return wrongTypeReply, nil
				}
				reply = protocol.BulkString(data)
			}
		}

		if (opts.nx && exists) || (opts.xx && !exists) {
			if opts.get {
				return reply, nil
			}
			return protocol.NullBulkString(), nil
		}

		expiry := opts.expiry
		if opts.keepTTL && exists {
			expiry = old.Expiry
		}
		tx.Set(key, value, expiry)

		propagate := &protocol.Command{Name: "SET", Args: [][]byte{[]byte(key), value}}
		if expiry != nil {
			propagate.Args = append(propagate.Args, []byte("PXAT"), []byte(strconv.FormatInt(expiry.UnixMilli(), 10)))
		}
		return reply, propagate
	})
}

func handleDel(c *Client, cmd *protocol.Command) protocol.Value {
	keys := keysOf(cmd.Args)
	return c.server.update(func(tx *storage.Txn) (protocol.Value, *protocol.Command) {
		deleted := tx.Del(keys...)
		if deleted == 0 {
			return protocol.Integer(0), nil
		}
		return protocol.Integer(deleted), cmd
	})
}

func handleExists(c *Client, cmd *protocol.Command) protocol.Value {
	return protocol.Integer(c.server.ks.Exists(keysOf(cmd.Args)...))
}

func handleType(c *Client, cmd *protocol.Command) protocol.Value {
	return protocol.SimpleString(c.server.ks.Type(cmd.Arg(0)).String())
}

func handleTTL(c *Client, cmd *protocol.Command) protocol.Value {
	ttl := c.server.ks.PTTL(cmd.Arg(0))
	if ttl < 0 {
		return protocol.Integer(int64(ttl))
	}
	// rounded to the nearest second, as Redis does
	return protocol.Integer((ttl.Milliseconds() + 500) / 1000)
}

func handlePTTL(c *Client, cmd *protocol.Command) protocol.Value {
	ttl := c.server.ks.PTTL(cmd.Arg(0))
	if ttl < 0 {
		return protocol.Integer(int64(ttl))
	}
	return protocol.Integer(ttl.Milliseconds())
}

func handleKeys(c *Client, cmd *protocol.Command) protocol.Value {
	keys := c.server.ks.Keys(cmd.Arg(0))
	values := make([]protocol.Value, len(keys))
	for i, k := range keys {
		values[i] = protocol.BulkStringFromString(k)
	}
	return protocol.ArrayOf(values...)
}

func handleDBSize(c *Client, cmd *protocol.Command) protocol.Value {
	return protocol.Integer(c.server.ks.KeyCount())
}

func handleFlushAll(c *Client, cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) > 1 {
		return syntaxError
	}
	if len(cmd.Args) == 1 {
		if mode := strings.ToUpper(cmd.Arg(0)); mode != "SYNC" && mode != "ASYNC" {
			return syntaxError
		}
	}
	return c.server.update(func(tx *storage.Txn) (protocol.Value, *protocol.Command) {
		tx.Flush()
		return okReply, protocol.NewCommand("FLUSHALL")
	})
}
