package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Simple Redis client for testing
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	c := &testClient{conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(func() { c.conn.Close() })
	return c
}

func (c *testClient) sendCommand(cmd string, args ...string) (string, error) {
	parts := append([]string{cmd}, args...)
	resp := "*" + strconv.Itoa(len(parts)) + "\r\n"
	for _, part := range parts {
		resp += "$" + strconv.Itoa(len(part)) + "\r\n" + part + "\r\n"
	}

	if _, err := c.conn.Write([]byte(resp)); err != nil {
		return "", err
	}
	return c.readResponse()
}

// do sends a command and fails the test on I/O errors
func (c *testClient) do(t *testing.T, cmd string, args ...string) string {
	t.Helper()
	resp, err := c.sendCommand(cmd, args...)
	if err != nil {
		t.Fatalf("%s %v: %v", cmd, args, err)
	}
	return resp
}

func (c *testClient) readResponse() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return "", nil
	}

	switch line[0] {
	case '+': // Simple string
		return line[1:], nil
	case '-': // Error
		return line, nil
	case ':': // Integer
		return line[1:], nil
	case '$': // Bulk string
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		if size == -1 {
			return "(nil)", nil
		}
		data := make([]byte, size+2) // +2 for CRLF
		if _, err := io.ReadFull(c.reader, data); err != nil {
			return "", err
		}
		return string(data[:size]), nil
	case '*': // Array
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return "", err
		}
		if size == -1 {
			return "(nil)", nil
		}

		result := "["
		for i := 0; i < size; i++ {
			if i > 0 {
				result += ", "
			}
			item, err := c.readResponse()
			if err != nil {
				return "", err
			}
			result += item
		}
		result += "]"
		return result, nil
	default:
		return line, nil
	}
}

func startServer(t *testing.T, config Config, ks *storage.Keyspace, setup ...func(*Server)) *Server {
	t.Helper()
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	s := NewServer(config, ks)
	for _, fn := range setup {
		fn(s)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_BasicCommands(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	tests := []struct {
		cmd  []string
		want string
	}{
		{[]string{"PING"}, "PONG"},
		{[]string{"PING", "hello"}, "hello"},
		{[]string{"ECHO", "hi there"}, "hi there"},
		{[]string{"SET", "k", "v"}, "OK"},
		{[]string{"GET", "k"}, "v"},
		{[]string{"EXISTS", "k", "k", "missing"}, "2"},
		{[]string{"TYPE", "k"}, "string"},
		{[]string{"TYPE", "missing"}, "none"},
		{[]string{"TTL", "k"}, "-1"},
		{[]string{"PTTL", "missing"}, "-2"},
		{[]string{"DBSIZE"}, "1"},
		{[]string{"DEL", "k", "missing"}, "1"},
		{[]string{"GET", "k"}, "(nil)"},
		{[]string{"DEL", "k"}, "0"},
		{[]string{"SET", "num", "123"}, "OK"},
		{[]string{"GET", "num"}, "123"},
		{[]string{"SELECT", "0"}, "OK"},
		{[]string{"SELECT", "1"}, "-ERR DB index is out of range"},
		{[]string{"CLIENT", "SETNAME", "tester"}, "OK"},
		{[]string{"CLIENT", "GETNAME"}, "tester"},
		{[]string{"FLUSHALL"}, "OK"},
		{[]string{"DBSIZE"}, "0"},
	}

	for _, tt := range tests {
		if got := c.do(t, tt.cmd[0], tt.cmd[1:]...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestServer_CommandErrors(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	tests := []struct {
		cmd  []string
		want string
	}{
		{[]string{"NOSUCHCMD", "a"}, "-ERR unknown command 'nosuchcmd'"},
		{[]string{"GET"}, "-ERR wrong number of arguments for 'get' command"},
		{[]string{"GET", "a", "b"}, "-ERR wrong number of arguments for 'get' command"},
		{[]string{"SET", "k"}, "-ERR wrong number of arguments for 'set' command"},
		{[]string{"SET", "k", "v", "EX", "abc"}, "-ERR value is not an integer or out of range"},
		{[]string{"SET", "k", "v", "EX", "0"}, "-ERR invalid expire time in 'set' command"},
		{[]string{"SET", "k", "v", "PX", "-5"}, "-ERR invalid expire time in 'set' command"},
		{[]string{"SET", "k", "v", "EX"}, "-ERR syntax error"},
		{[]string{"SET", "k", "v", "NX", "XX"}, "-ERR syntax error"},
		{[]string{"SET", "k", "v", "EX", "10", "PX", "100"}, "-ERR syntax error"},
		{[]string{"SET", "k", "v", "KEEPTTL", "EX", "10"}, "-ERR syntax error"},
		{[]string{"SET", "k", "v", "BOGUS"}, "-ERR syntax error"},
		{[]string{"AUTH", "secret"}, "-ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?"},
	}

	for _, tt := range tests {
		if got := c.do(t, tt.cmd[0], tt.cmd[1:]...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.cmd, got, tt.want)
		}
	}

	// none of the failed SETs wrote anything
	if got := c.do(t, "EXISTS", "k"); got != "0" {
		t.Errorf("EXISTS k = %s after failed SETs", got)
	}
}

func TestServer_ErrorRepliesStayOnOneLine(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	tests := []struct {
		cmd  []string
		want string
	}{
		{[]string{"x'\r\n+INJECTED", "a"}, "-ERR unknown command 'x'  +injected'"},
		{[]string{"CLIENT", "a\r\n:1"}, "-ERR unknown subcommand 'a  :1'. Try CLIENT HELP."},
		{[]string{"REPLCONF", "bad\n-X", "1"}, "-ERR Unrecognized REPLCONF option: bad -X"},
	}

	for _, tt := range tests {
		if got := c.do(t, tt.cmd[0], tt.cmd[1:]...); got != tt.want {
			t.Errorf("%q = %q, want %q", tt.cmd, got, tt.want)
		}
		// the next reply on the connection belongs to the next command
		if got := c.do(t, "PING"); got != "PONG" {
			t.Fatalf("PING after %q = %q", tt.cmd, got)
		}
	}
}

func TestServer_WrongType(t *testing.T) {
	ks := storage.New()
	ks.Update(func(tx *storage.Txn) error {
		tx.Put("list", storage.NewList([][]byte{[]byte("a")}, nil))
		return nil
	})
	s := startServer(t, Config{}, ks)
	c := newTestClient(t, s.Addr())

	want := "-" + storage.ErrWrongType.Error()
	if got := c.do(t, "GET", "list"); got != want {
		t.Errorf("GET list = %q, want %q", got, want)
	}
	if got := c.do(t, "SET", "list", "v", "GET"); got != want {
		t.Errorf("SET list GET = %q, want %q", got, want)
	}
	if got := c.do(t, "TYPE", "list"); got != "list" {
		t.Errorf("TYPE list = %q", got)
	}
}

func TestServer_SetOptions(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	steps := []struct {
		cmd  []string
		want string
	}{
		{[]string{"SET", "k", "v1", "NX"}, "OK"},
		{[]string{"SET", "k", "v2", "NX"}, "(nil)"},
		{[]string{"GET", "k"}, "v1"},
		{[]string{"SET", "other", "v", "XX"}, "(nil)"},
		{[]string{"EXISTS", "other"}, "0"},
		{[]string{"SET", "k", "v3", "XX", "GET"}, "v1"},
		{[]string{"SET", "fresh", "v", "GET"}, "(nil)"},
		{[]string{"SET", "k", "v4", "EX", "100"}, "OK"},
		{[]string{"TTL", "k"}, "100"},
		{[]string{"SET", "k", "v5", "KEEPTTL"}, "OK"},
		{[]string{"TTL", "k"}, "100"},
		{[]string{"SET", "k", "v6"}, "OK"},
		{[]string{"TTL", "k"}, "-1"},
		{[]string{"SET", "k", "v7", "EXAT", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)}, "OK"},
	}
	for _, tt := range steps {
		if got := c.do(t, tt.cmd[0], tt.cmd[1:]...); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.cmd, got, tt.want)
		}
	}

	ttl, _ := strconv.Atoi(c.do(t, "TTL", "k"))
	if ttl < 3590 || ttl > 3600 {
		t.Errorf("TTL after EXAT = %d, want about 3600", ttl)
	}
}

func TestServer_Expiry(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	c.do(t, "SET", "short", "v", "PX", "50")
	pttl, _ := strconv.Atoi(c.do(t, "PTTL", "short"))
	if pttl <= 0 || pttl > 50 {
		t.Errorf("PTTL = %d, want within (0, 50]", pttl)
	}

	time.Sleep(80 * time.Millisecond)

	if got := c.do(t, "GET", "short"); got != "(nil)" {
		t.Errorf("GET after expiry = %q", got)
	}
	if got := c.do(t, "TTL", "short"); got != "-2" {
		t.Errorf("TTL after expiry = %q", got)
	}

	c.do(t, "SET", "past", "v", "PXAT", "1")
	if got := c.do(t, "EXISTS", "past"); got != "0" {
		t.Errorf("key set with a past PXAT exists: %s", got)
	}
}

func TestServer_Keys(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	for _, k := range []string{"user:1", "user:2", "session:1"} {
		c.do(t, "SET", k, "v")
	}

	if got := c.do(t, "KEYS", "user:*"); got != "[user:1, user:2]" {
		t.Errorf("KEYS user:* = %s", got)
	}
	if got := c.do(t, "KEYS", "nomatch*"); got != "[]" {
		t.Errorf("KEYS nomatch* = %s", got)
	}
}

func TestServer_Auth(t *testing.T) {
	s := startServer(t, Config{Password: "secret"}, storage.New())
	c := newTestClient(t, s.Addr())

	if got := c.do(t, "GET", "k"); got != "-NOAUTH Authentication required." {
		t.Errorf("GET before AUTH = %q", got)
	}
	if got := c.do(t, "AUTH", "wrong"); !strings.HasPrefix(got, "-WRONGPASS") {
		t.Errorf("AUTH wrong = %q", got)
	}
	if got := c.do(t, "AUTH", "secret"); got != "OK" {
		t.Errorf("AUTH secret = %q", got)
	}
	if got := c.do(t, "SET", "k", "v"); got != "OK" {
		t.Errorf("SET after AUTH = %q", got)
	}
}

func TestServer_ReadOnly(t *testing.T) {
	s := startServer(t, Config{ReadOnly: true}, storage.New())
	c := newTestClient(t, s.Addr())

	want := "-READONLY You can't write against a read only replica."
	for _, cmd := range [][]string{{"SET", "k", "v"}, {"DEL", "k"}, {"FLUSHALL"}} {
		if got := c.do(t, cmd[0], cmd[1:]...); got != want {
			t.Errorf("%v = %q, want %q", cmd, got, want)
		}
	}
	if got := c.do(t, "GET", "k"); got != "(nil)" {
		t.Errorf("GET on read-only server = %q", got)
	}

	// replicated writes bypass the check
	if err := s.ApplyReplicated(protocol.NewCommand("SET", "k", "from-master")); err != nil {
		t.Fatal(err)
	}
	if got := c.do(t, "GET", "k"); got != "from-master" {
		t.Errorf("GET after replicated SET = %q", got)
	}
	if err := s.ApplyReplicated(protocol.NewCommand("SET", "k")); err == nil {
		t.Error("ApplyReplicated accepted a malformed SET")
	}
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	if _, err := c.conn.Write([]byte("*1\r\n+PING\r\n")); err != nil {
		t.Fatal(err)
	}
	resp, err := c.readResponse()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "-ERR Protocol error") {
		t.Errorf("reply = %q, want a protocol error", resp)
	}
	if _, err := c.readResponse(); err != io.EOF {
		t.Errorf("connection still open after protocol error: %v", err)
	}

	// the server keeps serving other clients
	if got := newTestClient(t, s.Addr()).do(t, "PING"); got != "PONG" {
		t.Errorf("PING on new connection = %q", got)
	}
}

func TestServer_PipelinedCommands(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	var batch []byte
	for i := 0; i < 50; i++ {
		batch = append(batch, protocol.EncodeCommand("SET", fmt.Sprintf("k%d", i), strconv.Itoa(i))...)
	}
	batch = append(batch, protocol.EncodeCommand("DBSIZE")...)
	if _, err := c.conn.Write(batch); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if resp, err := c.readResponse(); err != nil || resp != "OK" {
			t.Fatalf("reply %d = %q, %v", i, resp, err)
		}
	}
	if resp, _ := c.readResponse(); resp != "50" {
		t.Errorf("DBSIZE = %q", resp)
	}
}

func TestServer_Quit(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	if got := c.do(t, "QUIT"); got != "OK" {
		t.Errorf("QUIT = %q", got)
	}
	if _, err := c.readResponse(); err != io.EOF {
		t.Errorf("connection open after QUIT: %v", err)
	}
}

func TestServer_InfoAndConfig(t *testing.T) {
	dir := t.TempDir()
	ks := storage.New()
	s := startServer(t, Config{Dir: dir, DBFilename: "dump.rdb"}, ks, func(s *Server) {
		s.SetMaster(replication.NewMaster(ks, ""))
	})
	c := newTestClient(t, s.Addr())

	c.do(t, "SET", "a", "1")
	c.do(t, "SET", "b", "2", "EX", "100")

	info := c.do(t, "INFO")
	for _, want := range []string{
		"# Server\r\nredis_version:" + RedisVersion,
		"# Replication\r\nrole:master\r\nconnected_slaves:0",
		"master_repl_offset:",
		"# Keyspace\r\ndb0:keys=2,expires=1,avg_ttl=0",
		"connected_clients:1",
	} {
		if !strings.Contains(info, want) {
			t.Errorf("INFO missing %q:\n%s", want, info)
		}
	}

	keyspace := c.do(t, "INFO", "keyspace")
	if strings.Contains(keyspace, "# Server") || !strings.Contains(keyspace, "db0:") {
		t.Errorf("INFO keyspace = %q", keyspace)
	}

	if got := c.do(t, "CONFIG", "GET", "dir"); got != "[dir, "+dir+"]" {
		t.Errorf("CONFIG GET dir = %s", got)
	}
	if got := c.do(t, "CONFIG", "GET", "db*"); got != "[dbfilename, dump.rdb]" {
		t.Errorf("CONFIG GET db* = %s", got)
	}
	if got := c.do(t, "CONFIG", "GET", "nothing"); got != "[]" {
		t.Errorf("CONFIG GET nothing = %s", got)
	}
	if got := c.do(t, "CONFIG", "SET", "dir", "/tmp"); !strings.HasPrefix(got, "-ERR unknown subcommand") {
		t.Errorf("CONFIG SET = %s", got)
	}

	c.do(t, "FLUSHALL")
	if got := c.do(t, "INFO", "keyspace"); strings.Contains(got, "db0:") {
		t.Errorf("INFO keyspace lists db0 for an empty keyspace: %q", got)
	}
}

func TestServer_Save(t *testing.T) {
	dir := t.TempDir()
	ks := storage.New()
	s := startServer(t, Config{Dir: dir, DBFilename: "dump.rdb"}, ks)
	c := newTestClient(t, s.Addr())

	c.do(t, "SET", "a", "1")
	c.do(t, "SET", "b", "hello", "EX", "100")

	if !strings.Contains(c.do(t, "INFO", "persistence"), "rdb_changes_since_last_save:2") {
		t.Error("INFO persistence does not count unsaved changes")
	}
	if got := c.do(t, "SAVE"); got != "OK" {
		t.Fatalf("SAVE = %q", got)
	}
	if !strings.Contains(c.do(t, "INFO", "persistence"), "rdb_changes_since_last_save:0") {
		t.Error("SAVE did not reset the change counter")
	}

	img, err := rdb.LoadFile(filepath.Join(dir, "dump.rdb"))
	if err != nil {
		t.Fatal(err)
	}
	loaded := storage.New()
	loaded.ReplaceAll(img.Entries(0, time.Now()))
	if loaded.Digest() != ks.Digest() {
		t.Error("saved snapshot differs from the keyspace")
	}

	digest := c.do(t, "DEBUG", "DIGEST")
	if digest != fmt.Sprintf("%016x", ks.Digest()) {
		t.Errorf("DEBUG DIGEST = %q", digest)
	}
}

func TestServer_SaveFailure(t *testing.T) {
	s := startServer(t, Config{Dir: filepath.Join(t.TempDir(), "missing", "dir"), DBFilename: "dump.rdb"}, storage.New())
	c := newTestClient(t, s.Addr())

	if got := c.do(t, "SAVE"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("SAVE into a missing directory = %q", got)
	}
	if _, err := os.Stat(filepath.Join(s.config.Dir, "dump.rdb")); !os.IsNotExist(err) {
		t.Errorf("stat = %v", err)
	}
}

// rawReplica performs the replica side of the handshake by hand.
type rawReplica struct {
	conn   net.Conn
	reader *protocol.Reader
}

func attachRawReplica(t *testing.T, addr string) (*rawReplica, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	r := &rawReplica{conn: conn, reader: protocol.NewReader(conn)}
	for _, step := range [][]string{
		{"PING"},
		{"REPLCONF", "listening-port", "7777"},
		{"REPLCONF", "capa", "psync2"},
	} {
		conn.Write(protocol.EncodeCommand(step[0], step[1:]...))
		v, err := r.reader.ReadNext()
		if err != nil || v.IsError() {
			t.Fatalf("%v: %v %v", step, v, err)
		}
	}

	conn.Write(protocol.EncodeCommand("PSYNC", "?", "-1"))
	v, err := r.reader.ReadNext()
	if err != nil || !strings.HasPrefix(v.String(), "FULLRESYNC ") {
		t.Fatalf("PSYNC reply = %v, %v", v, err)
	}
	payload, err := r.reader.ReadSnapshotPayload(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	return r, payload
}

func (r *rawReplica) next(t *testing.T) string {
	t.Helper()
	cmd, _, err := r.reader.ReadCommand()
	if err != nil {
		t.Fatal(err)
	}
	return cmd.String()
}

func TestServer_Propagation(t *testing.T) {
	ks := storage.New()
	m := replication.NewMaster(ks, "")
	s := startServer(t, Config{}, ks, func(s *Server) { s.SetMaster(m) })
	c := newTestClient(t, s.Addr())

	c.do(t, "SET", "before", "1")

	replica, payload := attachRawReplica(t, s.Addr())
	img, err := rdb.LoadBytes(payload)
	if err != nil {
		t.Fatal(err)
	}
	if entries := img.Entries(0, time.Now()); len(entries) != 1 || entries[0].Key != "before" {
		t.Errorf("snapshot entries = %v", entries)
	}

	eventually(t, "replica online", func() bool {
		replicas := m.Replicas()
		return len(replicas) == 1 && replicas[0].State == "online" && replicas[0].Port == 7777
	})
	if !strings.Contains(c.do(t, "INFO", "replication"), "slave0:ip=127.0.0.1,port=7777,state=online") {
		t.Error("INFO replication does not list the replica")
	}

	c.do(t, "SET", "k", "v")
	c.do(t, "SET", "k", "v2", "NX") // not applied, not propagated
	c.do(t, "DEL", "missing")        // nothing deleted, not propagated
	c.do(t, "SET", "ttl", "v", "EX", "100")
	c.do(t, "DEL", "k", "missing")
	c.do(t, "FLUSHALL")

	if got := replica.next(t); got != "SET k v" {
		t.Errorf("first propagated = %q", got)
	}
	got := replica.next(t)
	fields := strings.Fields(got)
	if len(fields) != 5 || fields[0] != "SET" || fields[1] != "ttl" || fields[3] != "PXAT" {
		t.Fatalf("SET EX propagated as %q, want SET ttl v PXAT <ms>", got)
	}
	at, _ := strconv.ParseInt(fields[4], 10, 64)
	if d := time.Until(time.UnixMilli(at)); d < 99*time.Second || d > 100*time.Second {
		t.Errorf("PXAT %d is %v away, want about 100s", at, d)
	}
	if got := replica.next(t); got != "DEL k missing" {
		t.Errorf("DEL propagated as %q", got)
	}
	if got := replica.next(t); got != "FLUSHALL" {
		t.Errorf("FLUSHALL propagated as %q", got)
	}

	if got := c.do(t, "CLIENT", "ID"); got == "" {
		t.Error("CLIENT ID empty")
	}
	if s.Stats()["connected_clients"] != 1 {
		t.Errorf("connected_clients = %v, replica links must not count", s.Stats()["connected_clients"])
	}
}

func TestServer_WaitWithoutReplicas(t *testing.T) {
	ks := storage.New()
	s := startServer(t, Config{}, ks, func(s *Server) { s.SetMaster(replication.NewMaster(ks, "")) })
	c := newTestClient(t, s.Addr())

	if got := c.do(t, "WAIT", "0", "0"); got != "0" {
		t.Errorf("WAIT 0 0 = %q", got)
	}
	start := time.Now()
	if got := c.do(t, "WAIT", "1", "50"); got != "0" {
		t.Errorf("WAIT 1 50 = %q", got)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("WAIT returned before its timeout")
	}
	if got := c.do(t, "WAIT", "1", "-1"); got != "-ERR timeout is negative" {
		t.Errorf("WAIT with negative timeout = %q", got)
	}
}

func TestServer_PSyncRejectedWithoutMaster(t *testing.T) {
	s := startServer(t, Config{}, storage.New())
	c := newTestClient(t, s.Addr())

	if got := c.do(t, "PSYNC", "?", "-1"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("PSYNC without replication = %q", got)
	}
	if got := c.do(t, "PING"); got != "PONG" {
		t.Errorf("connection unusable after PSYNC error: %q", got)
	}
}
