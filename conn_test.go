package redisclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
	"github.com/raniellyferreira/redis-native-client/redistest"
)

// commands sent with a trailing payload frame
var payloadCommands = map[string]bool{
	"SET": true, "SETNX": true, "GETSET": true, "ECHO": true,
	"LPUSH": true, "RPUSH": true, "SADD": true, "SREM": true, "SISMEMBER": true,
	"ZADD": true, "ZSCORE": true, "ZINCRBY": true, "ZRANK": true,
	"HSET": true, "PUBLISH": true,
}

// scriptedServer answers every request it reads with the next canned raw
// reply. It hangs up once the replies run out.
type scriptedServer struct {
	mu       sync.Mutex
	replies  []string
	received []string
	dials    int
}

func newScriptedServer(replies ...string) *scriptedServer {
	return &scriptedServer{replies: replies}
}

func (s *scriptedServer) dialer() Dialer {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		s.mu.Lock()
		s.dials++
		s.mu.Unlock()
		go s.serve(server)
		return client, nil
	}
}

func (s *scriptedServer) serve(conn net.Conn) {
	defer conn.Close()
	r := protocol.NewReader(conn)
	for {
		cmd, err := r.ReadCommand(func(name string) bool { return payloadCommands[name] })
		if err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, cmd.String())
		if len(s.replies) == 0 {
			s.mu.Unlock()
			return
		}
		reply := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()

		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (s *scriptedServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func (s *scriptedServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func newTestConn(t *testing.T, addr string, opts ...Option) *Conn {
	t.Helper()
	opts = append([]Option{WithLogger(NopLogger{})}, opts...)
	c, err := NewConn(addr, opts...)
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func expectCommands(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("server received %q, want %q", got, want)
	}
}

func TestConnLazyConnectAndBasicCommands(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	if c.State() != StateDisconnected {
		t.Fatalf("State() = %s before the first command, want disconnected", c.State())
	}
	if c.ID() == "" {
		t.Error("expected a connection ID")
	}

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %s, want connected", c.State())
	}

	if err := c.Set("greeting", []byte("hello\r\nworld")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := c.Get("greeting")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "hello\r\nworld" {
		t.Errorf("Get = %q, want the binary-safe payload back", value)
	}

	if _, ok, err := c.Get("missing"); err != nil || ok {
		t.Errorf("Get(missing) ok=%v err=%v, want a null reply", ok, err)
	}

	n, err := c.Incr("counter")
	if err != nil || n != 1 {
		t.Errorf("Incr = %d, %v; want 1", n, err)
	}
	if n, _ = c.IncrBy("counter", 41); n != 42 {
		t.Errorf("IncrBy = %d, want 42", n)
	}

	if c.LastCommand() != "INCRBY" {
		t.Errorf("LastCommand() = %q, want INCRBY", c.LastCommand())
	}
}

func TestConnCollections(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	if _, err := c.RPush("queue", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.RPush("queue", []byte("b")); n != 2 {
		t.Errorf("RPush length = %d, want 2", n)
	}
	items, err := c.LRange("queue", 0, -1)
	if err != nil || len(items) != 2 || string(items[1]) != "b" {
		t.Errorf("LRange = %q, %v", items, err)
	}

	if added, _ := c.SAdd("tags", []byte("go")); !added {
		t.Error("SAdd reported an existing member")
	}
	if member, _ := c.SIsMember("tags", []byte("go")); !member {
		t.Error("SIsMember = false, want true")
	}

	if _, err := c.ZAdd("board", 1.5, []byte("alice")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ZAdd("board", 3, []byte("bob")); err != nil {
		t.Fatal(err)
	}
	score, ok, err := c.ZScore("board", []byte("alice"))
	if err != nil || !ok || score != 1.5 {
		t.Errorf("ZScore = %v, %v, %v; want 1.5", score, ok, err)
	}
	if _, ok, _ := c.ZScore("board", []byte("nobody")); ok {
		t.Error("ZScore of a missing member reported ok")
	}
	rank, ok, err := c.ZRank("board", []byte("bob"))
	if err != nil || !ok || rank != 1 {
		t.Errorf("ZRank = %d, %v, %v; want 1", rank, ok, err)
	}
	if _, ok, err := c.ZRank("board", []byte("nobody")); err != nil || ok {
		t.Errorf("ZRank of a missing member: ok=%v err=%v", ok, err)
	}

	if _, err := c.HSet("user:1", "name", []byte("Ada")); err != nil {
		t.Fatal(err)
	}
	all, err := c.HGetAll("user:1")
	if err != nil || string(all["name"]) != "Ada" {
		t.Errorf("HGetAll = %q, %v", all, err)
	}
}

func TestConnSanitizesInlineArguments(t *testing.T) {
	srv := newScriptedServer("$-1\r\n", ":1\r\n")
	c := newTestConn(t, "localhost", WithDialer(srv.dialer()))

	if _, _, err := c.Get("my key\r\nFLUSHDB"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Del("a b", "c\td"); err != nil {
		t.Fatal(err)
	}

	expectCommands(t, srv.commands(), []string{"GET my_key__FLUSHDB", "DEL a_b c_d"})
}

func TestConnAuthAndSelectOnConnect(t *testing.T) {
	srv := redistest.RunWithPassword(t, "hunter2")
	c := newTestConn(t, "hunter2@"+srv.Addr(), WithDefaultDB(4))

	if c.DB() != 4 {
		t.Errorf("DB() = %d, want 4", c.DB())
	}
	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	expectCommands(t, srv.Commands(), []string{"AUTH hunter2", "SELECT 4", "SET k v"})
}

func TestConnAuthFailure(t *testing.T) {
	srv := redistest.RunWithPassword(t, "right")
	c := newTestConn(t, srv.Addr(), WithPassword("wrong"))

	err := c.Ping()
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("Ping error = %v, want an authentication failure", err)
	}
	if !c.HadErrors() {
		t.Error("expected HadErrors after a failed AUTH")
	}
}

func TestConnIdleReconnectRestoresDatabase(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr(), WithIdleTimeout(time.Millisecond))

	if err := c.Select(5); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	srv.CloseClients()
	time.Sleep(20 * time.Millisecond)
	srv.ResetCommands()

	value, ok, err := c.Get("k")
	if err != nil {
		t.Fatalf("Get after the server dropped the idle socket failed: %v", err)
	}
	if !ok || string(value) != "v" {
		t.Errorf("Get = %q, %v; want the value from database 5", value, ok)
	}
	if c.DB() != 5 {
		t.Errorf("DB() = %d, want 5", c.DB())
	}
	expectCommands(t, srv.Commands(), []string{"SELECT 5", "GET k"})
	if c.HadErrors() {
		t.Error("a transparent reconnect must not mark the connection as failed")
	}
}

func TestConnSocketErrorIsConnectionError(t *testing.T) {
	srv := newScriptedServer("+PONG\r\n")
	c := newTestConn(t, "cache:6380", WithDialer(srv.dialer()), WithIdleTimeout(0))

	if err := c.Ping(); err != nil {
		t.Fatal(err)
	}

	_, _, err := c.Get("k")
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Get error = %v (%T), want *ConnectionError", err, err)
	}
	if cerr.Addr != "cache:6380" || cerr.Command != "GET" {
		t.Errorf("ConnectionError = %+v", cerr)
	}
	if !c.HadErrors() {
		t.Error("expected HadErrors after a socket failure")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", c.State())
	}
}

func TestConnProtocolErrorClosesSocket(t *testing.T) {
	srv := newScriptedServer("?what\r\n", "+PONG\r\n")
	c := newTestConn(t, "localhost", WithDialer(srv.dialer()))

	_, err := c.Incr("k")
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Incr error = %v (%T), want *ProtocolError", err, err)
	}
	if !c.HadErrors() || c.State() != StateDisconnected {
		t.Errorf("HadErrors=%v State=%s after a protocol error", c.HadErrors(), c.State())
	}

	// the next command dials again
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping after a protocol error failed: %v", err)
	}
	if srv.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", srv.dialCount())
	}
}

func TestConnServerErrorKeepsConnection(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	if _, err := c.LPush("list", []byte("x")); err != nil {
		t.Fatal(err)
	}
	_, _, err := c.Get("list")
	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Get error = %v, want *ServerError", err)
	}
	if !strings.HasPrefix(serr.Message, "WRONGTYPE") {
		t.Errorf("Message = %q, want the WRONGTYPE prefix kept", serr.Message)
	}
	if c.HadErrors() {
		t.Error("a server error reply must not mark the connection as failed")
	}
	if err := c.Ping(); err != nil {
		t.Errorf("connection unusable after a server error: %v", err)
	}
}

func TestConnRankQuirk(t *testing.T) {
	srv := newScriptedServer("$-1\r\n", "$1\r\n3\r\n", ":0\r\n")
	c := newTestConn(t, "localhost", WithDialer(srv.dialer()))

	tests := []struct {
		member   string
		wantRank int64
		wantOK   bool
	}{
		{"missing", 0, false},
		{"bulk", 3, true},
		{"first", 0, true},
	}
	for _, tt := range tests {
		rank, ok, err := c.ZRank("z", []byte(tt.member))
		if err != nil {
			t.Fatalf("ZRank(%s) failed: %v", tt.member, err)
		}
		if rank != tt.wantRank || ok != tt.wantOK {
			t.Errorf("ZRank(%s) = %d, %v; want %d, %v", tt.member, rank, ok, tt.wantRank, tt.wantOK)
		}
	}
}

func TestConnDialRetry(t *testing.T) {
	srv := newScriptedServer("+PONG\r\n")
	failures := 2
	dial := srv.dialer()
	flaky := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("connection refused")
		}
		return dial(ctx, network, addr)
	}

	c := newTestConn(t, "localhost", WithDialer(flaky), WithRetry(2, time.Second))
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping with retries failed: %v", err)
	}

	failures = 5
	c2 := newTestConn(t, "localhost", WithDialer(flaky), WithRetry(1, time.Second))
	err := c2.Ping()
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Ping error = %v, want *ConnectionError once retries run out", err)
	}
}

func TestConnCloseAndQuit(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	if err := c.Ping(); err != nil {
		t.Fatal(err)
	}
	if err := c.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s after QUIT, want disconnected", c.State())
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping after QUIT should reconnect: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Ping(); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestConnScripts(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	v, err := c.Eval("return redis.call('INCRBY', KEYS[1], ARGV[1])", []string{"n"}, []byte("7"))
	if err != nil || v.Int() != 7 {
		t.Fatalf("Eval = %v, %v; want 7", v, err)
	}

	sha, err := c.ScriptLoad("return ARGV[1]")
	if err != nil {
		t.Fatal(err)
	}
	v, err = c.EvalSha(sha, nil, []byte("echo"))
	if err != nil || string(v.Bytes()) != "echo" {
		t.Errorf("EvalSha = %v, %v", v, err)
	}

	_, err = c.EvalSha("0000000000000000000000000000000000000000", nil)
	var serr *ServerError
	if !errors.As(err, &serr) || !strings.HasPrefix(serr.Message, "NOSCRIPT") {
		t.Errorf("EvalSha of an unknown script = %v, want NOSCRIPT", err)
	}
}

func TestConnInfo(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	info, err := c.Info()
	if err != nil {
		t.Fatal(err)
	}
	if len(info) == 0 {
		t.Error("expected INFO fields")
	}
}
