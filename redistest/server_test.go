package redistest

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// newGoRedis returns a standard RESP2 client for srv
func newGoRedis(t *testing.T, srv *Server, opts ...func(*redis.Options)) *redis.Client {
	t.Helper()
	o := &redis.Options{
		Addr:     srv.Addr(),
		Protocol: 2,
	}
	for _, fn := range opts {
		fn(o)
	}
	client := redis.NewClient(o)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServer_BasicCommands(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		t.Fatal(err)
	}
	if pong != "PONG" {
		t.Errorf("expected PONG, got %s", pong)
	}

	if err := client.Set(ctx, "testkey", "testvalue", 0).Err(); err != nil {
		t.Fatal(err)
	}
	got, err := client.Get(ctx, "testkey").Result()
	if err != nil {
		t.Fatal(err)
	}
	if got != "testvalue" {
		t.Errorf("expected testvalue, got %s", got)
	}

	if _, err := client.Get(ctx, "missing").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected redis.Nil for a missing key, got %v", err)
	}

	n, err := client.IncrBy(ctx, "counter", 5).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
	if n, _ = client.Decr(ctx, "counter").Result(); n != 4 {
		t.Errorf("expected 4 after DECR, got %d", n)
	}

	if err := client.Incr(ctx, "testkey").Err(); err == nil {
		t.Error("INCR of a non-integer value should fail")
	}

	if err := client.Set(ctx, "user:1", "a", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := client.Set(ctx, "user:2", "b", 0).Err(); err != nil {
		t.Fatal(err)
	}
	keys, err := client.Keys(ctx, "user:*").Result()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(keys, ",") != "user:1,user:2" {
		t.Errorf("unexpected KEYS result %v", keys)
	}

	deleted, err := client.Del(ctx, "user:1", "user:2", "nothing").Result()
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
}

func TestServer_Expiry(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)
	ctx := context.Background()

	if err := client.Set(ctx, "session", "x", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if ttl, _ := client.TTL(ctx, "session").Result(); ttl != -1 {
		t.Errorf("expected -1 for a key without expiry, got %v", ttl)
	}
	if ttl, _ := client.TTL(ctx, "nothing").Result(); ttl != -2 {
		t.Errorf("expected -2 for a missing key, got %v", ttl)
	}

	if err := client.Set(ctx, "short", "x", 50*time.Millisecond).Err(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)
	if n, _ := client.Exists(ctx, "short").Result(); n != 0 {
		t.Error("key with PX expiry should be gone")
	}
}

func TestServer_DatabasesAreIsolated(t *testing.T) {
	srv := Run(t)
	db0 := newGoRedis(t, srv)
	db3 := newGoRedis(t, srv, func(o *redis.Options) { o.DB = 3 })
	ctx := context.Background()

	if err := db3.Set(ctx, "k", "three", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := db0.Get(ctx, "k").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("key set in db 3 should not be visible in db 0, got %v", err)
	}
	if size, _ := db3.DBSize(ctx).Result(); size != 1 {
		t.Errorf("expected db 3 size 1, got %d", size)
	}

	if err := db3.FlushDB(ctx).Err(); err != nil {
		t.Fatal(err)
	}
	if size, _ := db3.DBSize(ctx).Result(); size != 0 {
		t.Errorf("expected empty db 3 after FLUSHDB, got %d", size)
	}
}

func TestServer_Collections(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)
	ctx := context.Background()

	client.RPush(ctx, "list", "b", "c")
	client.LPush(ctx, "list", "a")
	items, err := client.LRange(ctx, "list", 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(items, "") != "abc" {
		t.Errorf("expected [a b c], got %v", items)
	}
	if v, _ := client.LPop(ctx, "list").Result(); v != "a" {
		t.Errorf("expected LPOP a, got %q", v)
	}

	client.SAdd(ctx, "set", "x", "y", "x")
	members, _ := client.SMembers(ctx, "set").Result()
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %v", members)
	}

	client.ZAdd(ctx, "zs", redis.Z{Score: 2, Member: "two"}, redis.Z{Score: 1, Member: "one"})
	if rank, _ := client.ZRank(ctx, "zs", "two").Result(); rank != 1 {
		t.Errorf("expected rank 1, got %d", rank)
	}
	if _, err := client.ZRank(ctx, "zs", "absent").Result(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected a null reply for an absent member, got %v", err)
	}
	if score, _ := client.ZIncrBy(ctx, "zs", 0.5, "one").Result(); score != 1.5 {
		t.Errorf("expected score 1.5, got %v", score)
	}

	client.HSet(ctx, "h", "f1", "v1", "f2", "v2")
	all, err := client.HGetAll(ctx, "h").Result()
	if err != nil {
		t.Fatal(err)
	}
	if all["f1"] != "v1" || all["f2"] != "v2" {
		t.Errorf("unexpected HGETALL result %v", all)
	}

	if err := client.LPush(ctx, "h", "x").Err(); err == nil || !strings.HasPrefix(err.Error(), "WRONGTYPE") {
		t.Errorf("expected WRONGTYPE, got %v", err)
	}
}

func TestServer_LuaScripts(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)
	ctx := context.Background()

	res, err := client.Eval(ctx, "return 'hello world'", nil).Result()
	if err != nil {
		t.Fatal(err)
	}
	if res != "hello world" {
		t.Errorf("expected 'hello world', got %v", res)
	}

	res, err = client.Eval(ctx, "return KEYS[1] .. ':' .. ARGV[1]", []string{"user"}, "123").Result()
	if err != nil {
		t.Fatal(err)
	}
	if res != "user:123" {
		t.Errorf("expected 'user:123', got %v", res)
	}

	res, err = client.Eval(ctx,
		"redis.call('SET', KEYS[1], ARGV[1]); return redis.call('GET', KEYS[1])",
		[]string{"luakey"}, "luavalue").Result()
	if err != nil {
		t.Fatal(err)
	}
	if res != "luavalue" {
		t.Errorf("expected 'luavalue', got %v", res)
	}

	sha, err := client.ScriptLoad(ctx, "return redis.call('INCR', KEYS[1])").Result()
	if err != nil {
		t.Fatal(err)
	}
	res, err = client.EvalSha(ctx, sha, []string{"hits"}).Result()
	if err != nil {
		t.Fatal(err)
	}
	if res != int64(1) {
		t.Errorf("expected 1, got %v", res)
	}

	exists, err := client.ScriptExists(ctx, sha, "0000").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(exists) != 2 || !exists[0] || exists[1] {
		t.Errorf("expected [true false], got %v", exists)
	}

	if err := client.ScriptFlush(ctx).Err(); err != nil {
		t.Fatal(err)
	}
	if err := client.EvalSha(ctx, sha, nil).Err(); err == nil || !strings.HasPrefix(err.Error(), "NOSCRIPT") {
		t.Errorf("expected NOSCRIPT after flush, got %v", err)
	}

	if err := client.Eval(ctx, "invalid lua syntax !!!", nil).Err(); err == nil {
		t.Error("expected an error for invalid Lua")
	}
}

func TestServer_Transactions(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)
	ctx := context.Background()

	var incr *redis.IntCmd
	var get *redis.StringCmd
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "tx", "10", 0)
		incr = pipe.Incr(ctx, "tx")
		get = pipe.Get(ctx, "tx")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if incr.Val() != 11 {
		t.Errorf("expected 11, got %d", incr.Val())
	}
	if get.Val() != "11" {
		t.Errorf("expected \"11\", got %q", get.Val())
	}
}

func TestServer_PubSub(t *testing.T) {
	srv := Run(t)
	subscriber := newGoRedis(t, srv)
	publisher := newGoRedis(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sub := subscriber.Subscribe(ctx, "news")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}
	psub := subscriber.PSubscribe(ctx, "news.*")
	defer psub.Close()
	if _, err := psub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	n, err := publisher.Publish(ctx, "news", "hello").Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 receiver, got %d", n)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != "news" || msg.Payload != "hello" {
		t.Errorf("unexpected message %+v", msg)
	}

	if _, err := publisher.Publish(ctx, "news.sport", "goal").Result(); err != nil {
		t.Fatal(err)
	}
	pmsg, err := psub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pmsg.Pattern != "news.*" || pmsg.Channel != "news.sport" || pmsg.Payload != "goal" {
		t.Errorf("unexpected pattern message %+v", pmsg)
	}
}

func TestServer_Auth(t *testing.T) {
	srv := RunWithPassword(t, "s3cret")
	ctx := context.Background()

	good := newGoRedis(t, srv, func(o *redis.Options) { o.Password = "s3cret" })
	if err := good.Ping(ctx).Err(); err != nil {
		t.Fatalf("authenticated client: %v", err)
	}

	anon := newGoRedis(t, srv)
	if err := anon.Ping(ctx).Err(); err == nil || !strings.HasPrefix(err.Error(), "NOAUTH") {
		t.Errorf("expected NOAUTH, got %v", err)
	}
}

// dialRaw opens a plain socket for exercising the inline framings
func dialRaw(t *testing.T, srv *Server) (net.Conn, *protocol.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	return conn, protocol.NewReader(conn)
}

func TestServer_InlineFramings(t *testing.T) {
	srv := Run(t)
	conn, r := dialRaw(t, srv)

	req := "SET greeting 11\r\nhello world\r\n" +
		"GET greeting\r\n" +
		"ZADD board 1.5 4\r\nalice\r\n" +
		"ZRANK board 3\r\nbob\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	if s, err := r.ReadStatus(); err != nil || s != "OK" {
		t.Fatalf("SET: got %q, %v", s, err)
	}
	data, found, err := r.ReadBulk()
	if err != nil || !found || string(data) != "hello world" {
		t.Fatalf("GET: got %q, %v, %v", data, found, err)
	}
	if n, err := r.ReadInt(); err != nil || n != 1 {
		t.Fatalf("ZADD: got %d, %v", n, err)
	}
	if n, err := r.ReadIntLenient(); err != nil || n != -1 {
		t.Fatalf("ZRANK of an absent member: got %d, %v", n, err)
	}

	want := []string{"SET greeting hello world", "GET greeting", "ZADD board 1.5 alice", "ZRANK board bob"}
	got := srv.Commands()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("command log = %q, want %q", got, want)
	}
}

func TestServer_CloseClients(t *testing.T) {
	srv := Run(t)
	conn, r := dialRaw(t, srv)

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		t.Fatal(err)
	}
	if s, err := r.ReadStatus(); err != nil || s != "PONG" {
		t.Fatalf("PING: got %q, %v", s, err)
	}

	srv.CloseClients()
	if _, err := r.ReadStatus(); err == nil {
		t.Fatal("expected the connection to be closed")
	}

	// the listener is still up
	conn2, r2 := dialRaw(t, srv)
	if _, err := conn2.Write([]byte("PING\r\n")); err != nil {
		t.Fatal(err)
	}
	if s, err := r2.ReadStatus(); err != nil || s != "PONG" {
		t.Fatalf("PING after CloseClients: got %q, %v", s, err)
	}
}

func TestServer_Stats(t *testing.T) {
	srv := Run(t)
	client := newGoRedis(t, srv)
	ctx := context.Background()

	_ = client.Ping(ctx).Err()
	_ = client.Set(ctx, "key", "value", 0).Err()
	_ = client.Get(ctx, "key").Err()

	stats := srv.Stats()
	if stats["connected_clients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connected_clients"])
	}
	if stats["total_commands"].(int64) < 3 {
		t.Errorf("expected at least 3 commands, got %v", stats["total_commands"])
	}
	if stats["total_connections"].(int64) < 1 {
		t.Errorf("expected at least 1 connection, got %v", stats["total_connections"])
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"user:*", "user:1", true},
		{"user:*", "users", false},
		{"*:name", "user:1:name", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"a/*", "a/b/c", true},
		{"news.*", "news.sport", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.s, func(t *testing.T) {
			if got := matchGlob(tt.pattern, tt.s); got != tt.want {
				t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
			}
		})
	}
}
