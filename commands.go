package redisclient

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// Typed command surface. Keys and other line arguments are sanitized by
// the codec; values travel as binary payload frames.
//
// Inside a transaction every method returns zero values and a nil error
// once the server has answered QUEUED. The real result is delivered to the
// operation's callback by Commit.

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Do sends an arbitrary inline command and returns the raw reply
func (c *Conn) Do(name string, args ...string) (protocol.Value, error) {
	r, err := c.call(replyValue, strings.ToUpper(name), args...)
	return r.value, err
}

// DoPayload sends an inline command whose last argument is a binary payload
func (c *Conn) DoPayload(name string, payload []byte, args ...string) (protocol.Value, error) {
	r, err := c.callPayload(replyValue, strings.ToUpper(name), payload, args...)
	return r.value, err
}

// Ping checks the server is answering
func (c *Conn) Ping() error {
	r, err := c.call(replyStatus, "PING")
	if err != nil {
		return err
	}
	if c.tx == nil && r.status != "PONG" {
		return &ProtocolError{Message: fmt.Sprintf("unexpected PING reply %q", r.status)}
	}
	return nil
}

// Echo returns msg as sent back by the server
func (c *Conn) Echo(msg []byte) ([]byte, error) {
	r, err := c.callPayload(replyBulk, "ECHO", msg)
	return r.data, err
}

// Select switches the connection to database db. SELECT is always sent,
// even when db is already selected. Inside a transaction the switch is
// recorded only once EXEC has run it.
func (c *Conn) Select(db int) error {
	if _, err := c.call(replyVoid, "SELECT", strconv.Itoa(db)); err != nil {
		return err
	}
	if tx := c.tx; tx != nil && tx.pending != nil {
		tx.pending.applied = func() { c.db = db }
		return nil
	}
	c.db = db
	return nil
}

// Get returns the value of key; ok is false when the key does not exist
func (c *Conn) Get(key string) (value []byte, ok bool, err error) {
	r, err := c.call(replyBulk, "GET", key)
	return r.data, r.ok, err
}

// Set stores value under key
func (c *Conn) Set(key string, value []byte) error {
	_, err := c.callPayload(replyVoid, "SET", value, key)
	return err
}

// SetNX stores value only if key does not exist and reports whether it did
func (c *Conn) SetNX(key string, value []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "SETNX", value, key)
	return r.n == 1, err
}

// GetSet stores value and returns the previous value
func (c *Conn) GetSet(key string, value []byte) (old []byte, ok bool, err error) {
	r, err := c.callPayload(replyBulk, "GETSET", value, key)
	return r.data, r.ok, err
}

// MSet stores every pair atomically. Pairs are sent in key order.
func (c *Conn) MSet(pairs map[string][]byte) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([][]byte, 0, 1+2*len(keys))
	args = append(args, []byte("MSET"))
	for _, k := range keys {
		args = append(args, []byte(k), pairs[k])
	}
	_, err := c.callMultiBulk(replyVoid, args...)
	return err
}

// Exists reports whether key exists
func (c *Conn) Exists(key string) (bool, error) {
	r, err := c.call(replyInt, "EXISTS", key)
	return r.n > 0, err
}

// Del removes keys and returns how many existed
func (c *Conn) Del(keys ...string) (int64, error) {
	r, err := c.call(replyInt, "DEL", keys...)
	return r.n, err
}

// Incr increments the integer at key by one
func (c *Conn) Incr(key string) (int64, error) {
	r, err := c.call(replyInt, "INCR", key)
	return r.n, err
}

// IncrBy increments the integer at key by n
func (c *Conn) IncrBy(key string, n int64) (int64, error) {
	r, err := c.call(replyInt, "INCRBY", key, strconv.FormatInt(n, 10))
	return r.n, err
}

// Decr decrements the integer at key by one
func (c *Conn) Decr(key string) (int64, error) {
	r, err := c.call(replyInt, "DECR", key)
	return r.n, err
}

// Keys returns the keys matching pattern
func (c *Conn) Keys(pattern string) ([]string, error) {
	r, err := c.call(replyMultiBulk, "KEYS", pattern)
	return itemsToStrings(r.items), err
}

// Expire sets a time to live on key, rounded down to whole seconds
func (c *Conn) Expire(key string, ttl time.Duration) (bool, error) {
	r, err := c.call(replyInt, "EXPIRE", key, strconv.FormatInt(int64(ttl/time.Second), 10))
	return r.n == 1, err
}

// TTL returns the remaining time to live of key in seconds, -1 for a key
// without expiry and -2 for a missing key
func (c *Conn) TTL(key string) (int64, error) {
	r, err := c.call(replyInt, "TTL", key)
	return r.n, err
}

// LPush prepends value to the list at key and returns the new length
func (c *Conn) LPush(key string, value []byte) (int64, error) {
	r, err := c.callPayload(replyInt, "LPUSH", value, key)
	return r.n, err
}

// RPush appends value to the list at key and returns the new length
func (c *Conn) RPush(key string, value []byte) (int64, error) {
	r, err := c.callPayload(replyInt, "RPUSH", value, key)
	return r.n, err
}

// LPop removes and returns the first element of the list at key
func (c *Conn) LPop(key string) (value []byte, ok bool, err error) {
	r, err := c.call(replyBulk, "LPOP", key)
	return r.data, r.ok, err
}

// LRange returns the elements between start and stop, inclusive
func (c *Conn) LRange(key string, start, stop int) ([][]byte, error) {
	r, err := c.call(replyMultiBulk, "LRANGE", key, strconv.Itoa(start), strconv.Itoa(stop))
	return r.items, err
}

// LLen returns the length of the list at key
func (c *Conn) LLen(key string) (int64, error) {
	r, err := c.call(replyInt, "LLEN", key)
	return r.n, err
}

// SAdd adds member to the set at key and reports whether it was new
func (c *Conn) SAdd(key string, member []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "SADD", member, key)
	return r.n == 1, err
}

// SRem removes member from the set at key and reports whether it was there
func (c *Conn) SRem(key string, member []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "SREM", member, key)
	return r.n == 1, err
}

// SIsMember reports whether member belongs to the set at key
func (c *Conn) SIsMember(key string, member []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "SISMEMBER", member, key)
	return r.n == 1, err
}

// SMembers returns every member of the set at key
func (c *Conn) SMembers(key string) ([][]byte, error) {
	r, err := c.call(replyMultiBulk, "SMEMBERS", key)
	return r.items, err
}

// ZAdd adds member with score to the sorted set at key and reports whether
// it was new
func (c *Conn) ZAdd(key string, score float64, member []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "ZADD", member, key, formatFloat(score))
	return r.n == 1, err
}

// ZScore returns the score of member; ok is false when it is absent
func (c *Conn) ZScore(key string, member []byte) (score float64, ok bool, err error) {
	r, err := c.callPayload(replyDouble, "ZSCORE", member, key)
	if err != nil || c.tx != nil {
		return 0, false, err
	}
	return r.f, r.ok, nil
}

// ZIncrBy adds incr to the score of member and returns the new score
func (c *Conn) ZIncrBy(key string, incr float64, member []byte) (float64, error) {
	r, err := c.callPayload(replyDouble, "ZINCRBY", member, key, formatFloat(incr))
	if err != nil || c.tx != nil {
		return 0, err
	}
	if !r.ok {
		return math.NaN(), &ProtocolError{Message: "null reply to ZINCRBY"}
	}
	return r.f, nil
}

// ZRank returns the zero-based rank of member; ok is false when it is
// absent. Some servers answer a missing member with "$-1" instead of an
// integer reply, which is accepted here.
func (c *Conn) ZRank(key string, member []byte) (rank int64, ok bool, err error) {
	r, err := c.callPayload(replyIntLenient, "ZRANK", member, key)
	if err != nil || c.tx != nil {
		return 0, false, err
	}
	if r.n < 0 {
		return 0, false, nil
	}
	return r.n, true, nil
}

// HSet sets field in the hash at key and reports whether it was new
func (c *Conn) HSet(key, field string, value []byte) (bool, error) {
	r, err := c.callPayload(replyInt, "HSET", value, key, field)
	return r.n == 1, err
}

// HGet returns the value of field in the hash at key
func (c *Conn) HGet(key, field string) (value []byte, ok bool, err error) {
	r, err := c.call(replyBulk, "HGET", key, field)
	return r.data, r.ok, err
}

// HGetAll returns every field of the hash at key
func (c *Conn) HGetAll(key string) (map[string][]byte, error) {
	r, err := c.call(replyMultiBulk, "HGETALL", key)
	if err != nil || c.tx != nil {
		return nil, err
	}
	if len(r.items)%2 != 0 {
		return nil, &ProtocolError{Message: fmt.Sprintf("HGETALL returned %d elements", len(r.items))}
	}
	out := make(map[string][]byte, len(r.items)/2)
	for i := 0; i < len(r.items); i += 2 {
		out[string(r.items[i])] = r.items[i+1]
	}
	return out, nil
}

// Publish sends message to channel and returns the number of receivers
func (c *Conn) Publish(channel string, message []byte) (int64, error) {
	r, err := c.callPayload(replyInt, "PUBLISH", message, channel)
	return r.n, err
}

// DBSize returns the number of keys in the selected database
func (c *Conn) DBSize() (int64, error) {
	r, err := c.call(replyInt, "DBSIZE")
	return r.n, err
}

// FlushDB removes every key from the selected database
func (c *Conn) FlushDB() error {
	_, err := c.call(replyVoid, "FLUSHDB")
	return err
}

// Info returns the server's INFO section as key/value pairs
func (c *Conn) Info() (map[string]string, error) {
	r, err := c.call(replyBulk, "INFO")
	if err != nil || c.tx != nil {
		return nil, err
	}

	info := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(r.data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, found := strings.Cut(line, ":"); found {
			info[k] = v
		}
	}
	return info, scanner.Err()
}

func scriptArgs(name, script string, keys []string, args [][]byte) [][]byte {
	out := make([][]byte, 0, 3+len(keys)+len(args))
	out = append(out, []byte(name), []byte(script), []byte(strconv.Itoa(len(keys))))
	for _, k := range keys {
		out = append(out, []byte(k))
	}
	return append(out, args...)
}

// Eval runs a Lua script server-side
func (c *Conn) Eval(script string, keys []string, args ...[]byte) (protocol.Value, error) {
	r, err := c.callMultiBulk(replyValue, scriptArgs("EVAL", script, keys, args)...)
	return r.value, err
}

// EvalSha runs a script previously loaded with ScriptLoad
func (c *Conn) EvalSha(sha string, keys []string, args ...[]byte) (protocol.Value, error) {
	r, err := c.callMultiBulk(replyValue, scriptArgs("EVALSHA", sha, keys, args)...)
	return r.value, err
}

// ScriptLoad caches script on the server and returns its SHA1
func (c *Conn) ScriptLoad(script string) (string, error) {
	r, err := c.callMultiBulk(replyBulk, []byte("SCRIPT"), []byte("LOAD"), []byte(script))
	return string(r.data), err
}

// Quit asks the server to close the connection and closes the socket.
// The next command opens a new one.
func (c *Conn) Quit() error {
	_, err := c.call(replyVoid, "QUIT")
	if c.tx == nil {
		c.closeSocket()
	}
	return err
}
