package redistest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// execCtx is what a handler sees: the selected database and the server,
// whose lock is held for the duration of the call
type execCtx struct {
	s    *Server
	name string
	dbID int
	db   database
}

// handler executes one command and returns its reply
type handler func(x *execCtx, args [][]byte) protocol.Value

// spec declares a command's argument count bounds; max < 0 is unbounded
type spec struct {
	min, max int
	fn       handler
}

var commandTable map[string]spec

func init() {
	commandTable = map[string]spec{
		"PING":   {0, 1, cmdPing},
		"ECHO":   {1, 1, cmdEcho},
		"TYPE":   {1, 1, cmdType},
		"DBSIZE": {0, 0, cmdDBSize},
		"FLUSHDB": {0, 0, func(x *execCtx, _ [][]byte) protocol.Value {
			clear(x.db)
			return ok()
		}},
		"INFO": {0, 1, cmdInfo},

		"GET":    {1, 1, cmdGet},
		"MGET":   {1, -1, cmdMGet},
		"SET":    {2, 4, cmdSet},
		"SETNX":  {2, 2, cmdSetNX},
		"GETSET": {2, 2, cmdGetSet},
		"MSET":   {2, -1, cmdMSet},
		"EXISTS": {1, -1, cmdExists},
		"DEL":    {1, -1, cmdDel},
		"INCR":   {1, 1, func(x *execCtx, a [][]byte) protocol.Value { return incrBy(x, a[0], 1) }},
		"DECR":   {1, 1, func(x *execCtx, a [][]byte) protocol.Value { return incrBy(x, a[0], -1) }},
		"INCRBY": {2, 2, cmdIncrBy},
		"DECRBY": {2, 2, cmdIncrBy},
		"KEYS":   {1, 1, cmdKeys},
		"EXPIRE": {2, 2, cmdExpire},
		"TTL":    {1, 1, cmdTTL},

		"LPUSH":  {2, -1, cmdPush},
		"RPUSH":  {2, -1, cmdPush},
		"LPOP":   {1, 1, cmdPop},
		"RPOP":   {1, 1, cmdPop},
		"LRANGE": {3, 3, cmdLRange},
		"LLEN":   {1, 1, cmdLLen},

		"SADD":      {2, -1, cmdSAdd},
		"SREM":      {2, -1, cmdSRem},
		"SISMEMBER": {2, 2, cmdSIsMember},
		"SMEMBERS":  {1, 1, cmdSMembers},
		"SCARD":     {1, 1, cmdSCard},

		"ZADD":    {3, -1, cmdZAdd},
		"ZSCORE":  {2, 2, cmdZScore},
		"ZINCRBY": {3, 3, cmdZIncrBy},
		"ZRANK":   {2, 2, cmdZRank},
		"ZCARD":   {1, 1, cmdZCard},

		"HSET":    {3, -1, cmdHSet},
		"HGET":    {2, 2, cmdHGet},
		"HGETALL": {1, 1, cmdHGetAll},
		"HDEL":    {2, -1, cmdHDel},
		"HLEN":    {1, 1, cmdHLen},

		"PUBLISH": {2, 2, cmdPublish},

		"EVAL":    {2, -1, cmdEval},
		"EVALSHA": {2, -1, cmdEval},
		"SCRIPT":  {1, -1, cmdScript},
	}
}

// bulkCommands use the inline framing with a trailing payload frame
var bulkCommands = map[string]bool{
	"SET":       true,
	"SETNX":     true,
	"GETSET":    true,
	"ECHO":      true,
	"LPUSH":     true,
	"RPUSH":     true,
	"SADD":      true,
	"SREM":      true,
	"SISMEMBER": true,
	"ZADD":      true,
	"ZSCORE":    true,
	"ZINCRBY":   true,
	"ZRANK":     true,
	"HSET":      true,
	"PUBLISH":   true,
}

func isBulk(name string) bool { return bulkCommands[name] }

// Reply constructors

func ok() protocol.Value { return status("OK") }

func status(s string) protocol.Value {
	return protocol.Value{Type: protocol.TypeSimpleString, Data: []byte(s)}
}

func errorReply(msg string) protocol.Value {
	return protocol.Value{Type: protocol.TypeError, Data: []byte(msg)}
}

func errorf(format string, args ...interface{}) protocol.Value {
	return errorReply("ERR " + fmt.Sprintf(format, args...))
}

func integer(n int64) protocol.Value {
	return protocol.Value{Type: protocol.TypeInteger, Integer: n}
}

func boolean(b bool) protocol.Value {
	if b {
		return integer(1)
	}
	return integer(0)
}

func bulk(b []byte) protocol.Value {
	if b == nil {
		b = []byte{}
	}
	return protocol.Value{Type: protocol.TypeBulkString, Data: b}
}

func null() protocol.Value {
	return protocol.Value{Type: protocol.TypeBulkString, IsNull: true}
}

func array(items []protocol.Value) protocol.Value {
	if items == nil {
		items = []protocol.Value{}
	}
	return protocol.Value{Type: protocol.TypeArray, Array: items}
}

func bulkArray(items [][]byte) protocol.Value {
	out := make([]protocol.Value, len(items))
	for i, b := range items {
		out[i] = bulk(b)
	}
	return array(out)
}

func stringArray(items []string) protocol.Value {
	out := make([]protocol.Value, len(items))
	for i, s := range items {
		out[i] = bulk([]byte(s))
	}
	return array(out)
}

func errValue(err error) protocol.Value {
	if errors.Is(err, errWrongType) {
		return errorReply(err.Error())
	}
	return errorf("%v", err)
}

func formatScore(f float64) []byte {
	return []byte(strconv.FormatFloat(f, 'g', -1, 64))
}

func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

func parseScore(b []byte) (float64, bool) {
	f, err := strconv.ParseFloat(string(b), 64)
	return f, err == nil && !math.IsNaN(f)
}

var errNotInteger = errorf("value is not an integer or out of range")

// Connection and server

func cmdPing(_ *execCtx, args [][]byte) protocol.Value {
	if len(args) == 1 {
		return bulk(args[0])
	}
	return status("PONG")
}

func cmdEcho(_ *execCtx, args [][]byte) protocol.Value {
	return bulk(args[0])
}

func cmdType(x *execCtx, args [][]byte) protocol.Value {
	e := x.db.get(string(args[0]))
	if e == nil {
		return status("none")
	}
	return status(e.kind.String())
}

func cmdDBSize(x *execCtx, _ [][]byte) protocol.Value {
	return integer(int64(x.db.size()))
}

func cmdInfo(x *execCtx, _ [][]byte) protocol.Value {
	var b strings.Builder
	b.WriteString("# Server\r\n")
	b.WriteString("redis_version:1.2.6\r\n")
	b.WriteString("redis_mode:standalone\r\n")
	fmt.Fprintf(&b, "connected_clients:%d\r\n", x.s.clientCount())
	fmt.Fprintf(&b, "total_commands_processed:%d\r\n", x.s.commandCount.Load())
	b.WriteString("# Keyspace\r\n")

	ids := make([]int, 0, len(x.s.keyspace.dbs))
	for id := range x.s.keyspace.dbs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if n := x.s.keyspace.dbs[id].size(); n > 0 {
			fmt.Fprintf(&b, "db%d:keys=%d\r\n", id, n)
		}
	}
	return bulk([]byte(b.String()))
}

// Strings

func stringValue(x *execCtx, key []byte) ([]byte, bool, protocol.Value) {
	e, err := x.db.typed(string(key), kindString, false)
	if err != nil {
		return nil, false, errValue(err)
	}
	if e == nil {
		return nil, false, protocol.Value{}
	}
	return e.str, true, protocol.Value{}
}

func cmdGet(x *execCtx, args [][]byte) protocol.Value {
	v, found, errv := stringValue(x, args[0])
	if errv.Type != 0 {
		return errv
	}
	if !found {
		return null()
	}
	return bulk(v)
}

func cmdMGet(x *execCtx, args [][]byte) protocol.Value {
	out := make([]protocol.Value, len(args))
	for i, key := range args {
		e := x.db.get(string(key))
		if e == nil || e.kind != kindString {
			out[i] = null()
			continue
		}
		out[i] = bulk(e.str)
	}
	return array(out)
}

func setString(x *execCtx, key string, value []byte) {
	e := newEntry(kindString)
	e.str = append([]byte(nil), value...)
	x.db[key] = e
}

func cmdSet(x *execCtx, args [][]byte) protocol.Value {
	var ttl time.Duration
	if len(args) > 2 {
		if len(args) != 4 {
			return errorf("syntax error")
		}
		n, valid := parseInt(args[3])
		if !valid || n <= 0 {
			return errNotInteger
		}
		switch strings.ToUpper(string(args[2])) {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		default:
			return errorf("syntax error")
		}
	}

	key := string(args[0])
	setString(x, key, args[1])
	if ttl > 0 {
		x.db[key].expireAt = time.Now().Add(ttl)
	}
	return ok()
}

func cmdSetNX(x *execCtx, args [][]byte) protocol.Value {
	key := string(args[0])
	if x.db.get(key) != nil {
		return integer(0)
	}
	setString(x, key, args[1])
	return integer(1)
}

func cmdGetSet(x *execCtx, args [][]byte) protocol.Value {
	old, found, errv := stringValue(x, args[0])
	if errv.Type != 0 {
		return errv
	}
	setString(x, string(args[0]), args[1])
	if !found {
		return null()
	}
	return bulk(old)
}

func cmdMSet(x *execCtx, args [][]byte) protocol.Value {
	if len(args)%2 != 0 {
		return errorf("wrong number of arguments for 'mset' command")
	}
	for i := 0; i < len(args); i += 2 {
		setString(x, string(args[i]), args[i+1])
	}
	return ok()
}

func cmdExists(x *execCtx, args [][]byte) protocol.Value {
	var n int64
	for _, key := range args {
		if x.db.get(string(key)) != nil {
			n++
		}
	}
	return integer(n)
}

func cmdDel(x *execCtx, args [][]byte) protocol.Value {
	var n int64
	for _, key := range args {
		if x.db.get(string(key)) != nil {
			delete(x.db, string(key))
			n++
		}
	}
	return integer(n)
}

func incrBy(x *execCtx, key []byte, delta int64) protocol.Value {
	v, found, errv := stringValue(x, key)
	if errv.Type != 0 {
		return errv
	}
	var n int64
	if found {
		var valid bool
		if n, valid = parseInt(v); !valid {
			return errNotInteger
		}
	}
	n += delta

	e := x.db.get(string(key))
	if e == nil {
		e = newEntry(kindString)
		x.db[string(key)] = e
	}
	e.str = []byte(strconv.FormatInt(n, 10))
	return integer(n)
}

func cmdIncrBy(x *execCtx, args [][]byte) protocol.Value {
	delta, valid := parseInt(args[1])
	if !valid {
		return errNotInteger
	}
	// DECRBY shares the handler; the sign comes from the caller
	if x.name == "DECRBY" {
		delta = -delta
	}
	return incrBy(x, args[0], delta)
}

func cmdKeys(x *execCtx, args [][]byte) protocol.Value {
	return stringArray(x.db.keys(string(args[0])))
}

func cmdExpire(x *execCtx, args [][]byte) protocol.Value {
	secs, valid := parseInt(args[1])
	if !valid {
		return errNotInteger
	}
	key := string(args[0])
	e := x.db.get(key)
	if e == nil {
		return integer(0)
	}
	if secs <= 0 {
		delete(x.db, key)
		return integer(1)
	}
	e.expireAt = time.Now().Add(time.Duration(secs) * time.Second)
	return integer(1)
}

func cmdTTL(x *execCtx, args [][]byte) protocol.Value {
	e := x.db.get(string(args[0]))
	switch {
	case e == nil:
		return integer(-2)
	case e.expireAt.IsZero():
		return integer(-1)
	default:
		return integer(int64(math.Ceil(time.Until(e.expireAt).Seconds())))
	}
}

// Lists

func cmdPush(x *execCtx, args [][]byte) protocol.Value {
	key := string(args[0])
	e, err := x.db.typed(key, kindList, true)
	if err != nil {
		return errValue(err)
	}
	for _, v := range args[1:] {
		v = append([]byte(nil), v...)
		if x.name == "LPUSH" {
			e.list = append([][]byte{v}, e.list...)
		} else {
			e.list = append(e.list, v)
		}
	}
	return integer(int64(len(e.list)))
}

func cmdPop(x *execCtx, args [][]byte) protocol.Value {
	key := string(args[0])
	e, err := x.db.typed(key, kindList, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil || len(e.list) == 0 {
		return null()
	}
	var v []byte
	if x.name == "LPOP" {
		v, e.list = e.list[0], e.list[1:]
	} else {
		last := len(e.list) - 1
		v, e.list = e.list[last], e.list[:last]
	}
	x.db.prune(key, e)
	return bulk(v)
}

// normalizeRange converts inclusive, possibly negative, indexes into a
// half-open range over n elements
func normalizeRange(start, stop int64, n int) (int, int) {
	if start < 0 {
		start += int64(n)
	}
	if stop < 0 {
		stop += int64(n)
	}
	if start < 0 {
		start = 0
	}
	if stop >= int64(n) {
		stop = int64(n) - 1
	}
	if start > stop {
		return 0, 0
	}
	return int(start), int(stop) + 1
}

func cmdLRange(x *execCtx, args [][]byte) protocol.Value {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	e, err := x.db.typed(string(args[0]), kindList, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return array(nil)
	}
	lo, hi := normalizeRange(start, stop, len(e.list))
	return bulkArray(e.list[lo:hi])
}

func cmdLLen(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindList, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	return integer(int64(len(e.list)))
}

// Sets

func cmdSAdd(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindSet, true)
	if err != nil {
		return errValue(err)
	}
	var added int64
	for _, m := range args[1:] {
		if _, exists := e.set[string(m)]; !exists {
			e.set[string(m)] = struct{}{}
			added++
		}
	}
	return integer(added)
}

func cmdSRem(x *execCtx, args [][]byte) protocol.Value {
	key := string(args[0])
	e, err := x.db.typed(key, kindSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	var removed int64
	for _, m := range args[1:] {
		if _, exists := e.set[string(m)]; exists {
			delete(e.set, string(m))
			removed++
		}
	}
	x.db.prune(key, e)
	return integer(removed)
}

func cmdSIsMember(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	_, exists := e.set[string(args[1])]
	return boolean(exists)
}

func cmdSMembers(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return array(nil)
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	sort.Strings(members)
	return stringArray(members)
}

func cmdSCard(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	return integer(int64(len(e.set)))
}

// Sorted sets

func cmdZAdd(x *execCtx, args [][]byte) protocol.Value {
	if (len(args)-1)%2 != 0 {
		return errorf("syntax error")
	}
	scores := make([]float64, 0, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		f, valid := parseScore(args[i])
		if !valid {
			return errorf("value is not a valid float")
		}
		scores = append(scores, f)
	}

	e, err := x.db.typed(string(args[0]), kindZSet, true)
	if err != nil {
		return errValue(err)
	}
	var added int64
	for i, f := range scores {
		member := string(args[2+2*i])
		if _, exists := e.zset[member]; !exists {
			added++
		}
		e.zset[member] = f
	}
	return integer(added)
}

func cmdZScore(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindZSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return null()
	}
	f, exists := e.zset[string(args[1])]
	if !exists {
		return null()
	}
	return bulk(formatScore(f))
}

func cmdZIncrBy(x *execCtx, args [][]byte) protocol.Value {
	incr, valid := parseScore(args[1])
	if !valid {
		return errorf("value is not a valid float")
	}
	e, err := x.db.typed(string(args[0]), kindZSet, true)
	if err != nil {
		return errValue(err)
	}
	member := string(args[2])
	e.zset[member] += incr
	return bulk(formatScore(e.zset[member]))
}

// cmdZRank answers a missing member with a null bulk, as the servers this
// dialect targets do
func cmdZRank(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindZSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return null()
	}
	member := string(args[1])
	score, exists := e.zset[member]
	if !exists {
		return null()
	}
	var rank int64
	for m, f := range e.zset {
		if f < score || (f == score && m < member) {
			rank++
		}
	}
	return integer(rank)
}

func cmdZCard(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindZSet, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	return integer(int64(len(e.zset)))
}

// Hashes

func cmdHSet(x *execCtx, args [][]byte) protocol.Value {
	if (len(args)-1)%2 != 0 {
		return errorf("wrong number of arguments for 'hset' command")
	}
	e, err := x.db.typed(string(args[0]), kindHash, true)
	if err != nil {
		return errValue(err)
	}
	var added int64
	for i := 1; i < len(args); i += 2 {
		field := string(args[i])
		if _, exists := e.hash[field]; !exists {
			added++
		}
		e.hash[field] = append([]byte(nil), args[i+1]...)
	}
	return integer(added)
}

func cmdHGet(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindHash, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return null()
	}
	v, exists := e.hash[string(args[1])]
	if !exists {
		return null()
	}
	return bulk(v)
}

func cmdHGetAll(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindHash, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return array(nil)
	}
	fields := make([]string, 0, len(e.hash))
	for f := range e.hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([][]byte, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, []byte(f), e.hash[f])
	}
	return bulkArray(out)
}

func cmdHDel(x *execCtx, args [][]byte) protocol.Value {
	key := string(args[0])
	e, err := x.db.typed(key, kindHash, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	var removed int64
	for _, f := range args[1:] {
		if _, exists := e.hash[string(f)]; exists {
			delete(e.hash, string(f))
			removed++
		}
	}
	x.db.prune(key, e)
	return integer(removed)
}

func cmdHLen(x *execCtx, args [][]byte) protocol.Value {
	e, err := x.db.typed(string(args[0]), kindHash, false)
	if err != nil {
		return errValue(err)
	}
	if e == nil {
		return integer(0)
	}
	return integer(int64(len(e.hash)))
}

// Messaging and scripting

func cmdPublish(x *execCtx, args [][]byte) protocol.Value {
	return integer(x.s.publish(string(args[0]), args[1]))
}

func cmdEval(x *execCtx, args [][]byte) protocol.Value {
	numKeys, valid := parseInt(args[1])
	if !valid {
		return errNotInteger
	}
	if numKeys < 0 || int64(len(args)-2) < numKeys {
		return errorf("Number of keys can't be negative or greater than args")
	}

	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = string(args[2+i])
	}
	argv := make([]string, int64(len(args)-2)-numKeys)
	for i := range argv {
		argv[i] = string(args[2+int(numKeys)+i])
	}

	engine := &x.s.scripts
	run := engine.eval
	if x.name == "EVALSHA" {
		run = engine.evalSHA
	}
	result, err := run(x, string(args[0]), keys, argv)
	if err != nil {
		var serr *scriptError
		if errors.As(err, &serr) {
			return errorReply(serr.msg)
		}
		return errorf("%v", err)
	}
	return result
}

func cmdScript(x *execCtx, args [][]byte) protocol.Value {
	engine := &x.s.scripts
	switch sub := strings.ToUpper(string(args[0])); sub {
	case "LOAD":
		if len(args) != 2 {
			return errorf("wrong number of arguments for 'script load' command")
		}
		return bulk([]byte(engine.load(string(args[1]))))
	case "EXISTS":
		if len(args) < 2 {
			return errorf("wrong number of arguments for 'script exists' command")
		}
		out := make([]protocol.Value, len(args)-1)
		for i, sha := range args[1:] {
			out[i] = boolean(engine.exists(string(sha)))
		}
		return array(out)
	case "FLUSH":
		engine.flush()
		return ok()
	default:
		return errorf("unknown SCRIPT subcommand '%s'", sub)
	}
}
