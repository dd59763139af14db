package redistest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// scriptError is an error reply raised by a script, sent verbatim
type scriptError struct {
	msg string
}

func (e *scriptError) Error() string { return e.msg }

// not callable from scripts
var scriptDenied = map[string]bool{
	"EVAL":    true,
	"EVALSHA": true,
	"SCRIPT":  true,
}

// scriptEngine runs Lua scripts against the keyspace. Each run gets a
// fresh interpreter; only the source of loaded scripts is kept.
type scriptEngine struct {
	scripts sync.Map // sha1 -> source
}

func scriptSHA(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

func (e *scriptEngine) load(script string) string {
	sha := scriptSHA(script)
	e.scripts.Store(sha, script)
	return sha
}

func (e *scriptEngine) exists(sha string) bool {
	_, ok := e.scripts.Load(strings.ToLower(sha))
	return ok
}

func (e *scriptEngine) flush() {
	e.scripts.Range(func(key, _ interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

func (e *scriptEngine) evalSHA(x *execCtx, sha string, keys, argv []string) (protocol.Value, error) {
	script, ok := e.scripts.Load(strings.ToLower(sha))
	if !ok {
		return protocol.Value{}, &scriptError{msg: "NOSCRIPT No matching script. Please use EVAL."}
	}
	return e.run(x, script.(string), keys, argv)
}

// eval runs script and caches it the way EVAL does
func (e *scriptEngine) eval(x *execCtx, script string, keys, argv []string) (protocol.Value, error) {
	e.load(script)
	return e.run(x, script, keys, argv)
}

func (e *scriptEngine) run(x *execCtx, script string, keys, argv []string) (protocol.Value, error) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("KEYS", stringTable(L, keys))
	L.SetGlobal("ARGV", stringTable(L, argv))

	redis := L.NewTable()
	L.SetFuncs(redis, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			return e.call(L, x, true)
		},
		"pcall": func(L *lua.LState) int {
			return e.call(L, x, false)
		},
		"status_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("err", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
	})
	L.SetGlobal("redis", redis)

	if err := L.DoString(script); err != nil {
		return protocol.Value{}, fmt.Errorf("script execution error: %w", err)
	}
	if L.GetTop() == 0 {
		return null(), nil
	}
	return fromLua(L.Get(-1)), nil
}

// call implements redis.call (raise) and redis.pcall (return the error)
func (e *scriptEngine) call(L *lua.LState, x *execCtx, raise bool) int {
	argc := L.GetTop()
	if argc == 0 {
		L.RaiseError("Please specify at least one argument for redis.call()")
		return 0
	}

	name := strings.ToUpper(L.CheckString(1))
	args := make([][]byte, 0, argc-1)
	for i := 2; i <= argc; i++ {
		args = append(args, []byte(L.ToString(i)))
	}

	var reply protocol.Value
	if scriptDenied[name] {
		reply = errorf("This Redis command is not allowed from scripts")
	} else {
		reply = x.s.execute(x.dbID, &protocol.Command{Name: name, Args: args})
	}

	if reply.Type == protocol.TypeError && raise {
		L.RaiseError("%s", string(reply.Data))
		return 0
	}
	L.Push(toLua(L, reply))
	return 1
}

func stringTable(L *lua.LState, items []string) *lua.LTable {
	t := L.NewTable()
	for i, s := range items {
		t.RawSetInt(i+1, lua.LString(s))
	}
	return t
}

// toLua converts a reply into the Lua value a script sees
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeBulkString:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(v.Data))
		return t
	case protocol.TypeArray:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.NewTable()
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua converts a script's return value into a reply. Numbers are
// truncated to integers; a table is an array up to its first nil.
func fromLua(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LNumber:
		return integer(int64(v))
	case lua.LString:
		return bulk([]byte(string(v)))
	case lua.LBool:
		if v {
			return integer(1)
		}
		return null()
	case *lua.LTable:
		if msg, ok := v.RawGetString("err").(lua.LString); ok {
			return errorReply(string(msg))
		}
		if msg, ok := v.RawGetString("ok").(lua.LString); ok {
			return status(string(msg))
		}
		var items []protocol.Value
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, fromLua(item))
		}
		return array(items)
	default:
		return null()
	}
}
