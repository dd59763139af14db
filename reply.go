package redisclient

import (
	"fmt"
	"math"
	"strconv"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// replyKind names the shape a command's reply is decoded into
type replyKind int

const (
	replyVoid replyKind = iota
	replyInt
	replyIntLenient
	replyDouble
	replyBulk
	replyStatus
	replyMultiBulk
	replyValue
)

func (k replyKind) String() string {
	switch k {
	case replyVoid:
		return "void"
	case replyInt:
		return "integer"
	case replyIntLenient:
		return "lenient integer"
	case replyDouble:
		return "double"
	case replyBulk:
		return "bulk"
	case replyStatus:
		return "status"
	case replyMultiBulk:
		return "multi-bulk"
	case replyValue:
		return "value"
	default:
		return fmt.Sprintf("replyKind(%d)", int(k))
	}
}

// reply is a decoded reply; which fields are set depends on kind
type reply struct {
	kind   replyKind
	status string
	n      int64
	f      float64
	data   []byte
	ok     bool // false for a null bulk
	items  [][]byte
	value  protocol.Value
}

// readReply decodes the next reply from r as kind
func readReply(r *protocol.Reader, kind replyKind) (reply, error) {
	out := reply{kind: kind}
	var err error

	switch kind {
	case replyVoid:
		var v protocol.Value
		if v, err = r.ReadNext(); err == nil {
			err = v.Err()
		}
	case replyInt:
		out.n, err = r.ReadInt()
	case replyIntLenient:
		out.n, err = r.ReadIntLenient()
	case replyDouble:
		out.f, out.ok, err = r.ReadDouble()
	case replyBulk:
		out.data, out.ok, err = r.ReadBulk()
	case replyStatus:
		out.status, err = r.ReadStatus()
	case replyMultiBulk:
		out.items, err = r.ReadMultiBulk()
	case replyValue:
		if out.value, err = r.ReadNext(); err == nil {
			err = out.value.Err()
		}
	default:
		err = fmt.Errorf("unsupported reply kind %s", kind)
	}
	return out, err
}

// valueReply converts an already decoded value, one EXEC element, into
// kind. A mismatch is reported as a *ProtocolError without touching the
// stream.
func valueReply(kind replyKind, v protocol.Value) (reply, error) {
	out := reply{kind: kind}
	if err := v.Err(); err != nil {
		return out, err
	}

	mismatch := func() (reply, error) {
		return out, &ProtocolError{Message: fmt.Sprintf("unexpected %s reply for a %s result", v.Type, kind)}
	}

	switch kind {
	case replyVoid:
	case replyInt:
		if v.Type != protocol.TypeInteger {
			return mismatch()
		}
		out.n = v.Integer
	case replyIntLenient:
		switch v.Type {
		case protocol.TypeInteger:
			out.n = v.Integer
		case protocol.TypeBulkString:
			if v.IsNull {
				out.n = -1
				break
			}
			n, err := strconv.ParseInt(string(v.Data), 10, 64)
			if err != nil {
				return mismatch()
			}
			out.n = n
		default:
			return mismatch()
		}
	case replyDouble:
		switch v.Type {
		case protocol.TypeInteger:
			out.f, out.ok = float64(v.Integer), true
		case protocol.TypeBulkString:
			if v.IsNull {
				out.f = math.NaN()
				break
			}
			f, err := strconv.ParseFloat(string(v.Data), 64)
			if err != nil {
				return mismatch()
			}
			out.f, out.ok = f, true
		default:
			return mismatch()
		}
	case replyBulk:
		if v.Type != protocol.TypeBulkString {
			return mismatch()
		}
		out.data, out.ok = v.Data, !v.IsNull
	case replyStatus:
		switch v.Type {
		case protocol.TypeSimpleString, protocol.TypeBulkString:
			out.status = string(v.Data)
		default:
			return mismatch()
		}
	case replyMultiBulk:
		if v.Type != protocol.TypeArray {
			return mismatch()
		}
		out.items = make([][]byte, len(v.Array))
		for i, item := range v.Array {
			switch item.Type {
			case protocol.TypeBulkString, protocol.TypeSimpleString:
				out.items[i] = item.Data
			case protocol.TypeInteger:
				out.items[i] = []byte(strconv.FormatInt(item.Integer, 10))
			default:
				return mismatch()
			}
		}
	case replyValue:
		out.value = v
	default:
		return mismatch()
	}
	return out, nil
}

func itemsToStrings(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	return out
}

// Callback receives the decoded result of a queued transaction operation.
// It is a closed set: VoidCallback, IntCallback, BoolCallback,
// DoubleCallback, BytesCallback, StringCallback, StringsCallback,
// MultiBytesCallback and ValueCallback.
type Callback interface {
	deliver(r reply) error
}

// VoidCallback is invoked once the operation succeeded
type VoidCallback func()

// IntCallback receives an integer reply
type IntCallback func(int64)

// BoolCallback receives an integer reply as n == 1
type BoolCallback func(bool)

// DoubleCallback receives a float reply; NaN for a null bulk
type DoubleCallback func(float64)

// BytesCallback receives a bulk reply; nil for a null bulk
type BytesCallback func([]byte)

// StringCallback receives a bulk or status reply as a string
type StringCallback func(string)

// StringsCallback receives a multi-bulk reply as strings
type StringsCallback func([]string)

// MultiBytesCallback receives a multi-bulk reply
type MultiBytesCallback func([][]byte)

// ValueCallback receives the raw decoded value
type ValueCallback func(protocol.Value)

func callbackMismatch(cb Callback, r reply) error {
	return fmt.Errorf("%T cannot receive a %s result", cb, r.kind)
}

func (f VoidCallback) deliver(reply) error {
	f()
	return nil
}

func (f IntCallback) deliver(r reply) error {
	switch r.kind {
	case replyInt, replyIntLenient:
		f(r.n)
		return nil
	}
	return callbackMismatch(f, r)
}

func (f BoolCallback) deliver(r reply) error {
	switch r.kind {
	case replyInt, replyIntLenient:
		f(r.n == 1)
		return nil
	}
	return callbackMismatch(f, r)
}

func (f DoubleCallback) deliver(r reply) error {
	switch r.kind {
	case replyDouble:
		f(r.f)
		return nil
	case replyInt, replyIntLenient:
		f(float64(r.n))
		return nil
	}
	return callbackMismatch(f, r)
}

func (f BytesCallback) deliver(r reply) error {
	switch r.kind {
	case replyBulk:
		if !r.ok {
			f(nil)
			return nil
		}
		f(r.data)
		return nil
	case replyStatus:
		f([]byte(r.status))
		return nil
	}
	return callbackMismatch(f, r)
}

func (f StringCallback) deliver(r reply) error {
	switch r.kind {
	case replyBulk:
		f(string(r.data))
		return nil
	case replyStatus:
		f(r.status)
		return nil
	}
	return callbackMismatch(f, r)
}

func (f StringsCallback) deliver(r reply) error {
	if r.kind != replyMultiBulk {
		return callbackMismatch(f, r)
	}
	f(itemsToStrings(r.items))
	return nil
}

func (f MultiBytesCallback) deliver(r reply) error {
	if r.kind != replyMultiBulk {
		return callbackMismatch(f, r)
	}
	f(r.items)
	return nil
}

func (f ValueCallback) deliver(r reply) error {
	if r.kind != replyValue {
		return callbackMismatch(f, r)
	}
	f(r.value)
	return nil
}
