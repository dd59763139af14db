package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// String returns the sigil together with a readable name
func (t ValueType) String() string {
	switch t {
	case TypeSimpleString:
		return "status"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk"
	case TypeArray:
		return "multi-bulk"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Value represents a parsed RESP value.
//
// The reader sets IsNull only for bulk strings ($-1): a multi-bulk with a
// count of -1 decodes to an empty array. Writers honour IsNull on arrays
// so a server can still emit "*-1".
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Err converts an error value into a *ServerError, or returns nil
func (v Value) Err() error {
	if v.Type != TypeError {
		return nil
	}
	return NewServerError(string(v.Data))
}

// Command represents a request received by a server: a name plus its
// arguments, whichever framing the client used.
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	if v.Array[0].Type != TypeBulkString {
		return nil, fmt.Errorf("command name must be bulk string")
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	for i := 1; i < len(v.Array); i++ {
		if v.Array[i].Type != TypeBulkString {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	if len(args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(args, " ")
}

// SanitizeKey replaces the characters that delimit an inline command line
// (space, tab, CR and LF) with underscores.
func SanitizeKey(key string) string {
	if strings.IndexAny(key, " \t\r\n") < 0 {
		return key
	}
	return keyReplacer.Replace(key)
}

var keyReplacer = strings.NewReplacer(" ", "_", "\t", "_", "\r", "_", "\n", "_")
