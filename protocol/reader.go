package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	// CRLF is the protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (1GB)
	maxBulkSize = 1024 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024
)

var (
	crlfBytes = []byte(CRLF)
)

// Reader is a streaming reply reader. It owns no connection; every method
// consumes exactly one reply (or one request, for ReadCommand) from the
// underlying stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReader(r),
	}
}

// Reset discards buffered data and switches to a new underlying reader
func (r *Reader) Reset(rd io.Reader) {
	r.br.Reset(rd)
}

// Buffered returns the number of bytes that can be read without touching
// the underlying reader
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

// Peek returns the next n bytes without advancing the reader
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.br.Peek(n)
}

// ReadNext reads the next value of any type from the stream. Error replies
// are returned as values of TypeError, not as Go errors.
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString:
		return r.readSimpleString()
	case TypeError:
		return r.readError()
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	default:
		if typeByte == 0 {
			return Value{}, protocolErrorf(nil, "unknown reply type: empty byte (connection may be closed)")
		}
		return Value{}, protocolErrorf([]byte{typeByte}, "unknown reply type %q", typeByte)
	}
}

func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeSimpleString,
		Data: line,
	}, nil
}

func (r *Reader) readError() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeError,
		Data: line,
	}, nil
}

func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, protocolErrorf(line, "invalid integer")
	}

	return Value{
		Type:    TypeInteger,
		Integer: integer,
	}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	default:
		i = 0
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

func (r *Reader) readBulkString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	data, ok, err := r.readBulkBody(line)
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type:   TypeBulkString,
		Data:   data,
		IsNull: !ok,
	}, nil
}

// readBulkBody reads the payload announced by a "$<len>" line. ok is false
// for the null bulk ($-1).
func (r *Reader) readBulkBody(line []byte) ([]byte, bool, error) {
	length, err := parseInt64(line)
	if err != nil {
		return nil, false, protocolErrorf(line, "invalid bulk length")
	}

	if length == -1 {
		return nil, false, nil
	}

	if length < 0 || length > maxBulkSize {
		return nil, false, protocolErrorf(line, "bulk length out of range")
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, &ProtocolError{
				Message: fmt.Sprintf("bulk payload ended before %d bytes", length),
				Err:     err,
			}
		}
		return nil, false, err
	}

	if err := r.expectCRLF(); err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (r *Reader) readArray() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, protocolErrorf(line, "invalid multi-bulk count")
	}

	// *-1 is an aborted/invalid multi-bulk; callers get an empty sequence
	if length == -1 {
		return Value{
			Type:  TypeArray,
			Array: []Value{},
		}, nil
	}

	if length < 0 || length > maxArraySize {
		return Value{}, protocolErrorf(line, "multi-bulk count out of range")
	}

	array := make([]Value, length)
	for i := int64(0); i < length; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, err
		}
		array[i] = value
	}

	return Value{
		Type:  TypeArray,
		Array: array,
	}, nil
}

// readHeader reads a sigil and the remainder of its line. An error reply
// is consumed and returned as a *ServerError.
func (r *Reader) readHeader() (ValueType, []byte, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	t := ValueType(typeByte)
	switch t {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
	default:
		return 0, nil, protocolErrorf([]byte{typeByte}, "unknown reply type %q", typeByte)
	}

	line, err := r.readLine()
	if err != nil {
		return 0, nil, err
	}

	if t == TypeError {
		return t, line, NewServerError(string(line))
	}
	return t, line, nil
}

func unexpected(t ValueType, line []byte, want string) error {
	return protocolErrorf(line, "unexpected %s reply, want %s", t, want)
}

// ReadStatus reads a status reply (+...)
func (r *Reader) ReadStatus() (string, error) {
	t, line, err := r.readHeader()
	if err != nil {
		return "", err
	}
	if t != TypeSimpleString {
		return "", unexpected(t, line, "status")
	}
	return string(line), nil
}

// ReadInt reads an integer reply (:...)
func (r *Reader) ReadInt() (int64, error) {
	t, line, err := r.readHeader()
	if err != nil {
		return 0, err
	}
	if t != TypeInteger {
		return 0, unexpected(t, line, "integer")
	}
	n, err := parseInt64(line)
	if err != nil {
		return 0, protocolErrorf(line, "invalid integer")
	}
	return n, nil
}

// ReadIntLenient reads an integer reply but also accepts a bulk header in
// its place. Some servers answer sorted-set rank lookups for a missing
// member with "$-1" where ":" is expected; the bulk length is then the
// integer (-1). A non-negative length announces a payload, which is
// consumed and parsed as the integer so the stream stays aligned.
func (r *Reader) ReadIntLenient() (int64, error) {
	t, line, err := r.readHeader()
	if err != nil {
		return 0, err
	}

	switch t {
	case TypeInteger:
		n, err := parseInt64(line)
		if err != nil {
			return 0, protocolErrorf(line, "invalid integer")
		}
		return n, nil
	case TypeBulkString:
		n, err := parseInt64(line)
		if err != nil {
			return 0, protocolErrorf(line, "invalid bulk length")
		}
		if n < 0 {
			return n, nil
		}
		data, _, err := r.readBulkBody(line)
		if err != nil {
			return 0, err
		}
		v, err := parseInt64(data)
		if err != nil {
			return 0, protocolErrorf(data, "invalid integer in bulk payload")
		}
		return v, nil
	default:
		return 0, unexpected(t, line, "integer")
	}
}

// ReadBulk reads a bulk reply. ok is false for the null bulk ($-1); an
// empty bulk ($0) yields a non-nil empty slice and ok true.
func (r *Reader) ReadBulk() (data []byte, ok bool, err error) {
	t, line, err := r.readHeader()
	if err != nil {
		return nil, false, err
	}
	if t != TypeBulkString {
		return nil, false, unexpected(t, line, "bulk")
	}
	return r.readBulkBody(line)
}

// ReadDouble reads a bulk reply holding a decimal float. A null bulk
// yields NaN and ok false.
func (r *Reader) ReadDouble() (float64, bool, error) {
	t, line, err := r.readHeader()
	if err != nil {
		return 0, false, err
	}

	var data []byte
	switch t {
	case TypeBulkString:
		var ok bool
		data, ok, err = r.readBulkBody(line)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return math.NaN(), false, nil
		}
	case TypeInteger:
		data = line
	default:
		return 0, false, unexpected(t, line, "double")
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, false, protocolErrorf(data, "invalid double")
	}
	return f, true, nil
}

// ReadArrayHeader reads only the "*<count>" line of a multi-bulk reply and
// returns the raw count, -1 included. The elements are left in the stream.
func (r *Reader) ReadArrayHeader() (int, error) {
	t, line, err := r.readHeader()
	if err != nil {
		return 0, err
	}
	if t != TypeArray {
		return 0, unexpected(t, line, "multi-bulk")
	}
	n, err := parseInt64(line)
	if err != nil || n < -1 || n > maxArraySize {
		return 0, protocolErrorf(line, "invalid multi-bulk count")
	}
	return int(n), nil
}

// ReadMultiBulk reads a flat multi-bulk reply. Bulk elements are returned
// as-is (nil for a null element); integer and status elements are returned
// as their textual form. A count of -1 yields an empty, non-nil slice.
func (r *Reader) ReadMultiBulk() ([][]byte, error) {
	count, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	if count == -1 {
		return [][]byte{}, nil
	}

	items := make([][]byte, count)
	for i := 0; i < count; i++ {
		t, line, err := r.readHeader()
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeBulkString:
			data, _, err := r.readBulkBody(line)
			if err != nil {
				return nil, err
			}
			items[i] = data
		case TypeInteger, TypeSimpleString:
			items[i] = line
		default:
			return nil, unexpected(t, line, "multi-bulk element")
		}
	}
	return items, nil
}

// Skip skips the next value without keeping it
func (r *Reader) Skip() error {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString, TypeError, TypeInteger:
		_, err := r.readLine()
		return err

	case TypeBulkString:
		line, err := r.readLine()
		if err != nil {
			return err
		}

		length, err := parseInt64(line)
		if err != nil {
			return protocolErrorf(line, "invalid bulk length")
		}

		if length == -1 {
			return nil
		}

		if length < 0 || length > maxBulkSize {
			return protocolErrorf(line, "bulk length out of range")
		}

		if _, err := r.br.Discard(int(length) + 2); err != nil {
			return err
		}
		return nil

	case TypeArray:
		line, err := r.readLine()
		if err != nil {
			return err
		}

		length, err := parseInt64(line)
		if err != nil {
			return protocolErrorf(line, "invalid multi-bulk count")
		}

		if length == -1 {
			return nil
		}

		if length < 0 || length > maxArraySize {
			return protocolErrorf(line, "multi-bulk count out of range")
		}

		for i := int64(0); i < length; i++ {
			if err := r.Skip(); err != nil {
				return err
			}
		}
		return nil

	default:
		return protocolErrorf([]byte{typeByte}, "unknown reply type %q", typeByte)
	}
}

// ReadCommand reads one request as a server sees it. Three framings are
// accepted: a multi-bulk request, an inline line, and an inline line whose
// last argument is the length of a payload frame that follows. isBulk
// reports which command names use the latter framing.
func (r *Reader) ReadCommand(isBulk func(name string) bool) (*Command, error) {
	first, err := r.br.Peek(1)
	if err != nil {
		return nil, err
	}

	if ValueType(first[0]) == TypeArray {
		v, err := r.ReadNext()
		if err != nil {
			return nil, err
		}
		return ParseCommand(v)
	}

	line, err := r.readLine()
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return nil, protocolErrorf(line, "empty command line")
	}

	cmd := &Command{
		Name: strings.ToUpper(fields[0]),
		Args: make([][]byte, len(fields)-1),
	}
	for i, f := range fields[1:] {
		cmd.Args[i] = []byte(f)
	}

	if isBulk == nil || !isBulk(cmd.Name) {
		return cmd, nil
	}

	if len(cmd.Args) == 0 {
		return nil, protocolErrorf(line, "bulk command without payload length")
	}
	last := len(cmd.Args) - 1
	payload, ok, err := r.readBulkBody(cmd.Args[last])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocolErrorf(line, "negative payload length")
	}
	cmd.Args[last] = payload
	return cmd, nil
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, &ProtocolError{Message: "line ended before CRLF", Data: line, Err: io.ErrUnexpectedEOF}
		}
		return nil, fmt.Errorf("failed to read line: %w", err)
	}

	if len(line) < 2 {
		return nil, protocolErrorf(line, "line too short (%d bytes), expected CRLF terminator", len(line))
	}

	if !bytes.HasSuffix(line, crlfBytes) {
		lastTwo := line[len(line)-2:]
		return nil, protocolErrorf(line, "missing CRLF terminator, got [%d, %d] instead of [13, 10]", lastTwo[0], lastTwo[1])
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	n, err := io.ReadFull(r.br, crlf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &ProtocolError{Message: fmt.Sprintf("missing CRLF terminator (read %d/2 bytes)", n), Err: err}
		}
		return fmt.Errorf("failed to read CRLF terminator (read %d/2 bytes): %w", n, err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return protocolErrorf(crlf, "expected CRLF terminator [13, 10], got [%d, %d]", crlf[0], crlf[1])
	}

	return nil
}
