package protocol

import (
	"fmt"
	"strings"
)

// ServerError is an error reply (-...) sent by the server. The generic
// "ERR " prefix is stripped from Message; any other prefix such as
// "WRONGTYPE" or "NOSCRIPT" is kept.
type ServerError struct {
	Message string
}

// NewServerError builds a ServerError from the raw text of an error line
func NewServerError(line string) *ServerError {
	return &ServerError{Message: strings.TrimPrefix(line, "ERR ")}
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// ProtocolError reports a reply that does not follow the wire format:
// an unexpected sigil, a malformed length or a truncated payload.
type ProtocolError struct {
	Message string
	Data    []byte
	Err     error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	msg := "protocol error: " + e.Message
	if len(e.Data) > 0 {
		msg += fmt.Sprintf(" (%q)", e.Data)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(data []byte, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Data: data}
}
