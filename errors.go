package redisclient

import (
	"errors"
	"fmt"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// Error types for specific failure scenarios
var (
	// ErrNotStarted indicates Acquire was called before Start
	ErrNotStarted = errors.New("manager not started")

	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrPoolEmpty indicates an acquire from a pool configured with zero slots
	ErrPoolEmpty = errors.New("pool has no slots")

	// ErrPoolTimeout indicates no connection was released within the pool timeout
	ErrPoolTimeout = errors.New("timed out waiting for a free connection")

	// ErrUnknownConn indicates a release of a connection the manager does not own
	ErrUnknownConn = errors.New("connection does not belong to this manager")

	// ErrClosed indicates the manager or connection has been closed
	ErrClosed = errors.New("client is closed")

	// ErrInvalidConfig indicates invalid configuration options
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTxInProgress indicates a direct command on a connection inside MULTI
	ErrTxInProgress = errors.New("transaction in progress: commands must go through QueueCommand")

	// ErrTxNotActive indicates use of a committed or rolled back transaction
	ErrTxNotActive = errors.New("transaction is not active")

	// ErrTxOpPending indicates a queued operation issued more than one command
	ErrTxOpPending = errors.New("a queued operation is already pending")

	// ErrTxNoReply indicates a queued operation that issued no command
	ErrTxNoReply = errors.New("queued operation sent no command")

	// ErrSubscribed indicates a regular command on a connection with active subscriptions
	ErrSubscribed = errors.New("connection is in subscription mode")
)

// ProtocolError is a malformed or unexpected reply. It is always fatal to
// the in-flight call and closes the connection's socket.
type ProtocolError = protocol.ProtocolError

// ServerError is an error reply sent by the server, with the "ERR " prefix
// stripped. The connection stays usable.
type ServerError = protocol.ServerError

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Addr    string
	Command string
	Err     error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("connection error to %s: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("connection error to %s during %s: %v", e.Addr, e.Command, e.Err)
}

// Unwrap returns the wrapped error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransactionError reports an EXEC reply whose element count does not match
// the number of queued operations. No operation callback has run.
type TransactionError struct {
	Expected int
	Got      int
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction aborted: queued %d operations but EXEC returned %d replies", e.Expected, e.Got)
}
