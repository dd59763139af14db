package redisclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// ConnState is the lifecycle state of a connection's socket
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// probeTimeout is the read deadline of the idle liveness probe
const probeTimeout = time.Millisecond

// commands accepted while a subscription has active channels
var subscriptionCommands = map[string]bool{
	"SUBSCRIBE":    true,
	"UNSUBSCRIBE":  true,
	"PSUBSCRIBE":   true,
	"PUNSUBSCRIBE": true,
	"QUIT":         true,
}

// Conn is one connection to one endpoint. A Conn is not safe for
// concurrent use; the only exception is unsubscribing from another
// goroutine while a Subscription is listening.
//
// The socket is opened by the first command. Before every command an idle
// connection is probed and, if the server has gone away, transparently
// replaced: the new socket is authenticated and the previously selected
// database is selected again.
type Conn struct {
	id       string
	endpoint Endpoint
	cfg      *config

	netConn net.Conn
	reader  *protocol.Reader
	writer  *protocol.Writer

	state           ConnState
	db              int
	lastConnectedAt time.Time
	lastCommand     string
	sentAt          time.Time
	hadErrors       atomic.Bool
	closed          bool

	// Ownership: nil for an unpooled connection. active is guarded by pool.mu.
	pool   *pool
	active bool

	tx  *Transaction
	sub *Subscription
}

// NewConn creates an unpooled connection to addr ("host", "host:port" or
// "password@host:port"). The socket is opened lazily by the first command.
func NewConn(addr string, opts ...Option) (*Conn, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	ep, err := ParseEndpoint(addr)
	if err != nil {
		return nil, err
	}
	return newConn(ep, cfg, nil), nil
}

func newConn(ep Endpoint, cfg *config, p *pool) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		endpoint: ep,
		cfg:      cfg,
		db:       cfg.defaultDB,
		pool:     p,
	}
}

// ID returns the connection's unique identifier, used in log fields
func (c *Conn) ID() string { return c.id }

// Endpoint returns the server this connection talks to
func (c *Conn) Endpoint() Endpoint { return c.endpoint }

// DB returns the currently selected database index
func (c *Conn) DB() int { return c.db }

// State returns the socket state
func (c *Conn) State() ConnState { return c.state }

// HadErrors reports whether a socket or protocol failure has occurred.
// A pooled connection with errors is discarded on release.
func (c *Conn) HadErrors() bool { return c.hadErrors.Load() }

// LastCommand returns the name of the last command sent
func (c *Conn) LastCommand() string { return c.lastCommand }

// Pooled reports whether the connection belongs to a Manager
func (c *Conn) Pooled() bool { return c.pool != nil }

// Close returns a pooled connection to its pool. An unpooled connection
// closes its socket and becomes unusable.
func (c *Conn) Close() error {
	if c.pool != nil {
		return c.pool.manager.Release(c)
	}
	if c.closed {
		return nil
	}
	c.detach()
	c.closeSocket()
	c.closed = true
	return nil
}

// detach ends any transaction or subscription left open by the owner
func (c *Conn) detach() {
	if tx := c.tx; tx != nil {
		if err := tx.Rollback(); err != nil {
			c.hadErrors.Store(true)
		}
	}
	if s := c.sub; s != nil {
		s.abort()
		if s.Count() > 0 && c.netConn != nil {
			if err := s.UnsubscribeFromAllChannels(); err != nil {
				c.hadErrors.Store(true)
			}
		}
		c.sub = nil
	}
}

// prepare runs the pre-command checks and opens or revives the socket
func (c *Conn) prepare(cmd string) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.guard(cmd); err != nil {
		return err
	}
	c.lastCommand = cmd
	if err := c.ensureConnected(); err != nil {
		return err
	}
	c.lastConnectedAt = time.Now()
	return nil
}

func (c *Conn) guard(cmd string) error {
	if c.sub != nil && c.sub.Count() > 0 && !subscriptionCommands[cmd] {
		return ErrSubscribed
	}
	if tx := c.tx; tx != nil {
		switch {
		case cmd == "MULTI" || cmd == "EXEC" || cmd == "DISCARD":
		case tx.pending == nil:
			return ErrTxInProgress
		case tx.pending.queued:
			return ErrTxOpPending
		}
	}
	return nil
}

func (c *Conn) ensureConnected() error {
	if c.netConn == nil {
		if c.tx != nil {
			// MULTI state lived on the lost socket
			return &ConnectionError{Addr: c.endpoint.Addr(), Command: c.lastCommand, Err: errors.New("connection lost during transaction")}
		}
		return c.connect()
	}
	if c.tx != nil || c.cfg.idleTimeout <= 0 {
		return nil
	}
	if idle := time.Since(c.lastConnectedAt); idle > c.cfg.idleTimeout && !c.alive() {
		c.cfg.logger.Info("Idle connection is gone, reconnecting",
			Field{"conn_id", c.id}, Field{"addr", c.endpoint.Addr()}, Field{"idle", idle.String()})
		return c.reconnect()
	}
	return nil
}

// alive probes an idle socket: a read that times out means the peer is
// still there, anything else (EOF, error, unsolicited bytes) means it is not.
func (c *Conn) alive() bool {
	if c.reader.Buffered() > 0 {
		return false
	}
	if err := c.netConn.SetReadDeadline(time.Now().Add(probeTimeout)); err != nil {
		return false
	}
	_, err := c.reader.Peek(1)
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// connect opens a fresh socket and selects the configured default database
func (c *Conn) connect() error {
	c.state = StateConnecting
	if err := c.open(); err != nil {
		return err
	}
	c.db = 0
	if c.cfg.defaultDB != 0 {
		if err := c.selectDB(c.cfg.defaultDB); err != nil {
			return err
		}
	}
	c.cfg.logger.Debug("Connected", Field{"conn_id", c.id}, Field{"addr", c.endpoint.Addr()}, Field{"db", c.db})
	return nil
}

// reconnect replaces the socket and restores the selected database
func (c *Conn) reconnect() error {
	db := c.db
	c.closeSocket()
	c.state = StateReconnecting
	if err := c.open(); err != nil {
		return err
	}
	c.db = 0
	if db != 0 {
		if err := c.selectDB(db); err != nil {
			return err
		}
	}
	c.cfg.recordReconnection()
	c.cfg.logger.Info("Reconnected", Field{"conn_id", c.id}, Field{"addr", c.endpoint.Addr()}, Field{"db", c.db})
	return nil
}

// open dials with the configured retries and authenticates
func (c *Conn) open() error {
	addr := c.endpoint.Addr()
	attempts := 1 + c.cfg.retryCount
	deadline := time.Now().Add(c.cfg.retryTimeout)

	delay := 100 * time.Millisecond
	if c.cfg.retryTimeout > 0 {
		if d := c.cfg.retryTimeout / time.Duration(attempts); d < delay {
			delay = d
		}
	}

	var netConn net.Conn
	var err error
	for attempt := 1; ; attempt++ {
		netConn, err = c.dial(addr)
		if err == nil {
			break
		}
		if attempt >= attempts || (c.cfg.retryTimeout > 0 && time.Now().Add(delay).After(deadline)) {
			break
		}
		c.cfg.logger.Debug("Dial failed, retrying",
			Field{"conn_id", c.id}, Field{"addr", addr}, Field{"attempt", attempt}, Field{"error", err})
		time.Sleep(delay)
	}
	if err != nil {
		c.state = StateDisconnected
		c.hadErrors.Store(true)
		c.cfg.recordError("connection")
		c.cfg.logger.Error("Failed to connect", Field{"conn_id", c.id}, Field{"addr", addr}, Field{"error", err})
		return &ConnectionError{Addr: addr, Command: c.lastCommand, Err: fmt.Errorf("dial failed: %w", err)}
	}

	c.netConn = netConn
	if c.reader == nil {
		c.reader = protocol.NewReader(netConn)
		c.writer = protocol.NewWriter(netConn)
	} else {
		c.reader.Reset(netConn)
		c.writer.Reset(netConn)
	}
	c.state = StateConnected
	c.lastConnectedAt = time.Now()

	if password := c.cfg.endpointPassword(c.endpoint); password != "" {
		if _, err := c.roundTripStatus("AUTH", password); err != nil {
			c.hadErrors.Store(true)
			c.closeSocket()
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	return nil
}

func (c *Conn) dial(addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.connectTimeout)
	defer cancel()

	if c.cfg.dialer != nil {
		return c.cfg.dialer(ctx, "tcp", addr)
	}
	dialer := &net.Dialer{Timeout: c.cfg.connectTimeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// selectDB issues SELECT on the current socket without the pre-command checks
func (c *Conn) selectDB(db int) error {
	if _, err := c.roundTripStatus("SELECT", strconv.Itoa(db)); err != nil {
		return err
	}
	c.db = db
	return nil
}

// roundTripStatus writes an inline command and reads a status reply on the
// current socket, bypassing prepare. Used while (re)connecting.
func (c *Conn) roundTripStatus(name string, args ...string) (string, error) {
	if err := c.write(func(w *protocol.Writer) error {
		return w.WriteInline(name, args...)
	}); err != nil {
		return "", err
	}
	var status string
	err := c.read(func(r *protocol.Reader) error {
		var err error
		status, err = r.ReadStatus()
		return err
	})
	return status, err
}

// send prepares the connection and writes one request
func (c *Conn) send(name string, fn func(w *protocol.Writer) error) error {
	if err := c.prepare(name); err != nil {
		return err
	}
	c.sentAt = time.Now()
	return c.write(fn)
}

// write encodes a request and flushes it with the send deadline applied
func (c *Conn) write(fn func(w *protocol.Writer) error) error {
	if c.cfg.sendTimeout > 0 {
		if err := c.netConn.SetWriteDeadline(time.Now().Add(c.cfg.sendTimeout)); err != nil {
			return c.fail(err)
		}
	}
	if err := fn(c.writer); err != nil {
		return c.fail(err)
	}
	if err := c.writer.Flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

// read decodes a reply with the receive deadline applied
func (c *Conn) read(fn func(r *protocol.Reader) error) error {
	var deadline time.Time
	if c.cfg.receiveTimeout > 0 {
		deadline = time.Now().Add(c.cfg.receiveTimeout)
	}
	return c.readUntil(deadline, fn)
}

// readUntil decodes a reply with an explicit deadline; the zero time blocks
// until data arrives
func (c *Conn) readUntil(deadline time.Time, fn func(r *protocol.Reader) error) error {
	if c.netConn == nil {
		return &ConnectionError{Addr: c.endpoint.Addr(), Command: c.lastCommand, Err: net.ErrClosed}
	}
	if err := c.netConn.SetReadDeadline(deadline); err != nil {
		return c.fail(err)
	}
	return c.classify(fn(c.reader))
}

// classify leaves server error replies alone and turns everything else
// into a failed connection
func (c *Conn) classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *ServerError
	if errors.As(err, &serr) {
		c.cfg.recordError("server")
		return err
	}
	return c.fail(err)
}

// fail marks the connection as broken and closes its socket. Protocol
// errors are returned as-is; everything else becomes a *ConnectionError.
func (c *Conn) fail(err error) error {
	c.hadErrors.Store(true)
	c.closeSocket()

	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.cfg.recordError("protocol")
		c.cfg.logger.Error("Protocol error, connection closed",
			Field{"conn_id", c.id}, Field{"addr", c.endpoint.Addr()}, Field{"command", c.lastCommand}, Field{"error", err})
		return err
	}

	c.cfg.recordError("connection")
	c.cfg.logger.Error("Connection failure, connection closed",
		Field{"conn_id", c.id}, Field{"addr", c.endpoint.Addr()}, Field{"command", c.lastCommand}, Field{"error", err})
	return &ConnectionError{Addr: c.endpoint.Addr(), Command: c.lastCommand, Err: err}
}

func (c *Conn) closeSocket() {
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	c.state = StateDisconnected
}

// receive reads the reply to the command just sent. Inside a transaction
// the server answers QUEUED; the kind is then recorded on the pending
// operation and a zero reply is returned.
func (c *Conn) receive(kind replyKind) (reply, error) {
	if tx := c.tx; tx != nil && tx.pending != nil {
		return reply{kind: kind}, tx.acceptQueued(kind)
	}

	var out reply
	err := c.read(func(r *protocol.Reader) error {
		var err error
		out, err = readReply(r, kind)
		return err
	})
	c.cfg.recordCommand(c.lastCommand, time.Since(c.sentAt))
	return out, err
}

// call sends an inline command and reads a reply of the given kind
func (c *Conn) call(kind replyKind, name string, args ...string) (reply, error) {
	if err := c.send(name, func(w *protocol.Writer) error {
		return w.WriteInline(name, args...)
	}); err != nil {
		return reply{}, err
	}
	return c.receive(kind)
}

// callPayload sends an inline command followed by a binary payload frame
func (c *Conn) callPayload(kind replyKind, name string, payload []byte, args ...string) (reply, error) {
	if err := c.send(name, func(w *protocol.Writer) error {
		return w.WriteBulkCommand(name, payload, args...)
	}); err != nil {
		return reply{}, err
	}
	return c.receive(kind)
}

// callMultiBulk sends a multi-bulk request; args[0] is the command name
func (c *Conn) callMultiBulk(kind replyKind, args ...[]byte) (reply, error) {
	if err := c.send(string(args[0]), func(w *protocol.Writer) error {
		return w.WriteMultiBulkCommand(args...)
	}); err != nil {
		return reply{}, err
	}
	return c.receive(kind)
}
