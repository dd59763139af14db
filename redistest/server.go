package redistest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// readTimeout bounds how long a client may stay silent
const readTimeout = 30 * time.Second

// Server is an in-process server speaking the client's protocol: inline
// commands, inline commands with a payload frame and multi-bulk requests.
// It keeps every database in memory and records the commands it receives.
type Server struct {
	addr     string
	password string

	// mu serializes command execution and guards the keyspace and the
	// subscriber sets. It is always taken before a client's write lock.
	mu       sync.Mutex
	keyspace *keyspace
	scripts  scriptEngine
	channels map[string]map[*client]struct{}
	patterns map[string]map[*client]struct{}

	listener net.Listener
	clients  sync.Map // map[net.Conn]*client

	logMu sync.Mutex
	log   []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// client is one accepted connection
type client struct {
	s      *Server
	conn   net.Conn
	reader *protocol.Reader

	wmu    sync.Mutex
	writer *protocol.Writer

	authenticated bool
	db            int

	multi bool
	dirty bool
	queue []*protocol.Command

	// guarded by s.mu
	channels map[string]struct{}
	patterns map[string]struct{}
}

// NewServer creates a server that will listen on addr
func NewServer(addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		keyspace: newKeyspace(),
		channels: make(map[string]map[*client]struct{}),
		patterns: make(map[string]map[*client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetPassword requires AUTH with password before any other command
func (s *Server) SetPassword(password string) {
	s.password = password
}

// Start starts listening and accepting clients
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Stop closes the listener and every client and waits for them to exit
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.CloseClients()
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// CloseClients drops every client connection while the server keeps
// listening, as a restarted or timed-out server would
func (s *Server) CloseClients() {
	s.clients.Range(func(_, value interface{}) bool {
		value.(*client).conn.Close()
		return true
	})
}

// Commands returns every command received so far, formatted as
// "NAME arg1 arg2"
func (s *Server) Commands() []string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

// ResetCommands clears the command log
func (s *Server) ResetCommands() {
	s.logMu.Lock()
	s.log = nil
	s.logMu.Unlock()
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": s.clientCount(),
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
	}
}

func (s *Server) clientCount() int {
	n := 0
	s.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Seed runs cmd directly against database db, bypassing the network
func (s *Server) Seed(db int, name string, args ...string) error {
	cmd := &protocol.Command{Name: strings.ToUpper(name), Args: make([][]byte, len(args))}
	for i, a := range args {
		cmd.Args[i] = []byte(a)
	}

	s.mu.Lock()
	reply := s.execute(db, cmd)
	s.mu.Unlock()
	if reply.Type == protocol.TypeError {
		return errors.New(string(reply.Data))
	}
	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			continue
		}
		s.handleNewClient(conn)
	}
}

func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)

	c := &client{
		s:             s,
		conn:          conn,
		reader:        protocol.NewReader(conn),
		writer:        protocol.NewWriter(conn),
		authenticated: s.password == "",
		channels:      make(map[string]struct{}),
		patterns:      make(map[string]struct{}),
	}
	s.clients.Store(conn, c)

	s.wg.Add(1)
	go c.handle()
}

func (s *Server) record(cmd *protocol.Command) {
	s.commandCount.Add(1)
	s.logMu.Lock()
	s.log = append(s.log, cmd.String())
	s.logMu.Unlock()
}

// execute runs a table command on database db. Called with mu held.
func (s *Server) execute(db int, cmd *protocol.Command) protocol.Value {
	sp, found := commandTable[cmd.Name]
	if !found {
		return errorf("unknown command '%s'", cmd.Name)
	}
	if len(cmd.Args) < sp.min || (sp.max >= 0 && len(cmd.Args) > sp.max) {
		return errorf("wrong number of arguments for '%s' command", strings.ToLower(cmd.Name))
	}
	x := &execCtx{s: s, name: cmd.Name, dbID: db, db: s.keyspace.db(db)}
	return sp.fn(x, cmd.Args)
}

// publish delivers payload to the subscribers of channel and of every
// matching pattern. Called with mu held.
func (s *Server) publish(channel string, payload []byte) int64 {
	var n int64
	for c := range s.channels[channel] {
		c.send(stringArray([]string{"message", channel, string(payload)}))
		n++
	}
	for pattern, subs := range s.patterns {
		if !matchGlob(pattern, channel) {
			continue
		}
		for c := range subs {
			c.send(stringArray([]string{"pmessage", pattern, channel, string(payload)}))
			n++
		}
	}
	return n
}

func (c *client) close() {
	c.conn.Close()
	c.s.clients.Delete(c.conn)

	c.s.mu.Lock()
	for ch := range c.channels {
		removeSubscriber(c.s.channels, ch, c)
	}
	for p := range c.patterns {
		removeSubscriber(c.s.patterns, p, c)
	}
	c.s.mu.Unlock()
}

func removeSubscriber(set map[string]map[*client]struct{}, name string, c *client) {
	delete(set[name], c)
	if len(set[name]) == 0 {
		delete(set, name)
	}
}

func (c *client) handle() {
	defer c.s.wg.Done()
	defer c.close()

	for {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		cmd, err := c.reader.ReadCommand(isBulk)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.s.ctx.Err() != nil {
				return
			}
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				c.send(errorf("Protocol error: %s", perr.Message))
			}
			return
		}

		c.s.record(cmd)
		if quit := c.dispatch(cmd); quit {
			return
		}
	}
}

// send writes one reply under the client's write lock
func (c *client) send(v protocol.Value) {
	if v.Type == protocol.TypeError {
		c.s.errorCount.Add(1)
		msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(string(v.Data))
		v = errorReply(msg)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.writer.WriteValue(v)
	c.writer.Flush()
}

func (c *client) subscribed() bool {
	return len(c.channels)+len(c.patterns) > 0
}

var subscribedAllowed = map[string]bool{
	"SUBSCRIBE":    true,
	"UNSUBSCRIBE":  true,
	"PSUBSCRIBE":   true,
	"PUNSUBSCRIBE": true,
	"PING":         true,
	"QUIT":         true,
}

// dispatch handles one request and reports whether the client quit
func (c *client) dispatch(cmd *protocol.Command) bool {
	if !c.authenticated && cmd.Name != "AUTH" && cmd.Name != "QUIT" {
		c.send(errorReply("NOAUTH Authentication required."))
		return false
	}

	c.s.mu.Lock()
	subscribed := c.subscribed()
	c.s.mu.Unlock()
	if subscribed && !subscribedAllowed[cmd.Name] {
		c.send(errorf("only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
		return false
	}

	switch cmd.Name {
	case "QUIT":
		c.send(ok())
		return true
	case "AUTH":
		c.send(c.auth(cmd))
		return false
	case "SUBSCRIBE", "PSUBSCRIBE":
		c.subscribe(cmd)
		return false
	case "UNSUBSCRIBE", "PUNSUBSCRIBE":
		c.unsubscribe(cmd)
		return false
	case "MULTI":
		if c.multi {
			c.send(errorf("MULTI calls can not be nested"))
			return false
		}
		c.multi, c.dirty, c.queue = true, false, nil
		c.send(ok())
		return false
	case "EXEC":
		c.send(c.exec())
		return false
	case "DISCARD":
		if !c.multi {
			c.send(errorf("DISCARD without MULTI"))
			return false
		}
		c.multi, c.queue = false, nil
		c.send(ok())
		return false
	}

	if c.multi {
		if _, known := commandTable[cmd.Name]; !known && cmd.Name != "SELECT" {
			c.dirty = true
			c.send(errorf("unknown command '%s'", cmd.Name))
			return false
		}
		c.queue = append(c.queue, cmd)
		c.send(status("QUEUED"))
		return false
	}

	c.s.mu.Lock()
	reply := c.run(cmd)
	c.s.mu.Unlock()
	c.send(reply)
	return false
}

// run executes a command for this client. Called with s.mu held.
func (c *client) run(cmd *protocol.Command) protocol.Value {
	if cmd.Name == "SELECT" {
		if len(cmd.Args) != 1 {
			return errorf("wrong number of arguments for 'select' command")
		}
		db, err := strconv.Atoi(string(cmd.Args[0]))
		if err != nil || db < 0 {
			return errorf("invalid DB index")
		}
		c.db = db
		return ok()
	}
	return c.s.execute(c.db, cmd)
}

func (c *client) auth(cmd *protocol.Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return errorf("wrong number of arguments for 'auth' command")
	}
	if c.s.password == "" {
		return errorf("Client sent AUTH, but no password is set")
	}
	if string(cmd.Args[0]) != c.s.password {
		return errorf("invalid password")
	}
	c.authenticated = true
	return ok()
}

// exec runs the queued commands atomically
func (c *client) exec() protocol.Value {
	if !c.multi {
		return errorf("EXEC without MULTI")
	}
	queue, dirty := c.queue, c.dirty
	c.multi, c.dirty, c.queue = false, false, nil
	if dirty {
		return errorReply("EXECABORT Transaction discarded because of previous errors.")
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	replies := make([]protocol.Value, len(queue))
	for i, cmd := range queue {
		replies[i] = c.run(cmd)
	}
	return array(replies)
}

// subscribe registers the names and acknowledges each with the running
// count. The acknowledgements are written under s.mu so that no published
// message overtakes them.
func (c *client) subscribe(cmd *protocol.Command) {
	if len(cmd.Args) == 0 {
		c.send(errorf("wrong number of arguments for '%s' command", strings.ToLower(cmd.Name)))
		return
	}
	pattern := cmd.Name == "PSUBSCRIBE"
	kind := strings.ToLower(cmd.Name)

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	own, global := c.channels, c.s.channels
	if pattern {
		own, global = c.patterns, c.s.patterns
	}
	for _, arg := range cmd.Args {
		name := string(arg)
		own[name] = struct{}{}
		if global[name] == nil {
			global[name] = make(map[*client]struct{})
		}
		global[name][c] = struct{}{}
		c.send(c.ack(kind, name))
	}
}

// unsubscribe removes the named subscriptions, or all of them when none
// are named, acknowledging each name
func (c *client) unsubscribe(cmd *protocol.Command) {
	pattern := cmd.Name == "PUNSUBSCRIBE"
	kind := strings.ToLower(cmd.Name)

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	own, global := c.channels, c.s.channels
	if pattern {
		own, global = c.patterns, c.s.patterns
	}

	names := make([]string, 0, len(cmd.Args))
	for _, arg := range cmd.Args {
		names = append(names, string(arg))
	}
	if len(names) == 0 {
		for name := range own {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		c.send(array([]protocol.Value{bulk([]byte(kind)), null(), integer(int64(len(c.channels) + len(c.patterns)))}))
		return
	}

	for _, name := range names {
		delete(own, name)
		removeSubscriber(global, name, c)
		c.send(c.ack(kind, name))
	}
}

// ack builds a (un)subscribe acknowledgement. Called with s.mu held.
func (c *client) ack(kind, name string) protocol.Value {
	count := int64(len(c.channels) + len(c.patterns))
	return array([]protocol.Value{bulk([]byte(kind)), bulk([]byte(name)), integer(count)})
}
