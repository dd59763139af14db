package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Direction selects the pool a connection is taken from
type Direction int

const (
	// ReadWrite connections talk to the read-write hosts
	ReadWrite Direction = iota
	// ReadOnly connections talk to the read-only hosts
	ReadOnly
)

// String returns the direction name
func (d Direction) String() string {
	switch d {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// pool is a fixed array of connection slots for one direction. A slot is
// nil until first handed out. slots, cursor, closed and every Conn.active
// flag are guarded by mu.
type pool struct {
	name      string
	manager   *Manager
	endpoints []Endpoint

	mu     sync.Mutex
	cond   *sync.Cond
	slots  []*Conn
	cursor int
	closed bool
}

func newPool(name string, m *Manager, endpoints []Endpoint, size int) *pool {
	p := &pool{
		name:      name,
		manager:   m,
		endpoints: endpoints,
		slots:     make([]*Conn, size),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// acquire blocks until a slot is free, the pool closes or ctx is done
func (p *pool) acquire(ctx context.Context) (*Conn, error) {
	if len(p.slots) == 0 {
		return nil, ErrPoolEmpty
	}

	// wake the waiters so a cancelled one can leave
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, ErrClosed
		}
		if c := p.take(); c != nil {
			return c, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.cond.Wait()
	}
}

// take scans the slots from the cursor for an empty or inactive one.
// Called with mu held.
func (p *pool) take() *Conn {
	n := len(p.slots)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.slots[idx]
		if c == nil {
			c = newConn(p.endpoints[idx%len(p.endpoints)], p.manager.cfg, p)
			p.slots[idx] = c
		} else if c.active {
			continue
		}
		p.cursor = (idx + 1) % n
		c.active = true
		return c
	}
	return nil
}

// release hands c back. A connection that failed, or that returns after
// Close, is discarded and its slot emptied.
func (p *pool) release(c *Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, s := range p.slots {
		if s == c {
			idx = i
			break
		}
	}
	if idx < 0 || !c.active {
		return ErrUnknownConn
	}

	c.active = false
	if c.HadErrors() || p.closed {
		c.closeSocket()
		p.slots[idx] = nil
	}
	p.cond.Broadcast()
	return nil
}

func (p *pool) checkedOut(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.active
}

// close marks the pool closed, closes idle sockets and wakes the waiters.
// Active connections are closed when released.
func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for i, c := range p.slots {
		if c != nil && !c.active {
			c.closeSocket()
			p.slots[i] = nil
		}
	}
	p.cond.Broadcast()
}

func (p *pool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStats{Size: len(p.slots)}
	for _, c := range p.slots {
		if c == nil {
			continue
		}
		st.Created++
		if c.active {
			st.Active++
		}
	}
	return st
}

// Manager hands out pooled connections: one pool for the read-write hosts
// and one for the read-only hosts. Acquire blocks while every slot of the
// pool is checked out. A Manager is safe for concurrent use.
type Manager struct {
	cfg *config

	mu      sync.Mutex
	started bool
	closed  bool

	write *pool
	read  *pool
}

// NewManager creates a Manager with the given options
//
// The manager is created but not started. Use Start() to allocate the pools.
//
// Example:
//
//	m, err := redisclient.NewManager(
//		redisclient.WithReadWriteHosts("localhost:6379"),
//		redisclient.WithReadOnlyHosts("replica-1:6379", "replica-2:6379"),
//		redisclient.WithMaxReadPoolSize(20),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
func NewManager(opts ...Option) (*Manager, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// Start allocates the pool slots. Connections are created lazily.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}

	m.write = newPool("write", m, m.cfg.readWriteHosts, m.cfg.maxWritePoolSize)
	m.read = newPool("read", m, m.cfg.readOnlyHosts, m.cfg.maxReadPoolSize)
	m.started = true

	fields := append(versionFields(),
		Field{"write_hosts", len(m.cfg.readWriteHosts)}, Field{"write_pool", m.cfg.maxWritePoolSize},
		Field{"read_hosts", len(m.cfg.readOnlyHosts)}, Field{"read_pool", m.cfg.maxReadPoolSize})
	m.cfg.logger.Info("Connection manager started", fields...)
	return nil
}

func (m *Manager) poolFor(dir Direction) (*pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if !m.started {
		return nil, ErrNotStarted
	}
	if dir == ReadOnly {
		return m.read, nil
	}
	return m.write, nil
}

// Acquire checks out a connection, waiting as long as the pool timeout
// allows. The connection must be handed back with Release or Conn.Close.
func (m *Manager) Acquire(dir Direction) (*Conn, error) {
	return m.AcquireContext(context.Background(), dir)
}

// AcquireContext is Acquire bounded by ctx as well as the pool timeout
func (m *Manager) AcquireContext(ctx context.Context, dir Direction) (*Conn, error) {
	p, err := m.poolFor(dir)
	if err != nil {
		return nil, err
	}

	waitCtx := ctx
	if m.cfg.poolTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.poolTimeout)
		defer cancel()
	}

	start := time.Now()
	c, err := p.acquire(waitCtx)
	m.cfg.recordPoolWait(time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrPoolTimeout
		}
		m.cfg.recordError("pool")
		m.cfg.logger.Debug("Acquire failed", Field{"pool", p.name}, Field{"error", err})
		return nil, err
	}

	// a connection left on another database by its previous owner
	if c.netConn != nil && c.db != m.cfg.defaultDB {
		if err := c.Select(m.cfg.defaultDB); err != nil {
			m.Release(c)
			return nil, err
		}
	}
	return c, nil
}

// GetClient checks out a read-write connection
func (m *Manager) GetClient() (*Conn, error) {
	return m.Acquire(ReadWrite)
}

// GetReadOnlyClient checks out a read-only connection
func (m *Manager) GetReadOnlyClient() (*Conn, error) {
	return m.Acquire(ReadOnly)
}

// Release returns a connection to its pool. An open transaction is rolled
// back and an open subscription closed first. Releasing a connection this
// manager does not own, or one that is not checked out, returns
// ErrUnknownConn.
func (m *Manager) Release(c *Conn) error {
	if c == nil || c.pool == nil || c.pool.manager != m {
		m.cfg.logger.Error("Release of a connection not owned by this manager")
		return ErrUnknownConn
	}

	if !c.pool.checkedOut(c) {
		m.cfg.logger.Error("Release of a connection that is not checked out",
			Field{"conn_id", c.id}, Field{"pool", c.pool.name})
		return ErrUnknownConn
	}

	c.detach()
	if err := c.pool.release(c); err != nil {
		m.cfg.logger.Error("Release of a connection that is not checked out",
			Field{"conn_id", c.id}, Field{"pool", c.pool.name})
		return err
	}
	return nil
}

// Close closes every idle connection and fails pending and future
// Acquire calls with ErrClosed. Connections still checked out are closed
// when they are released.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if started {
		m.write.close()
		m.read.close()
	}
	m.cfg.logger.Info("Connection manager closed")
	return nil
}

// Stats reports slot usage of both pools
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if !started {
		return ManagerStats{}
	}
	return ManagerStats{Write: m.write.stats(), Read: m.read.stats()}
}
