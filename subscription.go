package redisclient

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// eventBuffer is the capacity of the channel returned by Listen
const eventBuffer = 128

// EventKind identifies a subscription event
type EventKind int

const (
	EventSubscribe EventKind = iota + 1
	EventUnsubscribe
	EventMessage
)

// String returns the event name
func (k EventKind) String() string {
	switch k {
	case EventSubscribe:
		return "subscribe"
	case EventUnsubscribe:
		return "unsubscribe"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one frame received while subscribed. Pattern is set for pattern
// (un)subscriptions and for messages delivered through a pattern.
type Event struct {
	Kind    EventKind
	Channel string
	Pattern string
	Payload []byte
	Count   int
}

// Subscription is the publish/subscribe state machine of one connection.
// SubscribeToChannels blocks, invoking the hooks for every frame, until the
// subscription count drops to zero. Listen runs the same loop on its own
// goroutine and streams events instead.
//
// Hooks run on the goroutine reading frames. They may call the Unsubscribe
// methods and Close; the acknowledgements are then consumed by the running
// loop and the call returns without waiting for it.
type Subscription struct {
	conn *Conn

	OnSubscribe   func(channel string)
	OnMessage     func(channel string, payload []byte)
	OnUnsubscribe func(channel string)

	writeMu   sync.Mutex
	receiving atomic.Bool
	count     atomic.Int64
	closed    atomic.Bool
	inHook    atomic.Bool

	// set by Listen; done is closed when its loop exits, quit by abort,
	// drain once a caller waits for the loop and events may be dropped
	sock     net.Conn
	done     chan struct{}
	quit     chan struct{}
	drain    chan struct{}
	draining atomic.Bool

	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}
	err      error

	// names sent to the server, acknowledged or not
	wantChannels map[string]struct{}
	wantPatterns map[string]struct{}
}

// Subscription returns the connection's subscription state machine,
// creating it on first use
func (c *Conn) Subscription() (*Subscription, error) {
	if c.tx != nil {
		return nil, ErrTxInProgress
	}
	if c.closed {
		return nil, ErrClosed
	}
	if c.sub == nil {
		c.sub = &Subscription{
			conn:     c,
			channels:     make(map[string]struct{}),
			patterns:     make(map[string]struct{}),
			wantChannels: make(map[string]struct{}),
			wantPatterns: make(map[string]struct{}),
		}
	}
	return c.sub, nil
}

// Count returns the subscription count last reported by the server
func (s *Subscription) Count() int {
	return int(s.count.Load())
}

// Channels returns the active channels, sorted
func (s *Subscription) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.channels)
}

// Patterns returns the active patterns, sorted
func (s *Subscription) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.patterns)
}

// Err returns the error that ended the last Listen loop, if any
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SubscribeToChannels subscribes to channels and blocks processing frames
// until every subscription has been removed. Called while a loop is
// already running, it only sends the request.
func (s *Subscription) SubscribeToChannels(channels ...string) error {
	return s.subscribe("SUBSCRIBE", channels)
}

// SubscribeToChannelsMatching is SubscribeToChannels for glob patterns
func (s *Subscription) SubscribeToChannelsMatching(patterns ...string) error {
	return s.subscribe("PSUBSCRIBE", patterns)
}

func (s *Subscription) subscribe(cmd string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: %s needs at least one channel", ErrInvalidConfig, cmd)
	}
	s.closed.Store(false)
	if err := s.send(cmd, names); err != nil {
		return err
	}
	if s.receiving.Load() {
		return nil
	}
	return s.run(nil, s.drained)
}

// Listen subscribes to channels and runs the receive loop on a new
// goroutine. The returned channel is closed when the subscription count
// reaches zero or the connection fails; Err reports the latter. Events
// must be consumed or the loop stalls.
func (s *Subscription) Listen(channels ...string) (<-chan Event, error) {
	return s.listen("SUBSCRIBE", channels)
}

// ListenMatching is Listen for glob patterns
func (s *Subscription) ListenMatching(patterns ...string) (<-chan Event, error) {
	return s.listen("PSUBSCRIBE", patterns)
}

func (s *Subscription) listen(cmd string, names []string) (<-chan Event, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one channel", ErrInvalidConfig, cmd)
	}
	if s.receiving.Load() {
		return nil, errors.New("subscription loop already running")
	}
	s.closed.Store(false)
	if err := s.send(cmd, names); err != nil {
		return nil, err
	}

	events := make(chan Event, eventBuffer)
	s.sock = s.conn.netConn
	s.done = make(chan struct{})
	s.quit = make(chan struct{})
	s.drain = make(chan struct{})
	s.draining.Store(false)
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	s.receiving.Store(true)

	go func() {
		defer close(s.done)
		defer close(events)
		if err := s.run(events, s.drained); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return events, nil
}

func (s *Subscription) drained(Event) bool {
	return s.count.Load() == 0
}

// UnsubscribeFromAllChannels removes every channel and pattern
// subscription. It is a no-op when nothing is active. Without a running
// loop it reads the acknowledgements itself; with a Listen loop it waits
// for that loop to drain them and exit. Unread events are dropped once the
// buffer is full.
func (s *Subscription) UnsubscribeFromAllChannels() error {
	s.mu.Lock()
	nChannels, nPatterns := len(s.channels), len(s.patterns)
	if s.receiving.Load() {
		// a Listen loop may not have read the subscribe acknowledgements yet
		nChannels, nPatterns = len(s.wantChannels), len(s.wantPatterns)
	}
	s.mu.Unlock()

	if nChannels == 0 && nPatterns == 0 {
		return nil
	}
	if nChannels > 0 {
		if err := s.send("UNSUBSCRIBE", nil); err != nil {
			return err
		}
	}
	if nPatterns > 0 {
		if err := s.send("PUNSUBSCRIBE", nil); err != nil {
			return err
		}
	}
	if s.receiving.Load() {
		s.waitLoop()
		return nil
	}
	return s.run(nil, s.drained)
}

// waitLoop blocks until a running Listen loop exits. It returns at once
// on the loop's own goroutine.
func (s *Subscription) waitLoop() {
	if s.done == nil || s.inHook.Load() {
		return
	}
	if s.draining.CompareAndSwap(false, true) {
		close(s.drain)
	}
	<-s.done
}

// UnsubscribeFromChannels removes the given channel subscriptions
func (s *Subscription) UnsubscribeFromChannels(channels ...string) error {
	return s.unsubscribe("UNSUBSCRIBE", channels)
}

// UnsubscribeFromChannelsMatching removes the given pattern subscriptions
func (s *Subscription) UnsubscribeFromChannelsMatching(patterns ...string) error {
	return s.unsubscribe("PUNSUBSCRIBE", patterns)
}

func (s *Subscription) unsubscribe(cmd string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: %s needs at least one channel", ErrInvalidConfig, cmd)
	}
	if s.Count() == 0 {
		return nil
	}
	if err := s.send(cmd, names); err != nil {
		return err
	}
	if s.receiving.Load() {
		return nil
	}

	// the server acknowledges every name, subscribed or not
	acks := 0
	return s.run(nil, func(ev Event) bool {
		if ev.Kind == EventUnsubscribe {
			acks++
		}
		return acks >= len(names)
	})
}

// Close unsubscribes from everything and detaches the subscription from
// its connection
func (s *Subscription) Close() error {
	s.closed.Store(true)
	err := s.UnsubscribeFromAllChannels()
	if s.inHook.Load() {
		return err
	}
	s.waitLoop()
	if !s.receiving.Load() {
		s.conn.sub = nil
	}
	return err
}

// send writes a subscription command. While a loop is reading, only the
// writer is touched and the socket is not probed.
func (s *Subscription) send(cmd string, names []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	c := s.conn
	if !s.receiving.Load() {
		if err := c.prepare(cmd); err != nil {
			return err
		}
		err := c.write(func(w *protocol.Writer) error {
			return w.WriteInline(cmd, names...)
		})
		if err == nil {
			s.track(cmd, names)
		}
		return err
	}

	sock := s.sock
	if sock == nil {
		sock = c.netConn
	}
	if c.cfg.sendTimeout > 0 {
		sock.SetWriteDeadline(time.Now().Add(c.cfg.sendTimeout))
	}
	err := c.writer.WriteInline(cmd, names...)
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		// the reading loop sees the closed socket and cleans up
		c.hadErrors.Store(true)
		sock.Close()
		return &ConnectionError{Addr: c.endpoint.Addr(), Command: cmd, Err: err}
	}
	s.track(cmd, names)
	return nil
}

func (s *Subscription) track(cmd string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.wantChannels
	if cmd == "PSUBSCRIBE" || cmd == "PUNSUBSCRIBE" {
		set = s.wantPatterns
	}
	switch {
	case cmd == "SUBSCRIBE" || cmd == "PSUBSCRIBE":
		for _, name := range names {
			set[name] = struct{}{}
		}
	case len(names) == 0:
		clear(set)
	default:
		for _, name := range names {
			delete(set, name)
		}
	}
}

// run reads frames, without a deadline, until stop reports true for a
// handled frame. events may be nil.
func (s *Subscription) run(events chan<- Event, stop func(Event) bool) error {
	s.receiving.Store(true)
	defer func() {
		s.receiving.Store(false)
		if events == nil && s.closed.Load() && s.count.Load() == 0 {
			s.conn.sub = nil
		}
	}()

	c := s.conn
	for {
		var frame [][]byte
		err := c.readUntil(time.Time{}, func(r *protocol.Reader) error {
			var err error
			frame, err = r.ReadMultiBulk()
			return err
		})
		if err != nil {
			var serr *ServerError
			if !errors.As(err, &serr) {
				// subscriptions died with the socket
				s.reset()
			}
			return err
		}

		ev, err := s.dispatch(frame)
		if err != nil {
			s.reset()
			return c.fail(err)
		}
		if events != nil && !s.deliver(events, ev) {
			return ErrClosed
		}
		if stop(ev) {
			return nil
		}
	}
}

// deliver hands ev to the Listen consumer. Once a caller is waiting for the
// loop to drain, events the consumer has no room for are dropped.
func (s *Subscription) deliver(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
	}
	select {
	case events <- ev:
	case <-s.drain:
	case <-s.quit:
		return false
	}
	return true
}

// dispatch applies one frame to the state and invokes the matching hook
func (s *Subscription) dispatch(frame [][]byte) (Event, error) {
	if len(frame) < 3 {
		return Event{}, &ProtocolError{Message: fmt.Sprintf("subscription frame has %d elements, want 3", len(frame))}
	}

	kind := string(frame[0])
	switch kind {
	case "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		n, err := strconv.Atoi(string(frame[2]))
		if err != nil {
			return Event{}, &ProtocolError{Message: "invalid subscription count", Data: frame[2]}
		}
		name := string(frame[1])
		pattern := kind == "psubscribe" || kind == "punsubscribe"
		adding := kind == "subscribe" || kind == "psubscribe"

		s.mu.Lock()
		set := s.channels
		if pattern {
			set = s.patterns
		}
		if adding {
			set[name] = struct{}{}
		} else {
			delete(set, name)
		}
		s.mu.Unlock()
		s.count.Store(int64(n))

		ev := Event{Kind: EventUnsubscribe, Count: n}
		if adding {
			ev.Kind = EventSubscribe
		}
		if pattern {
			ev.Pattern = name
		} else {
			ev.Channel = name
		}

		s.hook(func() {
			if adding && s.OnSubscribe != nil {
				s.OnSubscribe(name)
			} else if !adding && s.OnUnsubscribe != nil {
				s.OnUnsubscribe(name)
			}
		})
		return ev, nil

	case "message":
		ev := Event{Kind: EventMessage, Channel: string(frame[1]), Payload: frame[2], Count: s.Count()}
		if s.OnMessage != nil {
			s.hook(func() { s.OnMessage(ev.Channel, ev.Payload) })
		}
		return ev, nil

	case "pmessage":
		if len(frame) != 4 {
			return Event{}, &ProtocolError{Message: fmt.Sprintf("pmessage frame has %d elements, want 4", len(frame))}
		}
		ev := Event{Kind: EventMessage, Pattern: string(frame[1]), Channel: string(frame[2]), Payload: frame[3], Count: s.Count()}
		if s.OnMessage != nil {
			s.hook(func() { s.OnMessage(ev.Channel, ev.Payload) })
		}
		return ev, nil

	default:
		return Event{}, &ProtocolError{Message: fmt.Sprintf("unknown subscription message type %q", kind)}
	}
}

func (s *Subscription) hook(fn func()) {
	s.inHook.Store(true)
	defer s.inHook.Store(false)
	fn()
}

func (s *Subscription) reset() {
	s.mu.Lock()
	s.channels = make(map[string]struct{})
	s.patterns = make(map[string]struct{})
	clear(s.wantChannels)
	clear(s.wantPatterns)
	s.mu.Unlock()
	s.count.Store(0)
}

// abort stops a running Listen loop by closing its socket and waits for it
// to exit
func (s *Subscription) abort() {
	if s.done == nil || !s.receiving.Load() {
		return
	}
	s.conn.hadErrors.Store(true)
	close(s.quit)
	if s.sock != nil {
		s.sock.Close()
	}
	<-s.done
}
