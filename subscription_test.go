package redisclient

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-native-client/redistest"
)

func frame(parts ...string) string {
	var b strings.Builder
	b.WriteString("*")
	b.WriteString(strconv.Itoa(len(parts)))
	b.WriteString("\r\n")
	for _, p := range parts {
		if strings.HasPrefix(p, ":") {
			b.WriteString(p + "\r\n")
			continue
		}
		b.WriteString("$" + strconv.Itoa(len(p)) + "\r\n" + p + "\r\n")
	}
	return b.String()
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func waitClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel was not closed")
		}
	}
}

func TestSubscriptionHooksInOrder(t *testing.T) {
	srv := newScriptedServer(
		frame("subscribe", "ch1", ":1") +
			frame("message", "ch1", "hello") +
			frame("unsubscribe", "ch1", ":0"),
	)
	c := newTestConn(t, "localhost", WithDialer(srv.dialer()))

	sub, err := c.Subscription()
	if err != nil {
		t.Fatal(err)
	}

	var calls []string
	sub.OnSubscribe = func(ch string) { calls = append(calls, "subscribe:"+ch) }
	sub.OnMessage = func(ch string, payload []byte) { calls = append(calls, "message:"+ch+":"+string(payload)) }
	sub.OnUnsubscribe = func(ch string) { calls = append(calls, "unsubscribe:"+ch) }

	if err := sub.SubscribeToChannels("ch1"); err != nil {
		t.Fatalf("SubscribeToChannels failed: %v", err)
	}

	want := []string{"subscribe:ch1", "message:ch1:hello", "unsubscribe:ch1"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("hooks = %q, want %q", calls, want)
	}
	if sub.Count() != 0 || len(sub.Channels()) != 0 {
		t.Errorf("Count=%d Channels=%q after the last unsubscribe", sub.Count(), sub.Channels())
	}
}

func TestSubscriptionUnknownFrameIsProtocolError(t *testing.T) {
	srv := newScriptedServer(frame("subscribe", "ch1", ":1") + frame("bogus", "ch1", "x"))
	c := newTestConn(t, "localhost", WithDialer(srv.dialer()))

	sub, err := c.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	err = sub.SubscribeToChannels("ch1")
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("SubscribeToChannels = %v, want *ProtocolError", err)
	}
	if !c.HadErrors() || sub.Count() != 0 {
		t.Errorf("HadErrors=%v Count=%d after a bad frame", c.HadErrors(), sub.Count())
	}
}

func TestSubscriptionListen(t *testing.T) {
	srv := redistest.Run(t)
	subConn := newTestConn(t, srv.Addr())
	pubConn := newTestConn(t, srv.Addr())

	sub, err := subConn.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	events, err := sub.Listen("news", "alerts")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	for _, ch := range []string{"news", "alerts"} {
		ev := recvEvent(t, events)
		if ev.Kind != EventSubscribe || ev.Channel != ch {
			t.Errorf("event = %+v, want subscribe to %s", ev, ch)
		}
	}
	if sub.Count() != 2 {
		t.Errorf("Count() = %d, want 2", sub.Count())
	}

	if _, _, err := subConn.Get("k"); !errors.Is(err, ErrSubscribed) {
		t.Errorf("Get while subscribed = %v, want ErrSubscribed", err)
	}

	n, err := pubConn.Publish("news", []byte("extra! extra!"))
	if err != nil || n != 1 {
		t.Fatalf("Publish = %d, %v; want 1 receiver", n, err)
	}
	ev := recvEvent(t, events)
	if ev.Kind != EventMessage || ev.Channel != "news" || string(ev.Payload) != "extra! extra!" {
		t.Errorf("event = %+v, want the published message", ev)
	}

	if err := sub.UnsubscribeFromChannels("news"); err != nil {
		t.Fatal(err)
	}
	ev = recvEvent(t, events)
	if ev.Kind != EventUnsubscribe || ev.Channel != "news" || ev.Count != 1 {
		t.Errorf("event = %+v, want unsubscribe from news with one left", ev)
	}

	if err := sub.UnsubscribeFromAllChannels(); err != nil {
		t.Fatal(err)
	}
	ev = recvEvent(t, events)
	if ev.Kind != EventUnsubscribe || ev.Channel != "alerts" || ev.Count != 0 {
		t.Errorf("event = %+v, want the final unsubscribe", ev)
	}
	waitClosed(t, events)
	if err := sub.Err(); err != nil {
		t.Errorf("Err() = %v after a clean drain", err)
	}

	// back in normal mode
	if err := subConn.Set("k", []byte("v")); err != nil {
		t.Errorf("Set after unsubscribing failed: %v", err)
	}
}

func TestSubscriptionListenMatching(t *testing.T) {
	srv := redistest.Run(t)
	subConn := newTestConn(t, srv.Addr())
	pubConn := newTestConn(t, srv.Addr())

	sub, err := subConn.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	events, err := sub.ListenMatching("news.*")
	if err != nil {
		t.Fatal(err)
	}
	ev := recvEvent(t, events)
	if ev.Kind != EventSubscribe || ev.Pattern != "news.*" {
		t.Fatalf("event = %+v, want a pattern subscription", ev)
	}

	if _, err := pubConn.Publish("news.sports", []byte("goal")); err != nil {
		t.Fatal(err)
	}
	ev = recvEvent(t, events)
	if ev.Kind != EventMessage || ev.Pattern != "news.*" || ev.Channel != "news.sports" || string(ev.Payload) != "goal" {
		t.Errorf("event = %+v, want a pattern message", ev)
	}
	if patterns := sub.Patterns(); len(patterns) != 1 || patterns[0] != "news.*" {
		t.Errorf("Patterns() = %q", patterns)
	}

	if err := sub.UnsubscribeFromChannelsMatching("news.*"); err != nil {
		t.Fatal(err)
	}
	ev = recvEvent(t, events)
	if ev.Kind != EventUnsubscribe || ev.Pattern != "news.*" {
		t.Errorf("event = %+v, want a pattern unsubscribe", ev)
	}
	waitClosed(t, events)
}

func TestSubscriptionBlockingWithHooks(t *testing.T) {
	srv := redistest.Run(t)
	subConn := newTestConn(t, srv.Addr())
	pubConn := newTestConn(t, srv.Addr())

	sub, err := subConn.Subscription()
	if err != nil {
		t.Fatal(err)
	}

	var received []string
	sub.OnSubscribe = func(ch string) {
		if _, err := pubConn.Publish(ch, []byte("first")); err != nil {
			t.Errorf("Publish failed: %v", err)
		}
	}
	sub.OnMessage = func(ch string, payload []byte) {
		received = append(received, string(payload))
		if err := sub.UnsubscribeFromChannels(ch); err != nil {
			t.Errorf("Unsubscribe from a hook failed: %v", err)
		}
	}

	if err := sub.SubscribeToChannels("jobs"); err != nil {
		t.Fatalf("SubscribeToChannels failed: %v", err)
	}
	if len(received) != 1 || received[0] != "first" {
		t.Errorf("received %q, want one message", received)
	}
	if sub.Count() != 0 {
		t.Errorf("Count() = %d, want 0", sub.Count())
	}
}

func TestSubscriptionUnsubscribeWithoutLoop(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	sub, err := c.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.UnsubscribeFromAllChannels(); err != nil {
		t.Errorf("UnsubscribeFromAllChannels with nothing active = %v", err)
	}
	if err := sub.UnsubscribeFromChannels("none"); err != nil {
		t.Errorf("UnsubscribeFromChannels with nothing active = %v", err)
	}
	if err := sub.SubscribeToChannels(); err == nil {
		t.Error("expected an error subscribing to no channels")
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	if len(srv.Commands()) != 0 {
		t.Errorf("commands sent with nothing subscribed: %q", srv.Commands())
	}
}

func TestSubscriptionCloseStopsListenLoop(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	for i := 0; i < 20; i++ {
		sub, err := c.Subscription()
		if err != nil {
			t.Fatal(err)
		}
		events, err := sub.Listen("ch")
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		// every other round closes before the subscribe acknowledgement is read
		if i%2 == 0 {
			recvEvent(t, events)
		}
		if err := sub.Close(); err != nil {
			t.Fatalf("round %d: Close failed: %v", i, err)
		}
		if err := c.Set("k", []byte("v")); err != nil {
			t.Fatalf("round %d: Set right after Close = %v", i, err)
		}
		if sub.Count() != 0 || len(sub.Channels()) != 0 {
			t.Errorf("round %d: Count=%d Channels=%q after Close", i, sub.Count(), sub.Channels())
		}
		waitClosed(t, events)
	}
}

func TestSubscriptionCloseWithUnreadEvents(t *testing.T) {
	srv := redistest.Run(t)
	subConn := newTestConn(t, srv.Addr())
	pubConn := newTestConn(t, srv.Addr())

	sub, err := subConn.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	events, err := sub.Listen("busy")
	if err != nil {
		t.Fatal(err)
	}
	recvEvent(t, events)

	for i := 0; i < 2*eventBuffer; i++ {
		if _, err := pubConn.Publish("busy", []byte(strconv.Itoa(i))); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- sub.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a full event buffer")
	}
	if n, err := subConn.Incr("after"); err != nil || n != 1 {
		t.Errorf("Incr after Close = %d, %v", n, err)
	}
}

func TestSubscriptionCloseFromListenHook(t *testing.T) {
	srv := redistest.Run(t)
	c := newTestConn(t, srv.Addr())

	sub, err := c.Subscription()
	if err != nil {
		t.Fatal(err)
	}
	sub.OnSubscribe = func(string) {
		if err := sub.Close(); err != nil {
			t.Errorf("Close from a hook failed: %v", err)
		}
	}
	events, err := sub.Listen("ch")
	if err != nil {
		t.Fatal(err)
	}
	waitClosed(t, events)
	if err := sub.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
	if err := c.Set("k", []byte("v")); err != nil {
		t.Errorf("Set after the loop ended = %v", err)
	}
}
