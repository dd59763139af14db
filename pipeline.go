package redisclient

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// Pipeline stages several commands, writes them in a single flush and then
// reads one reply per command, all of the same declared shape. It gives no
// atomicity; use a Transaction for that.
type Pipeline struct {
	conn  *Conn
	buf   bytes.Buffer
	w     *protocol.Writer
	names []string
	err   error
}

// Pipeline returns an empty pipeline on the connection
func (c *Conn) Pipeline() *Pipeline {
	p := &Pipeline{conn: c}
	p.w = protocol.NewWriter(&p.buf)
	return p
}

// Queue stages an inline command
func (p *Pipeline) Queue(name string, args ...string) *Pipeline {
	if p.err == nil {
		p.err = p.w.WriteInline(name, args...)
		p.names = append(p.names, name)
	}
	return p
}

// QueuePayload stages an inline command followed by a payload frame
func (p *Pipeline) QueuePayload(name string, payload []byte, args ...string) *Pipeline {
	if p.err == nil {
		p.err = p.w.WriteBulkCommand(name, payload, args...)
		p.names = append(p.names, name)
	}
	return p
}

// Len returns the number of staged commands
func (p *Pipeline) Len() int {
	return len(p.names)
}

func (p *Pipeline) reset() {
	p.buf.Reset()
	p.w.Reset(&p.buf)
	p.names = p.names[:0]
	p.err = nil
}

// flush writes every staged frame and reads one reply of kind per command.
// Server error replies are collected and the remaining replies still read;
// any other failure aborts.
func (p *Pipeline) flush(kind replyKind) ([]reply, error) {
	defer p.reset()

	if p.err != nil {
		return nil, p.err
	}
	if len(p.names) == 0 {
		return nil, nil
	}
	if err := p.w.Flush(); err != nil {
		return nil, err
	}

	c := p.conn
	frames := p.buf.Bytes()
	if err := c.send("PIPELINE", func(w *protocol.Writer) error {
		return w.WriteRaw(frames)
	}); err != nil {
		return nil, err
	}

	replies := make([]reply, len(p.names))
	var errs []error
	for i := range replies {
		r, err := c.receive(kind)
		if err != nil {
			var serr *ServerError
			if !errors.As(err, &serr) {
				return nil, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", p.names[i], err))
			continue
		}
		replies[i] = r
	}
	return replies, errors.Join(errs...)
}

// FlushInts sends the staged commands and reads integer replies
func (p *Pipeline) FlushInts() ([]int64, error) {
	replies, err := p.flush(replyInt)
	if replies == nil {
		return nil, err
	}
	out := make([]int64, len(replies))
	for i, r := range replies {
		out[i] = r.n
	}
	return out, err
}

// FlushOK sends the staged commands and expects an OK status for each
func (p *Pipeline) FlushOK() error {
	replies, err := p.flush(replyStatus)
	if err != nil {
		return err
	}
	for i, r := range replies {
		if r.status != "OK" {
			return fmt.Errorf("pipeline reply %d: unexpected status %q", i, r.status)
		}
	}
	return nil
}

// FlushBulks sends the staged commands and reads bulk replies; a null
// bulk yields a nil element
func (p *Pipeline) FlushBulks() ([][]byte, error) {
	replies, err := p.flush(replyBulk)
	if replies == nil {
		return nil, err
	}
	out := make([][]byte, len(replies))
	for i, r := range replies {
		if r.ok {
			out[i] = r.data
		}
	}
	return out, err
}

// FlushStatuses sends the staged commands and reads status replies
func (p *Pipeline) FlushStatuses() ([]string, error) {
	replies, err := p.flush(replyStatus)
	if replies == nil {
		return nil, err
	}
	out := make([]string, len(replies))
	for i, r := range replies {
		out[i] = r.status
	}
	return out, err
}

// FlushValues sends the staged commands and returns the raw replies
func (p *Pipeline) FlushValues() ([]protocol.Value, error) {
	replies, err := p.flush(replyValue)
	if replies == nil {
		return nil, err
	}
	out := make([]protocol.Value, len(replies))
	for i, r := range replies {
		out[i] = r.value
	}
	return out, err
}
