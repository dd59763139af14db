package redisclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/raniellyferreira/redis-native-client/protocol"
)

// queuedOp is one command buffered inside MULTI. kind is attached by the
// command's reply reader when the server answers QUEUED.
type queuedOp struct {
	kind      replyKind
	queued    bool
	onSuccess Callback
	onError   func(error)

	// applied runs once the server has executed the command without error
	applied func()
}

// Transaction buffers commands between MULTI and EXEC on one connection.
//
//	tx, err := conn.Multi()
//	tx.QueueCommand(func(c *Conn) error { _, err := c.Incr("hits"); return err },
//		IntCallback(func(n int64) { hits = n }), nil)
//	err = tx.Commit()
type Transaction struct {
	conn    *Conn
	ops     []*queuedOp
	pending *queuedOp
	done    bool
}

// Multi issues MULTI and makes the returned transaction the connection's
// current one. Until Commit or Rollback, commands on the connection are
// only accepted through QueueCommand.
func (c *Conn) Multi() (*Transaction, error) {
	if c.tx != nil {
		return nil, ErrTxInProgress
	}
	if _, err := c.call(replyVoid, "MULTI"); err != nil {
		return nil, err
	}
	tx := &Transaction{conn: c}
	c.tx = tx
	return tx, nil
}

// Len returns the number of queued operations
func (tx *Transaction) Len() int {
	return len(tx.ops)
}

// QueueCommand runs cmd against the connection, which must issue exactly one
// command. onSuccess receives the command's real result at commit time;
// onError receives any failure decoding or delivering it. Either may be nil.
func (tx *Transaction) QueueCommand(cmd func(c *Conn) error, onSuccess Callback, onError func(error)) error {
	if tx.done {
		return ErrTxNotActive
	}
	if tx.pending != nil {
		return ErrTxOpPending
	}

	op := &queuedOp{onSuccess: onSuccess, onError: onError}
	tx.pending = op
	err := cmd(tx.conn)
	tx.pending = nil

	// once QUEUED, EXEC will answer for it whatever cmd returned
	if op.queued {
		tx.ops = append(tx.ops, op)
	}
	if err != nil {
		return err
	}
	if !op.queued {
		return ErrTxNoReply
	}
	return nil
}

// acceptQueued reads the QUEUED acknowledgement for the pending operation
func (tx *Transaction) acceptQueued(kind replyKind) error {
	c := tx.conn
	var status string
	if err := c.read(func(r *protocol.Reader) error {
		var err error
		status, err = r.ReadStatus()
		return err
	}); err != nil {
		return err
	}
	if status != "QUEUED" {
		return c.fail(&ProtocolError{Message: fmt.Sprintf("expected QUEUED, got %q", status)})
	}
	tx.pending.kind = kind
	tx.pending.queued = true
	return nil
}

// Commit issues EXEC and hands each reply, in queue order, to its
// operation's callbacks. A reply count that differs from the number of
// queued operations aborts the commit with a *TransactionError before any
// callback runs. A failing operation does not stop the ones after it: its
// error goes to its onError callback, or into the joined error returned
// when it has none.
func (tx *Transaction) Commit() error {
	if tx.done {
		return ErrTxNotActive
	}
	if tx.pending != nil {
		return ErrTxOpPending
	}
	tx.done = true

	c := tx.conn
	defer func() { c.tx = nil }()

	if err := c.send("EXEC", func(w *protocol.Writer) error {
		return w.WriteInline("EXEC")
	}); err != nil {
		return err
	}

	var count int
	if err := c.read(func(r *protocol.Reader) error {
		var err error
		count, err = r.ReadArrayHeader()
		return err
	}); err != nil {
		return err
	}
	if count < 0 {
		count = 0
	}

	if count != len(tx.ops) {
		if err := c.read(func(r *protocol.Reader) error {
			for i := 0; i < count; i++ {
				if err := r.Skip(); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		terr := &TransactionError{Expected: len(tx.ops), Got: count}
		c.cfg.logger.Error("Transaction aborted",
			Field{"conn_id", c.id}, Field{"expected", terr.Expected}, Field{"got", terr.Got})
		return terr
	}

	var errs []error
	for i, op := range tx.ops {
		var v protocol.Value
		if err := c.read(func(r *protocol.Reader) error {
			var err error
			v, err = r.ReadNext()
			return err
		}); err != nil {
			return err
		}

		if op.applied != nil && v.Type != protocol.TypeError {
			op.applied()
		}
		if err := op.complete(v); err != nil {
			c.cfg.logger.Error("Queued operation failed",
				Field{"conn_id", c.id}, Field{"index", i}, Field{"error", err})
			if op.onError == nil {
				errs = append(errs, fmt.Errorf("operation %d: %w", i, err))
				continue
			}
			if perr := op.fail(err); perr != nil {
				c.cfg.logger.Error("Error callback panicked",
					Field{"conn_id", c.id}, Field{"index", i}, Field{"error", perr})
			}
		}
	}
	c.cfg.recordCommand("EXEC", time.Since(c.sentAt))
	return errors.Join(errs...)
}

// complete decodes the operation's EXEC element and delivers it
func (op *queuedOp) complete(v protocol.Value) (err error) {
	r, err := valueReply(op.kind, v)
	if err != nil {
		return err
	}
	if op.onSuccess == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panicked: %v", p)
		}
	}()
	return op.onSuccess.deliver(r)
}

func (op *queuedOp) fail(cause error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()
	op.onError(cause)
	return nil
}

// Rollback issues DISCARD. It is a no-op once the transaction has been
// committed or rolled back.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true

	c := tx.conn
	defer func() { c.tx = nil }()

	if c.netConn == nil {
		// the server dropped MULTI state along with the socket
		return nil
	}
	if err := c.send("DISCARD", func(w *protocol.Writer) error {
		return w.WriteInline("DISCARD")
	}); err != nil {
		return err
	}
	return c.read(func(r *protocol.Reader) error {
		_, err := r.ReadStatus()
		return err
	})
}

// Close rolls back a transaction that was never committed
func (tx *Transaction) Close() error {
	return tx.Rollback()
}
