package i2c

import (
	"context"
	"sync"
)

// Engine executes transactions against a primitive Backend. It owns the
// backend exclusively: a mutex serializes transactions, so primitives
// of two transactions never interleave on the wire.
type Engine struct {
	mu sync.Mutex
	b  Backend
}

var _ Bus = (*Engine)(nil)

// New returns an engine driving b. The backend must not be used
// directly while the engine owns it.
func New(b Backend) *Engine {
	return &Engine{b: b}
}

func (e *Engine) Read(ctx context.Context, addr Addr, buf []byte) error {
	return e.Exec(ctx, addr, []Operation{Read(buf)})
}

func (e *Engine) Write(ctx context.Context, addr Addr, p []byte) error {
	return e.Exec(ctx, addr, []Operation{Write(p)})
}

// WriteRead sends w, re-addresses with a repeated start and fills r.
// It is exactly the two-operation transaction {Write(w), Read(r)}.
func (e *Engine) WriteRead(ctx context.Context, addr Addr, w, r []byte) error {
	return e.Exec(ctx, addr, []Operation{Write(w), Read(r)})
}

// Exec runs ops against addr as one transaction. Adjacent operations of
// the same direction are transmitted back-to-back; a repeated start is
// emitted only at direction changes. The first fault aborts the rest
// and is returned as produced by the backend.
func (e *Engine) Exec(ctx context.Context, addr Addr, ops []Operation) error {
	if len(ops) == 0 {
		return ErrNoOperations
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transact(ctx, addr, ops)
}

// transact emits the primitive call sequence for ops: a start for the
// first run of same-direction operations, a repeated start at each
// direction change, sends and receives in between, one stop at the end.
// Only the receive carrying the final byte of a final read withholds
// the acknowledgement. A stop is attempted even after a data fault, but
// not when start or restart failed and not when ctx was cancelled.
func (e *Engine) transact(ctx context.Context, addr Addr, ops []Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := ops[0].dir
	if err := e.b.Start(ctx, dir, addr); err != nil {
		return err
	}
	last := len(ops) - 1
	var opErr error
	for i, op := range ops {
		if op.dir != dir {
			dir = op.dir
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.b.Restart(ctx, dir, addr); err != nil {
				return err
			}
		}
		if op.Len() == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if op.dir == DirRead {
			opErr = e.b.Recv(ctx, op.buf, i == last)
		} else {
			opErr = e.b.Send(ctx, op.buf)
		}
		if opErr != nil {
			break
		}
	}
	return e.finish(ctx, opErr)
}

// finish closes a transaction opened on the backend: it emits the stop
// condition and keeps the first error. Cancellation skips the stop and
// leaves the bus to the caller.
func (e *Engine) finish(ctx context.Context, opErr error) error {
	if err := ctx.Err(); err != nil {
		if opErr != nil {
			return opErr
		}
		return err
	}
	if err := e.b.Stop(ctx); err != nil && opErr == nil {
		return err
	}
	return opErr
}
