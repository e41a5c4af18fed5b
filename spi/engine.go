package spi

import (
	"context"
	"sync"
)

// transferChunk is the scratch size for padded word-times.
const transferChunk = 64

// Engine executes transactions against a primitive Backend. It owns the
// backend exclusively: a mutex serializes transactions, so the select
// line of two transactions never overlaps.
type Engine struct {
	mu   sync.Mutex
	b    Backend
	fill byte
}

var _ Bus = (*Engine)(nil)

// New returns an engine driving b. The filler byte is taken from b when
// it implements Filler.
func New(b Backend) *Engine {
	fill := byte(DefaultFiller)
	if f, ok := b.(Filler); ok {
		fill = f.Filler()
	}
	return &Engine{b: b, fill: fill}
}

func (e *Engine) Read(ctx context.Context, buf []byte) error {
	return e.Exec(ctx, []Operation{Read(buf)})
}

func (e *Engine) Write(ctx context.Context, p []byte) error {
	return e.Exec(ctx, []Operation{Write(p)})
}

func (e *Engine) Transfer(ctx context.Context, rd, wr []byte) error {
	return e.Exec(ctx, []Operation{Transfer(rd, wr)})
}

// Exec runs ops as one transaction: chip-select asserted once before
// the first operation and deasserted once after the last. The first
// fault aborts the rest and is returned as produced by the backend;
// deassert is still attempted unless assert itself failed or ctx was
// cancelled.
func (e *Engine) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		return ErrNoOperations
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.b.Assert(ctx); err != nil {
		return err
	}
	var opErr error
	for _, op := range ops {
		if opErr = e.exchange(ctx, op); opErr != nil {
			break
		}
	}
	return e.finish(ctx, opErr)
}

// finish deasserts the select line and keeps the first error.
// Cancellation skips the deassert and leaves the bus to the caller.
func (e *Engine) finish(ctx context.Context, opErr error) error {
	if err := ctx.Err(); err != nil {
		if opErr != nil {
			return opErr
		}
		return err
	}
	if err := e.b.Deassert(ctx); err != nil && opErr == nil {
		return err
	}
	return opErr
}

// exchange clocks one operation for max(len(in), len(out)) word-times.
// The overlapping part moves caller bytes directly; a longer write
// discards incoming words into scratch, a longer read clocks out the
// filler byte.
func (e *Engine) exchange(ctx context.Context, op Operation) error {
	rd, wr := op.rd, op.wr
	if n := min(len(rd), len(wr)); n > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.b.Exchange(ctx, wr[:n], rd[:n]); err != nil {
			return err
		}
		rd, wr = rd[n:], wr[n:]
	}
	var scratch [transferChunk]byte
	for len(wr) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(wr), len(scratch))
		if err := e.b.Exchange(ctx, wr[:n], scratch[:n]); err != nil {
			return err
		}
		wr = wr[n:]
	}
	if len(rd) > 0 {
		for i := range scratch {
			scratch[i] = e.fill
		}
	}
	for len(rd) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(rd), len(scratch))
		if err := e.b.Exchange(ctx, scratch[:n], rd[:n]); err != nil {
			return err
		}
		rd = rd[n:]
	}
	return nil
}
