package i2c

import (
	"context"
	"iter"
)

// writeChunk is the scratch size for iterator-fed writes.
const writeChunk = 64

// WriteSeq streams seq to addr as one write transaction. Bytes go out
// in bounded chunks with no framing in between, so a sequence of
// unknown length never needs a full-size buffer.
func (e *Engine) WriteSeq(ctx context.Context, addr Addr, seq iter.Seq[byte]) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.b.Start(ctx, DirWrite, addr); err != nil {
		return err
	}
	return e.finish(ctx, e.sendSeq(ctx, seq))
}

// WriteSeqRead streams seq to addr, then re-addresses with a repeated
// start and fills buf.
func (e *Engine) WriteSeqRead(ctx context.Context, addr Addr, seq iter.Seq[byte], buf []byte) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.b.Start(ctx, DirWrite, addr); err != nil {
		return err
	}
	if opErr := e.sendSeq(ctx, seq); opErr != nil {
		return e.finish(ctx, opErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.b.Restart(ctx, DirRead, addr); err != nil {
		return err
	}
	var opErr error
	if len(buf) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		opErr = e.b.Recv(ctx, buf, true)
	}
	return e.finish(ctx, opErr)
}

func (e *Engine) sendSeq(ctx context.Context, seq iter.Seq[byte]) error {
	var chunk [writeChunk]byte
	n := 0
	for b := range seq {
		chunk[n] = b
		n++
		if n < len(chunk) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.b.Send(ctx, chunk[:n]); err != nil {
			return err
		}
		n = 0
	}
	if n == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.b.Send(ctx, chunk[:n])
}
