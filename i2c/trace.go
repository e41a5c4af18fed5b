package i2c

import (
	"context"
	"fmt"
	"log/slog"
)

// TraceOption selects which primitive calls a traced backend logs.
type TraceOption uint8

const (
	// TraceFraming logs start, repeated start and stop conditions.
	TraceFraming TraceOption = 1 << iota
	// TraceData logs payload bytes of send and receive calls.
	TraceData

	TraceAll = TraceFraming | TraceData
)

// NewTracedBackend decorates b so that every selected primitive call is
// logged through logger at debug level, with the error attached when
// the call failed. The tracer adds no behavior of its own.
func NewTracedBackend(logger *slog.Logger, b Backend, opts TraceOption) Backend {
	return &tracedBackend{logger: logger, b: b, opts: opts}
}

type tracedBackend struct {
	logger *slog.Logger
	b      Backend
	opts   TraceOption
}

func (t *tracedBackend) Start(ctx context.Context, dir Direction, addr Addr) error {
	err := t.b.Start(ctx, dir, addr)
	t.frame(ctx, "i2c start", dir, addr, err)
	return err
}

func (t *tracedBackend) Restart(ctx context.Context, dir Direction, addr Addr) error {
	err := t.b.Restart(ctx, dir, addr)
	t.frame(ctx, "i2c repeated start", dir, addr, err)
	return err
}

func (t *tracedBackend) Send(ctx context.Context, p []byte) error {
	err := t.b.Send(ctx, p)
	if t.opts&TraceData != 0 {
		attrs := []slog.Attr{
			slog.Int("len", len(p)),
			slog.String("data", fmt.Sprintf("% X", p)),
		}
		t.log(ctx, "i2c send", attrs, err)
	}
	return err
}

func (t *tracedBackend) Recv(ctx context.Context, buf []byte, lastNoAck bool) error {
	err := t.b.Recv(ctx, buf, lastNoAck)
	if t.opts&TraceData != 0 {
		attrs := []slog.Attr{
			slog.Int("len", len(buf)),
			slog.String("data", fmt.Sprintf("% X", buf)),
			slog.Bool("nak", lastNoAck),
		}
		t.log(ctx, "i2c recv", attrs, err)
	}
	return err
}

func (t *tracedBackend) Stop(ctx context.Context) error {
	err := t.b.Stop(ctx)
	if t.opts&TraceFraming != 0 {
		t.log(ctx, "i2c stop", nil, err)
	}
	return err
}

func (t *tracedBackend) frame(ctx context.Context, msg string, dir Direction, addr Addr, err error) {
	if t.opts&TraceFraming == 0 {
		return
	}
	attrs := []slog.Attr{
		slog.String("dir", dir.String()),
		slog.String("addr", addr.String()),
	}
	t.log(ctx, msg, attrs, err)
}

func (t *tracedBackend) log(ctx context.Context, msg string, attrs []slog.Attr, err error) {
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	t.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}
