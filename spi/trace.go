package spi

import (
	"context"
	"fmt"
	"log/slog"
)

// NewTracedBackend decorates b so that every primitive call is logged
// through logger at debug level, with the error attached when the call
// failed.
func NewTracedBackend(logger *slog.Logger, b Backend) Backend {
	return &tracedBackend{logger: logger, b: b}
}

type tracedBackend struct {
	logger *slog.Logger
	b      Backend
}

func (t *tracedBackend) Assert(ctx context.Context) error {
	err := t.b.Assert(ctx)
	t.log(ctx, "spi select", nil, err)
	return err
}

func (t *tracedBackend) Deassert(ctx context.Context) error {
	err := t.b.Deassert(ctx)
	t.log(ctx, "spi deselect", nil, err)
	return err
}

// Filler forwards the wrapped backend's padding preference so the
// decoration stays invisible to the engine.
func (t *tracedBackend) Filler() byte {
	if f, ok := t.b.(Filler); ok {
		return f.Filler()
	}
	return DefaultFiller
}

func (t *tracedBackend) Exchange(ctx context.Context, out, in []byte) error {
	err := t.b.Exchange(ctx, out, in)
	attrs := []slog.Attr{
		slog.Int("words", len(out)),
		slog.String("mosi", fmt.Sprintf("% X", out)),
		slog.String("miso", fmt.Sprintf("% X", in)),
	}
	t.log(ctx, "spi exchange", attrs, err)
	return err
}

func (t *tracedBackend) log(ctx context.Context, msg string, attrs []slog.Attr, err error) {
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	t.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}
