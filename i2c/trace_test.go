package i2c_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/i2c"
	"github.com/mklimuk/buskit/i2c/i2ctest"
)

type recordSink struct {
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.records = append(s.records, r.Clone())
	return nil
}

func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }

func (s *recordSink) WithGroup(string) slog.Handler { return s }

func (s *recordSink) messages() []string {
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Message
	}
	return out
}

func TestTracedBackend_LogsPrimitives(t *testing.T) {
	addr := i2c.Addr7(0x50)
	bus := i2ctest.NewBus()
	bus.AddDevice(addr, make([]byte, 16))

	sink := &recordSink{}
	eng := i2c.New(i2c.NewTracedBackend(slog.New(sink), bus, i2c.TraceAll))

	require.NoError(t, eng.WriteRead(context.Background(), addr, []byte{0x01}, make([]byte, 2)))

	assert.Equal(t, []string{
		"i2c start",
		"i2c send",
		"i2c repeated start",
		"i2c recv",
		"i2c stop",
	}, sink.messages())
	for _, r := range sink.records {
		assert.Equal(t, slog.LevelDebug, r.Level)
	}
}

func TestTracedBackend_FramingOnly(t *testing.T) {
	addr := i2c.Addr7(0x50)
	bus := i2ctest.NewBus()
	bus.AddDevice(addr, make([]byte, 16))

	sink := &recordSink{}
	eng := i2c.New(i2c.NewTracedBackend(slog.New(sink), bus, i2c.TraceFraming))

	require.NoError(t, eng.WriteRead(context.Background(), addr, []byte{0x01}, make([]byte, 2)))

	assert.Equal(t, []string{"i2c start", "i2c repeated start", "i2c stop"}, sink.messages())
}

func TestTracedBackend_KeepsErrors(t *testing.T) {
	bus := i2ctest.NewBus()
	sink := &recordSink{}
	eng := i2c.New(i2c.NewTracedBackend(slog.New(sink), bus, i2c.TraceAll))

	err := eng.Write(context.Background(), i2c.Addr7(0x77), []byte{0x00})
	assert.Equal(t, i2c.KindNoAck, i2c.KindOf(err), "tracer must pass the fault through")
	assert.Equal(t, []string{"i2c start"}, sink.messages())
}
