package smbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/i2c"
	"github.com/mklimuk/buskit/i2c/i2ctest"
	"github.com/mklimuk/buskit/smbus"
)

const devAddr = 0x48

func connOnBus(mem []byte, opts ...smbus.Option) (*smbus.Conn, *i2ctest.Bus) {
	bus := i2ctest.NewBus()
	bus.AddDevice(i2c.Addr7(devAddr), mem)
	return smbus.New(i2c.New(bus), i2c.Addr7(devAddr), opts...), bus
}

func TestConn_Quick(t *testing.T) {
	conn, bus := connOnBus(nil)
	require.NoError(t, conn.Quick(context.Background()))
	assert.Equal(t, []string{"ST W@0x48", "SP"}, bus.Calls())

	absent := smbus.New(i2c.New(bus), i2c.Addr7(0x21))
	err := absent.Quick(context.Background())
	require.Error(t, err)
	assert.Equal(t, i2c.KindNoAck, i2c.KindOf(err))
}

func TestConn_ByteAndWord(t *testing.T) {
	mem := make([]byte, 256)
	mem[0x10] = 0x2A
	mem[0x20] = 0x34
	mem[0x21] = 0x12
	conn, bus := connOnBus(mem)
	ctx := context.Background()

	v, err := conn.ReadByteData(ctx, 0x10)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2A), v)
	assert.Equal(t, []string{"ST W@0x48", "W 10", "SR R@0x48", "R 1 nak", "SP"}, bus.Calls())

	bus.Reset()
	w, err := conn.ReadWordData(ctx, 0x20)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), w)
	assert.Equal(t, []string{"ST W@0x48", "W 20", "SR R@0x48", "R 2 nak", "SP"}, bus.Calls())

	bus.Reset()
	require.NoError(t, conn.WriteByteData(ctx, 0x30, 0x55))
	assert.Equal(t, byte(0x55), mem[0x30])
	assert.Equal(t, []string{"ST W@0x48", "W 30 55", "SP"}, bus.Calls())

	bus.Reset()
	require.NoError(t, conn.WriteWordData(ctx, 0x32, 0xBEEF))
	assert.Equal(t, byte(0xEF), mem[0x32])
	assert.Equal(t, byte(0xBE), mem[0x33])
	assert.Equal(t, []string{"ST W@0x48", "W 32 EF BE", "SP"}, bus.Calls())
}

func TestConn_SendReceiveByte(t *testing.T) {
	mem := make([]byte, 4)
	mem[0] = 0x77
	conn, bus := connOnBus(mem)
	ctx := context.Background()

	v, err := conn.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x77), v)
	assert.Equal(t, []string{"ST R@0x48", "R 1 nak", "SP"}, bus.Calls())

	bus.Reset()
	require.NoError(t, conn.WriteByte(ctx, 0x02))
	assert.Equal(t, []string{"ST W@0x48", "W 02", "SP"}, bus.Calls())
}

func TestConn_WritePEC(t *testing.T) {
	mem := make([]byte, 256)
	conn, bus := connOnBus(mem, smbus.WithPEC())

	require.NoError(t, conn.WriteByteData(context.Background(), 0x10, 0x2A))
	// CRC-8 over 90 10 2A.
	assert.Equal(t, []string{"ST W@0x48", "W 10 2A 28", "SP"}, bus.Calls())
}

func TestConn_ReadPEC(t *testing.T) {
	mem := make([]byte, 256)
	mem[0x10] = 0x2A
	mem[0x11] = 0xD6 // CRC-8 over 90 10 91 2A
	conn, _ := connOnBus(mem, smbus.WithPEC())
	ctx := context.Background()

	v, err := conn.ReadByteData(ctx, 0x10)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2A), v)

	mem[0x11] = 0x00
	_, err = conn.ReadByteData(ctx, 0x10)
	assert.ErrorIs(t, err, smbus.ErrPECMismatch)
}

func TestConn_BlockData(t *testing.T) {
	mem := make([]byte, 256)
	mem[0x40] = 3
	copy(mem[0x41:], []byte{0xAA, 0xBB, 0xCC})
	conn, bus := connOnBus(mem)
	ctx := context.Background()

	buf := make([]byte, 3)
	require.NoError(t, conn.ReadBlockData(ctx, 0x40, buf))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, buf)
	assert.Equal(t, []string{"ST W@0x48", "W 40", "SR R@0x48", "R 4 nak", "SP"}, bus.Calls())

	err := conn.ReadBlockData(ctx, 0x40, make([]byte, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block count")

	bus.Reset()
	require.NoError(t, conn.WriteBlockData(ctx, 0x60, []byte{1, 2, 3}))
	assert.Equal(t, []string{"ST W@0x48", "W 60 03 01 02 03", "SP"}, bus.Calls())
	assert.Equal(t, byte(3), mem[0x60])
	assert.Equal(t, []byte{1, 2, 3}, mem[0x61:0x64])

	assert.ErrorIs(t, conn.WriteBlockData(ctx, 0x60, make([]byte, 33)), smbus.ErrBlockTooLarge)
	assert.ErrorIs(t, conn.ReadBlockData(ctx, 0x60, make([]byte, 33)), smbus.ErrBlockTooLarge)
}

func TestConn_ProcessCall(t *testing.T) {
	mem := make([]byte, 256)
	mem[0x52] = 0x78
	mem[0x53] = 0x56
	conn, bus := connOnBus(mem)

	// The register file stores the written word at 0x50 and serves the
	// response from the following cells.
	v, err := conn.ProcessCall(context.Background(), 0x50, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x5678), v)
	assert.Equal(t, byte(0x34), mem[0x50])
	assert.Equal(t, byte(0x12), mem[0x51])
	assert.Equal(t, []string{"ST W@0x48", "W 50 34 12", "SR R@0x48", "R 2 nak", "SP"}, bus.Calls())
}
