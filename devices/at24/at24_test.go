package at24_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/devices/at24"
	"github.com/mklimuk/buskit/i2c"
	"github.com/mklimuk/buskit/i2c/i2ctest"
)

var eepromAddr = i2c.Addr7(0x50)

func TestEEPROM_ReadSequence(t *testing.T) {
	bus := i2ctest.NewBus()
	mem := make([]byte, 256)
	copy(mem[3:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	bus.AddDevice(eepromAddr, mem)
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02)

	buf := make([]byte, 4)
	require.NoError(t, ee.ReadAt(context.Background(), 3, buf))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf)
	assert.Equal(t, []string{"ST W@0x50", "W 03", "SR R@0x50", "R 4 nak", "SP"}, bus.Calls())
}

func TestEEPROM_PageChunkedWrite(t *testing.T) {
	bus := i2ctest.NewBus()
	mem := make([]byte, 256)
	bus.AddDevice(eepromAddr, mem)
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02, at24.WithPollInterval(0))

	require.NoError(t, ee.WriteAt(context.Background(), 6, []byte{1, 2, 3, 4, 5}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, mem[6:11])
	// Two page writes, each followed by one acknowledge probe.
	assert.Equal(t, []string{
		"ST W@0x50", "W 06 01 02", "SP",
		"ST W@0x50", "SP",
		"ST W@0x50", "W 08 03 04 05", "SP",
		"ST W@0x50", "SP",
	}, bus.Calls())
}

func TestEEPROM_TwoByteAddressing(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.AddDevice(eepromAddr, make([]byte, 256))
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C32, at24.WithPollInterval(0))
	ctx := context.Background()

	require.NoError(t, ee.WriteAt(ctx, 0x0102, []byte{0xAB}))
	assert.Equal(t, []string{
		"ST W@0x50", "W 01 02 AB", "SP",
		"ST W@0x50", "SP",
	}, bus.Calls())

	bus.Reset()
	require.NoError(t, ee.ReadAt(ctx, 0x0102, make([]byte, 1)))
	assert.Equal(t, []string{"ST W@0x50", "W 01 02", "SR R@0x50", "R 1 nak", "SP"}, bus.Calls())
}

func TestEEPROM_AckPolling(t *testing.T) {
	bus := i2ctest.NewBus()
	mem := make([]byte, 256)
	bus.AddDevice(eepromAddr, mem)
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02, at24.WithPollInterval(0))

	// The first probe after the page write sees the device still busy.
	bus.FailOn(4, i2c.NewNackError(i2c.NackAddress, nil))

	require.NoError(t, ee.WriteAt(context.Background(), 0, []byte{0xAA, 0xBB}))
	assert.Equal(t, []byte{0xAA, 0xBB}, mem[:2])
	assert.Equal(t, []string{
		"ST W@0x50", "W 00 AA BB", "SP",
		"ST W@0x50 !no acknowledge (address)",
		"ST W@0x50", "SP",
	}, bus.Calls())
}

func TestEEPROM_Bounds(t *testing.T) {
	bus := i2ctest.NewBus()
	bus.AddDevice(eepromAddr, make([]byte, 256))
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02)
	ctx := context.Background()

	err := ee.ReadAt(ctx, 250, make([]byte, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read out of range")

	err = ee.WriteAt(ctx, -1, []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write out of range")

	assert.Empty(t, bus.Calls())
}

func TestFile_ReadWriteSeek(t *testing.T) {
	bus := i2ctest.NewBus()
	mem := make([]byte, 256)
	bus.AddDevice(eepromAddr, mem)
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02, at24.WithPollInterval(0))
	f := ee.File(context.Background())

	n, err := f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, mem[:3])

	pos, err := f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	buf := make([]byte, 3)
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, buf)

	pos, err = f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(254), pos)

	n, err = f.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	_, err = f.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestFile_ShortWrite(t *testing.T) {
	bus := i2ctest.NewBus()
	mem := make([]byte, 256)
	bus.AddDevice(eepromAddr, mem)
	ee := at24.New(i2c.New(bus), eepromAddr, at24.C02, at24.WithPollInterval(0))
	f := ee.File(context.Background())

	_, err := f.Seek(254, io.SeekStart)
	require.NoError(t, err)

	n, err := f.Write([]byte{1, 2, 3, 4})
	assert.Equal(t, 2, n)
	assert.Equal(t, io.ErrShortWrite, err)
	assert.Equal(t, []byte{1, 2}, mem[254:])
}
