package eeprom25_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/devices/eeprom25"
	"github.com/mklimuk/buskit/spi"
	"github.com/mklimuk/buskit/spi/spitest"
)

func TestEEPROM_Read(t *testing.T) {
	conn := spitest.New()
	// Four word-times of instruction and address pass before the data.
	conn.QueueMiso(0, 0, 0, 0, 0xDE, 0xAD, 0xBE)
	ee := eeprom25.New(spi.New(conn), eeprom25.C1024)

	buf := make([]byte, 3)
	require.NoError(t, ee.ReadAt(context.Background(), 0x010203, buf))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE}, buf)
	// Instruction and address clock out first, then filler during the
	// data phase, all under one select.
	assert.Equal(t, []string{"CS+", "X 03 01 02 03", "X FF FF FF", "CS-"}, conn.Calls())
	assert.Equal(t, []byte{0x03, 0x01, 0x02, 0x03, 0xFF, 0xFF, 0xFF}, conn.TxBytes())
}

func TestEEPROM_TwoByteAddressing(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C256)

	require.NoError(t, ee.ReadAt(context.Background(), 0x0102, make([]byte, 1)))
	assert.Equal(t, []string{"CS+", "X 03 01 02", "X FF", "CS-"}, conn.Calls())
}

func TestEEPROM_PageChunkedWrite(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C256, eeprom25.WithPollInterval(0))

	// Page size 64: offset 62 leaves room for two bytes, the rest lands
	// on the next page. The dry queue reads status 0x00, so each poll
	// succeeds at once.
	require.NoError(t, ee.WriteAt(context.Background(), 62, []byte{1, 2, 3, 4}))
	assert.Equal(t, []string{
		"CS+", "X 06", "CS-",
		"CS+", "X 02 00 3E", "X 01 02", "CS-",
		"CS+", "X 05", "X FF", "CS-",
		"CS+", "X 06", "CS-",
		"CS+", "X 02 00 40", "X 03 04", "CS-",
		"CS+", "X 05", "X FF", "CS-",
	}, conn.Calls())
}

func TestEEPROM_WIPPolling(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C256, eeprom25.WithPollInterval(0))

	// Six word-times pass before the first status byte, which reports
	// the write cycle still in progress; the dry queue then reads ready.
	conn.QueueMiso(0, 0, 0, 0, 0, 0, 0x01)

	require.NoError(t, ee.WriteAt(context.Background(), 0, []byte{0xAA}))
	assert.Equal(t, []string{
		"CS+", "X 06", "CS-",
		"CS+", "X 02 00 00", "X AA", "CS-",
		"CS+", "X 05", "X FF", "CS-",
		"CS+", "X 05", "X FF", "CS-",
	}, conn.Calls())
}

func TestEEPROM_EraseAll(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C1024, eeprom25.WithPollInterval(0))

	require.NoError(t, ee.EraseAll(context.Background()))
	assert.Equal(t, []string{
		"CS+", "X 06", "CS-",
		"CS+", "X C7", "CS-",
		"CS+", "X 05", "X FF", "CS-",
	}, conn.Calls())
}

func TestEEPROM_Bounds(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C256)
	ctx := context.Background()

	err := ee.ReadAt(ctx, 32760, make([]byte, 16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read out of range")

	err = ee.WriteAt(ctx, -1, []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write out of range")

	assert.Empty(t, conn.Calls())
}

func TestEEPROM_WriteEnableFault(t *testing.T) {
	conn := spitest.New()
	ee := eeprom25.New(spi.New(conn), eeprom25.C256, eeprom25.WithPollInterval(0))

	conn.FailOn(1, errors.New("select stuck"))

	err := ee.WriteAt(context.Background(), 0, []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write enable failed")
	assert.Contains(t, err.Error(), "select stuck")
}
