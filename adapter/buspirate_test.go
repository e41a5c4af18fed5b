package adapter

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/mklimuk/buskit/i2c"
)

const (
	simConsole = iota
	simBBIO
	simI2C
)

// pirateSim plays the Bus Pirate on the far end of the port. It
// decodes the binary protocol and journals bus activity: "[" and "]"
// for start and stop conditions, "w .." for clocked-out bytes, "r .."
// for clocked-in bytes, "a"/"n" for the master's acknowledge bit.
type pirateSim struct {
	mode   int
	rsp    bytes.Buffer
	log    []string
	nackOn map[byte]bool
	reads  []byte
	bulk   []byte
	want   int
	closed bool
}

func newPirateSim() *pirateSim {
	return &pirateSim{nackOn: map[byte]bool{}}
}

func (p *pirateSim) feed(c byte) {
	if p.want > 0 {
		p.bulk = append(p.bulk, c)
		if p.nackOn[c] {
			p.rsp.WriteByte(0x01)
		} else {
			p.rsp.WriteByte(0x00)
		}
		p.want--
		if p.want == 0 {
			p.log = append(p.log, fmt.Sprintf("w % X", p.bulk))
			p.bulk = nil
		}
		return
	}
	switch p.mode {
	case simConsole:
		if c == 0x00 {
			p.mode = simBBIO
			p.rsp.WriteString(bpBinaryBanner)
		}
	case simBBIO:
		switch c {
		case 0x02:
			p.mode = simI2C
			p.rsp.WriteString(bpI2CBanner)
		case 0x0F:
			p.mode = simConsole
			p.log = append(p.log, "reset")
			p.rsp.WriteByte(0x01)
		case 0x00:
			p.rsp.WriteString(bpBinaryBanner)
		}
	case simI2C:
		switch {
		case c == 0x00:
			p.mode = simBBIO
			p.rsp.WriteString(bpBinaryBanner)
		case c == bpStart:
			p.log = append(p.log, "[")
			p.rsp.WriteByte(0x01)
		case c == bpStop:
			p.log = append(p.log, "]")
			p.rsp.WriteByte(0x01)
		case c == bpReadByte:
			b := byte(0xFF)
			if len(p.reads) > 0 {
				b = p.reads[0]
				p.reads = p.reads[1:]
			}
			p.log = append(p.log, fmt.Sprintf("r %02X", b))
			p.rsp.WriteByte(b)
		case c == bpAck:
			p.log = append(p.log, "a")
			p.rsp.WriteByte(0x01)
		case c == bpNack:
			p.log = append(p.log, "n")
			p.rsp.WriteByte(0x01)
		case c&0xF0 == bpBulkWrite:
			p.want = int(c&0x0F) + 1
			p.rsp.WriteByte(0x01)
		case c >= bpSetSpeed && c <= bpSetSpeed|0x07:
			p.log = append(p.log, fmt.Sprintf("speed %d", c&0x07))
			p.rsp.WriteByte(0x01)
		case c&0xF0 == bpConfigPeriph:
			p.log = append(p.log, fmt.Sprintf("periph %02X", c&0x0F))
			p.rsp.WriteByte(0x01)
		}
	}
}

func (p *pirateSim) Read(b []byte) (int, error) {
	if p.rsp.Len() == 0 {
		return 0, nil
	}
	return p.rsp.Read(b)
}

func (p *pirateSim) Write(b []byte) (int, error) {
	for _, c := range b {
		p.feed(c)
	}
	return len(b), nil
}

func (p *pirateSim) SetMode(*serial.Mode) error         { return nil }
func (p *pirateSim) Drain() error                       { return nil }
func (p *pirateSim) ResetInputBuffer() error            { p.rsp.Reset(); return nil }
func (p *pirateSim) ResetOutputBuffer() error           { return nil }
func (p *pirateSim) SetDTR(bool) error                  { return nil }
func (p *pirateSim) SetRTS(bool) error                  { return nil }
func (p *pirateSim) SetReadTimeout(time.Duration) error { return nil }
func (p *pirateSim) Break(time.Duration) error          { return nil }
func (p *pirateSim) Close() error                       { p.closed = true; return nil }

func (p *pirateSim) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func busPirateOnSim(t *testing.T, sim *pirateSim) *BusPirate {
	t.Helper()
	bp, err := NewBusPirate(sim)
	require.NoError(t, err)
	sim.log = nil
	return bp
}

func TestBusPirate_ModeNegotiation(t *testing.T) {
	sim := newPirateSim()
	_, err := NewBusPirate(sim, WithBusPirateSpeed(BusPirate400kHz), WithBusPiratePower())
	require.NoError(t, err)
	assert.Equal(t, simI2C, sim.mode)
	assert.Equal(t, []string{"speed 3", "periph 0C"}, sim.log)
}

func TestBusPirate_EngineTranscript(t *testing.T) {
	sim := newPirateSim()
	eng := i2c.New(busPirateOnSim(t, sim))
	sim.reads = []byte{0xCA, 0xFE}

	buf := make([]byte, 2)
	err := eng.WriteRead(context.Background(), i2c.Addr7(0x52), []byte{0x01, 0x02}, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE}, buf)
	assert.Equal(t, []string{
		"[", "w A4", "w 01 02",
		"[", "w A5", "r CA", "a", "r FE", "n",
		"]",
	}, sim.log)
}

func TestBusPirate_TenBitTranscript(t *testing.T) {
	sim := newPirateSim()
	eng := i2c.New(busPirateOnSim(t, sim))
	sim.reads = []byte{0xAB}

	buf := make([]byte, 1)
	err := eng.Read(context.Background(), i2c.Addr10(0x158), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB}, buf)
	assert.Equal(t, []string{"[", "w F3 58", "r AB", "n", "]"}, sim.log)
}

func TestBusPirate_AddressNack(t *testing.T) {
	sim := newPirateSim()
	eng := i2c.New(busPirateOnSim(t, sim))
	sim.nackOn[0xA4] = true

	err := eng.Write(context.Background(), i2c.Addr7(0x52), []byte{0x11})
	require.Error(t, err)
	assert.Equal(t, i2c.KindNoAck, i2c.KindOf(err))
	assert.Equal(t, i2c.NackAddress, i2c.NackSourceOf(err))
	// The adapter releases the bus itself, the engine does not stop
	// after a failed start.
	assert.Equal(t, []string{"[", "w A4", "]"}, sim.log)
}

func TestBusPirate_DataNack(t *testing.T) {
	sim := newPirateSim()
	eng := i2c.New(busPirateOnSim(t, sim))
	sim.nackOn[0x99] = true

	err := eng.Write(context.Background(), i2c.Addr7(0x52), []byte{0x11, 0x99})
	require.Error(t, err)
	assert.Equal(t, i2c.KindNoAck, i2c.KindOf(err))
	assert.Equal(t, i2c.NackData, i2c.NackSourceOf(err))
	assert.Equal(t, []string{"[", "w A4", "w 11 99", "]"}, sim.log)
}

func TestBusPirate_WriteChunking(t *testing.T) {
	sim := newPirateSim()
	eng := i2c.New(busPirateOnSim(t, sim))

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	err := eng.Write(context.Background(), i2c.Addr7(0x52), payload)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[", "w A4",
		fmt.Sprintf("w % X", payload[:16]),
		fmt.Sprintf("w % X", payload[16:]),
		"]",
	}, sim.log)
}

func TestBusPirate_SilentPort(t *testing.T) {
	sim := newPirateSim()
	sim.mode = -1 // never answers
	_, err := NewBusPirate(sim)
	require.Error(t, err)
	assert.Equal(t, i2c.KindBus, i2c.KindOf(err))
	assert.Contains(t, err.Error(), "binary mode")
}

func TestBusPirate_Close(t *testing.T) {
	sim := newPirateSim()
	bp := busPirateOnSim(t, sim)

	require.NoError(t, bp.Close())
	assert.True(t, sim.closed)
	assert.Equal(t, simConsole, sim.mode)
	assert.Equal(t, []string{"reset"}, sim.log)
}
