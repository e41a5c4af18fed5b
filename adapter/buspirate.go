package adapter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/mklimuk/buskit/i2c"
)

// Bus Pirate binary protocol bytes. The device answers every command
// with bpOK except reads, which return the data byte itself.
const (
	bpEnterBinary   = 0x00
	bpReset         = 0x0F
	bpEnterI2C      = 0x02
	bpStart         = 0x02
	bpStop          = 0x03
	bpReadByte      = 0x04
	bpAck           = 0x06
	bpNack          = 0x07
	bpBulkWrite     = 0x10
	bpConfigPeriph  = 0x40
	bpSetSpeed      = 0x60
	bpOK            = 0x01
	bpBulkWriteMax  = 16
	bpPeriphPower   = 0x08
	bpPeriphPullups = 0x04
)

// Bus Pirate bit rates accepted by WithBusPirateSpeed.
const (
	BusPirate5kHz   = 0
	BusPirate50kHz  = 1
	BusPirate100kHz = 2
	BusPirate400kHz = 3
)

const (
	bpBinaryBanner = "BBIO1"
	bpI2CBanner    = "I2C1"
)

// BusPirate exposes the raw start/stop/byte primitives of a Bus Pirate
// probe in binary I2C mode and implements i2c.Backend, so the engine
// does the transaction framing and the probe just clocks conditions
// and bytes. Slave acknowledge is reported per byte, which lets the
// adapter tell an unacknowledged address from unacknowledged data.
type BusPirate struct {
	port    serial.Port
	timeout time.Duration
	speed   byte
	power   bool
}

var _ i2c.Backend = (*BusPirate)(nil)

type BusPirateOption func(*BusPirate)

// WithBusPirateSpeed selects the bus clock, BusPirate100kHz by default.
func WithBusPirateSpeed(speed byte) BusPirateOption {
	return func(b *BusPirate) { b.speed = speed }
}

// WithBusPiratePower turns on the probe's 3.3V/5V supply outputs.
func WithBusPiratePower() BusPirateOption {
	return func(b *BusPirate) { b.power = true }
}

// WithBusPirateTimeout bounds how long to wait for each response.
func WithBusPirateTimeout(d time.Duration) BusPirateOption {
	return func(b *BusPirate) { b.timeout = d }
}

// OpenBusPirate opens the serial device, such as "/dev/ttyUSB0", and
// switches the probe into binary I2C mode.
func OpenBusPirate(dev string, opts ...BusPirateOption) (*BusPirate, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("could not open serial port: %w", err)
	}
	bp, err := NewBusPirate(port, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return bp, nil
}

// NewBusPirate takes over an already opened port and switches the
// probe into binary I2C mode.
func NewBusPirate(port serial.Port, opts ...BusPirateOption) (*BusPirate, error) {
	bp := &BusPirate{port: port, timeout: 500 * time.Millisecond, speed: BusPirate100kHz}
	for _, opt := range opts {
		opt(bp)
	}
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("could not set read timeout: %w", err)
	}
	if err := bp.enterI2CMode(); err != nil {
		return nil, err
	}
	return bp, nil
}

func (b *BusPirate) enterI2CMode() error {
	ctx := context.Background()
	b.port.ResetInputBuffer()
	// The console needs up to twenty zero bytes before it drops into
	// binary mode and prints the banner. Reads are short-timeout, so a
	// silent attempt just falls through to the next zero byte.
	var seen []byte
	tmp := make([]byte, 16)
	var entered bool
	for i := 0; i < 20 && !entered; i++ {
		if _, err := b.port.Write([]byte{bpEnterBinary}); err != nil {
			return fmt.Errorf("could not write to serial port: %w", err)
		}
		n, err := b.port.Read(tmp)
		if err != nil {
			return fmt.Errorf("could not read from serial port: %w", err)
		}
		seen = append(seen, tmp[:n]...)
		entered = bytes.HasSuffix(seen, []byte(bpBinaryBanner))
	}
	if !entered {
		return i2c.NewError(i2c.KindBus, fmt.Errorf("bus pirate did not enter binary mode"))
	}
	b.port.ResetInputBuffer()
	if _, err := b.port.Write([]byte{bpEnterI2C}); err != nil {
		return fmt.Errorf("could not write to serial port: %w", err)
	}
	banner := make([]byte, len(bpI2CBanner))
	if err := b.readFull(ctx, banner); err != nil || !bytes.Equal(banner, []byte(bpI2CBanner)) {
		return i2c.NewError(i2c.KindBus, fmt.Errorf("bus pirate did not enter i2c mode"))
	}
	if err := b.command(ctx, bpSetSpeed|b.speed); err != nil {
		return fmt.Errorf("could not set bus speed: %w", err)
	}
	periph := byte(bpConfigPeriph | bpPeriphPullups)
	if b.power {
		periph |= bpPeriphPower
	}
	if err := b.command(ctx, periph); err != nil {
		return fmt.Errorf("could not configure peripherals: %w", err)
	}
	return nil
}

func (b *BusPirate) Start(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	if err := b.command(ctx, bpStart); err != nil {
		return err
	}
	return b.sendAddr(ctx, dir, addr)
}

func (b *BusPirate) Restart(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	// A repeated start is a start condition without a preceding stop.
	return b.Start(ctx, dir, addr)
}

func (b *BusPirate) sendAddr(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	acked, err := b.bulkWrite(ctx, addr.WireBytes(dir))
	if err != nil {
		return err
	}
	if !acked {
		// Nobody answered, release the bus before reporting.
		b.command(ctx, bpStop)
		return i2c.NewNackError(i2c.NackAddress, nil)
	}
	return nil
}

func (b *BusPirate) Send(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		chunk := p
		if len(chunk) > bpBulkWriteMax {
			chunk = chunk[:bpBulkWriteMax]
		}
		acked, err := b.bulkWrite(ctx, chunk)
		if err != nil {
			return err
		}
		if !acked {
			return i2c.NewNackError(i2c.NackData, nil)
		}
		p = p[len(chunk):]
	}
	return nil
}

// bulkWrite clocks out up to sixteen bytes and reports whether the
// slave acknowledged all of them.
func (b *BusPirate) bulkWrite(ctx context.Context, p []byte) (bool, error) {
	if _, err := b.port.Write(append([]byte{bpBulkWrite | byte(len(p)-1)}, p...)); err != nil {
		return false, fmt.Errorf("could not write to serial port: %w", err)
	}
	rsp := make([]byte, 1+len(p))
	if err := b.readFull(ctx, rsp); err != nil {
		return false, err
	}
	if rsp[0] != bpOK {
		return false, i2c.NewError(i2c.KindBus, fmt.Errorf("bulk write rejected: 0x%02X", rsp[0]))
	}
	for _, ack := range rsp[1:] {
		if ack != 0x00 {
			return false, nil
		}
	}
	return true, nil
}

func (b *BusPirate) Recv(ctx context.Context, buf []byte, lastNoAck bool) error {
	for i := range buf {
		if _, err := b.port.Write([]byte{bpReadByte}); err != nil {
			return fmt.Errorf("could not write to serial port: %w", err)
		}
		if err := b.readFull(ctx, buf[i:i+1]); err != nil {
			return err
		}
		ack := byte(bpAck)
		if lastNoAck && i == len(buf)-1 {
			ack = bpNack
		}
		if err := b.command(ctx, ack); err != nil {
			return err
		}
	}
	return nil
}

func (b *BusPirate) Stop(ctx context.Context) error {
	return b.command(ctx, bpStop)
}

// Close drops the probe back to the console through a hardware reset
// and closes the port.
func (b *BusPirate) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	banner := make([]byte, len(bpBinaryBanner))
	if _, err := b.port.Write([]byte{bpEnterBinary}); err == nil {
		b.readFull(ctx, banner)
		if _, err = b.port.Write([]byte{bpReset}); err == nil {
			b.readFull(ctx, banner[:1])
		}
	}
	return b.port.Close()
}

// command sends a single byte and checks the bpOK response.
func (b *BusPirate) command(ctx context.Context, cmd byte) error {
	if _, err := b.port.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("could not write to serial port: %w", err)
	}
	rsp := make([]byte, 1)
	if err := b.readFull(ctx, rsp); err != nil {
		return err
	}
	if rsp[0] != bpOK {
		return i2c.NewError(i2c.KindBus, fmt.Errorf("command 0x%02X rejected: 0x%02X", cmd, rsp[0]))
	}
	return nil
}

// readFull accumulates short serial reads until buf is filled, the
// context is cancelled or the response timeout elapses.
func (b *BusPirate) readFull(ctx context.Context, buf []byte) error {
	deadline := time.Now().Add(b.timeout)
	for got := 0; got < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return i2c.NewError(i2c.KindBus, fmt.Errorf("no response from bus pirate"))
		}
		n, err := b.port.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("could not read from serial port: %w", err)
		}
		got += n
	}
	return nil
}
