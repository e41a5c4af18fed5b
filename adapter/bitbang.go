package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/mklimuk/buskit/i2c"
)

// BitBang is a software bus master over two GPIO lines and implements
// i2c.Backend. Both lines are requested as open-drain outputs with
// pull-ups, so reading them back returns the wire level and a slave
// can stretch the clock or hold SDA without fighting the driver.
//
// Timing comes from sleeping half bit periods, which caps the
// practical rate well under the configured one on a non-realtime
// kernel. A transaction never checks the context in the middle of a
// byte, only between bytes.
type BitBang struct {
	scl     *gpiocdev.Line
	sda     *gpiocdev.Line
	half    time.Duration
	stretch time.Duration
}

var _ i2c.Backend = (*BitBang)(nil)

type BitBangOption func(*BitBang)

// WithBitRate sets the nominal clock in hertz, 100000 by default.
func WithBitRate(hz int) BitBangOption {
	return func(b *BitBang) { b.half = time.Second / time.Duration(2*hz) }
}

// WithStretchTimeout bounds how long a slave may hold the clock low,
// 25ms by default.
func WithStretchTimeout(d time.Duration) BitBangOption {
	return func(b *BitBang) { b.stretch = d }
}

// NewBitBang requests the clock and data lines from a gpiochip, such
// as ("gpiochip0", 3, 2), and leaves the bus idle.
func NewBitBang(chip string, sclPin, sdaPin int, opts ...BitBangOption) (*BitBang, error) {
	scl, err := gpiocdev.RequestLine(chip, sclPin,
		gpiocdev.AsOutput(1), gpiocdev.AsOpenDrain, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("could not request scl line %d: %w", sclPin, err)
	}
	sda, err := gpiocdev.RequestLine(chip, sdaPin,
		gpiocdev.AsOutput(1), gpiocdev.AsOpenDrain, gpiocdev.WithPullUp)
	if err != nil {
		scl.Close()
		return nil, fmt.Errorf("could not request sda line %d: %w", sdaPin, err)
	}
	b := &BitBang{scl: scl, sda: sda, half: 5 * time.Microsecond, stretch: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *BitBang) Start(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.startCond(); err != nil {
		return err
	}
	for _, octet := range addr.WireBytes(dir) {
		acked, err := b.writeByte(octet)
		if err != nil {
			return err
		}
		if !acked {
			// Nobody answered, release the bus before reporting.
			b.stopCond()
			return i2c.NewNackError(i2c.NackAddress, nil)
		}
	}
	return nil
}

func (b *BitBang) Restart(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	// The clock is left low between bytes, so the same release and
	// pull sequence produces a repeated start.
	return b.Start(ctx, dir, addr)
}

func (b *BitBang) Send(ctx context.Context, p []byte) error {
	for _, octet := range p {
		if err := ctx.Err(); err != nil {
			return err
		}
		acked, err := b.writeByte(octet)
		if err != nil {
			return err
		}
		if !acked {
			return i2c.NewNackError(i2c.NackData, nil)
		}
	}
	return nil
}

func (b *BitBang) Recv(ctx context.Context, buf []byte, lastNoAck bool) error {
	for i := range buf {
		if err := ctx.Err(); err != nil {
			return err
		}
		octet, err := b.readByte(lastNoAck && i == len(buf)-1)
		if err != nil {
			return err
		}
		buf[i] = octet
	}
	return nil
}

func (b *BitBang) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.stopCond()
}

// Close releases both lines, leaving them pulled high.
func (b *BitBang) Close() error {
	b.sda.SetValue(1)
	b.scl.SetValue(1)
	err := b.scl.Close()
	if cerr := b.sda.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *BitBang) startCond() error {
	if err := b.sda.SetValue(1); err != nil {
		return fmt.Errorf("could not release sda: %w", err)
	}
	b.wait()
	if err := b.clockHigh(); err != nil {
		return err
	}
	b.wait()
	if err := b.sda.SetValue(0); err != nil {
		return fmt.Errorf("could not pull sda: %w", err)
	}
	b.wait()
	return b.clockLow()
}

func (b *BitBang) stopCond() error {
	if err := b.sda.SetValue(0); err != nil {
		return fmt.Errorf("could not pull sda: %w", err)
	}
	b.wait()
	if err := b.clockHigh(); err != nil {
		return err
	}
	b.wait()
	if err := b.sda.SetValue(1); err != nil {
		return fmt.Errorf("could not release sda: %w", err)
	}
	b.wait()
	return nil
}

func (b *BitBang) writeByte(v byte) (bool, error) {
	for i := 7; i >= 0; i-- {
		if err := b.writeBit(v>>uint(i)&1 == 1); err != nil {
			return false, err
		}
	}
	ack, err := b.readBit()
	if err != nil {
		return false, err
	}
	return !ack, nil
}

func (b *BitBang) readByte(nack bool) (byte, error) {
	var v byte
	for i := 0; i < 8; i++ {
		bit, err := b.readBit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v, b.writeBit(nack)
}

func (b *BitBang) writeBit(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := b.sda.SetValue(v); err != nil {
		return fmt.Errorf("could not drive sda: %w", err)
	}
	b.wait()
	if err := b.clockHigh(); err != nil {
		return err
	}
	if high {
		// Releasing the line and reading it low means another master
		// is driving the bus.
		wire, err := b.sda.Value()
		if err != nil {
			return fmt.Errorf("could not read sda: %w", err)
		}
		if wire == 0 {
			return i2c.NewError(i2c.KindArbitrationLost, nil)
		}
	}
	b.wait()
	return b.clockLow()
}

func (b *BitBang) readBit() (bool, error) {
	if err := b.sda.SetValue(1); err != nil {
		return false, fmt.Errorf("could not release sda: %w", err)
	}
	b.wait()
	if err := b.clockHigh(); err != nil {
		return false, err
	}
	wire, err := b.sda.Value()
	if err != nil {
		return false, fmt.Errorf("could not read sda: %w", err)
	}
	b.wait()
	if err = b.clockLow(); err != nil {
		return false, err
	}
	return wire != 0, nil
}

// clockHigh releases SCL and waits out any clock stretching.
func (b *BitBang) clockHigh() error {
	if err := b.scl.SetValue(1); err != nil {
		return fmt.Errorf("could not release scl: %w", err)
	}
	deadline := time.Now().Add(b.stretch)
	for {
		wire, err := b.scl.Value()
		if err != nil {
			return fmt.Errorf("could not read scl: %w", err)
		}
		if wire != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return i2c.NewError(i2c.KindBus, fmt.Errorf("clock stretched beyond %s", b.stretch))
		}
		time.Sleep(time.Microsecond)
	}
}

func (b *BitBang) clockLow() error {
	if err := b.scl.SetValue(0); err != nil {
		return fmt.Errorf("could not pull scl: %w", err)
	}
	return nil
}

func (b *BitBang) wait() {
	time.Sleep(b.half)
}
