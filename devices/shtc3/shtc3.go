// Package shtc3 drives the Sensirion SHTC3 temperature and humidity
// sensor. The part sleeps between measurements, every reading wakes
// it, triggers a conversion in normal power mode without clock
// stretching and puts it back to sleep.
package shtc3

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/buskit/i2c"
)

// DefaultAddr is the part's fixed 7-bit address.
var DefaultAddr = i2c.Addr7(0x70)

// Commands, big endian on the wire.
const (
	cmdWake   uint16 = 0x3517
	cmdSleep  uint16 = 0xB098
	cmdReadID uint16 = 0xEFC8
	// Normal power, clock stretching disabled, temperature first.
	cmdMeasure uint16 = 0x7866
)

// Sensirion CRC-8: polynomial 0x31, init 0xFF, one checksum per word.
var crcTable = crc8.MakeTable(crc8.Params{Poly: 0x31, Init: 0xFF, Check: 0xF7, Name: "CRC-8/SENSIRION"})

// Measurement is one converted reading.
type Measurement struct {
	Temperature float32 // degrees Celsius
	Humidity    float32 // percent relative humidity
}

type SHTC3 struct {
	bus          i2c.Bus
	addr         i2c.Addr
	wakeDelay    time.Duration
	measureDelay time.Duration
}

type Option func(*SHTC3)

// WithWakeDelay overrides the post-wake settle time, 1ms by default.
func WithWakeDelay(d time.Duration) Option {
	return func(s *SHTC3) { s.wakeDelay = d }
}

// WithMeasureDelay overrides the conversion wait, 15ms by default
// which covers the 12.1ms normal mode worst case.
func WithMeasureDelay(d time.Duration) Option {
	return func(s *SHTC3) { s.measureDelay = d }
}

func New(bus i2c.Bus, opts ...Option) *SHTC3 {
	s := &SHTC3{
		bus:          bus,
		addr:         DefaultAddr,
		wakeDelay:    time.Millisecond,
		measureDelay: 15 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Measure wakes the sensor, runs one conversion and returns both
// values.
func (s *SHTC3) Measure(ctx context.Context) (Measurement, error) {
	if err := s.writeCmd(ctx, cmdWake); err != nil {
		return Measurement{}, fmt.Errorf("shtc3: wake failed: %w", err)
	}
	if err := s.pause(ctx, s.wakeDelay); err != nil {
		return Measurement{}, err
	}
	if err := s.writeCmd(ctx, cmdMeasure); err != nil {
		return Measurement{}, fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	if err := s.pause(ctx, s.measureDelay); err != nil {
		return Measurement{}, err
	}

	// T word, CRC, RH word, CRC.
	var buf [6]byte
	if err := s.bus.Read(ctx, s.addr, buf[:]); err != nil {
		return Measurement{}, fmt.Errorf("shtc3: read failed: %w", err)
	}
	if crc8.Checksum(buf[0:2], crcTable) != buf[2] {
		return Measurement{}, fmt.Errorf("shtc3: temperature crc mismatch")
	}
	if crc8.Checksum(buf[3:5], crcTable) != buf[5] {
		return Measurement{}, fmt.Errorf("shtc3: humidity crc mismatch")
	}

	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawRH := binary.BigEndian.Uint16(buf[3:5])
	m := Measurement{
		Temperature: -45.0 + 175.0*float32(rawT)/65535.0,
		Humidity:    100.0 * float32(rawRH) / 65535.0,
	}

	if err := s.writeCmd(ctx, cmdSleep); err != nil {
		return m, fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return m, nil
}

// Temperature runs one measurement and returns degrees Celsius.
func (s *SHTC3) Temperature(ctx context.Context) (float32, error) {
	m, err := s.Measure(ctx)
	return m.Temperature, err
}

// Humidity runs one measurement and returns percent relative humidity.
func (s *SHTC3) Humidity(ctx context.Context) (float32, error) {
	m, err := s.Measure(ctx)
	return m.Humidity, err
}

// ReadID returns the raw identification word. Bits 0x083F identify the
// part family, 0x0807 for an SHTC3.
func (s *SHTC3) ReadID(ctx context.Context) (uint16, error) {
	if err := s.writeCmd(ctx, cmdWake); err != nil {
		return 0, fmt.Errorf("shtc3: wake failed: %w", err)
	}
	if err := s.pause(ctx, s.wakeDelay); err != nil {
		return 0, err
	}
	var cmd [2]byte
	binary.BigEndian.PutUint16(cmd[:], cmdReadID)
	var buf [3]byte
	if err := s.bus.WriteRead(ctx, s.addr, cmd[:], buf[:]); err != nil {
		return 0, fmt.Errorf("shtc3: id read failed: %w", err)
	}
	if crc8.Checksum(buf[0:2], crcTable) != buf[2] {
		return 0, fmt.Errorf("shtc3: id crc mismatch")
	}
	id := binary.BigEndian.Uint16(buf[0:2])
	if err := s.writeCmd(ctx, cmdSleep); err != nil {
		return id, fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return id, nil
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.bus.Write(ctx, s.addr, out[:])
}

func (s *SHTC3) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
