// Package smbus layers the SMBus command protocols over an i2c bus:
// register byte and word access, block transfers, process calls and
// optional packet error checking.
package smbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc8"

	"github.com/mklimuk/buskit/i2c"
)

// BlockMax is the largest payload a block transfer carries.
const BlockMax = 32

var (
	ErrPECMismatch   = errors.New("pec mismatch")
	ErrBlockTooLarge = fmt.Errorf("block exceeds %d bytes", BlockMax)
)

// Packet error checking is CRC-8 with polynomial 0x07 over the whole
// message, address bytes included.
var pecTable = crc8.MakeTable(crc8.CRC8)

func pecOf(parts ...[]byte) byte {
	crc := crc8.Init(pecTable)
	for _, p := range parts {
		crc = crc8.Update(crc, p, pecTable)
	}
	return crc8.Complete(crc, pecTable)
}

// Conn addresses one SMBus device through a bus. With packet error
// checking enabled, writes carry a trailing CRC computed by this side
// and reads verify the CRC the device appends.
type Conn struct {
	bus  i2c.Bus
	addr i2c.Addr
	pec  bool
}

type Option func(*Conn)

// WithPEC enables packet error checking on data transfers. Quick is
// never checked, it carries no data.
func WithPEC() Option {
	return func(c *Conn) { c.pec = true }
}

func New(bus i2c.Bus, addr i2c.Addr, opts ...Option) *Conn {
	c := &Conn{bus: bus, addr: addr}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) wireW() []byte { return c.addr.WireBytes(i2c.DirWrite) }
func (c *Conn) wireR() []byte { return c.addr.WireBytes(i2c.DirRead) }

// Quick issues the zero-length write probe. Devices answer with just
// the address acknowledge, which is how presence detection works.
func (c *Conn) Quick(ctx context.Context) error {
	return c.bus.Write(ctx, c.addr, nil)
}

// WriteByte sends a single byte without selecting a register.
func (c *Conn) WriteByte(ctx context.Context, v byte) error {
	msg := []byte{v}
	if c.pec {
		msg = append(msg, pecOf(c.wireW(), msg))
	}
	return c.bus.Write(ctx, c.addr, msg)
}

// ReadByte receives a single byte without selecting a register.
func (c *Conn) ReadByte(ctx context.Context) (byte, error) {
	buf := make([]byte, 1+c.pecLen())
	if err := c.bus.Read(ctx, c.addr, buf); err != nil {
		return 0, err
	}
	if c.pec && pecOf(c.wireR(), buf[:1]) != buf[1] {
		return 0, ErrPECMismatch
	}
	return buf[0], nil
}

// WriteByteData writes one byte to a register.
func (c *Conn) WriteByteData(ctx context.Context, reg, v byte) error {
	msg := []byte{reg, v}
	if c.pec {
		msg = append(msg, pecOf(c.wireW(), msg))
	}
	return c.bus.Write(ctx, c.addr, msg)
}

// ReadByteData reads one byte from a register.
func (c *Conn) ReadByteData(ctx context.Context, reg byte) (byte, error) {
	cmd := []byte{reg}
	buf := make([]byte, 1+c.pecLen())
	if err := c.bus.WriteRead(ctx, c.addr, cmd, buf); err != nil {
		return 0, err
	}
	if c.pec && pecOf(c.wireW(), cmd, c.wireR(), buf[:1]) != buf[1] {
		return 0, ErrPECMismatch
	}
	return buf[0], nil
}

// WriteWordData writes a little-endian word to a register.
func (c *Conn) WriteWordData(ctx context.Context, reg byte, v uint16) error {
	msg := []byte{reg, 0, 0}
	binary.LittleEndian.PutUint16(msg[1:], v)
	if c.pec {
		msg = append(msg, pecOf(c.wireW(), msg))
	}
	return c.bus.Write(ctx, c.addr, msg)
}

// ReadWordData reads a little-endian word from a register.
func (c *Conn) ReadWordData(ctx context.Context, reg byte) (uint16, error) {
	cmd := []byte{reg}
	buf := make([]byte, 2+c.pecLen())
	if err := c.bus.WriteRead(ctx, c.addr, cmd, buf); err != nil {
		return 0, err
	}
	if c.pec && pecOf(c.wireW(), cmd, c.wireR(), buf[:2]) != buf[2] {
		return 0, ErrPECMismatch
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// WriteBlockData writes up to BlockMax bytes to a register, prefixed
// with the byte count.
func (c *Conn) WriteBlockData(ctx context.Context, reg byte, p []byte) error {
	if len(p) > BlockMax {
		return ErrBlockTooLarge
	}
	msg := append([]byte{reg, byte(len(p))}, p...)
	if c.pec {
		msg = append(msg, pecOf(c.wireW(), msg))
	}
	return c.bus.Write(ctx, c.addr, msg)
}

// ReadBlockData reads a block from a register into buf. The device
// reports its byte count first and it has to match len(buf): sizing
// the read on the fly would need controller support this engine does
// not assume.
func (c *Conn) ReadBlockData(ctx context.Context, reg byte, buf []byte) error {
	if len(buf) > BlockMax {
		return ErrBlockTooLarge
	}
	cmd := []byte{reg}
	rsp := make([]byte, 1+len(buf)+c.pecLen())
	if err := c.bus.WriteRead(ctx, c.addr, cmd, rsp); err != nil {
		return err
	}
	if int(rsp[0]) != len(buf) {
		return fmt.Errorf("unexpected block count %d, want %d", rsp[0], len(buf))
	}
	if c.pec && pecOf(c.wireW(), cmd, c.wireR(), rsp[:1+len(buf)]) != rsp[1+len(buf)] {
		return ErrPECMismatch
	}
	copy(buf, rsp[1:])
	return nil
}

// ProcessCall writes a word to a register and reads a word back in
// one transaction. With packet error checking the device appends the
// CRC to its response, the written half carries none.
func (c *Conn) ProcessCall(ctx context.Context, reg byte, v uint16) (uint16, error) {
	cmd := []byte{reg, 0, 0}
	binary.LittleEndian.PutUint16(cmd[1:], v)
	rsp := make([]byte, 2+c.pecLen())
	if err := c.bus.WriteRead(ctx, c.addr, cmd, rsp); err != nil {
		return 0, err
	}
	if c.pec && pecOf(c.wireW(), cmd, c.wireR(), rsp[:2]) != rsp[2] {
		return 0, ErrPECMismatch
	}
	return binary.LittleEndian.Uint16(rsp), nil
}

func (c *Conn) pecLen() int {
	if c.pec {
		return 1
	}
	return 0
}
