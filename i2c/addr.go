package i2c

import (
	"errors"
	"fmt"
)

// AddrMode selects the addressing width of a target. The set is closed:
// only seven and ten bit addressing exist on the wire.
type AddrMode uint8

const (
	SevenBit AddrMode = iota
	TenBit
)

func (m AddrMode) String() string {
	switch m {
	case SevenBit:
		return "7-bit"
	case TenBit:
		return "10-bit"
	}
	return fmt.Sprintf("AddrMode(%d)", uint8(m))
}

var ErrAddressRange = errors.New("address out of range for mode")

// Addr is a bus address together with its addressing mode. Construct
// values with Addr7 or Addr10; the zero value is the 7-bit general call
// address 0x00.
type Addr struct {
	val  uint16
	mode AddrMode
}

// Addr7 returns a 7-bit address. Values above 0x7F fail Validate.
func Addr7(v uint8) Addr {
	return Addr{val: uint16(v), mode: SevenBit}
}

// Addr10 returns a 10-bit address. Values above 0x3FF fail Validate.
func Addr10(v uint16) Addr {
	return Addr{val: v, mode: TenBit}
}

func (a Addr) Mode() AddrMode { return a.mode }

func (a Addr) Value() uint16 { return a.val }

// Validate checks that the address value fits its mode.
func (a Addr) Validate() error {
	switch a.mode {
	case SevenBit:
		if a.val > 0x7F {
			return fmt.Errorf("%w: 0x%X does not fit in 7 bits", ErrAddressRange, a.val)
		}
	case TenBit:
		if a.val > 0x3FF {
			return fmt.Errorf("%w: 0x%X does not fit in 10 bits", ErrAddressRange, a.val)
		}
	}
	return nil
}

// WireBytes returns the address byte sequence of a start condition for
// the given transfer direction. A 7-bit address yields a single byte
// with the direction in the low bit. A 10-bit address yields two bytes:
// the first carries the 0b11110 prefix, address bits 9:8 and the
// direction bit, the second carries address bits 7:0. Backends must put
// exactly these bytes on the wire.
func (a Addr) WireBytes(dir Direction) []byte {
	if a.mode == TenBit {
		hi := byte(a.val>>8) & 0x03
		return []byte{0xF0 | hi<<1 | dir.bit(), byte(a.val)}
	}
	return []byte{byte(a.val)<<1 | dir.bit()}
}

func (a Addr) String() string {
	if a.mode == TenBit {
		return fmt.Sprintf("0x%03X/10", a.val)
	}
	return fmt.Sprintf("0x%02X", a.val)
}
