// Package eeprom25 drives 25-series SPI EEPROMs such as the Microchip
// 25AA1024. Reads run as one chip-select frame with the instruction
// header and the data phase as separate operations. Writes set the
// write-enable latch, transfer at most one page and poll the status
// register until the internal write cycle completes.
package eeprom25

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/buskit/spi"
)

// Instruction set, common across the family.
const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdWRDI  = 0x04
	cmdWREN  = 0x06
	cmdRDSR  = 0x05
	cmdCE    = 0xC7

	statusWIP = 0x01
)

// Config describes one part of the family.
type Config struct {
	Size     int // capacity in bytes
	PageSize int // write page in bytes
	AddrLen  int // address bytes after the instruction, 2 or 3
}

// Part presets.
var (
	C256  = Config{Size: 32768, PageSize: 64, AddrLen: 2}
	C512  = Config{Size: 65536, PageSize: 128, AddrLen: 2}
	C1024 = Config{Size: 131072, PageSize: 256, AddrLen: 3}
)

type EEPROM struct {
	bus          spi.Bus
	cfg          Config
	writeTimeout time.Duration
	pollEvery    time.Duration
}

type Option func(*EEPROM)

// WithWriteTimeout bounds status polling after a page write, 10ms by
// default against the usual 6ms cycle.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *EEPROM) { e.writeTimeout = d }
}

// WithPollInterval sets the pause between status probes, 500µs by
// default.
func WithPollInterval(d time.Duration) Option {
	return func(e *EEPROM) { e.pollEvery = d }
}

// New returns a driver for the part described by cfg. The bus must be
// configured for SPI mode 0.
func New(bus spi.Bus, cfg Config, opts ...Option) *EEPROM {
	e := &EEPROM{
		bus:          bus,
		cfg:          cfg,
		writeTimeout: 10 * time.Millisecond,
		pollEvery:    500 * time.Microsecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Size returns the capacity in bytes.
func (e *EEPROM) Size() int { return e.cfg.Size }

// ReadAt fills buf starting at the memory offset. The device streams
// sequentially, so one frame covers any length.
func (e *EEPROM) ReadAt(ctx context.Context, off int, buf []byte) error {
	if off < 0 || off+len(buf) > e.cfg.Size {
		return fmt.Errorf("read out of range: %d+%d of %d", off, len(buf), e.cfg.Size)
	}
	if len(buf) == 0 {
		return nil
	}
	ops := []spi.Operation{
		spi.Write(e.header(cmdRead, off)),
		spi.Read(buf),
	}
	if err := e.bus.Exec(ctx, ops); err != nil {
		return fmt.Errorf("eeprom read at 0x%X failed: %w", off, err)
	}
	return nil
}

// WriteAt stores p starting at the memory offset, split at page
// boundaries.
func (e *EEPROM) WriteAt(ctx context.Context, off int, p []byte) error {
	if off < 0 || off+len(p) > e.cfg.Size {
		return fmt.Errorf("write out of range: %d+%d of %d", off, len(p), e.cfg.Size)
	}
	for len(p) > 0 {
		chunk := p
		if space := e.cfg.PageSize - off%e.cfg.PageSize; len(chunk) > space {
			chunk = chunk[:space]
		}
		if err := e.pageWrite(ctx, off, chunk); err != nil {
			return err
		}
		off += len(chunk)
		p = p[len(chunk):]
	}
	return nil
}

// EraseAll resets the whole array to 0xFF. The erase cycle is bounded
// by the write timeout like any other write.
func (e *EEPROM) EraseAll(ctx context.Context) error {
	if err := e.writeEnable(ctx); err != nil {
		return err
	}
	if err := e.bus.Write(ctx, []byte{cmdCE}); err != nil {
		return fmt.Errorf("chip erase failed: %w", err)
	}
	return e.awaitWrite(ctx)
}

func (e *EEPROM) pageWrite(ctx context.Context, off int, chunk []byte) error {
	if err := e.writeEnable(ctx); err != nil {
		return err
	}
	ops := []spi.Operation{
		spi.Write(e.header(cmdWrite, off)),
		spi.Write(chunk),
	}
	if err := e.bus.Exec(ctx, ops); err != nil {
		return fmt.Errorf("eeprom write at 0x%X failed: %w", off, err)
	}
	return e.awaitWrite(ctx)
}

// writeEnable sets the write-enable latch. The latch clears itself when
// the following write cycle starts.
func (e *EEPROM) writeEnable(ctx context.Context) error {
	if err := e.bus.Write(ctx, []byte{cmdWREN}); err != nil {
		return fmt.Errorf("write enable failed: %w", err)
	}
	return nil
}

// Status returns the status register.
func (e *EEPROM) Status(ctx context.Context) (byte, error) {
	var st [1]byte
	ops := []spi.Operation{
		spi.Write([]byte{cmdRDSR}),
		spi.Read(st[:]),
	}
	if err := e.bus.Exec(ctx, ops); err != nil {
		return 0, fmt.Errorf("status read failed: %w", err)
	}
	return st[0], nil
}

// awaitWrite polls the write-in-progress bit until the internal cycle
// is over.
func (e *EEPROM) awaitWrite(ctx context.Context) error {
	deadline := time.Now().Add(e.writeTimeout)
	for {
		st, err := e.Status(ctx)
		if err != nil {
			return err
		}
		if st&statusWIP == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("eeprom write cycle did not complete within %s", e.writeTimeout)
		}
		if err = e.pause(ctx); err != nil {
			return err
		}
	}
}

func (e *EEPROM) pause(ctx context.Context) error {
	if e.pollEvery <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.pollEvery)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *EEPROM) header(cmd byte, off int) []byte {
	if e.cfg.AddrLen == 2 {
		return []byte{cmd, byte(off >> 8), byte(off)}
	}
	return []byte{cmd, byte(off >> 16), byte(off >> 8), byte(off)}
}
