// Package at24 drives AT24-style I2C EEPROMs. Reads use one sequential
// transfer with a repeated start between the address pointer write and
// the data. Writes are split at page boundaries and each page is
// followed by acknowledge polling until the internal write cycle
// completes.
package at24

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mklimuk/buskit/i2c"
)

// Config describes one part of the family.
type Config struct {
	Size     int // capacity in bytes
	PageSize int // write page in bytes
	AddrLen  int // memory address bytes on the wire, 1 or 2
}

// Part presets. Parts between 512 bytes and 2KiB fold memory bits into
// the device address and are not covered by these.
var (
	C01  = Config{Size: 128, PageSize: 8, AddrLen: 1}
	C02  = Config{Size: 256, PageSize: 8, AddrLen: 1}
	C32  = Config{Size: 4096, PageSize: 32, AddrLen: 2}
	C64  = Config{Size: 8192, PageSize: 32, AddrLen: 2}
	C128 = Config{Size: 16384, PageSize: 64, AddrLen: 2}
	C256 = Config{Size: 32768, PageSize: 64, AddrLen: 2}
	C512 = Config{Size: 65536, PageSize: 128, AddrLen: 2}
)

type EEPROM struct {
	bus          i2c.Bus
	addr         i2c.Addr
	cfg          Config
	writeTimeout time.Duration
	pollEvery    time.Duration
}

type Option func(*EEPROM)

// WithWriteTimeout bounds acknowledge polling after a page write,
// 10ms by default against the usual 5ms cycle.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *EEPROM) { e.writeTimeout = d }
}

// WithPollInterval sets the pause between acknowledge probes, 500µs by
// default.
func WithPollInterval(d time.Duration) Option {
	return func(e *EEPROM) { e.pollEvery = d }
}

func New(bus i2c.Bus, addr i2c.Addr, cfg Config, opts ...Option) *EEPROM {
	e := &EEPROM{
		bus:          bus,
		addr:         addr,
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

// ReadAt fills buf starting at the memory offset.
func (e *EEPROM) ReadAt(ctx context.Context, off int, buf []byte) error {
	if off < 0 || off+len(buf) > e.cfg.Size {
		return fmt.Errorf("read out of range: %d+%d of %d", off, len(buf), e.cfg.Size)
	}
	if len(buf) == 0 {
		return nil
	}
	if err := e.bus.WriteRead(ctx, e.addr, e.memAddr(off), buf); err != nil {
		return fmt.Errorf("eeprom read at 0x%X failed: %w", off, err)
	}
	return nil
}

// WriteAt stores p starting at the memory offset.
func (e *EEPROM) WriteAt(ctx context.Context, off int, p []byte) error {
	if off < 0 || off+len(p) > e.cfg.Size {
		return fmt.Errorf("write out of range: %d+%d of %d", off, len(p), e.cfg.Size)
	}
	for len(p) > 0 {
		chunk := p
		if space := e.cfg.PageSize - off%e.cfg.PageSize; len(chunk) > space {
			chunk = chunk[:space]
		}
		msg := append(e.memAddr(off), chunk...)
		if err := e.bus.Write(ctx, e.addr, msg); err != nil {
			return fmt.Errorf("eeprom write at 0x%X failed: %w", off, err)
		}
		if err := e.awaitWrite(ctx); err != nil {
			return err
		}
		off += len(chunk)
		p = p[len(chunk):]
	}
	return nil
}

// awaitWrite probes the device with zero-length writes until it
// acknowledges its address again, meaning the internal write cycle is
// over.
func (e *EEPROM) awaitWrite(ctx context.Context) error {
	deadline := time.Now().Add(e.writeTimeout)
	for {
		err := e.bus.Write(ctx, e.addr, nil)
		if err == nil {
			return nil
		}
		if i2c.KindOf(err) != i2c.KindNoAck {
			return fmt.Errorf("eeprom write poll failed: %w", err)
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

func (e *EEPROM) memAddr(off int) []byte {
	if e.cfg.AddrLen == 1 {
		return []byte{byte(off)}
	}
	return []byte{byte(off >> 8), byte(off)}
}

// File returns a sequential view bound to ctx implementing
// io.ReadWriteSeeker.
func (e *EEPROM) File(ctx context.Context) *File {
	return &File{ee: e, ctx: ctx}
}

// File is a cursor over the EEPROM contents.
type File struct {
	ee  *EEPROM
	ctx context.Context
	pos int64
}

var _ io.ReadWriteSeeker = (*File)(nil)

func (f *File) Read(p []byte) (int, error) {
	size := int64(f.ee.cfg.Size)
	if f.pos >= size {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > size-f.pos {
		n = int(size - f.pos)
	}
	if err := f.ee.ReadAt(f.ctx, int(f.pos), p[:n]); err != nil {
		return 0, err
	}
	f.pos += int64(n)
	return n, nil
}

func (f *File) Write(p []byte) (int, error) {
	size := int64(f.ee.cfg.Size)
	if f.pos >= size && len(p) > 0 {
		return 0, io.ErrShortWrite
	}
	n := len(p)
	short := false
	if int64(n) > size-f.pos {
		n = int(size - f.pos)
		short = true
	}
	if err := f.ee.WriteAt(f.ctx, int(f.pos), p[:n]); err != nil {
		return 0, err
	}
	f.pos += int64(n)
	if short {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = int64(f.ee.cfg.Size) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("negative position")
	}
	f.pos = pos
	return pos, nil
}
