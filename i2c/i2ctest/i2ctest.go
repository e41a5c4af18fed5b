// Package i2ctest provides an in-memory bus backend for exercising
// transaction code without hardware. The backend records every
// primitive call, optionally fails a chosen one, and can host virtual
// register-file peripherals that acknowledge, store and serve bytes.
package i2ctest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mklimuk/buskit/i2c"
)

// EventKind identifies one recorded primitive call.
type EventKind uint8

const (
	EvStart EventKind = iota
	EvRestart
	EvSend
	EvRecv
	EvStop
)

// Event is one primitive call as seen by the backend.
type Event struct {
	Kind  EventKind
	Dir   i2c.Direction
	Addr  i2c.Addr
	Data  []byte
	NoAck bool
	Err   error
}

// String renders the event in a compact, assertion-friendly form:
// "ST W@0x50", "SR R@0x50", "W 01 02", "R 3 nak", "SP".
func (e Event) String() string {
	var s string
	switch e.Kind {
	case EvStart:
		s = fmt.Sprintf("ST %s@%s", dirLetter(e.Dir), e.Addr)
	case EvRestart:
		s = fmt.Sprintf("SR %s@%s", dirLetter(e.Dir), e.Addr)
	case EvSend:
		s = fmt.Sprintf("W % X", e.Data)
	case EvRecv:
		s = fmt.Sprintf("R %d", len(e.Data))
		if e.NoAck {
			s += " nak"
		}
	case EvStop:
		s = "SP"
	default:
		s = fmt.Sprintf("EventKind(%d)", uint8(e.Kind))
	}
	if e.Err != nil {
		s += " !" + e.Err.Error()
	}
	return s
}

func dirLetter(d i2c.Direction) string {
	if d == i2c.DirRead {
		return "R"
	}
	return "W"
}

// Bus implements i2c.Backend in memory.
//
// Addressing a device that was never added fails with an address
// acknowledge fault, which makes the fixture directly usable for scan
// tests. Data moved by Send and Recv flows into and out of the
// addressed virtual device.
type Bus struct {
	mu      sync.Mutex
	events  []Event
	devices map[i2c.Addr]*Device

	calls   int
	failAt  int
	failErr error

	cur  *Device
	dir  i2c.Direction
	open bool
}

var _ i2c.Backend = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{devices: make(map[i2c.Addr]*Device)}
}

// AddDevice attaches a virtual peripheral at addr backed by mem. The
// slice is stored, not copied, so the caller can inspect it after the
// fact. A nil mem makes a device that acknowledges its address but
// holds no registers.
func (b *Bus) AddDevice(addr i2c.Addr, mem []byte) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &Device{mem: mem}
	b.devices[addr] = d
	return d
}

// FailOn makes the nth primitive call (1-based, counted across the
// whole bus lifetime) return err instead of doing its work. Zero
// disables the injection.
func (b *Bus) FailOn(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAt, b.failErr = n, err
}

// Events returns a copy of the recorded primitive calls.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Calls returns the recorded primitive calls rendered via Event.String.
func (b *Bus) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.String()
	}
	return out
}

// Journal returns all calls joined with "; ", handy for one-line
// assertions.
func (b *Bus) Journal() string {
	return strings.Join(b.Calls(), "; ")
}

// Reset clears the event log and the call counter. Devices and their
// memories survive.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
	b.calls = 0
	b.cur, b.open = nil, false
}

func (b *Bus) Start(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.address(dir, addr)
	b.events = append(b.events, Event{Kind: EvStart, Dir: dir, Addr: addr, Err: err})
	return err
}

func (b *Bus) Restart(ctx context.Context, dir i2c.Direction, addr i2c.Addr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if !b.open {
		err = i2c.NewError(i2c.KindBus, errors.New("repeated start without start"))
	} else {
		err = b.address(dir, addr)
	}
	b.events = append(b.events, Event{Kind: EvRestart, Dir: dir, Addr: addr, Err: err})
	return err
}

func (b *Bus) Send(ctx context.Context, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.primitive()
	switch {
	case err != nil:
	case !b.open || b.dir != i2c.DirWrite:
		err = i2c.NewError(i2c.KindBus, errors.New("send outside a write transfer"))
	default:
		b.cur.write(p)
	}
	b.events = append(b.events, Event{Kind: EvSend, Data: append([]byte(nil), p...), Err: err})
	return err
}

func (b *Bus) Recv(ctx context.Context, buf []byte, lastNoAck bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.primitive()
	switch {
	case err != nil:
	case !b.open || b.dir != i2c.DirRead:
		err = i2c.NewError(i2c.KindBus, errors.New("receive outside a read transfer"))
	default:
		b.cur.read(buf)
	}
	b.events = append(b.events, Event{Kind: EvRecv, Data: append([]byte(nil), buf...), NoAck: lastNoAck, Err: err})
	return err
}

func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.primitive()
	if err == nil {
		b.cur, b.open = nil, false
	}
	b.events = append(b.events, Event{Kind: EvStop, Err: err})
	return err
}

// address resolves a start or repeated start against the device map.
func (b *Bus) address(dir i2c.Direction, addr i2c.Addr) error {
	if err := b.primitive(); err != nil {
		b.cur, b.open = nil, false
		return err
	}
	d, ok := b.devices[addr]
	if !ok {
		b.cur, b.open = nil, false
		return i2c.NewNackError(i2c.NackAddress, nil)
	}
	b.cur, b.dir, b.open = d, dir, true
	if dir == i2c.DirWrite {
		d.pending = true
	}
	return nil
}

// primitive counts a call and returns the scripted failure when its
// turn has come.
func (b *Bus) primitive() error {
	b.calls++
	if b.failAt != 0 && b.calls == b.failAt {
		return b.failErr
	}
	return nil
}

// Device is a virtual register-file peripheral. The first byte written
// after addressing selects the register pointer; further bytes store
// sequentially and reads serve from the pointer on. Both wrap at the
// end of memory.
type Device struct {
	mem     []byte
	ptr     int
	pending bool
}

func (d *Device) write(p []byte) {
	for _, v := range p {
		if d.pending {
			d.pending = false
			if len(d.mem) > 0 {
				d.ptr = int(v) % len(d.mem)
			}
			continue
		}
		if len(d.mem) == 0 {
			continue
		}
		d.mem[d.ptr] = v
		d.ptr = (d.ptr + 1) % len(d.mem)
	}
}

func (d *Device) read(buf []byte) {
	for i := range buf {
		if len(d.mem) == 0 {
			buf[i] = 0xFF
			continue
		}
		buf[i] = d.mem[d.ptr]
		d.ptr = (d.ptr + 1) % len(d.mem)
	}
}
