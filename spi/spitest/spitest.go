// Package spitest provides an in-memory chip-select bus for exercising
// transfer code without hardware. The connection records every
// primitive call, serves scripted incoming bytes and can fail a chosen
// call.
package spitest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mklimuk/buskit/spi"
)

// EventKind identifies one recorded primitive call.
type EventKind uint8

const (
	EvAssert EventKind = iota
	EvExchange
	EvDeassert
)

// Event is one primitive call as seen by the connection.
type Event struct {
	Kind EventKind
	Out  []byte
	In   []byte
	Err  error
}

// String renders the event in a compact form: "CS+", "X 01 02", "CS-".
func (e Event) String() string {
	var s string
	switch e.Kind {
	case EvAssert:
		s = "CS+"
	case EvExchange:
		s = fmt.Sprintf("X % X", e.Out)
	case EvDeassert:
		s = "CS-"
	default:
		s = fmt.Sprintf("EventKind(%d)", uint8(e.Kind))
	}
	if e.Err != nil {
		s += " !" + e.Err.Error()
	}
	return s
}

// Conn implements spi.Backend in memory. Incoming words come from the
// scripted queue, zero once it runs dry.
type Conn struct {
	mu     sync.Mutex
	events []Event
	miso   []byte

	calls    int
	failAt   int
	failErr  error
	selected bool
}

var _ spi.Backend = (*Conn)(nil)

func New() *Conn {
	return &Conn{}
}

// QueueMiso appends bytes served by subsequent exchanges.
func (c *Conn) QueueMiso(p ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.miso = append(c.miso, p...)
}

// FailOn makes the nth primitive call (1-based) return err instead of
// doing its work. Zero disables the injection.
func (c *Conn) FailOn(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAt, c.failErr = n, err
}

// Events returns a copy of the recorded primitive calls.
func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Calls returns the recorded primitive calls rendered via Event.String.
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.String()
	}
	return out
}

// Journal returns all calls joined with "; ".
func (c *Conn) Journal() string {
	return strings.Join(c.Calls(), "; ")
}

// TxBytes returns every transmitted byte in order, one per elapsed
// word-time.
func (c *Conn) TxBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, e := range c.events {
		if e.Kind == EvExchange && e.Err == nil {
			out = append(out, e.Out...)
		}
	}
	return out
}

func (c *Conn) Assert(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.primitive()
	switch {
	case err != nil:
	case c.selected:
		err = errors.New("chip already selected")
	default:
		c.selected = true
	}
	c.events = append(c.events, Event{Kind: EvAssert, Err: err})
	return err
}

func (c *Conn) Deassert(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.primitive()
	switch {
	case err != nil:
	case !c.selected:
		err = errors.New("chip not selected")
	default:
		c.selected = false
	}
	c.events = append(c.events, Event{Kind: EvDeassert, Err: err})
	return err
}

func (c *Conn) Exchange(ctx context.Context, out, in []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.primitive()
	ev := Event{Kind: EvExchange, Out: append([]byte(nil), out...), Err: err}
	switch {
	case err != nil:
	case !c.selected:
		err = errors.New("exchange without chip-select")
		ev.Err = err
	default:
		for i := range in {
			if len(c.miso) > 0 {
				in[i] = c.miso[0]
				c.miso = c.miso[1:]
			} else {
				in[i] = 0x00
			}
		}
		ev.In = append([]byte(nil), in...)
	}
	c.events = append(c.events, ev)
	return err
}

func (c *Conn) primitive() error {
	c.calls++
	if c.failAt != 0 && c.calls == c.failAt {
		return c.failErr
	}
	return nil
}
