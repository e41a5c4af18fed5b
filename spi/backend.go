package spi

import "context"

// Backend is the set of bus primitives the engine composes into
// transactions. Implementations drive one chip-select line and the
// clocked data pair.
//
// The engine guarantees single-threaded use and balanced assert and
// deassert calls, except after a fault or cancellation, when the select
// line may be left active for the caller to recover.
type Backend interface {
	// Assert drives the chip-select line to its active level.
	Assert(ctx context.Context) error
	// Deassert returns the chip-select line to idle.
	Deassert(ctx context.Context) error
	// Exchange clocks len(out) word-times, transmitting out while
	// filling in. Both slices always have the same length and may alias
	// each other; implementations must read an outgoing word before
	// storing the incoming one.
	Exchange(ctx context.Context, out, in []byte) error
}

// Filler is implemented by backends that prefer a specific idle byte
// for outgoing padding. Without it the engine pads with DefaultFiller.
type Filler interface {
	Filler() byte
}

// DefaultFiller keeps the data-out line high during read padding, the
// idle level on most buses.
const DefaultFiller = 0xFF
