// Package adapter provides hardware backends for the i2c and spi
// engines.
//
// Two flavors exist. Primitive adapters (BusPirate, BitBang) expose
// raw start, stop and byte-level control and implement i2c.Backend or
// spi.Backend; wrap them in an engine to get the transaction surface.
// Controller adapters (MCP2221, Kernel, Gobot) sit on top of a bus
// controller that frames transactions itself; they implement i2c.Bus
// or spi.Bus directly and accept the operation patterns their
// controller can express, rejecting the rest with
// ErrUnsupportedSequence.
package adapter

import (
	"errors"
	"fmt"

	"github.com/mklimuk/buskit/i2c"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrUnsupportedSequence is returned by controller adapters for
// operation patterns their hardware cannot express in one transaction,
// such as a write after a read without an intervening stop.
var ErrUnsupportedSequence = errors.New("operation sequence not supported by this adapter")

// ErrTenBitAddress is returned by adapters whose controller only takes
// 7-bit addresses.
var ErrTenBitAddress = errors.New("10-bit addressing not supported by this adapter")

// ErrTransferTooLarge is returned when a run exceeds the controller's
// per-transfer limit.
var ErrTransferTooLarge = errors.New("transfer exceeds adapter limit")

// run is a maximal group of adjacent same-direction operations.
// Controller adapters map runs, not single operations, onto their
// command set, which keeps the coalescing rule intact: two adjacent
// operations of one direction land in one controller transfer.
type run struct {
	dir  i2c.Direction
	bufs [][]byte
	size int
}

func coalesce(ops []i2c.Operation) []run {
	var runs []run
	for _, op := range ops {
		if n := len(runs); n > 0 && runs[n-1].dir == op.Dir() {
			runs[n-1].bufs = append(runs[n-1].bufs, op.Bytes())
			runs[n-1].size += op.Len()
			continue
		}
		runs = append(runs, run{dir: op.Dir(), bufs: [][]byte{op.Bytes()}, size: op.Len()})
	}
	return runs
}

// gather copies the run's buffers into dst back-to-back and returns the
// number of bytes copied.
func (r run) gather(dst []byte) int {
	n := 0
	for _, b := range r.bufs {
		n += copy(dst[n:], b)
	}
	return n
}

// scatter distributes src across the run's buffers in order.
func (r run) scatter(src []byte) {
	for _, b := range r.bufs {
		n := copy(b, src)
		src = src[n:]
	}
}

// flat returns the run's payload as one slice, borrowing the buffer
// when the run has a single operation.
func (r run) flat() []byte {
	if len(r.bufs) == 1 {
		return r.bufs[0]
	}
	out := make([]byte, r.size)
	r.gather(out)
	return out
}
