// Package i2c implements a master-mode transaction engine for addressed
// serial buses with start/stop framing and per-byte acknowledgement.
//
// A transaction is an ordered list of read and write operations against
// one address, executed as a single electrical unit: one start, a
// repeated start at every direction change, one stop. The Engine turns
// operation lists into calls on a small Backend interface; hardware
// backends live in the adapter package and a recording backend for
// tests in i2ctest.
//
// Context cancellation between primitive calls aborts the transaction
// without a stop condition. The bus state is then unknown and recovery
// is the caller's concern, as it is after any fault.
package i2c

import (
	"context"
	"errors"
)

// ErrNoOperations is returned for a transaction with an empty operation
// list before any bus activity.
var ErrNoOperations = errors.New("transaction has no operations")

// Direction of a single operation, from the master's point of view.
type Direction uint8

const (
	DirWrite Direction = iota
	DirRead
)

func (d Direction) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}

// bit is the direction bit of an address byte.
func (d Direction) bit() byte {
	if d == DirRead {
		return 1
	}
	return 0
}

// Operation is one element of a transaction: either a write of borrowed
// bytes or a read into a borrowed buffer. Construct values with Read
// and Write. Buffers are only borrowed for the duration of the call
// that consumes the operation.
type Operation struct {
	buf []byte
	dir Direction
}

// Read returns an operation that fills buf from the peripheral.
func Read(buf []byte) Operation {
	return Operation{buf: buf, dir: DirRead}
}

// Write returns an operation that sends p to the peripheral.
func Write(p []byte) Operation {
	return Operation{buf: p, dir: DirWrite}
}

func (o Operation) Dir() Direction { return o.dir }

func (o Operation) Len() int { return len(o.buf) }

// Bytes exposes the operation's buffer, mutable for reads.
func (o Operation) Bytes() []byte { return o.buf }

// Bus is the transaction surface device drivers consume. Read, Write
// and WriteRead are single-transaction conveniences over Exec and must
// behave exactly like the equivalent operation list.
//
// Implementations execute one transaction at a time per bus; concurrent
// callers block until the bus is free. Cancelling ctx abandons the
// transaction without a stop condition.
type Bus interface {
	Read(ctx context.Context, addr Addr, buf []byte) error
	Write(ctx context.Context, addr Addr, p []byte) error
	WriteRead(ctx context.Context, addr Addr, w, r []byte) error
	Exec(ctx context.Context, addr Addr, ops []Operation) error
}
