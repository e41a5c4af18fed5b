// Package spi implements a transaction engine for full-duplex
// chip-select buses. There is no addressing and no acknowledgement:
// selecting the peripheral frames the transaction, and every word-time
// moves one word in each direction simultaneously.
//
// A transaction is an ordered list of operations executed under a
// single chip-select assertion; the select line is never toggled
// between operations. Reads and writes of different lengths are padded:
// outgoing with the backend's filler byte, incoming into the void.
package spi

import (
	"context"
	"errors"
)

// ErrNoOperations is returned for a transaction with an empty operation
// list before any bus activity.
var ErrNoOperations = errors.New("transaction has no operations")

// Operation is one element of a transaction. Construct values with
// Read, Write, Transfer or TransferInPlace.
type Operation struct {
	rd []byte
	wr []byte
}

// Read returns an operation that fills buf, clocking out filler bytes.
func Read(buf []byte) Operation {
	return Operation{rd: buf}
}

// Write returns an operation that sends p, discarding incoming words.
func Write(p []byte) Operation {
	return Operation{wr: p}
}

// Transfer returns a simultaneous read and write. The buffers may have
// different lengths; the operation runs for max(len(rd), len(wr))
// word-times.
func Transfer(rd, wr []byte) Operation {
	return Operation{rd: rd, wr: wr}
}

// TransferInPlace sends buf while overwriting it with the incoming
// words.
func TransferInPlace(buf []byte) Operation {
	return Operation{rd: buf, wr: buf}
}

// Out is the outgoing buffer, nil for a pure read.
func (o Operation) Out() []byte { return o.wr }

// In is the incoming buffer, nil for a pure write.
func (o Operation) In() []byte { return o.rd }

// WordTimes is the number of word-times the operation occupies on the
// wire.
func (o Operation) WordTimes() int {
	return max(len(o.rd), len(o.wr))
}

// Bus is the transaction surface device drivers consume. Read, Write
// and Transfer are single-operation conveniences over Exec.
//
// Implementations execute one transaction at a time; concurrent callers
// block until the bus is free. Cancelling ctx abandons the transaction
// and may leave the chip selected.
type Bus interface {
	Read(ctx context.Context, buf []byte) error
	Write(ctx context.Context, p []byte) error
	Transfer(ctx context.Context, rd, wr []byte) error
	Exec(ctx context.Context, ops []Operation) error
}
