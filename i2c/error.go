package i2c

import (
	"errors"
	"fmt"
)

// Kind is the common classification of bus faults. Backends wrap their
// native failures into values implementing Error; generic code switches
// on Kind only and never inspects backend detail.
type Kind uint8

const (
	// KindOther covers faults outside the taxonomy. It is the zero
	// value, so unclassified errors normalize to it.
	KindOther Kind = iota
	// KindBus is a protocol violation on the wire, such as a misplaced
	// start or stop condition.
	KindBus
	// KindArbitrationLost means the master lost arbitration to another
	// master mid transfer.
	KindArbitrationLost
	// KindNoAck means the peripheral did not acknowledge a byte; see
	// NackSource for which one.
	KindNoAck
	// KindOverrun is a receiver overrun.
	KindOverrun
)

func (k Kind) String() string {
	switch k {
	case KindBus:
		return "bus fault"
	case KindArbitrationLost:
		return "arbitration lost"
	case KindNoAck:
		return "no acknowledge"
	case KindOverrun:
		return "overrun"
	case KindOther:
		return "other fault"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// NackSource tells which phase of a transaction went unacknowledged.
type NackSource uint8

const (
	NackUnknown NackSource = iota
	NackAddress
	NackData
)

func (s NackSource) String() string {
	switch s {
	case NackAddress:
		return "address"
	case NackData:
		return "data"
	}
	return "unknown"
}

// Error is implemented by backend fault values. Kind must be pure and
// total: no I/O, valid after the producing call has returned.
type Error interface {
	error
	Kind() Kind
}

// KindOf normalizes any error into the taxonomy. Errors that do not
// carry a Kind anywhere in their chain map to KindOther.
func KindOf(err error) Kind {
	var be Error
	if errors.As(err, &be) {
		return be.Kind()
	}
	return KindOther
}

// NackSourceOf extracts the unacknowledged phase from an error chain.
// It returns NackUnknown when the chain carries no source, including
// for errors that are not acknowledge faults at all; check KindOf
// first.
func NackSourceOf(err error) NackSource {
	var se interface{ NackSource() NackSource }
	if errors.As(err, &se) {
		return se.NackSource()
	}
	return NackUnknown
}

// BusError is the ready-made Error implementation backends reach for
// when they have no richer representation of their own.
type BusError struct {
	kind  Kind
	src   NackSource
	cause error
}

// NewError wraps cause into a fault of the given kind. A nil cause is
// fine; the kind alone then describes the fault.
func NewError(kind Kind, cause error) *BusError {
	return &BusError{kind: kind, cause: cause}
}

// NewNackError builds a KindNoAck fault attributed to the given phase.
func NewNackError(src NackSource, cause error) *BusError {
	return &BusError{kind: KindNoAck, src: src, cause: cause}
}

func (e *BusError) Error() string {
	msg := e.kind.String()
	if e.kind == KindNoAck {
		msg = fmt.Sprintf("%s (%s)", msg, e.src)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause)
	}
	return msg
}

func (e *BusError) Kind() Kind { return e.kind }

func (e *BusError) NackSource() NackSource { return e.src }

func (e *BusError) Unwrap() error { return e.cause }
