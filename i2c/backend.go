package i2c

import "context"

// Backend is the set of bus primitives the engine composes into
// transactions. Implementations drive the physical layer and translate
// their native faults into values implementing Error.
//
// The engine guarantees single-threaded use: primitives of one
// transaction are never interleaved with another's. Each primitive call
// is a suspension point; implementations should honor ctx while waiting
// on the hardware and return ctx.Err() when it fires mid-wait.
type Backend interface {
	// Start opens a transaction: a start condition followed by the
	// address bytes for dir (see Addr.WireBytes). An address
	// acknowledgement failure is reported as KindNoAck/NackAddress.
	Start(ctx context.Context, dir Direction, addr Addr) error
	// Restart re-addresses the open transaction with a repeated start
	// condition, no stop in between.
	Restart(ctx context.Context, dir Direction, addr Addr) error
	// Send transmits p and senses the acknowledgement of every byte.
	Send(ctx context.Context, p []byte) error
	// Recv fills buf, acknowledging each byte. When lastNoAck is set
	// the final byte of buf is left unacknowledged, signalling the end
	// of the transfer to the peripheral.
	Recv(ctx context.Context, buf []byte, lastNoAck bool) error
	// Stop closes the transaction with a stop condition, releasing the
	// bus.
	Stop(ctx context.Context) error
}
