package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	pspi "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/buskit/i2c"
	"github.com/mklimuk/buskit/spi"
)

var hostOnce sync.Once
var hostErr error

func initHost() error {
	hostOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			hostErr = fmt.Errorf("could not init host: %w", err)
			return
		}
		for _, driver := range state.Loaded {
			slog.Debug("host driver loaded", "driver", driver.String())
		}
	})
	return hostErr
}

// KernelBus drives an I2C bus through the kernel device via periph.io
// and implements i2c.Bus. The kernel frames transactions itself, so the
// adapter maps coalesced runs onto a single transfer: one write, one
// read, or a write followed by a repeated-start read. The kernel i2c
// core does not expose arbitrary run sequences, nor 10-bit addressing
// through this path.
type KernelBus struct {
	mx  sync.Mutex
	bus pi2c.BusCloser
}

var _ i2c.Bus = (*KernelBus)(nil)

// NewKernelBus opens a registered bus by name, such as "/dev/i2c-1",
// "1" or "" for the first available one.
func NewKernelBus(dev string) (*KernelBus, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &KernelBus{bus: bus}, nil
}

// SetSpeed adjusts the bus clock when the driver supports it.
func (b *KernelBus) SetSpeed(f physic.Frequency) error {
	return b.bus.SetSpeed(f)
}

func (b *KernelBus) Read(ctx context.Context, addr i2c.Addr, buf []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Read(buf)})
}

func (b *KernelBus) Write(ctx context.Context, addr i2c.Addr, p []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Write(p)})
}

func (b *KernelBus) WriteRead(ctx context.Context, addr i2c.Addr, w, r []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Write(w), i2c.Read(r)})
}

func (b *KernelBus) Exec(ctx context.Context, addr i2c.Addr, ops []i2c.Operation) error {
	if len(ops) == 0 {
		return i2c.ErrNoOperations
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	if addr.Mode() == i2c.TenBit {
		return ErrTenBitAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runs := coalesce(ops)
	var w []byte
	var rd run
	switch {
	case len(runs) == 1 && runs[0].dir == i2c.DirWrite:
		w = runs[0].flat()
	case len(runs) == 1 && runs[0].dir == i2c.DirRead:
		rd = runs[0]
	case len(runs) == 2 && runs[0].dir == i2c.DirWrite:
		w = runs[0].flat()
		rd = runs[1]
	default:
		return fmt.Errorf("%w: %d direction changes", ErrUnsupportedSequence, len(runs)-1)
	}
	var r []byte
	if rd.size > 0 || rd.dir == i2c.DirRead {
		r = rd.flat()
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.bus.Tx(addr.Value(), w, r); err != nil {
		return fmt.Errorf("transfer with %s failed: %w", addr, mapKernelErr(err))
	}
	if len(rd.bufs) > 1 {
		rd.scatter(r)
	}
	return nil
}

func (b *KernelBus) Close() error {
	return b.bus.Close()
}

// mapKernelErr lifts the errnos the i2c core uses for bus faults into
// the taxonomy: ENXIO is an unacknowledged address, EAGAIN lost
// arbitration, ETIMEDOUT a wedged bus.
func mapKernelErr(err error) error {
	switch {
	case errors.Is(err, syscall.ENXIO):
		return i2c.NewNackError(i2c.NackAddress, err)
	case errors.Is(err, syscall.EAGAIN):
		return i2c.NewError(i2c.KindArbitrationLost, err)
	case errors.Is(err, syscall.ETIMEDOUT):
		return i2c.NewError(i2c.KindBus, err)
	}
	return err
}

// KernelSPI drives a kernel spidev port through periph.io and
// implements spi.Bus. Operations map onto packet transfers that keep
// the chip-select asserted between them, so a whole transaction runs
// under one select exactly like the engine's contract requires. The
// kernel chooses the padding byte for read-only word-times.
type KernelSPI struct {
	mx   sync.Mutex
	port pspi.PortCloser
	conn pspi.Conn
}

var _ spi.Bus = (*KernelSPI)(nil)

// NewKernelSPI opens a registered port by name, such as
// "/dev/spidev0.0", and configures clock and mode.
func NewKernelSPI(dev string, speed physic.Frequency, mode pspi.Mode) (*KernelSPI, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port: %w", err)
	}
	conn, err := port.Connect(speed, mode, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("could not configure spi port: %w", err)
	}
	return &KernelSPI{port: port, conn: conn}, nil
}

func (s *KernelSPI) Read(ctx context.Context, buf []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Read(buf)})
}

func (s *KernelSPI) Write(ctx context.Context, p []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Write(p)})
}

func (s *KernelSPI) Transfer(ctx context.Context, rd, wr []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Transfer(rd, wr)})
}

func (s *KernelSPI) Exec(ctx context.Context, ops []spi.Operation) error {
	if len(ops) == 0 {
		return spi.ErrNoOperations
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var packets []pspi.Packet
	for _, op := range ops {
		packets = append(packets, opPackets(op)...)
	}
	if len(packets) == 0 {
		return nil
	}
	for i := range packets[:len(packets)-1] {
		packets[i].KeepCS = true
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.conn.TxPackets(packets); err != nil {
		return fmt.Errorf("spi transfer failed: %w", err)
	}
	return nil
}

// opPackets splits one operation into equal-length kernel transfers:
// the overlap of read and write buffers, then the leftover of the
// longer one.
func opPackets(op spi.Operation) []pspi.Packet {
	rd, wr := op.In(), op.Out()
	var packets []pspi.Packet
	if n := min(len(rd), len(wr)); n > 0 {
		packets = append(packets, pspi.Packet{W: wr[:n], R: rd[:n]})
		rd, wr = rd[n:], wr[n:]
	}
	if len(wr) > 0 {
		packets = append(packets, pspi.Packet{W: wr})
	}
	if len(rd) > 0 {
		packets = append(packets, pspi.Packet{R: rd})
	}
	return packets
}

func (s *KernelSPI) Close() error {
	return s.port.Close()
}
