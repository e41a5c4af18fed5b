package adapter

import (
	"context"
	"fmt"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"
	gspi "gobot.io/x/gobot/v2/drivers/spi"

	"github.com/mklimuk/buskit/i2c"
	"github.com/mklimuk/buskit/spi"
)

// GobotBus adapts a gobot platform connector into i2c.Bus, so drivers
// written against the engine run on any board gobot supports. The
// portable connection surface only frames plain writes, plain reads
// and single-byte register reads, anything else is rejected rather
// than split into separate bus transactions.
type GobotBus struct {
	mx        sync.Mutex
	connector gi2c.Connector
	busNr     int
	conns     map[uint16]gi2c.Connection
}

var _ i2c.Bus = (*GobotBus)(nil)

// NewGobotBus wraps a connector, such as a raspi or nanopi adaptor.
// A negative busNr selects the platform default.
func NewGobotBus(connector gi2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{connector: connector, busNr: busNr, conns: map[uint16]gi2c.Connection{}}
}

func (b *GobotBus) Read(ctx context.Context, addr i2c.Addr, buf []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Read(buf)})
}

func (b *GobotBus) Write(ctx context.Context, addr i2c.Addr, p []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Write(p)})
}

func (b *GobotBus) WriteRead(ctx context.Context, addr i2c.Addr, w, r []byte) error {
	return b.Exec(ctx, addr, []i2c.Operation{i2c.Write(w), i2c.Read(r)})
}

func (b *GobotBus) Exec(ctx context.Context, addr i2c.Addr, ops []i2c.Operation) error {
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
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(addr)
	if err != nil {
		return err
	}
	runs := coalesce(ops)
	switch {
	case len(runs) == 1 && runs[0].dir == i2c.DirWrite:
		if err = conn.WriteBytes(runs[0].flat()); err != nil {
			return fmt.Errorf("write to %s failed: %w", addr, err)
		}
	case len(runs) == 1 && runs[0].dir == i2c.DirRead:
		buf := runs[0].flat()
		n, err := conn.Read(buf)
		if err != nil {
			return fmt.Errorf("read from %s failed: %w", addr, err)
		}
		if n != len(buf) {
			return fmt.Errorf("short read from %s: %d of %d bytes", addr, n, len(buf))
		}
		if len(runs[0].bufs) > 1 {
			runs[0].scatter(buf)
		}
	case len(runs) == 2 && runs[0].dir == i2c.DirWrite && runs[0].size == 1:
		buf := runs[1].flat()
		if err = conn.ReadBlockData(runs[0].flat()[0], buf); err != nil {
			return fmt.Errorf("register read from %s failed: %w", addr, err)
		}
		if len(runs[1].bufs) > 1 {
			runs[1].scatter(buf)
		}
	default:
		return fmt.Errorf("%w: %d direction changes", ErrUnsupportedSequence, len(runs)-1)
	}
	return nil
}

func (b *GobotBus) connection(addr i2c.Addr) (gi2c.Connection, error) {
	if conn, ok := b.conns[addr.Value()]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(addr.Value()), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	b.conns[addr.Value()] = conn
	return conn, nil
}

func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for _, conn := range b.conns {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	b.conns = map[uint16]gi2c.Connection{}
	return err
}

// GobotSPI adapts a gobot SPI connection into spi.Bus. The gobot
// surface frames one chip-select cycle per call, so only a plain
// write, a plain read or a write followed by a read can run as one
// transaction. Full-duplex transfers are not expressible through it.
type GobotSPI struct {
	mx   sync.Mutex
	conn gspi.Connection
}

var _ spi.Bus = (*GobotSPI)(nil)

// NewGobotSPI wraps an established connection, typically obtained
// from an adaptor's GetSpiConnection.
func NewGobotSPI(conn gspi.Connection) *GobotSPI {
	return &GobotSPI{conn: conn}
}

func (s *GobotSPI) Read(ctx context.Context, buf []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Read(buf)})
}

func (s *GobotSPI) Write(ctx context.Context, p []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Write(p)})
}

func (s *GobotSPI) Transfer(ctx context.Context, rd, wr []byte) error {
	return s.Exec(ctx, []spi.Operation{spi.Transfer(rd, wr)})
}

func (s *GobotSPI) Exec(ctx context.Context, ops []spi.Operation) error {
	if len(ops) == 0 {
		return spi.ErrNoOperations
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	switch {
	case len(ops) == 1 && len(ops[0].In()) == 0:
		if err := s.conn.WriteBytes(ops[0].Out()); err != nil {
			return fmt.Errorf("spi write failed: %w", err)
		}
	case len(ops) == 1 && len(ops[0].Out()) == 0:
		if err := s.conn.ReadCommandData(nil, ops[0].In()); err != nil {
			return fmt.Errorf("spi read failed: %w", err)
		}
	case len(ops) == 2 && len(ops[0].In()) == 0 && len(ops[1].Out()) == 0:
		if err := s.conn.ReadCommandData(ops[0].Out(), ops[1].In()); err != nil {
			return fmt.Errorf("spi command read failed: %w", err)
		}
	default:
		return fmt.Errorf("%w: full-duplex transfer", ErrUnsupportedSequence)
	}
	return nil
}

func (s *GobotSPI) Close() error {
	return s.conn.Close()
}
