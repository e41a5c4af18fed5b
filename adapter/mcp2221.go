package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/buskit/i2c"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

var ErrCommandFailed = errors.New("command failed")

const (
	cmdStatus       = 0x10
	cmdGetData      = 0x40
	cmdWrite        = 0x90
	cmdRead         = 0x91
	cmdReadRepStart = 0x93
	cmdWriteNoStop  = 0x94
)

// Internal I2C engine states reported in the status response.
const (
	stateIdle            = 0x00
	stateStartTimeout    = 0x12
	stateRepStartTimeout = 0x17
	stateAddrTimeout     = 0x23
	stateAddrNACK        = 0x25
	stateWriteTimeout    = 0x44
	stateWritingNoStop   = 0x45
	stateReadTimeout     = 0x52
	stateStopTimeout     = 0x62
)

// The HID frame is 64 bytes; transfers carry a command header in the
// first four.
const mcpTransferMax = 60

// MCP2221 drives the I2C engine of a Microchip MCP2221/MCP2221A USB
// bridge and implements i2c.Bus. The controller frames transactions on
// its own, so the adapter maps coalesced runs onto the chip's command
// set: a single write, a single read, or a write followed by a
// repeated-start read. Other patterns fail with ErrUnsupportedSequence
// and 10-bit addresses with ErrTenBitAddress.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	index        int
	responseWait time.Duration
	engineWait   time.Duration
}

var _ i2c.Bus = (*MCP2221)(nil)

type MCP2221Option func(*MCP2221)

// WithDeviceIndex selects one bridge when several are plugged in.
func WithDeviceIndex(i int) MCP2221Option {
	return func(d *MCP2221) { d.index = i }
}

// WithResponseWait overrides the pause between a command and its
// response read.
func WithResponseWait(wait time.Duration) MCP2221Option {
	return func(d *MCP2221) { d.responseWait = wait }
}

func NewMCP2221(opts ...MCP2221Option) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		index:        -1,
		responseWait: 50 * time.Millisecond,
		engineWait:   250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MCP2221Status is the controller state from a status command.
type MCP2221Status struct {
	EngineState            byte
	I2CDataBufferCounter   int
	I2CSpeedDivider        int
	I2CTimeout             int
	CurrentAddress         string
	LastWriteRequestedSize uint16
	LastWriteSentSize      uint16
	ReadPending            int
}

func (d *MCP2221) Read(ctx context.Context, addr i2c.Addr, buf []byte) error {
	return d.Exec(ctx, addr, []i2c.Operation{i2c.Read(buf)})
}

func (d *MCP2221) Write(ctx context.Context, addr i2c.Addr, p []byte) error {
	return d.Exec(ctx, addr, []i2c.Operation{i2c.Write(p)})
}

func (d *MCP2221) WriteRead(ctx context.Context, addr i2c.Addr, w, r []byte) error {
	return d.Exec(ctx, addr, []i2c.Operation{i2c.Write(w), i2c.Read(r)})
}

func (d *MCP2221) Exec(ctx context.Context, addr i2c.Addr, ops []i2c.Operation) error {
	if len(ops) == 0 {
		return i2c.ErrNoOperations
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	if addr.Mode() == i2c.TenBit {
		return ErrTenBitAddress
	}
	runs := coalesce(ops)
	d.mx.Lock()
	defer d.mx.Unlock()
	switch {
	case len(runs) == 1 && runs[0].dir == i2c.DirWrite:
		return d.write(ctx, cmdWrite, addr, runs[0])
	case len(runs) == 1 && runs[0].dir == i2c.DirRead:
		return d.read(ctx, cmdRead, addr, runs[0])
	case len(runs) == 2 && runs[0].dir == i2c.DirWrite:
		if err := d.write(ctx, cmdWriteNoStop, addr, runs[0]); err != nil {
			return err
		}
		return d.read(ctx, cmdReadRepStart, addr, runs[1])
	}
	return fmt.Errorf("%w: %d direction changes", ErrUnsupportedSequence, len(runs)-1)
}

func (d *MCP2221) write(ctx context.Context, cmd byte, addr i2c.Addr, r run) error {
	if r.size > mcpTransferMax {
		return fmt.Errorf("%w: write of %d bytes", ErrTransferTooLarge, r.size)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(r.size))
	d.request[3] = addr.WireBytes(i2c.DirWrite)[0]
	r.gather(d.request[4:])
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %s failed: %w", addr, err)
	}
	if d.response[1] == 0x01 {
		slog.DebugContext(ctx, "adapter busy")
		return ErrBusBusy
	}
	return d.awaitIdle(ctx, cmd, addr)
}

func (d *MCP2221) read(ctx context.Context, cmd byte, addr i2c.Addr, r run) error {
	if r.size > mcpTransferMax {
		return fmt.Errorf("%w: read of %d bytes", ErrTransferTooLarge, r.size)
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(r.size))
	d.request[3] = addr.WireBytes(i2c.DirRead)[0]
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %s failed: %w", addr, err)
	}
	if d.response[1] == 0x01 {
		return ErrBusBusy
	}
	deadline := time.Now().Add(d.engineWait)
	for {
		d.request[0] = cmdGetData
		resetBuffer(d.response)
		err = d.send(ctx)
		if err != nil {
			return fmt.Errorf("error getting read data from adapter: %w", err)
		}
		if d.response[1] != 0x41 {
			break
		}
		// The engine has not finished the transfer; that includes a
		// peripheral that never acknowledged its address.
		st, err := d.status(ctx)
		if err != nil {
			return err
		}
		if st.EngineState == stateAddrNACK {
			_ = d.cancel(ctx)
			return i2c.NewNackError(i2c.NackAddress, nil)
		}
		if time.Now().After(deadline) {
			_ = d.cancel(ctx)
			return i2c.NewError(i2c.KindBus, fmt.Errorf("read did not complete, engine state 0x%02X", st.EngineState))
		}
		if err := d.pause(ctx, time.Millisecond); err != nil {
			return err
		}
	}
	if d.response[3] == 127 || int(d.response[3]) != r.size {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", r.size, d.response[3])
	}
	r.scatter(d.response[4 : 4+r.size])
	return nil
}

// awaitIdle polls the controller until the I2C engine settles after a
// write command, translating terminal fault states into the error
// taxonomy. A no-stop write settles in its dedicated holding state.
func (d *MCP2221) awaitIdle(ctx context.Context, cmd byte, addr i2c.Addr) error {
	deadline := time.Now().Add(d.engineWait)
	for {
		st, err := d.status(ctx)
		if err != nil {
			return err
		}
		switch {
		case st.EngineState == stateIdle:
			return nil
		case cmd == cmdWriteNoStop && st.EngineState == stateWritingNoStop:
			return nil
		case st.EngineState == stateAddrNACK:
			_ = d.cancel(ctx)
			return i2c.NewNackError(i2c.NackAddress, nil)
		case timedOut(st.EngineState):
			_ = d.cancel(ctx)
			return i2c.NewError(i2c.KindBus, fmt.Errorf("engine state 0x%02X", st.EngineState))
		}
		if time.Now().After(deadline) {
			_ = d.cancel(ctx)
			return i2c.NewError(i2c.KindBus, fmt.Errorf("write to %s did not settle, engine state 0x%02X", addr, st.EngineState))
		}
		if err := d.pause(ctx, time.Millisecond); err != nil {
			return err
		}
	}
}

func timedOut(state byte) bool {
	switch state {
	case stateStartTimeout, stateRepStartTimeout, stateAddrTimeout,
		stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return true
	}
	return false
}

// Status reports the controller and I2C engine state.
func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8:  Internal I2C state machine value
		9:  Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		EngineState:          buffer[8],
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Recover cancels whatever transfer the I2C engine is stuck in and
// forces it back to idle. Callers use it after a failed transaction
// before starting a new one.
func (d *MCP2221) Recover(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.cancel(ctx)
}

func (d *MCP2221) cancel(ctx context.Context) error {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = 0x10
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	if d.response[1] == 0x01 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) send(ctx context.Context) error {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return fmt.Errorf("MCP2221 device not found")
	}
	if len(devs) > 1 && d.index < 0 {
		return fmt.Errorf("ambiguous device identification")
	}
	idx := d.index
	if idx < 0 {
		idx = 0
	}
	if idx >= len(devs) {
		return fmt.Errorf("no device with index %d", idx)
	}
	dev, err := devs[idx].Open()
	if err != nil {
		return fmt.Errorf("error opening device: %w", err)
	}
	defer dev.Close()
	slog.DebugContext(ctx, "sending message to adapter", "dump", hex.Dump(d.request))
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if err := d.pause(ctx, d.responseWait); err != nil {
		return err
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	slog.DebugContext(ctx, "read message from adapter", "dump", hex.Dump(d.response))
	return nil
}

func (d *MCP2221) pause(ctx context.Context, wait time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := 0; i < len(buf)-1; i++ {
		buf[i] = 0x00
	}
}
