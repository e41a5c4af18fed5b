package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/i2c"
)

func TestBufferToStatus(t *testing.T) {
	buf := make([]byte, 64)
	buf[8] = stateAddrNACK
	buf[9], buf[10] = 0x05, 0x01
	buf[11], buf[12] = 0x42, 0x00
	buf[13] = 7
	buf[14] = 0x75
	buf[15] = 30
	buf[16], buf[17] = 0x2A, 0x00
	buf[25] = 2

	st := bufferToStatus(buf)
	assert.Equal(t, byte(stateAddrNACK), st.EngineState)
	assert.Equal(t, uint16(261), st.LastWriteRequestedSize)
	assert.Equal(t, uint16(66), st.LastWriteSentSize)
	assert.Equal(t, 7, st.I2CDataBufferCounter)
	assert.Equal(t, 0x75, st.I2CSpeedDivider)
	assert.Equal(t, 30, st.I2CTimeout)
	assert.Equal(t, "2a00", st.CurrentAddress)
	assert.Equal(t, 2, st.ReadPending)
}

func TestTimedOut(t *testing.T) {
	for _, state := range []byte{
		stateStartTimeout, stateRepStartTimeout, stateAddrTimeout,
		stateWriteTimeout, stateReadTimeout, stateStopTimeout,
	} {
		assert.True(t, timedOut(state), "state 0x%02X", state)
	}
	for _, state := range []byte{stateIdle, stateWritingNoStop, stateAddrNACK} {
		assert.False(t, timedOut(state), "state 0x%02X", state)
	}
}

// The rejection paths settle before any USB traffic, so they run
// without a bridge plugged in.
func TestMCP2221ExecRejections(t *testing.T) {
	d := NewMCP2221()
	ctx := context.Background()
	addr := i2c.Addr7(0x15)

	tests := []struct {
		name string
		addr i2c.Addr
		ops  []i2c.Operation
		want error
	}{
		{
			name: "empty transaction",
			addr: addr,
			want: i2c.ErrNoOperations,
		},
		{
			name: "address out of range",
			addr: i2c.Addr7(0x80),
			ops:  []i2c.Operation{i2c.Read(make([]byte, 1))},
			want: i2c.ErrAddressRange,
		},
		{
			name: "ten bit address",
			addr: i2c.Addr10(0x158),
			ops:  []i2c.Operation{i2c.Read(make([]byte, 1))},
			want: ErrTenBitAddress,
		},
		{
			name: "read then write",
			addr: addr,
			ops: []i2c.Operation{
				i2c.Read(make([]byte, 1)),
				i2c.Write([]byte{0x01}),
			},
			want: ErrUnsupportedSequence,
		},
		{
			name: "write read write",
			addr: addr,
			ops: []i2c.Operation{
				i2c.Write([]byte{0x01}),
				i2c.Read(make([]byte, 1)),
				i2c.Write([]byte{0x02}),
			},
			want: ErrUnsupportedSequence,
		},
		{
			name: "oversize write",
			addr: addr,
			ops:  []i2c.Operation{i2c.Write(make([]byte, mcpTransferMax+1))},
			want: ErrTransferTooLarge,
		},
		{
			name: "oversize read",
			addr: addr,
			ops:  []i2c.Operation{i2c.Read(make([]byte, mcpTransferMax+1))},
			want: ErrTransferTooLarge,
		},
		{
			name: "coalesced writes exceed transfer limit",
			addr: addr,
			ops: []i2c.Operation{
				i2c.Write(make([]byte, 31)),
				i2c.Write(make([]byte, 31)),
			},
			want: ErrTransferTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Exec(ctx, tt.addr, tt.ops)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
