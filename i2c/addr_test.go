package i2c

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddr_WireBytes(t *testing.T) {
	cases := []struct {
		name string
		addr Addr
		dir  Direction
		want []byte
	}{
		{name: "7-bit write", addr: Addr7(0x15), dir: DirWrite, want: []byte{0x2A}},
		{name: "7-bit read", addr: Addr7(0x15), dir: DirRead, want: []byte{0x2B}},
		{name: "7-bit zero", addr: Addr7(0x00), dir: DirWrite, want: []byte{0x00}},
		{name: "7-bit top", addr: Addr7(0x7F), dir: DirRead, want: []byte{0xFF}},
		{name: "10-bit read", addr: Addr10(0x158), dir: DirRead, want: []byte{0xF3, 0x58}},
		{name: "10-bit write", addr: Addr10(0x158), dir: DirWrite, want: []byte{0xF2, 0x58}},
		{name: "10-bit low range", addr: Addr10(0x012), dir: DirWrite, want: []byte{0xF0, 0x12}},
		{name: "10-bit top", addr: Addr10(0x3FF), dir: DirRead, want: []byte{0xF7, 0xFF}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.addr.WireBytes(tc.dir))
		})
	}
}

func TestAddr_Validate(t *testing.T) {
	assert.NoError(t, Addr7(0x7F).Validate())
	assert.NoError(t, Addr10(0x3FF).Validate())
	assert.ErrorIs(t, Addr7(0x80).Validate(), ErrAddressRange)
	assert.ErrorIs(t, Addr10(0x400).Validate(), ErrAddressRange)

	var zero Addr
	assert.NoError(t, zero.Validate())
	assert.Equal(t, SevenBit, zero.Mode())
}

func TestAddr_String(t *testing.T) {
	assert.Equal(t, "0x15", Addr7(0x15).String())
	assert.Equal(t, "0x158/10", Addr10(0x158).String())
	assert.Equal(t, "7-bit", SevenBit.String())
	assert.Equal(t, "10-bit", TenBit.String())
}
