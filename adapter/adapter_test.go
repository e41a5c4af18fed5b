package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/buskit/i2c"
)

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name  string
		ops   []i2c.Operation
		dirs  []i2c.Direction
		sizes []int
	}{
		{
			name:  "single write",
			ops:   []i2c.Operation{i2c.Write([]byte{1, 2})},
			dirs:  []i2c.Direction{i2c.DirWrite},
			sizes: []int{2},
		},
		{
			name: "adjacent same direction merges",
			ops: []i2c.Operation{
				i2c.Write([]byte{1}),
				i2c.Write([]byte{2, 3}),
				i2c.Read(make([]byte, 2)),
			},
			dirs:  []i2c.Direction{i2c.DirWrite, i2c.DirRead},
			sizes: []int{3, 2},
		},
		{
			name: "alternating directions",
			ops: []i2c.Operation{
				i2c.Write([]byte{1}),
				i2c.Read(make([]byte, 1)),
				i2c.Write([]byte{2}),
			},
			dirs:  []i2c.Direction{i2c.DirWrite, i2c.DirRead, i2c.DirWrite},
			sizes: []int{1, 1, 1},
		},
		{
			name: "zero length still partitions",
			ops: []i2c.Operation{
				i2c.Write(nil),
				i2c.Read(make([]byte, 1)),
			},
			dirs:  []i2c.Direction{i2c.DirWrite, i2c.DirRead},
			sizes: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := coalesce(tt.ops)
			require.Len(t, runs, len(tt.dirs))
			for i, r := range runs {
				assert.Equal(t, tt.dirs[i], r.dir)
				assert.Equal(t, tt.sizes[i], r.size)
			}
		})
	}
}

func TestRunGatherScatter(t *testing.T) {
	runs := coalesce([]i2c.Operation{
		i2c.Write([]byte{1}),
		i2c.Write([]byte{2, 3}),
	})
	require.Len(t, runs, 1)
	assert.Equal(t, []byte{1, 2, 3}, runs[0].flat())

	r1 := make([]byte, 1)
	r2 := make([]byte, 2)
	runs = coalesce([]i2c.Operation{i2c.Read(r1), i2c.Read(r2)})
	require.Len(t, runs, 1)
	buf := runs[0].flat()
	copy(buf, []byte{0xAA, 0xBB, 0xCC})
	runs[0].scatter(buf)
	assert.Equal(t, []byte{0xAA}, r1)
	assert.Equal(t, []byte{0xBB, 0xCC}, r2)
}

func TestRunFlatBorrowsSingleBuffer(t *testing.T) {
	p := []byte{1, 2, 3}
	runs := coalesce([]i2c.Operation{i2c.Write(p)})
	require.Len(t, runs, 1)
	flat := runs[0].flat()
	assert.Same(t, &p[0], &flat[0])
}
