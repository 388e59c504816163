package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSize(t *testing.T) {
	tests := []struct {
		name     string
		bufferMB int
		snapLen  int
		pageSize int
	}{
		{"default", 8, 1600, 4096},
		{"jumbo", 64, 9000, 4096},
		{"tiny buffer", 1, 65535, 4096},
		{"large pages", 16, 1514, 65536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, n, err := ringSize(tt.bufferMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)
			assert.Zero(t, frame%tpacketAlignment)
			assert.GreaterOrEqual(t, frame, tt.snapLen+tpacketHeaderLen)
			assert.Zero(t, block%tt.pageSize)
			assert.Zero(t, block%frame)
			assert.GreaterOrEqual(t, n, 1)
			if block <= tt.bufferMB<<20 {
				assert.LessOrEqual(t, block*n, tt.bufferMB<<20)
			}
		})
	}
}

func TestRingSizeDefault(t *testing.T) {
	frame, block, n, err := ringSize(8, 1600, 4096)
	require.NoError(t, err)
	assert.Equal(t, 1664, frame)
	assert.Equal(t, 53248, block)
	assert.Equal(t, 157, n)
}

func TestRingSizeInvalid(t *testing.T) {
	for _, args := range [][3]int{{0, 1600, 4096}, {8, 0, 4096}, {8, 1600, 0}, {8, 1600, 4100}} {
		_, _, _, err := ringSize(args[0], args[1], args[2])
		assert.Error(t, err, args)
	}
}
