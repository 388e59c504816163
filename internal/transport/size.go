package transport

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHeaderLen = 52
)

// ringSize picks TPACKETv3 ring geometry for a buffer of about bufferMB.
// Frames hold a header plus snapLen bytes rounded up to TPACKET_ALIGNMENT;
// a block is the smallest size that is a multiple of both the page size and
// the frame size.
func ringSize(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	switch {
	case bufferMB <= 0:
		return 0, 0, 0, fmt.Errorf("buffer_size_mb must be positive, got %d", bufferMB)
	case snapLen <= 0:
		return 0, 0, 0, fmt.Errorf("snap_len must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHeaderLen+snapLen, tpacketAlignment)
	blockSize = frameSize / gcd(pageSize, frameSize) * pageSize
	numBlocks = bufferMB << 20 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
