package transport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/layer"
)

type receiver struct {
	*layer.Base
	mu     sync.Mutex
	frames [][]byte
}

func (r *receiver) Receive(_ int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	payload, err := (&codec.ARPPacket{
		Operation: codec.ARPRequest,
		SenderMAC: addr.MustParseLinkAddress("02:00:00:00:00:01"),
		SenderIP:  addr.MustParseNetworkAddress("10.0.0.1"),
		TargetIP:  addr.MustParseNetworkAddress("10.0.0.2"),
	}).MarshalBinary()
	require.NoError(t, err)
	b, err := (&codec.EthernetFrame{
		Destination: addr.BroadcastLinkAddress,
		Source:      addr.MustParseLinkAddress("02:00:00:00:00:01"),
		Type:        codec.EtherTypeARP,
		Payload:     payload,
	}).MarshalBinary()
	require.NoError(t, err)
	return b
}

func newPort(t *testing.T, rec *Recorder) (*Port, *Memory, *receiver) {
	t.Helper()
	mem := NewMemory(16)
	p := NewPort(0, "mem0", mem, rec)
	up := &receiver{Base: layer.NewBase(layer.NameEthernet, 0)}
	p.AddUpper(up)
	up.AddLower(p)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop() })
	return p, mem, up
}

func TestPortDeliversFramesUp(t *testing.T) {
	_, mem, up := newPort(t, nil)
	frame := arpFrame(t)
	require.NoError(t, mem.Inject(frame))
	require.NoError(t, mem.Inject(frame))

	require.Eventually(t, func() bool { return up.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, frame, up.frames[0])
}

func TestPortTransmitFiltersInstance(t *testing.T) {
	p, mem, _ := newPort(t, nil)
	frame := arpFrame(t)

	require.NoError(t, p.Transmit(1, frame))
	assert.Empty(t, mem.Written())
	require.NoError(t, p.Transmit(0, frame))
	require.Len(t, mem.Written(), 1)

	require.NoError(t, p.Stop())
	assert.ErrorIs(t, p.Transmit(0, frame), ErrClosed)
	require.NoError(t, p.Stop())
}

func TestPortRecordsBothDirections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth0.pcap")
	rec, err := NewRecorder(path, 1600)
	require.NoError(t, err)
	p, mem, up := newPort(t, rec)

	frame := arpFrame(t)
	require.NoError(t, mem.Inject(frame))
	require.Eventually(t, func() bool { return up.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Transmit(0, frame))
	require.NoError(t, p.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		data, _, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Equal(t, frame, data)
	}
	_, _, err = r.ReadPacketData()
	assert.Error(t, err)
}

func TestWiredMemories(t *testing.T) {
	a, b := NewMemory(4), NewMemory(4)
	Wire(a, b)
	require.NoError(t, a.WritePacketData([]byte{1, 2, 3}))
	data, ci, err := b.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, 3, ci.CaptureLength)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, a.WritePacketData([]byte{1}), ErrClosed)
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)

	opts, err = DecodeOptions(map[string]interface{}{
		"snap_len":   "2048",
		"fanout_id":  7,
		"bpf_filter": "arp",
	})
	require.NoError(t, err)
	assert.Equal(t, 2048, opts.SnapLen)
	assert.Equal(t, uint16(7), opts.FanoutID)
	assert.Equal(t, "arp", opts.Filter)

	_, err = DecodeOptions(map[string]interface{}{"snaplen": 10})
	assert.Error(t, err)
	_, err = DecodeOptions(map[string]interface{}{"snap_len": 0})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	s := Describe(arpFrame(t))
	assert.Contains(t, s, "arp request 10.0.0.1 > 10.0.0.2")
	assert.Contains(t, s, "02:00:00:00:00:01 > ff:ff:ff:ff:ff:ff")

	p := codec.NewIPPacket(addr.MustParseNetworkAddress("10.0.0.1"), addr.MustParseNetworkAddress("10.0.0.2"), codec.IPProtocolUDP, make([]byte, 8))
	p.UpdateChecksum()
	payload, err := p.MarshalBinary()
	require.NoError(t, err)
	b, err := (&codec.EthernetFrame{
		Destination: addr.MustParseLinkAddress("02:00:00:00:00:02"),
		Source:      addr.MustParseLinkAddress("02:00:00:00:00:01"),
		Type:        codec.EtherTypeIPv4,
		Payload:     payload,
	}).MarshalBinary()
	require.NoError(t, err)
	assert.Contains(t, Describe(b), "ip 10.0.0.1 > 10.0.0.2 UDP ttl 64")
}
