package ethernet

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/layer"
)

var (
	ownMAC  = addr.MustParseLinkAddress("02:00:00:00:00:01")
	peerMAC = addr.MustParseLinkAddress("02:00:00:00:00:02")
)

type identity struct{ *layer.Base }

func (identity) MAC() addr.LinkAddress   { return ownMAC }
func (identity) IP() addr.NetworkAddress { return addr.MustParseNetworkAddress("10.0.0.1") }
func (identity) Interface() string       { return "eth0" }

type transport struct {
	*layer.Base
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (t *transport) Transmit(_ int, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, frame)
	return t.err
}

type sink struct {
	*layer.Base
	got [][]byte
}

func (s *sink) Receive(_ int, data []byte) { s.got = append(s.got, data) }

type fixture struct {
	eth *Layer
	ni  *transport
	ip  *sink
	arp *sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := layer.NewRegistry()
	f := &fixture{
		eth: New(0, reg),
		ni:  &transport{Base: layer.NewBase(layer.NameTransport, 0)},
		ip:  &sink{Base: layer.NewBase(layer.NameIP, 0)},
		arp: &sink{Base: layer.NewBase(layer.NameARP, 0)},
	}
	for _, n := range []layer.Node{identity{layer.NewBase(layer.NameIdentity, 0)}, f.eth, f.ni, f.ip, f.arp} {
		require.NoError(t, reg.Put(n))
	}
	require.NoError(t, reg.Connect("NI0 ( +Ethernet0 ( +ARP0 +IP0 ) )"))
	return f
}

func frame(t *testing.T, dst, src addr.LinkAddress, et codec.EtherType, payload []byte) []byte {
	t.Helper()
	b, err := (&codec.EthernetFrame{Destination: dst, Source: src, Type: et, Payload: payload}).MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestSendFramesFromOwnMAC(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eth.Send(0, peerMAC, []byte{1, 2, 3}, codec.EtherTypeIPv4))

	require.Len(t, f.ni.frames, 1)
	got, err := codec.DecodeEthernet(f.ni.frames[0])
	require.NoError(t, err)
	assert.Equal(t, peerMAC, got.Destination)
	assert.Equal(t, ownMAC, got.Source)
	assert.Equal(t, codec.EtherTypeIPv4, got.Type)
	assert.Len(t, f.ni.frames[0], codec.EthernetHeaderLen+codec.EthernetMinPayload)
}

func TestSendReportsTransportErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.ni.err = boom
	assert.ErrorIs(t, f.eth.Send(0, peerMAC, nil, codec.EtherTypeARP), boom)

	err := New(1, layer.NewRegistry()).Send(1, peerMAC, nil, codec.EtherTypeARP)
	assert.ErrorIs(t, err, layer.ErrNoIdentity)
}

func TestSendWithoutTransport(t *testing.T) {
	reg := layer.NewRegistry()
	eth := New(0, reg)
	require.NoError(t, reg.Put(identity{layer.NewBase(layer.NameIdentity, 0)}))
	assert.ErrorIs(t, eth.Send(0, peerMAC, nil, codec.EtherTypeARP), ErrNoTransport)
}

func TestReceiveDispatch(t *testing.T) {
	f := newFixture(t)
	payload := []byte{0xde, 0xad}

	f.eth.Receive(0, frame(t, ownMAC, peerMAC, codec.EtherTypeIPv4, payload))
	f.eth.Receive(0, frame(t, addr.BroadcastLinkAddress, peerMAC, codec.EtherTypeARP, payload))
	require.Len(t, f.ip.got, 1)
	require.Len(t, f.arp.got, 1)
	assert.Equal(t, payload, f.ip.got[0][:2])

	tests := []struct {
		name string
		data []byte
	}{
		{"own source", frame(t, addr.BroadcastLinkAddress, ownMAC, codec.EtherTypeARP, payload)},
		{"other destination", frame(t, peerMAC, peerMAC, codec.EtherTypeIPv4, payload)},
		{"unknown ether type", frame(t, ownMAC, peerMAC, codec.EtherType(0x86dd), payload)},
		{"short", []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.eth.Receive(0, tt.data)
			assert.Len(t, f.ip.got, 1)
			assert.Len(t, f.arp.got, 1)
		})
	}
}
