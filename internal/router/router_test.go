package router

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/transport"
)

var (
	mac0  = addr.MustParseLinkAddress("02:00:00:00:00:01")
	mac1  = addr.MustParseLinkAddress("02:00:00:00:01:01")
	hostA = addr.MustParseLinkAddress("02:00:00:00:00:0a")
	hostB = addr.MustParseLinkAddress("02:00:00:00:01:0b")
)

func ip(s string) addr.NetworkAddress { return addr.MustParseNetworkAddress(s) }

func testConfig() *config.GlobalConfig {
	return &config.GlobalConfig{
		ARP: config.ARPConfig{RequestTimeout: time.Minute, AgingTimeout: time.Hour},
		Interfaces: []config.InterfaceConfig{
			{Number: 0, Device: "eth0", MAC: mac0.String(), IP: "10.0.0.1", Transport: config.TransportConfig{Type: "afpacket"}},
			{Number: 1, Device: "eth1", MAC: mac1.String(), IP: "192.168.1.1", Transport: config.TransportConfig{Type: "pcap"}},
		},
		Routes: []config.RouteConfig{
			{Destination: "192.168.1.0", Netmask: "255.255.255.0", Flags: "U", Interface: "eth1"},
			{Destination: "0.0.0.0", Netmask: "0.0.0.0", Gateway: "10.0.0.254", Flags: "UG", Interface: "eth0"},
		},
		Proxies: []config.ProxyConfig{
			{IP: "10.0.0.77", MAC: mac0.String(), Interface: "eth0"},
		},
	}
}

type fixture struct {
	router *Router
	mem    map[int]*transport.Memory
}

func newFixture(t *testing.T, cfg *config.GlobalConfig) *fixture {
	t.Helper()
	f := &fixture{mem: make(map[int]*transport.Memory)}
	open := func(ic config.InterfaceConfig) (*transport.Port, error) {
		m := transport.NewMemory(64)
		f.mem[ic.Number] = m
		return transport.NewPort(ic.Number, ic.Device, m, nil), nil
	}
	r, err := New(cfg,
		WithOpener(open),
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithDiscover(nil),
	)
	require.NoError(t, err)
	f.router = r
	t.Cleanup(func() { r.Stop() })
	return f
}

func ethFrame(t *testing.T, dst, src addr.LinkAddress, et codec.EtherType, payload []byte) []byte {
	t.Helper()
	b, err := (&codec.EthernetFrame{Destination: dst, Source: src, Type: et, Payload: payload}).MarshalBinary()
	require.NoError(t, err)
	return b
}

func arpFrame(t *testing.T, dst addr.LinkAddress, p *codec.ARPPacket) []byte {
	t.Helper()
	payload, err := p.MarshalBinary()
	require.NoError(t, err)
	return ethFrame(t, dst, p.SenderMAC, codec.EtherTypeARP, payload)
}

// written decodes the frames written to interface n with ether type et.
func (f *fixture) written(n int, et codec.EtherType) []*codec.EthernetFrame {
	var out []*codec.EthernetFrame
	for _, b := range f.mem[n].Written() {
		fr, err := codec.DecodeEthernet(b)
		if err == nil && fr.Type == et {
			out = append(out, fr)
		}
	}
	return out
}

func TestNewWiresStandardStacks(t *testing.T) {
	f := newFixture(t, testConfig())
	reg := f.router.Registry()

	for _, n := range []int{0, 1} {
		eth := reg.Get(layer.NameEthernet, n)
		require.NotNil(t, eth)
		assert.NotNil(t, eth.Upper(layer.NameARP, n))
		assert.NotNil(t, eth.Upper(layer.NameIP, n))
		assert.NotNil(t, eth.Lower(layer.NameTransport, n))
		ipl := reg.Get(layer.NameIP, n)
		assert.NotNil(t, ipl.Upper(layer.NameRouter, 0))
		assert.NotNil(t, ipl.Lower(layer.NameARP, n))
	}
	assert.Len(t, f.router.Routes(), 2)
	require.Len(t, f.router.Proxies(), 1)
	assert.Equal(t, "eth0", f.router.Proxies()[0].Interface)

	ifs := f.router.Interfaces()
	require.Len(t, ifs, 2)
	assert.Equal(t, "eth1", ifs[1].Device)
	assert.Equal(t, "pcap", ifs[1].Transport)
}

func TestForwardAcrossInterfaces(t *testing.T) {
	f := newFixture(t, testConfig())
	f.router.Start(context.Background(), false)

	pkt := codec.NewIPPacket(ip("10.0.0.10"), ip("192.168.1.50"), codec.IPProtocolUDP, []byte("payload"))
	pkt.UpdateChecksum()
	body, err := pkt.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, f.mem[0].Inject(ethFrame(t, mac0, hostA, codec.EtherTypeIPv4, body)))

	require.Eventually(t, func() bool { return len(f.written(1, codec.EtherTypeARP)) == 1 }, time.Second, time.Millisecond)
	req, err := codec.DecodeARP(f.written(1, codec.EtherTypeARP)[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, ip("192.168.1.50"), req.TargetIP)

	require.NoError(t, f.mem[1].Inject(arpFrame(t, mac1, &codec.ARPPacket{
		Operation: codec.ARPReply,
		SenderMAC: hostB,
		SenderIP:  ip("192.168.1.50"),
		TargetMAC: mac1,
		TargetIP:  ip("192.168.1.1"),
	})))

	require.Eventually(t, func() bool { return len(f.written(1, codec.EtherTypeIPv4)) == 1 }, time.Second, time.Millisecond)
	out := f.written(1, codec.EtherTypeIPv4)[0]
	assert.Equal(t, hostB, out.Destination)
	assert.Equal(t, mac1, out.Source)
	assert.True(t, bytes.HasPrefix(out.Payload, body))
}

func TestAnswersARPForOwnAndProxiedAddresses(t *testing.T) {
	f := newFixture(t, testConfig())
	f.router.Start(context.Background(), false)

	for _, target := range []string{"10.0.0.1", "10.0.0.77"} {
		require.NoError(t, f.mem[0].Inject(arpFrame(t, addr.BroadcastLinkAddress, &codec.ARPPacket{
			Operation: codec.ARPRequest,
			SenderMAC: hostA,
			SenderIP:  ip("10.0.0.10"),
			TargetIP:  ip(target),
		})))
	}
	require.Eventually(t, func() bool { return len(f.written(0, codec.EtherTypeARP)) == 2 }, time.Second, time.Millisecond)
	for _, fr := range f.written(0, codec.EtherTypeARP) {
		assert.Equal(t, hostA, fr.Destination)
		p, err := codec.DecodeARP(fr.Payload)
		require.NoError(t, err)
		assert.Equal(t, codec.ARPReply, p.Operation)
		assert.Equal(t, mac0, p.SenderMAC)
	}
	assert.Empty(t, f.written(1, codec.EtherTypeARP))
}

func TestStartAnnounces(t *testing.T) {
	f := newFixture(t, testConfig())
	f.router.Start(context.Background(), true)

	for n, own := range map[int]addr.NetworkAddress{0: ip("10.0.0.1"), 1: ip("192.168.1.1")} {
		require.Eventually(t, func() bool { return len(f.written(n, codec.EtherTypeARP)) == 1 }, time.Second, time.Millisecond)
		p, err := codec.DecodeARP(f.written(n, codec.EtherTypeARP)[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, own, p.SenderIP)
		assert.Equal(t, own, p.TargetIP)
	}
}

func TestSendIPResolvesThenTransmits(t *testing.T) {
	f := newFixture(t, testConfig())
	f.router.Start(context.Background(), false)

	assert.ErrorIs(t, f.router.SendIP(9, ip("10.0.0.9"), codec.IPProtocolUDP, nil), ErrUnknownInstance)
	require.NoError(t, f.router.SendIP(0, ip("10.0.0.9"), codec.IPProtocolUDP, []byte("hello")))

	require.Eventually(t, func() bool { return len(f.written(0, codec.EtherTypeARP)) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.mem[0].Inject(arpFrame(t, mac0, &codec.ARPPacket{
		Operation: codec.ARPReply,
		SenderMAC: hostA,
		SenderIP:  ip("10.0.0.9"),
		TargetMAC: mac0,
		TargetIP:  ip("10.0.0.1"),
	})))

	require.Eventually(t, func() bool { return len(f.written(0, codec.EtherTypeIPv4)) == 1 }, time.Second, time.Millisecond)
	out := f.written(0, codec.EtherTypeIPv4)[0]
	assert.Equal(t, hostA, out.Destination)
	pkt, err := codec.DecodeIPv4(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.1"), pkt.Source)
	assert.Equal(t, ip("10.0.0.9"), pkt.Destination)
	assert.Equal(t, codec.IPProtocolUDP, pkt.Protocol)
	assert.Equal(t, []byte("hello"), pkt.Payload)
}

func TestAnnounceWithOverrideMAC(t *testing.T) {
	f := newFixture(t, testConfig())
	f.router.Start(context.Background(), false)

	assert.ErrorIs(t, f.router.Announce(9, nil), ErrUnknownInstance)
	require.NoError(t, f.router.Announce(1, &hostB))

	require.Eventually(t, func() bool { return len(f.written(1, codec.EtherTypeARP)) == 1 }, time.Second, time.Millisecond)
	p, err := codec.DecodeARP(f.written(1, codec.EtherTypeARP)[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, hostB, p.SenderMAC)
	assert.Equal(t, ip("192.168.1.1"), p.SenderIP)
}

func TestReloadReplacesRoutesAndProxies(t *testing.T) {
	f := newFixture(t, testConfig())

	cfg := testConfig()
	cfg.Routes = cfg.Routes[:1]
	cfg.Proxies = []config.ProxyConfig{{IP: "192.168.1.88", MAC: mac1.String(), Interface: "eth1"}}
	require.NoError(t, f.router.Reload(cfg))

	assert.Len(t, f.router.Routes(), 1)
	proxies := f.router.Proxies()
	require.Len(t, proxies, 1)
	assert.Equal(t, ip("192.168.1.88"), proxies[0].IP)

	cfg.Proxies[0].Interface = "eth7"
	assert.ErrorIs(t, f.router.Reload(cfg), ErrUnknownInterface)
	assert.Len(t, f.router.Proxies(), 1)
}

func TestOperations(t *testing.T) {
	f := newFixture(t, testConfig())

	e := f.router.Routes()[0]
	e.Interface = "eth9"
	assert.ErrorIs(t, f.router.AddRoute(e), ErrUnknownInterface)

	_, err := f.router.RemoveRoute(0)
	require.NoError(t, err)
	_, ok := f.router.RemoveRouteMatching(ip("0.0.0.0"), ip("0.0.0.0"))
	assert.True(t, ok)
	assert.Empty(t, f.router.Routes())

	_, err = f.router.ARPTables(9)
	assert.ErrorIs(t, err, ErrUnknownInstance)
	_, err = f.router.Request(9, ip("10.0.0.2"))
	assert.ErrorIs(t, err, ErrUnknownInstance)

	_, err = f.router.Request(0, ip("10.0.0.2"))
	require.NoError(t, err)
	tables, err := f.router.ARPTables(AllInstances)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Len(t, tables[0].Cache, 1)

	removed, err := f.router.RemoveCache(AllInstances, ip("10.0.0.2"))
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, f.router.ClearCache(1))

	assert.ErrorIs(t, f.router.AddProxy(ip("10.0.0.5"), mac0, "eth9"), ErrUnknownInterface)
	require.NoError(t, f.router.AddProxy(ip("10.0.0.5"), mac0, "eth0"))
	assert.True(t, f.router.RemoveProxy(ip("10.0.0.5")))
	assert.False(t, f.router.RemoveProxy(ip("10.0.0.5")))
}

func TestNewFailsOnBadWiring(t *testing.T) {
	cfg := testConfig()
	cfg.Wiring = []string{"Ethernet0 ( +ARP5 )"}
	_, err := New(cfg,
		WithOpener(func(ic config.InterfaceConfig) (*transport.Port, error) {
			return transport.NewPort(ic.Number, ic.Device, transport.NewMemory(1), nil), nil
		}),
	)
	assert.ErrorIs(t, err, layer.ErrUnknownNode)
}
