package layer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strouter/internal/addr"
)

type plainNode struct{ *Base }

func newPlain(name string, number int) *plainNode { return &plainNode{NewBase(name, number)} }

type identityNode struct {
	*Base
	mac addr.LinkAddress
	ip  addr.NetworkAddress
}

func (n *identityNode) MAC() addr.LinkAddress { return n.mac }
func (n *identityNode) IP() addr.NetworkAddress { return n.ip }
func (n *identityNode) Interface() string { return "eth" }

func newRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range names {
		id, err := ParseID(s)
		require.NoError(t, err)
		require.NoError(t, r.Put(newPlain(id.Name, id.Number)))
	}
	return r
}

func TestParseID(t *testing.T) {
	id, err := ParseID("Ethernet12")
	require.NoError(t, err)
	assert.Equal(t, ID{Name: "Ethernet", Number: 12}, id)
	assert.Equal(t, "Ethernet12", id.String())

	for _, bad := range []string{"", "Ethernet", "12", "+"} {
		_, err := ParseID(bad)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), bad)
	}
}

func TestBaseNeighbours(t *testing.T) {
	eth := newPlain(NameEthernet, 0)
	arp := newPlain(NameARP, 0)
	ip := newPlain(NameIP, 0)

	eth.AddUpper(ip)
	eth.AddUpper(arp)
	assert.Equal(t, Node(arp), eth.Upper(NameARP, 0))
	assert.Nil(t, eth.Upper(NameARP, 1))
	assert.Equal(t, []Node{arp, ip}, eth.Uppers())
	assert.Empty(t, eth.Lowers())

	eth.RemoveUpper(arp.ID())
	assert.Nil(t, eth.Upper(NameARP, 0))
	assert.Equal(t, []Node{ip}, eth.Uppers())
}

func TestConnect(t *testing.T) {
	r := newRegistry(t, "NI0", "Ethernet0", "ARP0", "IP0", "Router0")
	require.NoError(t, r.Connect("NI0 ( +Ethernet0 )"))
	require.NoError(t, r.Connect("Ethernet0 ( +ARP0 +IP0 ( -ARP0 +Router0 ) )"))

	ni := r.Get(NameTransport, 0)
	eth := r.Get(NameEthernet, 0)
	arp := r.Get(NameARP, 0)
	ip := r.Get(NameIP, 0)
	router := r.Get(NameRouter, 0)

	assert.Equal(t, eth, ni.Upper(NameEthernet, 0))
	assert.Equal(t, ni, eth.Lower(NameTransport, 0))
	assert.Equal(t, []Node{arp, ip}, eth.Uppers())
	assert.Equal(t, eth, arp.Lower(NameEthernet, 0))
	assert.Equal(t, eth, ip.Lower(NameEthernet, 0))
	assert.Equal(t, arp, ip.Lower(NameARP, 0))
	assert.Equal(t, ip, arp.Upper(NameIP, 0))
	assert.Equal(t, router, ip.Upper(NameRouter, 0))
	assert.Equal(t, ip, router.Lower(NameIP, 0))
}

func TestConnectErrors(t *testing.T) {
	r := newRegistry(t, "Ethernet0", "ARP0")

	var pe *ParseError
	err := r.Connect("Ethernet0 ( *ARP0 )")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Pos)

	assert.ErrorIs(t, r.Connect("Ethernet0 ( +ARP1 )"), ErrUnknownNode)
	assert.ErrorIs(t, r.Connect("Nothing0"), ErrUnknownNode)
	assert.ErrorIs(t, r.Connect("Ethernet0 +ARP0"), ErrEmptyStack)
	assert.ErrorIs(t, r.Connect("Ethernet0 ( +ARP0 ) )"), ErrEmptyStack)
	assert.True(t, errors.As(r.Connect(""), &pe))
	assert.True(t, errors.As(r.Connect("Ethernet0 ( +ARP"), &pe))
}

func TestRegistry(t *testing.T) {
	r := newRegistry(t, "Ethernet1", "Ethernet0", "ARP0")
	assert.ErrorIs(t, r.Put(newPlain(NameEthernet, 0)), ErrDuplicateNode)

	eths := r.ByName(NameEthernet)
	require.Len(t, eths, 2)
	assert.Equal(t, 0, eths[0].ID().Number)
	assert.Equal(t, 1, eths[1].ID().Number)
	assert.Len(t, r.All(), 3)

	_, err := r.Identity(0)
	assert.ErrorIs(t, err, ErrNoIdentity)

	idn := &identityNode{Base: NewBase(NameIdentity, 0), mac: addr.MustParseLinkAddress("02:00:00:00:00:01"), ip: addr.MustParseNetworkAddress("10.0.0.1")}
	require.NoError(t, r.Put(idn))
	got, err := r.Identity(0)
	require.NoError(t, err)
	assert.Equal(t, idn.ip, got.IP())
	assert.Len(t, r.Identities(), 1)
}
