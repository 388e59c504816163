package addr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinkAddress(t *testing.T) {
	a, err := ParseLinkAddress("00:1a:2B:3c:4d:5e")
	require.NoError(t, err)
	assert.Equal(t, LinkAddress{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}, a)
	assert.Equal(t, "00:1A:2B:3C:4D:5E", a.String())

	again, err := ParseLinkAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestParseLinkAddressInvalid(t *testing.T) {
	cases := []string{
		"",
		"00:11:22:33:44",
		"00:11:22:33:44:55:66",
		"00:11:22:33:44:zz",
		"00:11:22:33:44:555",
		"00::22:33:44:55",
		"00-11-22-33-44-55",
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			_, err := ParseLinkAddress(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat))
			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestLinkAddressFromBytes(t *testing.T) {
	a, err := LinkAddressFromBytes([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, a.Bytes())

	_, err = LinkAddressFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLinkAddressConstants(t *testing.T) {
	assert.True(t, BroadcastLinkAddress.IsBroadcast())
	assert.True(t, ZeroLinkAddress.IsZero())
	assert.Equal(t, "FF:FF:FF:FF:FF:FF", BroadcastLinkAddress.String())
	assert.Equal(t, "00:00:00:00:00:00", ZeroLinkAddress.String())
}

func TestParseNetworkAddress(t *testing.T) {
	a, err := ParseNetworkAddress("192.168.1.20")
	require.NoError(t, err)
	assert.Equal(t, NetworkAddress{192, 168, 1, 20}, a)
	assert.Equal(t, "192.168.1.20", a.String())

	b, err := NetworkAddressFromBytes(a.Bytes())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseNetworkAddressInvalid(t *testing.T) {
	cases := []string{
		"",
		"1.2.3",
		"1.2.3.4.5",
		"1.2.3.256",
		"1.2..4",
		"1.2.3.4 ",
		" 1.2.3.4",
		"1.2.3.a",
		"1.2.3.-1",
		"1.2.3.+4",
		"1.2.3.1000",
	}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			_, err := ParseNetworkAddress(c)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	_, err := NetworkAddressFromBytes([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestIsNetmask(t *testing.T) {
	cases := map[string]bool{
		"255.255.255.0":   true,
		"255.255.255.255": true,
		"0.0.0.0":         true,
		"255.255.128.0":   true,
		"128.0.0.0":       true,
		"255.0.255.0":     false,
		"0.255.255.255":   false,
		"255.255.255.1":   false,
	}
	for in, want := range cases {
		assert.Equal(t, want, MustParseNetworkAddress(in).IsNetmask(), in)
	}
}

func TestToNetwork(t *testing.T) {
	got := MustParseNetworkAddress("192.168.1.77").ToNetwork(MustParseNetworkAddress("255.255.255.0"))
	assert.Equal(t, MustParseNetworkAddress("192.168.1.0"), got)
}

func TestAddressSumType(t *testing.T) {
	var addrs []Address = []Address{
		MustParseNetworkAddress("10.0.0.1"),
		MustParseLinkAddress("02:00:00:00:00:01"),
	}
	kinds := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch a.(type) {
		case NetworkAddress:
			kinds = append(kinds, "network")
		case LinkAddress:
			kinds = append(kinds, "link")
		}
	}
	assert.Equal(t, []string{"network", "link"}, kinds)
}

func TestTextMarshaling(t *testing.T) {
	type pair struct {
		IP  NetworkAddress `json:"ip"`
		MAC LinkAddress    `json:"mac"`
	}
	in := pair{IP: MustParseNetworkAddress("10.1.2.3"), MAC: MustParseLinkAddress("aa:bb:cc:dd:ee:ff")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip":"10.1.2.3","mac":"AA:BB:CC:DD:EE:FF"}`, string(data))

	var out pair
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"ip":"10.1.2"}`), &out))
}
