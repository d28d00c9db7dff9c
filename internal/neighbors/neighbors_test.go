package neighbors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const darwinARPOutput = `? (192.168.1.1) at a0:b1:c2:d3:e4:f5 on en0 ifscope [ethernet]
? (192.168.1.42) at 8:f5:9e:1:2:3 on en0 ifscope [ethernet]
? (192.168.1.99) at (incomplete) on en0 ifscope [ethernet]
? (192.168.1.255) at ff:ff:ff:ff:ff:ff on en0 ifscope [ethernet]
? (224.0.0.251) at 1:0:5e:0:0:fb on en0 ifscope permanent [ethernet]
`

func TestParseDarwinARP(t *testing.T) {
	entries := parseDarwinARP(darwinARPOutput)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{IP: "192.168.1.1", MAC: "a0:b1:c2:d3:e4:f5"}, entries[0])
	// Single-digit octets are zero-padded
	assert.Equal(t, Entry{IP: "192.168.1.42", MAC: "08:f5:9e:01:02:03"}, entries[1])
	assert.Equal(t, Entry{IP: "224.0.0.251", MAC: "01:00:5e:00:00:fb"}, entries[2])
}

func TestParseDarwinARP_Empty(t *testing.T) {
	assert.Empty(t, parseDarwinARP(""))
	assert.Empty(t, parseDarwinARP("garbage with no parens\n"))
}

func TestParseDarwinRoute(t *testing.T) {
	out := `   route to: default
destination: default
       mask: default
    gateway: 192.168.1.1
  interface: en0
`
	assert.Equal(t, "192.168.1.1", parseDarwinRoute(out))
	assert.Empty(t, parseDarwinRoute("interface: en0\n"))
}

const ipNeighOutput = `192.168.1.1 dev eth0 lladdr a0:b1:c2:d3:e4:f5 REACHABLE
192.168.1.23 dev eth0 lladdr b8:27:eb:aa:bb:cc STALE
192.168.1.99 dev eth0 FAILED
192.168.1.255 dev eth0 lladdr ff:ff:ff:ff:ff:ff PERMANENT
fe80::1 dev eth0 lladdr a0:b1:c2:d3:e4:f5 router REACHABLE
`

func TestParseIPNeigh(t *testing.T) {
	entries := parseIPNeigh(ipNeighOutput)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{IP: "192.168.1.1", MAC: "a0:b1:c2:d3:e4:f5"}, entries[0])
	assert.Equal(t, Entry{IP: "192.168.1.23", MAC: "b8:27:eb:aa:bb:cc"}, entries[1])
	assert.Equal(t, Entry{IP: "fe80::1", MAC: "a0:b1:c2:d3:e4:f5"}, entries[2])
}

func TestParseLinuxRoute(t *testing.T) {
	out := "default via 192.168.1.1 dev eth0 proto dhcp metric 100\n"
	assert.Equal(t, "192.168.1.1", parseLinuxRoute(out))
	assert.Empty(t, parseLinuxRoute(""))
	assert.Empty(t, parseLinuxRoute("default dev ppp0 scope link\n"))
}

const windowsARPOutput = `
Interface: 192.168.1.50 --- 0x4
  Internet Address      Physical Address      Type
  192.168.1.1           a0-b1-c2-d3-e4-f5     dynamic
  192.168.1.30          b8-27-eb-aa-bb-cc     dynamic
  192.168.1.255         ff-ff-ff-ff-ff-ff     static
  224.0.0.22            01-00-5e-00-00-16     static
`

func TestParseWindowsARP(t *testing.T) {
	entries := parseWindowsARP(windowsARPOutput)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{IP: "192.168.1.1", MAC: "a0:b1:c2:d3:e4:f5"}, entries[0])
	assert.Equal(t, Entry{IP: "192.168.1.30", MAC: "b8:27:eb:aa:bb:cc"}, entries[1])
	assert.Equal(t, Entry{IP: "224.0.0.22", MAC: "01:00:5e:00:00:16"}, entries[2])
}

func TestParseWindowsRoute(t *testing.T) {
	out := `IPv4 Route Table
===========================================================================
Active Routes:
Network Destination        Netmask          Gateway       Interface  Metric
          0.0.0.0          0.0.0.0      192.168.1.1     192.168.1.50     25
        127.0.0.0        255.0.0.0         On-link         127.0.0.1    331
`
	assert.Equal(t, "192.168.1.1", parseWindowsRoute(out))
	assert.Empty(t, parseWindowsRoute("Active Routes:\n"))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "a0:b1:c2:d3:e4:f5", normalizeMAC("A0:B1:C2:D3:E4:F5"))
	assert.Equal(t, "a0:b1:c2:d3:e4:f5", normalizeMAC("a0-b1-c2-d3-e4-f5"))
	assert.Equal(t, "08:05:9e:01:02:03", normalizeMAC("8:5:9e:1:2:3"))
	assert.Empty(t, normalizeMAC("a0:b1:c2"))
	assert.Empty(t, normalizeMAC("a0:b1:c2:d3:e4:f5x:extra"))
}

type fakeSource struct {
	entries []Entry
	gateway string
	nErr    error
	gwErr   error
}

func (f *fakeSource) Neighbors(ctx context.Context) ([]Entry, error) {
	return f.entries, f.nErr
}

func (f *fakeSource) DefaultGateway(ctx context.Context) (string, error) {
	return f.gateway, f.gwErr
}

func TestDiscover(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		src := &fakeSource{
			entries: []Entry{{IP: "192.168.1.1", MAC: "a0:b1:c2:d3:e4:f5"}},
			gateway: "192.168.1.1",
		}
		result := Discover(context.Background(), src)
		assert.Len(t, result.Entries, 1)
		assert.Equal(t, "192.168.1.1", result.Gateway)
	})

	t.Run("table failure yields empty result", func(t *testing.T) {
		src := &fakeSource{nErr: errors.New("arp failed"), gateway: "192.168.1.1"}
		result := Discover(context.Background(), src)
		assert.Empty(t, result.Entries)
		assert.Equal(t, "192.168.1.1", result.Gateway)
	})

	t.Run("gateway failure yields empty gateway", func(t *testing.T) {
		src := &fakeSource{
			entries: []Entry{{IP: "192.168.1.2", MAC: "b8:27:eb:aa:bb:cc"}},
			gwErr:   errors.New("route failed"),
		}
		result := Discover(context.Background(), src)
		assert.Len(t, result.Entries, 1)
		assert.Empty(t, result.Gateway)
	})
}

func TestDarwinSource_UsesRunner(t *testing.T) {
	src := &darwinSource{run: func(ctx context.Context, name string, args ...string) (string, error) {
		if name == "arp" {
			return darwinARPOutput, nil
		}
		return "gateway: 10.0.0.1\n", nil
	}}

	entries, err := src.Neighbors(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	gw, err := src.DefaultGateway(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", gw)
}

func TestNewSource(t *testing.T) {
	assert.NotNil(t, NewSource())
}
