package probe

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestCollectEntriesStopsWhenChannelCloses(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry, 2)
	entries <- &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "Living Room TV"},
		HostName:      "tv.local.",
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.30")},
	}
	// Entries without an IPv4 address are skipped.
	entries <- &zeroconf.ServiceEntry{HostName: "no-address.local."}
	close(entries)

	var mu sync.Mutex
	names := make(map[string]string)

	done := make(chan struct{})
	go func() {
		collectEntries(entries, names, &mu)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after the channel closed")
	}
	assert.Equal(t, map[string]string{"192.168.1.30": "Living Room TV"}, names)
}

func TestCollectEntriesFallsBackToHostName(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry, 1)
	entries <- &zeroconf.ServiceEntry{
		HostName: "printer.local.",
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.31")},
	}
	close(entries)

	var mu sync.Mutex
	names := make(map[string]string)
	collectEntries(entries, names, &mu)

	assert.Equal(t, map[string]string{"192.168.1.31": "printer"}, names)
}
