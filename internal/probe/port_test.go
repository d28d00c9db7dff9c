package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/db"
)

// startListener starts a TCP listener on localhost that writes banner to
// each accepted connection.
func startListener(t *testing.T, banner string) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if banner != "" {
				_, _ = conn.Write([]byte(banner))
			}
			_ = conn.Close()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestScanPort_Open(t *testing.T) {
	port := startListener(t, "SSH-2.0-OpenSSH_9.6\r\n")
	s := NewPortScanner(time.Second, time.Second, 4)

	result := s.ScanPort(context.Background(), "127.0.0.1", port)
	assert.Equal(t, db.PortStateOpen, result.State)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", result.Banner)
}

func TestScanPort_OpenNoBanner(t *testing.T) {
	port := startListener(t, "")
	s := NewPortScanner(time.Second, 100*time.Millisecond, 4)

	result := s.ScanPort(context.Background(), "127.0.0.1", port)
	assert.Equal(t, db.PortStateOpen, result.State)
	assert.Empty(t, result.Banner)
}

func TestScanPort_Closed(t *testing.T) {
	port := freePort(t)
	s := NewPortScanner(time.Second, time.Second, 4)

	result := s.ScanPort(context.Background(), "127.0.0.1", port)
	assert.Equal(t, db.PortStateClosed, result.State)
}

func TestScanPort_Filtered(t *testing.T) {
	// RFC 5737 TEST-NET-1 is unroutable, so the connect times out.
	s := NewPortScanner(100*time.Millisecond, time.Second, 4)

	result := s.ScanPort(context.Background(), "192.0.2.1", 80)
	assert.Equal(t, db.PortStateFiltered, result.State)
}

func TestScanPort_ServiceName(t *testing.T) {
	port := freePort(t)
	s := NewPortScanner(time.Second, time.Second, 4)

	result := s.ScanPort(context.Background(), "127.0.0.1", port)
	assert.Empty(t, result.Service)

	assert.Equal(t, "ssh", ServiceName(22))
	assert.Equal(t, "https", ServiceName(443))
	assert.Equal(t, "jetdirect", ServiceName(9100))
	assert.Equal(t, "iphone-sync", ServiceName(62078))
	assert.Empty(t, ServiceName(12347))
}

func TestScanPorts_OpenOnlySortedAscending(t *testing.T) {
	open1 := startListener(t, "")
	open2 := startListener(t, "")
	closed := freePort(t)

	s := NewPortScanner(time.Second, 100*time.Millisecond, 8)
	ports := []int{open2, closed, open1}
	results, counts := s.ScanPorts(context.Background(), "127.0.0.1", ports)

	// Only the open ports come back, ascending; the closed probe shows
	// up in the state counts.
	require.Len(t, results, 2)
	assert.Less(t, results[0].Port, results[1].Port)
	open := OpenPorts(results)
	assert.Contains(t, open, open1)
	assert.Contains(t, open, open2)

	assert.Equal(t, 2, counts[db.PortStateOpen])
	assert.Equal(t, 1, counts[db.PortStateClosed])
}

func TestScanPorts_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewPortScanner(time.Second, time.Second, 4)
	results, counts := s.ScanPorts(ctx, "127.0.0.1", []int{80, 443})

	assert.Empty(t, results)
	assert.Equal(t, 2, counts[db.PortStateFiltered])
}

func TestOpenPorts_Empty(t *testing.T) {
	assert.Empty(t, OpenPorts(nil))
	assert.Empty(t, OpenPorts([]PortResult{{Port: 80, State: db.PortStateClosed}}))
}

func TestTopPortSets(t *testing.T) {
	assert.Len(t, Top100Ports, 100)
	assert.Contains(t, Top100Ports, 22)
	assert.Contains(t, Top100Ports, 62078)
	assert.Contains(t, Top100Ports, 9100)

	assert.Greater(t, len(Top1000Ports), len(Top100Ports))
	for i := 1; i < len(Top1000Ports); i++ {
		assert.Less(t, Top1000Ports[i-1], Top1000Ports[i], "ports must be unique and ascending")
	}

	assert.Equal(t, Top100Ports, PortSet("top100"))
	assert.Equal(t, Top1000Ports, PortSet("top1000"))
	assert.Equal(t, Top100Ports, PortSet("bogus"))
}

func TestReadBannerStripsUnprintable(t *testing.T) {
	port := startListener(t, "hello\x00\x01world\r\n")
	s := NewPortScanner(time.Second, time.Second, 4)

	result := s.ScanPort(context.Background(), "127.0.0.1", port)
	assert.Equal(t, "helloworld", result.Banner)
}
