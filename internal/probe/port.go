package probe

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/saagar210/Echolocate/internal/db"
)

const (
	defaultPortTimeout     = 500 * time.Millisecond
	defaultBannerTimeout   = 1 * time.Second
	defaultPortConcurrency = 64
	maxBannerBytes         = 256
)

// PortResult is the outcome of probing one TCP port.
type PortResult struct {
	Port    int
	State   string
	Service string
	Banner  string
}

// PortScanner probes TCP ports with plain connect attempts.
type PortScanner struct {
	ConnectTimeout time.Duration
	BannerTimeout  time.Duration
	Concurrency    int

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewPortScanner creates a port scanner. Zero values select defaults.
func NewPortScanner(connectTimeout, bannerTimeout time.Duration, concurrency int) *PortScanner {
	if connectTimeout <= 0 {
		connectTimeout = defaultPortTimeout
	}
	if bannerTimeout <= 0 {
		bannerTimeout = defaultBannerTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultPortConcurrency
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &PortScanner{
		ConnectTimeout: connectTimeout,
		BannerTimeout:  bannerTimeout,
		Concurrency:    concurrency,
		dial:           dialer.DialContext,
	}
}

// ScanPort probes a single TCP port. A successful connect yields "open" with
// a best-effort banner, a refusal yields "closed", and anything else
// (timeout, unreachable, filtered by firewall) yields "filtered".
func (s *PortScanner) ScanPort(ctx context.Context, ip string, port int) PortResult {
	result := PortResult{Port: port, Service: ServiceName(port)}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		if isConnRefused(err) {
			result.State = db.PortStateClosed
		} else {
			result.State = db.PortStateFiltered
		}
		return result
	}
	defer func() { _ = conn.Close() }()

	result.State = db.PortStateOpen
	result.Banner = readBanner(conn, s.BannerTimeout)
	return result
}

// ScanPorts probes all given ports concurrently. It returns the open
// ports sorted ascending, plus per-state probe counts covering every
// port: each probed port lands in exactly one state. Ports not probed
// before cancellation count as filtered.
func (s *PortScanner) ScanPorts(ctx context.Context, ip string, ports []int) ([]PortResult, map[string]int) {
	results := make([]PortResult, len(ports))
	sem := make(chan struct{}, s.Concurrency)
	var wg sync.WaitGroup

	for i, port := range ports {
		if ctx.Err() != nil {
			results[i] = PortResult{Port: port, State: db.PortStateFiltered, Service: ServiceName(port)}
			continue
		}

		wg.Add(1)
		go func(i, port int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.ScanPort(ctx, ip, port)
		}(i, port)
	}

	wg.Wait()

	counts := make(map[string]int)
	open := make([]PortResult, 0, len(results))
	for _, r := range results {
		counts[r.State]++
		if r.State == db.PortStateOpen {
			open = append(open, r)
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })
	return open, counts
}

// OpenPorts extracts the open port numbers from scan results, ascending.
func OpenPorts(results []PortResult) []int {
	var open []int
	for _, r := range results {
		if r.State == db.PortStateOpen {
			open = append(open, r.Port)
		}
	}
	sort.Ints(open)
	return open
}

// readBanner reads whatever the service volunteers within the timeout,
// up to 256 bytes, and strips unprintable characters.
func readBanner(conn net.Conn, timeout time.Duration) string {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ""
	}

	buf := make([]byte, maxBannerBytes)
	n, err := conn.Read(buf)
	if n <= 0 || (err != nil && n == 0) {
		return ""
	}

	var b strings.Builder
	for _, c := range buf[:n] {
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
