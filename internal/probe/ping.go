// Package probe implements active probing of LAN hosts: ICMP ping sweeps
// via the system ping tool, TCP connect port scans with banner grabbing,
// reverse DNS resolution, and mDNS hostname discovery.
package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/saagar210/Echolocate/internal/logging"
)

const (
	defaultPingTimeout     = 3 * time.Second
	defaultPingConcurrency = 32
)

// rttInline matches per-reply output such as "time=12.4 ms" or "time<1ms".
var rttInline = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

// rttSummary matches the round-trip summary line, capturing the average:
// "round-trip min/avg/max/stddev = 1.2/3.4/5.6/0.7 ms".
var rttSummary = regexp.MustCompile(`min/avg/max/\w+ = [\d.]+/([\d.]+)/`)

// PingResult is the outcome of pinging one host.
type PingResult struct {
	IP        string
	Alive     bool
	LatencyMS float64
}

// Pinger sweeps hosts with the system ping tool.
type Pinger struct {
	Timeout     time.Duration
	Concurrency int

	run runner
}

type runner func(ctx context.Context, name string, args ...string) (string, error)

func execPing(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// NewPinger creates a pinger with the given per-host timeout and sweep
// concurrency. Zero values select defaults.
func NewPinger(timeout time.Duration, concurrency int) *Pinger {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultPingConcurrency
	}
	return &Pinger{Timeout: timeout, Concurrency: concurrency, run: execPing}
}

// Ping probes a single host and reports whether it answered and the RTT.
func (p *Pinger) Ping(ctx context.Context, ip string) PingResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.run(ctx, "ping", pingArgs(ip, p.Timeout)...)
	if err != nil {
		return PingResult{IP: ip}
	}

	latency, ok := ParseRTT(out)
	if !ok {
		// The tool exited zero but printed no RTT. Count the host as
		// alive with an unknown latency.
		return PingResult{IP: ip, Alive: true}
	}

	return PingResult{IP: ip, Alive: true, LatencyMS: latency}
}

// Sweep pings all hosts concurrently and returns results in input order.
// The sweep stops early when the context is canceled.
func (p *Pinger) Sweep(ctx context.Context, ips []string) []PingResult {
	results := make([]PingResult, len(ips))
	sem := make(chan struct{}, p.Concurrency)
	var wg sync.WaitGroup

	for i, ip := range ips {
		if ctx.Err() != nil {
			results[i] = PingResult{IP: ip}
			continue
		}

		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.Ping(ctx, ip)
		}(i, ip)
	}

	wg.Wait()

	alive := 0
	for _, r := range results {
		if r.Alive {
			alive++
		}
	}
	logging.Debug("Ping sweep completed", "hosts", len(ips), "alive", alive)

	return results
}

// ParseRTT extracts the round-trip time in milliseconds from ping output.
// The per-reply "time=" form is preferred; the min/avg/max summary average
// is the fallback.
func ParseRTT(out string) (float64, bool) {
	if m := rttInline.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	if m := rttSummary.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// pingArgs builds the platform-specific single-echo ping invocation.
func pingArgs(ip string, timeout time.Duration) []string {
	switch runtime.GOOS {
	case "windows":
		ms := int(timeout / time.Millisecond)
		return []string{"-n", "1", "-w", strconv.Itoa(ms), ip}
	case "darwin":
		ms := int(timeout / time.Millisecond)
		return []string{"-c", "1", "-W", strconv.Itoa(ms), ip}
	default:
		secs := int(timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", "1", "-W", strconv.Itoa(secs), ip}
	}
}
