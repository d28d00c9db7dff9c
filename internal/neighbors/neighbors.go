// Package neighbors reads the operating system's neighbor (ARP/NDP) table
// and routing table to find devices on the local network segment and the
// default gateway. It shells out to platform tools and parses their output,
// so discovery works without raw socket privileges.
package neighbors

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/saagar210/Echolocate/internal/logging"
)

// Entry is one row from the neighbor table.
type Entry struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// Source reads the neighbor and routing tables for one platform.
type Source interface {
	// Neighbors returns all resolved neighbor entries.
	Neighbors(ctx context.Context) ([]Entry, error)

	// DefaultGateway returns the default gateway IP, or empty string if
	// none is configured.
	DefaultGateway(ctx context.Context) (string, error)
}

// runner executes a command and returns its combined stdout. Swapped out in
// tests.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}

// NewSource returns the neighbor source for the current platform.
func NewSource() Source {
	switch runtime.GOOS {
	case "darwin":
		return &darwinSource{run: execRunner}
	case "windows":
		return &windowsSource{run: execRunner}
	default:
		return &linuxSource{run: execRunner}
	}
}

// Result holds the outcome of one discovery pass.
type Result struct {
	Entries []Entry
	Gateway string
}

// Discover reads the neighbor table and the default gateway. It never
// returns an error: a failed table read yields an empty result and a failed
// gateway lookup yields an empty gateway, both logged as warnings.
func Discover(ctx context.Context, src Source) Result {
	var result Result

	entries, err := src.Neighbors(ctx)
	if err != nil {
		logging.Warn("Neighbor table read failed", "error", err)
	} else {
		result.Entries = entries
	}

	gateway, err := src.DefaultGateway(ctx)
	if err != nil {
		logging.Warn("Default gateway lookup failed", "error", err)
	} else {
		result.Gateway = gateway
	}

	return result
}

// usable filters out unresolved and broadcast entries.
func usable(mac string) bool {
	if mac == "" || mac == "(incomplete)" {
		return false
	}
	return strings.ToLower(mac) != "ff:ff:ff:ff:ff:ff"
}

// normalizeMAC lowercases a MAC address and zero-pads single-digit octets,
// which the BSD arp tool emits.
func normalizeMAC(mac string) string {
	sep := ":"
	if strings.Contains(mac, "-") {
		sep = "-"
	}
	parts := strings.Split(strings.ToLower(mac), sep)
	if len(parts) != 6 {
		return ""
	}
	for i, part := range parts {
		if len(part) == 1 {
			parts[i] = "0" + part
		} else if len(part) != 2 {
			return ""
		}
	}
	return strings.Join(parts, ":")
}
