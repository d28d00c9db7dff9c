package neighbors

import (
	"context"
	"strings"
)

// linuxSource reads the neighbor table via `ip neigh` and the routing table
// via `ip route show default`.
type linuxSource struct {
	run runner
}

func (s *linuxSource) Neighbors(ctx context.Context) ([]Entry, error) {
	out, err := s.run(ctx, "ip", "neigh")
	if err != nil {
		return nil, err
	}
	return parseIPNeigh(out), nil
}

func (s *linuxSource) DefaultGateway(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "ip", "route", "show", "default")
	if err != nil {
		return "", err
	}
	return parseLinuxRoute(out), nil
}

// parseIPNeigh parses iproute2 neighbor output:
//
//	192.168.1.1 dev eth0 lladdr a0:b1:c2:d3:e4:f5 REACHABLE
//	192.168.1.99 dev eth0 FAILED
//
// Entries without a link-layer address are skipped.
func parseIPNeigh(out string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		ip := fields[0]
		var raw string
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) {
				raw = fields[i+1]
				break
			}
		}
		if !usable(raw) {
			continue
		}
		mac := normalizeMAC(raw)
		if mac == "" || !usable(mac) {
			continue
		}

		entries = append(entries, Entry{IP: ip, MAC: mac})
	}

	return entries
}

// parseLinuxRoute extracts the gateway from `ip route show default` output:
//
//	default via 192.168.1.1 dev eth0 proto dhcp metric 100
func parseLinuxRoute(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "via" && i+1 < len(fields) {
				return fields[i+1]
			}
		}
	}
	return ""
}
