package neighbors

import (
	"context"
	"net"
	"strings"
)

// windowsSource reads the neighbor table via `arp -a` and the routing table
// via `route print`.
type windowsSource struct {
	run runner
}

func (s *windowsSource) Neighbors(ctx context.Context) ([]Entry, error) {
	out, err := s.run(ctx, "arp", "-a")
	if err != nil {
		return nil, err
	}
	return parseWindowsARP(out), nil
}

func (s *windowsSource) DefaultGateway(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "route", "print", "0.0.0.0")
	if err != nil {
		return "", err
	}
	return parseWindowsRoute(out), nil
}

// parseWindowsARP parses Windows arp output:
//
//	Interface: 192.168.1.50 --- 0x4
//	  Internet Address      Physical Address      Type
//	  192.168.1.1           a0-b1-c2-d3-e4-f5     dynamic
//	  192.168.1.255         ff-ff-ff-ff-ff-ff     static
//
// Header, broadcast, and multicast rows are skipped.
func parseWindowsARP(out string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		mac := normalizeMAC(fields[1])
		if mac == "" || !usable(mac) {
			continue
		}

		entries = append(entries, Entry{IP: ip.String(), MAC: mac})
	}

	return entries
}

// parseWindowsRoute extracts the gateway from the IPv4 route table row for
// destination 0.0.0.0:
//
//	0.0.0.0          0.0.0.0      192.168.1.1     192.168.1.50     25
func parseWindowsRoute(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if fields[0] == "0.0.0.0" && fields[1] == "0.0.0.0" {
			if gw := net.ParseIP(fields[2]); gw != nil {
				return gw.String()
			}
		}
	}
	return ""
}
