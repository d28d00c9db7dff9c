package neighbors

import (
	"context"
	"strings"
)

// darwinSource reads the neighbor table via `arp -a` and the routing table
// via `route -n get default`.
type darwinSource struct {
	run runner
}

func (s *darwinSource) Neighbors(ctx context.Context) ([]Entry, error) {
	out, err := s.run(ctx, "arp", "-a")
	if err != nil {
		return nil, err
	}
	return parseDarwinARP(out), nil
}

func (s *darwinSource) DefaultGateway(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "route", "-n", "get", "default")
	if err != nil {
		return "", err
	}
	return parseDarwinRoute(out), nil
}

// parseDarwinARP parses BSD-style arp output:
//
//	? (192.168.1.1) at a0:b1:c2:d3:e4:f5 on en0 ifscope [ethernet]
//	? (192.168.1.99) at (incomplete) on en0 ifscope [ethernet]
//
// Unresolved and broadcast entries are skipped.
func parseDarwinARP(out string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(out, "\n") {
		open := strings.Index(line, "(")
		closeIdx := strings.Index(line, ")")
		if open < 0 || closeIdx < 0 || closeIdx <= open {
			continue
		}
		ip := line[open+1 : closeIdx]

		rest := line[closeIdx+1:]
		atIdx := strings.Index(rest, " at ")
		if atIdx < 0 {
			continue
		}
		macField := strings.Fields(rest[atIdx+4:])
		if len(macField) == 0 {
			continue
		}
		raw := macField[0]
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

// parseDarwinRoute extracts the gateway from `route -n get default` output.
func parseDarwinRoute(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "gateway:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "gateway:"))
		}
	}
	return ""
}
