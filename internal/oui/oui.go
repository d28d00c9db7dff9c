// Package oui maps MAC address prefixes to hardware vendor names using an
// embedded snapshot of the IEEE OUI registry.
package oui

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
)

//go:embed oui_data.csv
var ouiData []byte

// Database holds OUI prefix to vendor mappings.
type Database struct {
	vendors map[string]string
}

// New builds a vendor database from the embedded registry snapshot.
func New() *Database {
	db := &Database{vendors: make(map[string]string)}

	scanner := bufio.NewScanner(bytes.NewReader(ouiData))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue // header
		}
		if line == "" {
			continue
		}
		// Vendor names may contain commas, split on the first only.
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		prefix := normalizePrefix(parts[0])
		if prefix == "" {
			continue
		}
		db.vendors[prefix] = strings.TrimSpace(parts[1])
	}

	return db
}

// Lookup returns the vendor name for a MAC address, or empty string if the
// prefix is not in the registry. Colon, dash, and dot separated formats are
// accepted.
func (d *Database) Lookup(mac string) string {
	prefix := normalizePrefix(mac)
	if prefix == "" {
		return ""
	}
	return d.vendors[prefix]
}

// normalizePrefix extracts the first three octets of a MAC address in
// lowercase colon-separated form.
func normalizePrefix(mac string) string {
	cleaned := strings.ToLower(strings.TrimSpace(mac))
	cleaned = strings.NewReplacer("-", "", ":", "", ".", "").Replace(cleaned)
	if len(cleaned) < 6 {
		return ""
	}
	cleaned = cleaned[:6]
	for _, c := range cleaned {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return cleaned[0:2] + ":" + cleaned[2:4] + ":" + cleaned[4:6]
}
