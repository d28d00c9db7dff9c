// Package fingerprint infers operating systems and device types from open
// port signatures and hardware vendor names. The heuristics are ordered
// from most to least specific; the first match wins.
package fingerprint

import (
	"strings"

	"github.com/saagar210/Echolocate/internal/db"
)

// OSGuess is an inferred operating system with a confidence score in [0,1].
type OSGuess struct {
	OS         string  `json:"os"`
	Confidence float64 `json:"confidence"`
}

var routerVendors = []string{
	"ubiquiti", "mikrotik", "cisco", "netgear",
	"tp-link", "asus", "linksys", "arris",
}

var androidVendors = []string{"samsung", "oneplus", "xiaomi", "huawei"}

var mediaVendors = []string{"sonos", "roku", "amazon", "google", "chromecast"}

var iotVendors = []string{
	"espressif", "tuya", "shenzhen", "wemo",
	"nest", "ring", "wyze", "lifx",
}

func vendorMatches(vendor string, needles []string) bool {
	v := strings.ToLower(vendor)
	for _, needle := range needles {
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}

func contains(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// GuessOS infers the operating system from open ports and vendor. Returns
// nil when nothing matches.
func GuessOS(openPorts []int, vendor string) *OSGuess {
	// iOS: lockdownd sync port
	if contains(openPorts, 62078) {
		return &OSGuess{OS: "iOS", Confidence: 0.85}
	}

	// macOS: AFP
	if contains(openPorts, 548) {
		return &OSGuess{OS: "macOS", Confidence: 0.80}
	}

	// Windows: SMB + RPC
	if contains(openPorts, 445) && contains(openPorts, 135) {
		return &OSGuess{OS: "Windows", Confidence: 0.85}
	}

	// Windows: SMB without Linux indicators
	if contains(openPorts, 445) && !contains(openPorts, 22) {
		return &OSGuess{OS: "Windows", Confidence: 0.60}
	}

	// Linux: SSH without Windows indicators
	if contains(openPorts, 22) && !contains(openPorts, 445) && !contains(openPorts, 135) {
		return &OSGuess{OS: "Linux", Confidence: 0.55}
	}

	// Printer: IPP or JetDirect
	if contains(openPorts, 631) || contains(openPorts, 9100) {
		return &OSGuess{OS: "Printer firmware", Confidence: 0.70}
	}

	// Router: web admin with few other ports and a network-gear vendor
	if contains(openPorts, 80) && len(openPorts) <= 3 && vendorMatches(vendor, routerVendors) {
		return &OSGuess{OS: "Router firmware", Confidence: 0.75}
	}

	// Vendor-based fallback guesses
	v := strings.ToLower(vendor)
	switch {
	case strings.Contains(v, "apple"):
		return &OSGuess{OS: "macOS/iOS", Confidence: 0.40}
	case vendorMatches(vendor, androidVendors):
		return &OSGuess{OS: "Android", Confidence: 0.50}
	case strings.Contains(v, "microsoft"):
		return &OSGuess{OS: "Windows", Confidence: 0.45}
	case strings.Contains(v, "raspberry"):
		return &OSGuess{OS: "Linux", Confidence: 0.70}
	}

	return nil
}

// ClassifyDevice infers the device type from open ports, vendor, OS guess,
// and whether the device is the default gateway.
func ClassifyDevice(openPorts []int, vendor, osGuess string, isGateway bool) string {
	if isGateway {
		return db.DeviceTypeRouter
	}

	if contains(openPorts, 9100) || contains(openPorts, 631) {
		return db.DeviceTypePrinter
	}

	osLower := strings.ToLower(osGuess)
	if strings.Contains(osLower, "ios") || strings.Contains(osLower, "android") {
		return db.DeviceTypePhone
	}
	if contains(openPorts, 62078) {
		return db.DeviceTypePhone
	}

	if vendor != "" {
		if vendorMatches(vendor, mediaVendors) && len(openPorts) <= 5 {
			return db.DeviceTypeMedia
		}

		if vendorMatches(vendor, iotVendors) {
			return db.DeviceTypeIoT
		}

		if vendorMatches(vendor, routerVendors) &&
			(contains(openPorts, 80) || contains(openPorts, 443)) {
			return db.DeviceTypeRouter
		}
	}

	if contains(openPorts, 22) || contains(openPorts, 3389) || contains(openPorts, 548) ||
		contains(openPorts, 445) || len(openPorts) >= 5 {
		return db.DeviceTypeComputer
	}

	if strings.Contains(osLower, "windows") || strings.Contains(osLower, "macos") ||
		strings.Contains(osLower, "linux") {
		return db.DeviceTypeComputer
	}

	return db.DeviceTypeUnknown
}
