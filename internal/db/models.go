package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// IPAddr wraps net.IP to implement PostgreSQL INET type.
type IPAddr struct {
	net.IP
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		parsed := net.ParseIP(v)
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", v)
		}
		ip.IP = parsed
		return nil
	case []byte:
		parsed := net.ParseIP(string(v))
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", string(v))
		}
		ip.IP = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip.IP == nil {
		return nil, nil
	}
	return ip.IP.String(), nil
}

// String returns the IP address string.
func (ip IPAddr) String() string {
	if ip.IP == nil {
		return ""
	}
	return ip.IP.String()
}

// MACAddr wraps net.HardwareAddr to implement PostgreSQL MACADDR type.
type MACAddr struct {
	net.HardwareAddr
}

// Scan implements sql.Scanner for PostgreSQL MACADDR type.
func (mac *MACAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		hw, err := net.ParseMAC(v)
		if err != nil {
			return fmt.Errorf("failed to parse MAC address: %w", err)
		}
		mac.HardwareAddr = hw
		return nil
	case []byte:
		hw, err := net.ParseMAC(string(v))
		if err != nil {
			return fmt.Errorf("failed to parse MAC address: %w", err)
		}
		mac.HardwareAddr = hw
		return nil
	default:
		return fmt.Errorf("cannot scan %T into MACAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL MACADDR type.
func (mac MACAddr) Value() (driver.Value, error) {
	if mac.HardwareAddr == nil {
		return nil, nil
	}
	return mac.HardwareAddr.String(), nil
}

// String returns the MAC address string.
func (mac MACAddr) String() string {
	if mac.HardwareAddr == nil {
		return ""
	}
	return mac.HardwareAddr.String()
}

// ParseMACAddr parses a textual MAC address.
func ParseMACAddr(s string) (MACAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MACAddr{}, fmt.Errorf("failed to parse MAC address: %w", err)
	}
	return MACAddr{HardwareAddr: hw}, nil
}

// NewIPAddr parses a textual IP address. Invalid input yields nil.
func NewIPAddr(s string) *IPAddr {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return &IPAddr{IP: ip}
}

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// Device represents a device identified by its MAC address.
type Device struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	MACAddress   MACAddr    `db:"mac_address" json:"mac_address"`
	CurrentIP    *IPAddr    `db:"current_ip" json:"current_ip,omitempty"`
	Hostname     *string    `db:"hostname" json:"hostname,omitempty"`
	CustomName   *string    `db:"custom_name" json:"custom_name,omitempty"`
	Vendor       *string    `db:"vendor" json:"vendor,omitempty"`
	DeviceType   *string    `db:"device_type" json:"device_type,omitempty"`
	OSGuess      *string    `db:"os_guess" json:"os_guess,omitempty"`
	OSConfidence *float64   `db:"os_confidence" json:"os_confidence,omitempty"`
	Trusted      bool       `db:"trusted" json:"trusted"`
	Gateway      bool       `db:"gateway" json:"gateway"`
	FirstSeen    time.Time  `db:"first_seen" json:"first_seen"`
	LastSeen     time.Time  `db:"last_seen" json:"last_seen"`
	Properties   JSONB      `db:"properties" json:"properties,omitempty"`
	DepartedAt   *time.Time `db:"departed_at" json:"departed_at,omitempty"`
}

// DisplayName returns the best available human-readable name for a device:
// custom name, then hostname, then vendor, then MAC address, then "Unknown".
func (d *Device) DisplayName() string {
	if d.CustomName != nil && *d.CustomName != "" {
		return *d.CustomName
	}
	if d.Hostname != nil && *d.Hostname != "" {
		return *d.Hostname
	}
	if d.Vendor != nil && *d.Vendor != "" {
		return *d.Vendor
	}
	if s := d.MACAddress.String(); s != "" {
		return s
	}
	return "Unknown"
}

// Online reports whether the device was seen within the online window.
func (d *Device) Online(now time.Time, window time.Duration) bool {
	return now.Sub(d.LastSeen) <= window
}

// DeviceSnapshot is a point-in-time view of a device used for alert rule
// evaluation and API responses. It flattens the persisted device record
// together with the latest probe results.
type DeviceSnapshot struct {
	ID           uuid.UUID         `json:"id"`
	MACAddress   string            `json:"mac_address"`
	IPAddress    string            `json:"ip_address"`
	Hostname     string            `json:"hostname,omitempty"`
	CustomName   string            `json:"custom_name,omitempty"`
	Vendor       string            `json:"vendor,omitempty"`
	DeviceType   string            `json:"device_type,omitempty"`
	OSGuess      string            `json:"os_guess,omitempty"`
	OSConfidence float64           `json:"os_confidence,omitempty"`
	Trusted      bool              `json:"trusted"`
	Gateway      bool              `json:"gateway"`
	Online       bool              `json:"online"`
	LatencyMS    *float64          `json:"latency_ms,omitempty"`
	OpenPorts    []int             `json:"open_ports,omitempty"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// DisplayName returns the best available human-readable name for a snapshot.
func (s *DeviceSnapshot) DisplayName() string {
	if s.CustomName != "" {
		return s.CustomName
	}
	if s.Hostname != "" {
		return s.Hostname
	}
	if s.Vendor != "" {
		return s.Vendor
	}
	if s.MACAddress != "" {
		return s.MACAddress
	}
	return "Unknown"
}

// HasOpenPort reports whether the snapshot lists the given open port.
func (s *DeviceSnapshot) HasOpenPort(port int) bool {
	for _, p := range s.OpenPorts {
		if p == port {
			return true
		}
	}
	return false
}

// Snapshot builds a DeviceSnapshot from a persisted device record.
func (d *Device) Snapshot(now time.Time, window time.Duration) DeviceSnapshot {
	snap := DeviceSnapshot{
		ID:         d.ID,
		MACAddress: d.MACAddress.String(),
		Trusted:    d.Trusted,
		Gateway:    d.Gateway,
		Online:     d.Online(now, window),
		FirstSeen:  d.FirstSeen,
		LastSeen:   d.LastSeen,
	}
	if d.CurrentIP != nil {
		snap.IPAddress = d.CurrentIP.String()
	}
	if d.Hostname != nil {
		snap.Hostname = *d.Hostname
	}
	if d.CustomName != nil {
		snap.CustomName = *d.CustomName
	}
	if d.Vendor != nil {
		snap.Vendor = *d.Vendor
	}
	if d.DeviceType != nil {
		snap.DeviceType = *d.DeviceType
	}
	if d.OSGuess != nil {
		snap.OSGuess = *d.OSGuess
	}
	if d.OSConfidence != nil {
		snap.OSConfidence = *d.OSConfidence
	}
	if len(d.Properties) > 0 {
		var props map[string]string
		if err := json.Unmarshal([]byte(d.Properties), &props); err == nil {
			snap.Properties = props
		}
	}
	return snap
}

// Scan represents a single scan execution.
type Scan struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Kind         string     `db:"kind" json:"kind"`
	Status       string     `db:"status" json:"status"`
	Phase        string     `db:"phase" json:"phase"`
	Progress     int        `db:"progress" json:"progress"`
	DevicesFound int        `db:"devices_found" json:"devices_found"`
	NewDevices   int        `db:"new_devices" json:"new_devices"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
}

// PortRecord represents one probed port for a device during a scan.
type PortRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ScanID    uuid.UUID `db:"scan_id" json:"scan_id"`
	DeviceID  uuid.UUID `db:"device_id" json:"device_id"`
	Port      int       `db:"port" json:"port"`
	State     string    `db:"state" json:"state"`
	Service   *string   `db:"service" json:"service,omitempty"`
	Banner    *string   `db:"banner" json:"banner,omitempty"`
	ScannedAt time.Time `db:"scanned_at" json:"scanned_at"`
}

// LatencySample represents one ping round-trip measurement for a device.
type LatencySample struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DeviceID   uuid.UUID `db:"device_id" json:"device_id"`
	LatencyMS  float64   `db:"latency_ms" json:"latency_ms"`
	MeasuredAt time.Time `db:"measured_at" json:"measured_at"`
}

// Alert represents a generated alert.
type Alert struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Type       string    `db:"type" json:"type"`
	DeviceMAC  *string   `db:"device_mac" json:"device_mac,omitempty"`
	DeviceName string    `db:"device_name" json:"device_name"`
	Message    string    `db:"message" json:"message"`
	Severity   string    `db:"severity" json:"severity"`
	RuleID     *string   `db:"rule_id" json:"rule_id,omitempty"`
	Read       bool      `db:"read" json:"read"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AlertRule represents a built-in alert rule toggle.
type AlertRule struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	AlertType     string    `db:"alert_type" json:"alert_type"`
	Enabled       bool      `db:"enabled" json:"enabled"`
	Severity      string    `db:"severity" json:"severity"`
	NotifyDesktop bool      `db:"notify_desktop" json:"notify_desktop"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CustomAlertRule represents a user-defined alert rule with a serialized
// condition tree.
type CustomAlertRule struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   *string   `db:"description" json:"description,omitempty"`
	Conditions    JSONB     `db:"conditions" json:"conditions"`
	Severity      string    `db:"severity" json:"severity"`
	NotifyDesktop bool      `db:"notify_desktop" json:"notify_desktop"`
	WebhookURL    *string   `db:"webhook_url" json:"webhook_url,omitempty"`
	Enabled       bool      `db:"enabled" json:"enabled"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Alert severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ScanStatus constants.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCanceled  = "canceled"
)

// ScanKind constants.
const (
	ScanKindFull     = "full"
	ScanKindQuick    = "quick"
	ScanKindPassive  = "passive"
	ScanKindPortOnly = "port_only"
)

// ScanPhase constants, in execution order.
const (
	ScanPhaseDiscovery = "discovery"
	ScanPhasePing      = "ping"
	ScanPhaseEnriching = "enriching"
	ScanPhasePortScan  = "port_scan"
	ScanPhaseCompleted = "completed"
)

// PortState constants.
const (
	PortStateOpen     = "open"
	PortStateClosed   = "closed"
	PortStateFiltered = "filtered"
)

// AlertType constants.
const (
	AlertTypeNewDevice      = "new_device"
	AlertTypeUnknownDevice  = "unknown_device"
	AlertTypeDeviceDeparted = "device_departed"
	AlertTypeCustomRule     = "custom_rule"
)

// DeviceType constants.
const (
	DeviceTypeRouter   = "router"
	DeviceTypeComputer = "computer"
	DeviceTypePhone    = "phone"
	DeviceTypePrinter  = "printer"
	DeviceTypeMedia    = "media"
	DeviceTypeIoT      = "iot"
	DeviceTypeUnknown  = "unknown"
)

// OnlineWindow is how recently a device must have been seen to count as
// online.
const OnlineWindow = 5 * time.Minute
