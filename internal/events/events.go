// Package events defines the fire-and-forget notification surface used
// by the scanner and monitor. Publish failures are the sink's problem:
// implementations log and drop, they never propagate errors back into
// the scan pipeline.
package events

import "time"

// Event types published during scans and monitoring.
const (
	TypeScanProgress   = "scan_progress"
	TypeDeviceSeen     = "device_seen"
	TypeScanCompleted  = "scan_completed"
	TypeScanFailed     = "scan_failed"
	TypeAlertNew       = "alert_new"
	TypeMonitorStarted = "monitor_started"
	TypeMonitorStopped = "monitor_stopped"
	TypeMonitorCycle   = "monitor_cycle"
)

// Event is one published notification.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Sink receives published events.
type Sink interface {
	Publish(event Event)
}

// New builds an event stamped with the current time.
func New(eventType string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NopSink discards every event.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}
