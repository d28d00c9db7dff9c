package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/logging"
)

// AlertStore is the persistence surface the engine needs. Implemented by
// db.AlertRepository.
type AlertStore interface {
	Insert(ctx context.Context, alert *db.Alert) error
	GetRules(ctx context.Context) ([]*db.AlertRule, error)
	GetEnabledCustomRules(ctx context.Context) ([]*db.CustomAlertRule, error)
}

// GeneratedAlert is the ephemeral output of one evaluation pass: the
// persisted alert record plus the delivery flags resolved from the rule
// that produced it.
type GeneratedAlert struct {
	Alert         *db.Alert
	NotifyDesktop bool
	WebhookURL    string
}

// Engine evaluates alert rules against consecutive device snapshots.
type Engine struct {
	store  AlertStore
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine creates an alert engine backed by the given store.
func NewEngine(store AlertStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:  store,
		logger: logger.WithComponent("alerts"),
		now:    time.Now,
	}
}

// EvaluateAlerts diffs the previous snapshot against the current one for
// the built-in rules, evaluates enabled custom rules per device, and
// persists every generated alert before returning. A failed insert aborts
// the pass with an error; alerts inserted before the failure stay
// persisted.
func (e *Engine) EvaluateAlerts(ctx context.Context, previous, current []db.DeviceSnapshot) ([]GeneratedAlert, error) {
	rules, err := e.store.GetRules(ctx)
	if err != nil {
		return nil, err
	}

	previousByID := make(map[uuid.UUID]*db.DeviceSnapshot, len(previous))
	for i := range previous {
		previousByID[previous[i].ID] = &previous[i]
	}
	currentByID := make(map[uuid.UUID]*db.DeviceSnapshot, len(current))
	for i := range current {
		currentByID[current[i].ID] = &current[i]
	}

	var generated []GeneratedAlert

	if rule := findRule(rules, db.AlertTypeNewDevice); rule != nil && rule.Enabled {
		for i := range current {
			device := &current[i]
			if _, known := previousByID[device.ID]; known {
				continue
			}
			generated = append(generated, makeAlert(rule, device,
				fmt.Sprintf("New device discovered: %s (%s)", device.DisplayName(), ipOrUnknown(device))))
		}
	}

	if rule := findRule(rules, db.AlertTypeUnknownDevice); rule != nil && rule.Enabled {
		for i := range current {
			device := &current[i]
			if _, known := previousByID[device.ID]; known || device.Trusted {
				continue
			}
			generated = append(generated, makeAlert(rule, device,
				fmt.Sprintf("Untrusted device on network: %s (%s)", device.DisplayName(), ipOrUnknown(device))))
		}
	}

	if rule := findRule(rules, db.AlertTypeDeviceDeparted); rule != nil && rule.Enabled {
		for i := range previous {
			device := &previous[i]
			if !device.Online {
				continue
			}
			if _, present := currentByID[device.ID]; present {
				continue
			}
			generated = append(generated, makeAlert(rule, device,
				fmt.Sprintf("Device departed: %s", device.DisplayName())))
		}
	}

	custom, err := e.evaluateCustomRules(ctx, current)
	if err != nil {
		return nil, err
	}
	generated = append(generated, custom...)

	for i := range generated {
		if err := e.store.Insert(ctx, generated[i].Alert); err != nil {
			return nil, errors.ErrAlertPersist(err)
		}
	}

	if len(generated) > 0 {
		e.logger.InfoAlert("Generated alerts", "count", len(generated))
	}

	return generated, nil
}

// evaluateCustomRules runs every enabled user-defined rule against every
// current device. Rules whose condition tree fails to parse are skipped
// with a warning.
func (e *Engine) evaluateCustomRules(ctx context.Context, current []db.DeviceSnapshot) ([]GeneratedAlert, error) {
	rules, err := e.store.GetEnabledCustomRules(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var generated []GeneratedAlert

	for _, rule := range rules {
		group, err := ParseConditions([]byte(rule.Conditions))
		if err != nil {
			e.logger.Warn("Skipping custom rule with malformed conditions",
				"rule_id", rule.ID.String(), "rule_name", rule.Name, "error", err)
			continue
		}

		for i := range current {
			device := &current[i]
			if !group.Evaluate(device, now) {
				continue
			}

			ruleID := rule.ID.String()
			mac := device.MACAddress
			alert := &db.Alert{
				Type:       db.AlertTypeCustomRule,
				DeviceName: device.DisplayName(),
				Message:    fmt.Sprintf("Rule %q matched device %s (%s)", rule.Name, device.DisplayName(), ipOrUnknown(device)),
				Severity:   rule.Severity,
				RuleID:     &ruleID,
			}
			if mac != "" {
				alert.DeviceMAC = &mac
			}

			g := GeneratedAlert{Alert: alert, NotifyDesktop: rule.NotifyDesktop}
			if rule.WebhookURL != nil {
				g.WebhookURL = *rule.WebhookURL
			}
			generated = append(generated, g)
		}
	}

	return generated, nil
}

func findRule(rules []*db.AlertRule, alertType string) *db.AlertRule {
	for _, r := range rules {
		if r.AlertType == alertType {
			return r
		}
	}
	return nil
}

func makeAlert(rule *db.AlertRule, device *db.DeviceSnapshot, message string) GeneratedAlert {
	ruleID := rule.ID
	alert := &db.Alert{
		Type:       rule.AlertType,
		DeviceName: device.DisplayName(),
		Message:    message,
		Severity:   rule.Severity,
		RuleID:     &ruleID,
	}
	if device.MACAddress != "" {
		mac := device.MACAddress
		alert.DeviceMAC = &mac
	}
	return GeneratedAlert{Alert: alert, NotifyDesktop: rule.NotifyDesktop}
}

func ipOrUnknown(device *db.DeviceSnapshot) string {
	if device.IPAddress != "" {
		return device.IPAddress
	}
	return "unknown IP"
}
