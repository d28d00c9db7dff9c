package alerts

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
)

type fakeAlertStore struct {
	rules       []*db.AlertRule
	customRules []*db.CustomAlertRule
	inserted    []*db.Alert
	insertErr   error
}

func (f *fakeAlertStore) Insert(_ context.Context, alert *db.Alert) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, alert)
	return nil
}

func (f *fakeAlertStore) GetRules(context.Context) ([]*db.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeAlertStore) GetEnabledCustomRules(context.Context) ([]*db.CustomAlertRule, error) {
	return f.customRules, nil
}

func builtinRules(enabled bool) []*db.AlertRule {
	return []*db.AlertRule{
		{ID: "new_device", AlertType: db.AlertTypeNewDevice, Enabled: enabled, Severity: db.SeverityInfo, NotifyDesktop: true},
		{ID: "unknown_device", AlertType: db.AlertTypeUnknownDevice, Enabled: enabled, Severity: db.SeverityWarning, NotifyDesktop: true},
		{ID: "device_departed", AlertType: db.AlertTypeDeviceDeparted, Enabled: enabled, Severity: db.SeverityInfo},
	}
}

func snapshotFor(id uuid.UUID, ip string, online, trusted bool) db.DeviceSnapshot {
	return db.DeviceSnapshot{
		ID:         id,
		MACAddress: "AA:BB:CC:DD:EE:FF",
		IPAddress:  ip,
		Hostname:   "printer-1",
		Online:     online,
		Trusted:    trusted,
	}
}

func TestEvaluateAlertsNewDevice(t *testing.T) {
	store := &fakeAlertStore{rules: builtinRules(true)}
	engine := NewEngine(store, nil)

	current := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.42", true, false)}

	alerts, err := engine.EvaluateAlerts(context.Background(), nil, current)
	require.NoError(t, err)

	var types []string
	for _, a := range alerts {
		types = append(types, a.Alert.Type)
	}
	assert.Contains(t, types, db.AlertTypeNewDevice)
	assert.Contains(t, types, db.AlertTypeUnknownDevice)

	require.Len(t, store.inserted, len(alerts))
	assert.Contains(t, store.inserted[0].Message, "printer-1")
	assert.Contains(t, store.inserted[0].Message, "192.168.1.42")
}

func TestEvaluateAlertsTrustedDevice(t *testing.T) {
	store := &fakeAlertStore{rules: builtinRules(true)}
	engine := NewEngine(store, nil)

	current := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.42", true, true)}

	alerts, err := engine.EvaluateAlerts(context.Background(), nil, current)
	require.NoError(t, err)

	for _, a := range alerts {
		assert.NotEqual(t, db.AlertTypeUnknownDevice, a.Alert.Type)
	}
}

func TestEvaluateAlertsDeviceDeparted(t *testing.T) {
	store := &fakeAlertStore{rules: builtinRules(true)}
	engine := NewEngine(store, nil)

	gone := snapshotFor(uuid.New(), "192.168.1.50", true, true)
	offline := snapshotFor(uuid.New(), "192.168.1.51", false, true)
	previous := []db.DeviceSnapshot{gone, offline}

	alerts, err := engine.EvaluateAlerts(context.Background(), previous, nil)
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, db.AlertTypeDeviceDeparted, alerts[0].Alert.Type)
	assert.Contains(t, alerts[0].Alert.Message, "printer-1")
	assert.False(t, alerts[0].NotifyDesktop)
}

func TestEvaluateAlertsIdempotent(t *testing.T) {
	store := &fakeAlertStore{rules: builtinRules(true)}
	engine := NewEngine(store, nil)

	snap := []db.DeviceSnapshot{
		snapshotFor(uuid.New(), "192.168.1.10", true, true),
		snapshotFor(uuid.New(), "192.168.1.11", true, false),
	}

	alerts, err := engine.EvaluateAlerts(context.Background(), snap, snap)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, store.inserted)
}

func TestEvaluateAlertsDisabledRules(t *testing.T) {
	store := &fakeAlertStore{rules: builtinRules(false)}
	engine := NewEngine(store, nil)

	previous := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.50", true, false)}
	current := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.60", true, false)}

	alerts, err := engine.EvaluateAlerts(context.Background(), previous, current)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluateAlertsCustomRule(t *testing.T) {
	webhook := "https://hooks.example.com/alerts"
	rule := &db.CustomAlertRule{
		ID:            uuid.New(),
		Name:          "telnet exposed",
		Conditions:    db.JSONB(`{"type":"port_open","port":23}`),
		Severity:      db.SeverityCritical,
		NotifyDesktop: true,
		WebhookURL:    &webhook,
		Enabled:       true,
	}
	store := &fakeAlertStore{rules: builtinRules(false), customRules: []*db.CustomAlertRule{rule}}
	engine := NewEngine(store, nil)

	matching := snapshotFor(uuid.New(), "192.168.1.20", true, true)
	matching.OpenPorts = []int{23}
	clean := snapshotFor(uuid.New(), "192.168.1.21", true, true)
	current := []db.DeviceSnapshot{matching, clean}

	alerts, err := engine.EvaluateAlerts(context.Background(), current, current)
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, db.AlertTypeCustomRule, alerts[0].Alert.Type)
	assert.Equal(t, db.SeverityCritical, alerts[0].Alert.Severity)
	require.NotNil(t, alerts[0].Alert.RuleID)
	assert.Equal(t, rule.ID.String(), *alerts[0].Alert.RuleID)
	assert.Equal(t, webhook, alerts[0].WebhookURL)
	assert.True(t, alerts[0].NotifyDesktop)
	assert.Contains(t, alerts[0].Alert.Message, "telnet exposed")
}

func TestEvaluateAlertsMalformedCustomRuleSkipped(t *testing.T) {
	bad := &db.CustomAlertRule{
		ID:         uuid.New(),
		Name:       "broken",
		Conditions: db.JSONB(`{"operator":"XOR"}`),
		Enabled:    true,
	}
	good := &db.CustomAlertRule{
		ID:         uuid.New(),
		Name:       "online watch",
		Conditions: db.JSONB(`{"type":"is_online"}`),
		Severity:   db.SeverityInfo,
		Enabled:    true,
	}
	store := &fakeAlertStore{rules: builtinRules(false), customRules: []*db.CustomAlertRule{bad, good}}
	engine := NewEngine(store, nil)

	current := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.30", true, true)}

	alerts, err := engine.EvaluateAlerts(context.Background(), current, current)
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].Alert.RuleID)
	assert.Equal(t, good.ID.String(), *alerts[0].Alert.RuleID)
}

func TestEvaluateAlertsPersistFailure(t *testing.T) {
	store := &fakeAlertStore{
		rules:     builtinRules(true),
		insertErr: fmt.Errorf("connection reset"),
	}
	engine := NewEngine(store, nil)

	current := []db.DeviceSnapshot{snapshotFor(uuid.New(), "192.168.1.42", true, false)}

	alerts, err := engine.EvaluateAlerts(context.Background(), nil, current)
	require.Error(t, err)
	assert.Nil(t, alerts)
	assert.True(t, errors.IsCode(err, errors.CodeAlertPersist))
}
