package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_InitializationAndUpdate(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatalf("New returned nil")
	}
	if m.Registry() == nil {
		t.Fatalf("Registry returned nil")
	}

	m.UpdateSystemMetrics()

	before := m.Uptime()
	time.Sleep(10 * time.Millisecond)
	after := m.Uptime()
	if before >= after {
		t.Fatalf("expected uptime to increase, before=%v after=%v", before, after)
	}
	if m.LastUpdate().IsZero() {
		t.Fatalf("expected last update to be set")
	}
}

func TestMetrics_HTTPHandlerServes(t *testing.T) {
	m := New()
	m.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "echolocate_system_uptime_seconds") {
		end := len(body)
		if end > 200 {
			end = 200
		}
		t.Fatalf("expected uptime metric in output, got: %s", body[:end])
	}
}

func TestMetrics_ScanMetrics(t *testing.T) {
	m := New()

	m.IncrementScansTotal("full", "completed")
	m.IncrementScansTotal("full", "completed")
	m.IncrementScansTotal("quick", "failed")

	if count := testutil.CollectAndCount(m.scansTotal); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}

	m.RecordScanDuration("full", 45*time.Second)
	m.RecordScanDuration("quick", 8*time.Second)

	if count := testutil.CollectAndCount(m.scanDuration); count != 2 {
		t.Errorf("expected 2 scan kinds, got %d", count)
	}

	m.IncrementScanErrors("full", "SCAN_CANCELED")
	m.IncrementScanErrors("full", "DATABASE_ERROR")

	if count := testutil.CollectAndCount(m.scanErrors); count != 2 {
		t.Errorf("expected 2 error codes, got %d", count)
	}

	m.AddDevicesFound("full", 12)
	m.AddNewDevices(2)
	m.SetScanActive(true)
	m.SetScanActive(false)

	if v := testutil.ToFloat64(m.scanActive); v != 0 {
		t.Errorf("expected scan active gauge 0, got %v", v)
	}
	if v := testutil.ToFloat64(m.newDevices); v != 2 {
		t.Errorf("expected 2 new devices, got %v", v)
	}
}

func TestMetrics_MonitorMetrics(t *testing.T) {
	m := New()

	m.SetMonitorRunning(true)
	m.IncrementMonitorCycles()
	m.IncrementMonitorCycles()

	if v := testutil.ToFloat64(m.monitorRunning); v != 1 {
		t.Errorf("expected monitor running gauge 1, got %v", v)
	}
	if v := testutil.ToFloat64(m.monitorCycles); v != 2 {
		t.Errorf("expected 2 monitor cycles, got %v", v)
	}
}

func TestMetrics_ProbeMetrics(t *testing.T) {
	m := New()

	m.IncrementPings("alive")
	m.IncrementPings("alive")
	m.IncrementPings("dead")
	m.ObservePingRTT(4.2)
	m.AddPortsProbed("open", 3)
	m.AddPortsProbed("closed", 90)
	m.AddPortsProbed("filtered", 7)
	m.RecordProbeDuration("port_scan", 2*time.Second)

	if count := testutil.CollectAndCount(m.pingsTotal); count != 2 {
		t.Errorf("expected 2 ping results, got %d", count)
	}
	if count := testutil.CollectAndCount(m.portsProbed); count != 3 {
		t.Errorf("expected 3 port states, got %d", count)
	}
}

func TestMetrics_AlertMetrics(t *testing.T) {
	m := New()

	m.IncrementAlertsGenerated("new_device", "info")
	m.IncrementAlertsGenerated("custom_rule", "critical")
	m.IncrementAlertDeliveries("webhook", "success")
	m.IncrementAlertDeliveries("desktop", "error")

	if count := testutil.CollectAndCount(m.alertsGenerated); count != 2 {
		t.Errorf("expected 2 alert combinations, got %d", count)
	}
	if count := testutil.CollectAndCount(m.alertDeliveries); count != 2 {
		t.Errorf("expected 2 delivery combinations, got %d", count)
	}
}

func TestMetrics_DatabaseAndAPIMetrics(t *testing.T) {
	m := New()

	m.IncrementDatabaseQueries("insert_device", "success")
	m.IncrementDatabaseQueries("insert_device", "error")
	m.RecordDatabaseQueryDuration("insert_device", 3*time.Millisecond)
	m.SetActiveConnections(4)

	if count := testutil.CollectAndCount(m.dbQueries); count != 2 {
		t.Errorf("expected 2 query statuses, got %d", count)
	}
	if v := testutil.ToFloat64(m.dbConnections); v != 4 {
		t.Errorf("expected 4 connections, got %v", v)
	}

	m.IncrementHTTPRequests("GET", "/api/v1/devices", "200")
	m.RecordHTTPDuration("GET", "/api/v1/devices", 2*time.Millisecond)

	if count := testutil.CollectAndCount(m.httpRequests); count != 1 {
		t.Errorf("expected 1 request combination, got %d", count)
	}
}

func TestMetrics_PeriodicUpdates(t *testing.T) {
	m := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartPeriodicUpdates(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("periodic updater did not stop on cancel")
	}

	if m.LastUpdate().IsZero() {
		t.Fatalf("expected periodic updates to refresh last update time")
	}
}

func TestGlobalMetricsSingleton(t *testing.T) {
	a := Global()
	b := Global()
	if a != b {
		t.Fatalf("expected the same global instance")
	}
}
