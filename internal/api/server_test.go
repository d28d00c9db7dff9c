package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/scan"
	"github.com/saagar210/Echolocate/internal/workers"
)

type fakeController struct {
	mu        sync.Mutex
	running   bool
	canCancel bool
	runErr    error
	runs      []scan.Config
}

func (f *fakeController) Run(ctx context.Context, cfg scan.Config) (*scan.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, cfg)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &scan.Result{ScanID: uuid.New()}, nil
}

func (f *fakeController) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canCancel
}

func (f *fakeController) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeController) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeController) lastRun() scan.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[len(f.runs)-1]
}

type apiHarness struct {
	server     *Server
	mock       sqlmock.Sqlmock
	controller *fakeController
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *apiHarness {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	database := db.NewFromSQLDB(sqlDB)

	cfg := &config.Config{}
	cfg.API.ListenAddr = "127.0.0.1"
	cfg.API.Port = 8710
	if mutate != nil {
		mutate(cfg)
	}

	logger := logging.NewDefault()
	pool := workers.New(workers.Config{Size: 1, QueueSize: 4, ShutdownTimeout: time.Second}, logger)
	pool.Start()
	t.Cleanup(pool.Shutdown)

	controller := &fakeController{}
	server, err := New(Options{
		Config:       cfg,
		Database:     database,
		Devices:      db.NewDeviceRepository(database),
		Scans:        db.NewScanRepository(database),
		Alerts:       db.NewAlertRepository(database),
		Orchestrator: controller,
		Pool:         pool,
		Logger:       logger,
		Version:      "test",
	})
	require.NoError(t, err)

	return &apiHarness{server: server, mock: mock, controller: controller}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStartScanAccepted(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/scans", map[string]string{"kind": "quick"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["job_id"])
	assert.Equal(t, "quick", body["kind"])

	require.Eventually(t, func() bool {
		return h.controller.runCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "quick", h.controller.lastRun().Kind)
}

func TestStartScanDefaultsToFull(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/scans", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "full", decodeBody(t, rec)["kind"])
}

func TestStartScanRejectsInvalidKind(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/scans", map[string]string{"kind": "aggressive"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.controller.runCount())
}

func TestStartScanConflictWhileRunning(t *testing.T) {
	h := newTestServer(t, nil)
	h.controller.running = true

	rec := h.do(t, "POST", "/api/v1/scans", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartScanCustomPorts(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/scans", map[string]interface{}{
		"kind":  "port_only",
		"ports": []int{22, 443, 8080},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return h.controller.runCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{22, 443, 8080}, h.controller.lastRun().Ports)
}

func TestStartScanRejectsBadPort(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/scans", map[string]interface{}{
		"ports": []int{0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelScan(t *testing.T) {
	h := newTestServer(t, nil)
	h.controller.canCancel = true

	rec := h.do(t, "DELETE", "/api/v1/scans/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["canceled"])
}

func TestCancelScanNoneRunning(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "DELETE", "/api/v1/scans/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListScans(t *testing.T) {
	h := newTestServer(t, nil)

	h.mock.ExpectQuery("SELECT \\* FROM scans ORDER BY started_at DESC").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "status"}))

	rec := h.do(t, "GET", "/api/v1/scans?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestGetScanInvalidID(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "GET", "/api/v1/scans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDeviceInvalidID(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "GET", "/api/v1/devices/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDevicesAggregatesPortsAndLatency(t *testing.T) {
	h := newTestServer(t, nil)

	id := uuid.New()
	now := time.Now()
	deviceRows := sqlmock.NewRows([]string{
		"id", "mac_address", "current_ip", "hostname", "custom_name", "vendor",
		"device_type", "os_guess", "os_confidence", "trusted", "gateway",
		"first_seen", "last_seen", "properties", "departed_at",
	}).AddRow(
		id.String(), "aa:bb:cc:dd:ee:ff", "192.168.1.10", "nas.local", nil,
		"Synology", "computer", "Linux", 0.55, false, false, now, now, nil, nil,
	)
	h.mock.ExpectQuery("SELECT \\* FROM devices ORDER BY last_seen DESC").WillReturnRows(deviceRows)
	h.mock.ExpectQuery("SELECT p.device_id, p.port FROM ports p").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "port"}).AddRow(id.String(), 22))
	h.mock.ExpectQuery("SELECT DISTINCT ON \\(device_id\\) device_id, latency_ms").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "latency_ms"}).AddRow(id.String(), 2.4))

	rec := h.do(t, "GET", "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Devices []db.DeviceSnapshot `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Devices, 1)
	assert.Equal(t, []int{22}, body.Devices[0].OpenPorts)
	require.NotNil(t, body.Devices[0].LatencyMS)
	assert.Equal(t, 2.4, *body.Devices[0].LatencyMS)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestUnreadCount(t *testing.T) {
	h := newTestServer(t, nil)

	h.mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM alerts WHERE NOT read").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rec := h.do(t, "GET", "/api/v1/alerts/unread-count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["unread"])
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateCustomRule(t *testing.T) {
	h := newTestServer(t, nil)

	now := time.Now()
	h.mock.ExpectQuery("INSERT INTO custom_alert_rules").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	rec := h.do(t, "POST", "/api/v1/rules/custom", map[string]interface{}{
		"name":       "Camera offline",
		"conditions": map[string]interface{}{"type": "is_online"},
		"severity":   "critical",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Camera offline", body["name"])
	assert.Equal(t, "critical", body["severity"])
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateCustomRuleRejectsBadConditions(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/rules/custom", map[string]interface{}{
		"name":       "Broken",
		"conditions": map[string]interface{}{"operator": "XOR"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCustomRuleRequiresName(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "POST", "/api/v1/rules/custom", map[string]interface{}{
		"conditions": map[string]interface{}{"type": "is_online"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHealthy(t *testing.T) {
	h := newTestServer(t, nil)
	h.mock.ExpectPing()

	rec := h.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestHealthDatabaseDown(t *testing.T) {
	h := newTestServer(t, nil)
	h.mock.ExpectPing().WillReturnError(fmt.Errorf("connection refused"))

	rec := h.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decodeBody(t, rec)["status"])
}

func TestStatusReportsScanState(t *testing.T) {
	h := newTestServer(t, nil)
	h.controller.running = true

	rec := h.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "echolocate", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["scan_running"])
}

func TestAuthRejectsMissingKey(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.APIKey = "el_supersecretkey"
	})

	rec := h.do(t, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsConfiguredKey(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.APIKey = "el_supersecretkey"
	})

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "el_supersecretkey")
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAcceptsQueryParamKey(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.APIKey = "el_supersecretkey"
	})

	rec := h.do(t, "GET", "/api/v1/status?api_key=el_supersecretkey", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthExemptsHealth(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.APIKey = "el_supersecretkey"
	})
	h.mock.ExpectPing()

	rec := h.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	h := newTestServer(t, nil)

	rec := h.do(t, "GET", "/api/v1/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
