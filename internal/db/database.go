// Package db provides database connectivity and data models for echolocate.
// It handles database migrations, device inventory, scan results, and alert
// storage, and provides the core data access layer for the application.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/logging"
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose internal SQL details or credentials to API clients.
// The original error is preserved in the Cause field for internal debugging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
		case "23514": // check_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01": // admin_shutdown
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection lost")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			msg := fmt.Sprintf("Database operation failed: %s", operation)
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, msg)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		Database:        "",
		Username:        "",
		Password:        "",
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		// Return sanitized error without DSN to prevent credential leakage in logs
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.ErrorDatabase("Failed to close database connection after ping failure", closeErr)
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// NewFromSQLDB wraps an existing *sql.DB. Used by tests with sqlmock.
func NewFromSQLDB(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlx.NewDb(sqlDB, "sqlmock")}
}

// DeviceRepository handles device inventory operations.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetAll retrieves all known devices ordered by last seen, newest first.
func (r *DeviceRepository) GetAll(ctx context.Context) ([]*Device, error) {
	var devices []*Device
	query := `SELECT * FROM devices ORDER BY last_seen DESC`

	if err := r.db.SelectContext(ctx, &devices, query); err != nil {
		return nil, sanitizeDBError("get devices", err)
	}

	return devices, nil
}

// GetByMAC retrieves a device by its MAC address.
func (r *DeviceRepository) GetByMAC(ctx context.Context, mac string) (*Device, error) {
	var device Device
	query := `SELECT * FROM devices WHERE mac_address = $1`

	if err := r.db.GetContext(ctx, &device, query, mac); err != nil {
		return nil, sanitizeDBError("get device by mac", err)
	}

	return &device, nil
}

// GetByID retrieves a device by its ID.
func (r *DeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*Device, error) {
	var device Device
	query := `SELECT * FROM devices WHERE id = $1`

	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		return nil, sanitizeDBError("get device by id", err)
	}

	return &device, nil
}

// Insert creates a new device record.
func (r *DeviceRepository) Insert(ctx context.Context, device *Device) error {
	query := `
		INSERT INTO devices (id, mac_address, current_ip, hostname, vendor, device_type,
			os_guess, os_confidence, trusted, gateway, properties)
		VALUES (:id, :mac_address, :current_ip, :hostname, :vendor, :device_type,
			:os_guess, :os_confidence, :trusted, :gateway, :properties)
		RETURNING first_seen, last_seen`

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, device)
	if err != nil {
		return sanitizeDBError("insert device", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&device.FirstSeen, &device.LastSeen); err != nil {
			return sanitizeDBError("scan inserted device", err)
		}
	}

	return nil
}

// Seen updates the last-seen timestamp and current IP for a device, and
// clears any departed marker.
func (r *DeviceRepository) Seen(ctx context.Context, mac, ip string) error {
	query := `
		UPDATE devices
		SET last_seen = NOW(), current_ip = $2, departed_at = NULL
		WHERE mac_address = $1`

	if _, err := r.db.ExecContext(ctx, query, mac, ip); err != nil {
		return sanitizeDBError("touch device", err)
	}

	return nil
}

// MarkDeparted stamps devices that have gone offline. Only devices without an
// existing marker are stamped, so each departure is recorded once.
func (r *DeviceRepository) MarkDeparted(ctx context.Context, mac string) error {
	query := `
		UPDATE devices
		SET departed_at = NOW()
		WHERE mac_address = $1 AND departed_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, mac); err != nil {
		return sanitizeDBError("mark device departed", err)
	}

	return nil
}

// UpdateHostname sets the resolved hostname for a device.
func (r *DeviceRepository) UpdateHostname(ctx context.Context, mac, hostname string) error {
	query := `UPDATE devices SET hostname = $2 WHERE mac_address = $1`

	if _, err := r.db.ExecContext(ctx, query, mac, hostname); err != nil {
		return sanitizeDBError("update device hostname", err)
	}

	return nil
}

// UpdateOSGuess stores the fingerprinted OS and confidence for a device.
func (r *DeviceRepository) UpdateOSGuess(ctx context.Context, mac, osGuess string, confidence float64) error {
	query := `UPDATE devices SET os_guess = $2, os_confidence = $3 WHERE mac_address = $1`

	if _, err := r.db.ExecContext(ctx, query, mac, osGuess, confidence); err != nil {
		return sanitizeDBError("update device os guess", err)
	}

	return nil
}

// UpdateDeviceType stores the classified device type.
func (r *DeviceRepository) UpdateDeviceType(ctx context.Context, mac, deviceType string) error {
	query := `UPDATE devices SET device_type = $2 WHERE mac_address = $1`

	if _, err := r.db.ExecContext(ctx, query, mac, deviceType); err != nil {
		return sanitizeDBError("update device type", err)
	}

	return nil
}

// SetCustomName sets or clears a user-assigned name for a device.
func (r *DeviceRepository) SetCustomName(ctx context.Context, id uuid.UUID, name *string) error {
	query := `UPDATE devices SET custom_name = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, name)
	if err != nil {
		return sanitizeDBError("set device custom name", err)
	}

	return requireRowsAffected(result, "Device not found")
}

// SetTrusted marks a device as trusted or untrusted.
func (r *DeviceRepository) SetTrusted(ctx context.Context, id uuid.UUID, trusted bool) error {
	query := `UPDATE devices SET trusted = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, trusted)
	if err != nil {
		return sanitizeDBError("set device trusted", err)
	}

	return requireRowsAffected(result, "Device not found")
}

// SetGateway marks a device as the network gateway, clearing the flag on all
// other devices.
func (r *DeviceRepository) SetGateway(ctx context.Context, mac string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin set gateway", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE devices SET gateway = FALSE WHERE gateway AND mac_address <> $1`, mac); err != nil {
		return sanitizeDBError("clear gateway flag", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE devices SET gateway = TRUE WHERE mac_address = $1`, mac); err != nil {
		return sanitizeDBError("set gateway flag", err)
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit set gateway", err)
	}

	return nil
}

// Delete removes a device and its dependent records.
func (r *DeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM devices WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sanitizeDBError("delete device", err)
	}

	return requireRowsAffected(result, "Device not found")
}

// RecordLatency stores a ping round-trip measurement for a device.
func (r *DeviceRepository) RecordLatency(ctx context.Context, deviceID uuid.UUID, latencyMS float64) error {
	query := `INSERT INTO latency_samples (device_id, latency_ms) VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, deviceID, latencyMS); err != nil {
		return sanitizeDBError("record latency sample", err)
	}

	return nil
}

// LatencyHistory returns the most recent latency samples for a device,
// newest first.
func (r *DeviceRepository) LatencyHistory(ctx context.Context, deviceID uuid.UUID, limit int) ([]*LatencySample, error) {
	var samples []*LatencySample
	query := `
		SELECT * FROM latency_samples
		WHERE device_id = $1
		ORDER BY measured_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &samples, query, deviceID, limit); err != nil {
		return nil, sanitizeDBError("get latency history", err)
	}

	return samples, nil
}

// OpenPorts returns the distinct open ports recorded for a device in its most
// recent scan, in ascending order.
func (r *DeviceRepository) OpenPorts(ctx context.Context, deviceID uuid.UUID) ([]int, error) {
	var ports []int
	query := `
		SELECT port FROM ports
		WHERE device_id = $1 AND state = 'open'
		  AND scan_id = (
			SELECT scan_id FROM ports WHERE device_id = $1 ORDER BY scanned_at DESC LIMIT 1
		  )
		ORDER BY port`

	if err := r.db.SelectContext(ctx, &ports, query, deviceID); err != nil {
		return nil, sanitizeDBError("get device open ports", err)
	}

	return ports, nil
}

// Snapshots returns every known device as a snapshot with the derived
// online flag, the open ports from its most recent port scan, and its
// latest latency sample. This is the view the alert engine evaluates
// rules against.
func (r *DeviceRepository) Snapshots(ctx context.Context) ([]DeviceSnapshot, error) {
	devices, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	type devicePort struct {
		DeviceID uuid.UUID `db:"device_id"`
		Port     int       `db:"port"`
	}
	var ports []devicePort
	portQuery := `
		SELECT p.device_id, p.port FROM ports p
		WHERE p.state = 'open'
		  AND p.scan_id = (
			SELECT p2.scan_id FROM ports p2
			WHERE p2.device_id = p.device_id
			ORDER BY p2.scanned_at DESC LIMIT 1
		  )
		ORDER BY p.device_id, p.port`
	if err := r.db.SelectContext(ctx, &ports, portQuery); err != nil {
		return nil, sanitizeDBError("get open ports", err)
	}
	openByDevice := make(map[uuid.UUID][]int)
	for _, p := range ports {
		openByDevice[p.DeviceID] = append(openByDevice[p.DeviceID], p.Port)
	}

	type deviceLatency struct {
		DeviceID  uuid.UUID `db:"device_id"`
		LatencyMS float64   `db:"latency_ms"`
	}
	var latencies []deviceLatency
	latencyQuery := `
		SELECT DISTINCT ON (device_id) device_id, latency_ms
		FROM latency_samples
		ORDER BY device_id, measured_at DESC`
	if err := r.db.SelectContext(ctx, &latencies, latencyQuery); err != nil {
		return nil, sanitizeDBError("get latest latency", err)
	}
	latencyByDevice := make(map[uuid.UUID]float64, len(latencies))
	for _, l := range latencies {
		latencyByDevice[l.DeviceID] = l.LatencyMS
	}

	now := time.Now()
	snapshots := make([]DeviceSnapshot, 0, len(devices))
	for _, d := range devices {
		snap := d.Snapshot(now, OnlineWindow)
		snap.OpenPorts = openByDevice[d.ID]
		if ms, ok := latencyByDevice[d.ID]; ok {
			latency := ms
			snap.LatencyMS = &latency
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// ScanRepository handles scan lifecycle operations.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create inserts a new running scan record.
func (r *ScanRepository) Create(ctx context.Context, scan *Scan) error {
	query := `
		INSERT INTO scans (id, kind, status, phase, progress)
		VALUES (:id, :kind, :status, :phase, :progress)
		RETURNING started_at`

	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.Status == "" {
		scan.Status = ScanStatusRunning
	}
	if scan.Phase == "" {
		scan.Phase = ScanPhaseDiscovery
	}

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&scan.StartedAt); err != nil {
			return sanitizeDBError("scan created scan", err)
		}
	}

	return nil
}

// UpdateProgress records the current phase and progress of a running scan.
func (r *ScanRepository) UpdateProgress(ctx context.Context, id uuid.UUID, phase string, progress int) error {
	query := `UPDATE scans SET phase = $2, progress = $3 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, phase, progress); err != nil {
		return sanitizeDBError("update scan progress", err)
	}

	return nil
}

// Complete marks a scan as completed and stores its result counts.
func (r *ScanRepository) Complete(ctx context.Context, id uuid.UUID, devicesFound, newDevices int) error {
	query := `
		UPDATE scans
		SET status = $2, phase = $3, progress = 100, devices_found = $4,
		    new_devices = $5, completed_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, ScanStatusCompleted, ScanPhaseCompleted, devicesFound, newDevices); err != nil {
		return sanitizeDBError("complete scan", err)
	}

	return nil
}

// Fail marks a scan as failed or canceled with an error message.
func (r *ScanRepository) Fail(ctx context.Context, id uuid.UUID, status, message string) error {
	query := `
		UPDATE scans
		SET status = $2, error_message = $3, completed_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, status, message); err != nil {
		return sanitizeDBError("fail scan", err)
	}

	return nil
}

// GetByID retrieves a scan by its ID.
func (r *ScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	query := `SELECT * FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &scan, query, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}

	return &scan, nil
}

// History returns the most recent scans, newest first.
func (r *ScanRepository) History(ctx context.Context, limit int) ([]*Scan, error) {
	var scans []*Scan
	query := `SELECT * FROM scans ORDER BY started_at DESC LIMIT $1`

	if err := r.db.SelectContext(ctx, &scans, query, limit); err != nil {
		return nil, sanitizeDBError("get scan history", err)
	}

	return scans, nil
}

// InsertPort stores a probed port result for a device within a scan.
func (r *ScanRepository) InsertPort(ctx context.Context, port *PortRecord) error {
	query := `
		INSERT INTO ports (id, scan_id, device_id, port, state, service, banner)
		VALUES (:id, :scan_id, :device_id, :port, :state, :service, :banner)
		ON CONFLICT (scan_id, device_id, port) DO UPDATE
		SET state = EXCLUDED.state, service = EXCLUDED.service, banner = EXCLUDED.banner`

	if port.ID == uuid.Nil {
		port.ID = uuid.New()
	}

	if _, err := r.db.NamedExecContext(ctx, query, port); err != nil {
		return sanitizeDBError("insert port", err)
	}

	return nil
}

// PortsForScan returns all port records for a scan.
func (r *ScanRepository) PortsForScan(ctx context.Context, scanID uuid.UUID) ([]*PortRecord, error) {
	var ports []*PortRecord
	query := `SELECT * FROM ports WHERE scan_id = $1 ORDER BY device_id, port`

	if err := r.db.SelectContext(ctx, &ports, query, scanID); err != nil {
		return nil, sanitizeDBError("get ports for scan", err)
	}

	return ports, nil
}

// AlertRepository handles alert and alert rule operations.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert stores a new alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *Alert) error {
	query := `
		INSERT INTO alerts (id, type, device_mac, device_name, message, severity, rule_id)
		VALUES (:id, :type, :device_mac, :device_name, :message, :severity, :rule_id)
		RETURNING created_at`

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, alert)
	if err != nil {
		return sanitizeDBError("insert alert", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&alert.CreatedAt); err != nil {
			return sanitizeDBError("scan inserted alert", err)
		}
	}

	return nil
}

// List returns the most recent alerts, newest first.
func (r *AlertRepository) List(ctx context.Context, limit int) ([]*Alert, error) {
	var alerts []*Alert
	query := `SELECT * FROM alerts ORDER BY created_at DESC LIMIT $1`

	if err := r.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		return nil, sanitizeDBError("list alerts", err)
	}

	return alerts, nil
}

// UnreadCount returns the number of unread alerts.
func (r *AlertRepository) UnreadCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM alerts WHERE NOT read`

	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, sanitizeDBError("count unread alerts", err)
	}

	return count, nil
}

// MarkRead marks a single alert as read.
func (r *AlertRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE alerts SET read = TRUE WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sanitizeDBError("mark alert read", err)
	}

	return requireRowsAffected(result, "Alert not found")
}

// MarkAllRead marks all alerts as read.
func (r *AlertRepository) MarkAllRead(ctx context.Context) error {
	query := `UPDATE alerts SET read = TRUE WHERE NOT read`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return sanitizeDBError("mark all alerts read", err)
	}

	return nil
}

// GetRules returns all built-in alert rule toggles.
func (r *AlertRepository) GetRules(ctx context.Context) ([]*AlertRule, error) {
	var rules []*AlertRule
	query := `SELECT * FROM alert_rules ORDER BY id`

	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, sanitizeDBError("get alert rules", err)
	}

	return rules, nil
}

// SetRuleEnabled toggles a built-in alert rule.
func (r *AlertRepository) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE alert_rules SET enabled = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return sanitizeDBError("set alert rule enabled", err)
	}

	return requireRowsAffected(result, "Alert rule not found")
}

// CreateCustomRule stores a user-defined alert rule.
func (r *AlertRepository) CreateCustomRule(ctx context.Context, rule *CustomAlertRule) error {
	query := `
		INSERT INTO custom_alert_rules (id, name, description, conditions, severity,
			notify_desktop, webhook_url, enabled)
		VALUES (:id, :name, :description, :conditions, :severity,
			:notify_desktop, :webhook_url, :enabled)
		RETURNING created_at, updated_at`

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, rule)
	if err != nil {
		return sanitizeDBError("create custom alert rule", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return sanitizeDBError("scan created custom alert rule", err)
		}
	}

	return nil
}

// GetCustomRules returns all user-defined alert rules.
func (r *AlertRepository) GetCustomRules(ctx context.Context) ([]*CustomAlertRule, error) {
	var rules []*CustomAlertRule
	query := `SELECT * FROM custom_alert_rules ORDER BY name`

	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, sanitizeDBError("get custom alert rules", err)
	}

	return rules, nil
}

// GetEnabledCustomRules returns the user-defined rules eligible for
// evaluation.
func (r *AlertRepository) GetEnabledCustomRules(ctx context.Context) ([]*CustomAlertRule, error) {
	var rules []*CustomAlertRule
	query := `SELECT * FROM custom_alert_rules WHERE enabled ORDER BY name`

	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, sanitizeDBError("get enabled custom alert rules", err)
	}

	return rules, nil
}

// UpdateCustomRule updates a user-defined alert rule.
func (r *AlertRepository) UpdateCustomRule(ctx context.Context, rule *CustomAlertRule) error {
	query := `
		UPDATE custom_alert_rules
		SET name = :name, description = :description, conditions = :conditions,
		    severity = :severity, notify_desktop = :notify_desktop,
		    webhook_url = :webhook_url, enabled = :enabled, updated_at = NOW()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, rule)
	if err != nil {
		return sanitizeDBError("update custom alert rule", err)
	}
	defer closeRows(rows)

	if !rows.Next() {
		return errors.NewDatabaseError(errors.CodeNotFound, "Custom alert rule not found")
	}
	if err := rows.Scan(&rule.UpdatedAt); err != nil {
		return sanitizeDBError("scan updated custom alert rule", err)
	}

	return nil
}

// DeleteCustomRule removes a user-defined alert rule.
func (r *AlertRepository) DeleteCustomRule(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM custom_alert_rules WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sanitizeDBError("delete custom alert rule", err)
	}

	return requireRowsAffected(result, "Custom alert rule not found")
}

func closeRows(rows *sqlx.Rows) {
	if err := rows.Close(); err != nil {
		logging.ErrorDatabase("Failed to close rows", err)
	}
}

func requireRowsAffected(result sql.Result, notFoundMsg string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, notFoundMsg)
	}
	return nil
}
