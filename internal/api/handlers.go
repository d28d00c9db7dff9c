package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/saagar210/Echolocate/internal/alerts"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/scan"
	"github.com/saagar210/Echolocate/internal/workers"
)

const (
	defaultScanHistoryLimit = 20
	defaultAlertLimit       = 50
)

var validate = validator.New()

// startScanRequest is the POST /scans payload.
type startScanRequest struct {
	Kind  string `json:"kind" validate:"omitempty,oneof=full quick passive port_only"`
	Ports []int  `json:"ports" validate:"omitempty,max=4096,dive,min=1,max=65535"`
}

// startScanHandler queues a scan on the worker pool. A scan already
// holding the lock yields 409.
func (s *Server) startScanHandler(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if r.ContentLength > 0 {
		if err := s.parseJSON(r, &req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if err := validate.Struct(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	if req.Kind == "" {
		req.Kind = db.ScanKindFull
	}

	if s.orchestrator.Running() {
		s.writeError(w, r, http.StatusConflict, fmt.Errorf("a scan is already in progress"))
		return
	}

	jobID := uuid.New().String()
	job := workers.NewScanJob(jobID, req.Kind, req.Ports, s.runScanJob)
	if err := s.pool.Submit(job); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}

	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"job_id":    jobID,
		"kind":      req.Kind,
		"timestamp": time.Now().UTC(),
	})
}

// runScanJob is the worker-pool entry point for API-triggered scans.
func (s *Server) runScanJob(ctx context.Context, kind string, ports []int) error {
	_, err := s.orchestrator.Run(ctx, scan.Config{Kind: kind, Ports: ports})
	return err
}

// cancelScanHandler aborts the in-flight scan, 404 when none runs.
func (s *Server) cancelScanHandler(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.Cancel() {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no scan in progress"))
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"canceled":  true,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.queryParamInt(r, "limit", defaultScanHistoryLimit)
	scans, err := s.scans.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"scans": scans})
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid scan id"))
		return
	}

	record, err := s.scans.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	ports, err := s.scans.PortsForScan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"scan":  record,
		"ports": ports,
	})
}

func (s *Server) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.devices.Snapshots(r.Context())
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"devices": snapshots})
}

func (s *Server) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	snap := device.Snapshot(time.Now(), db.OnlineWindow)
	if ports, err := s.devices.OpenPorts(r.Context(), device.ID); err == nil {
		snap.OpenPorts = ports
	}
	if samples, err := s.devices.LatencyHistory(r.Context(), device.ID, 1); err == nil && len(samples) > 0 {
		ms := samples[0].LatencyMS
		snap.LatencyMS = &ms
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

// updateDeviceRequest carries the mutable device fields. Absent fields
// are left unchanged.
type updateDeviceRequest struct {
	CustomName *string `json:"custom_name" validate:"omitempty,max=255"`
	Trusted    *bool   `json:"trusted"`
}

func (s *Server) updateDeviceHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	var req updateDeviceRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if req.CustomName != nil {
		name := req.CustomName
		if *name == "" {
			name = nil
		}
		if err := s.devices.SetCustomName(r.Context(), device.ID, name); err != nil {
			s.writeError(w, r, statusForError(err), err)
			return
		}
	}
	if req.Trusted != nil {
		if err := s.devices.SetTrusted(r.Context(), device.ID, *req.Trusted); err != nil {
			s.writeError(w, r, statusForError(err), err)
			return
		}
	}

	updated, err := s.devices.GetByID(r.Context(), device.ID)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, updated.Snapshot(time.Now(), db.OnlineWindow))
}

func (s *Server) deleteDeviceHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	if err := s.devices.Delete(r.Context(), device.ID); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deviceLatencyHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	limit := s.queryParamInt(r, "limit", 100)
	samples, err := s.devices.LatencyHistory(r.Context(), device.ID, limit)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"samples": samples})
}

// deviceFromPath resolves the {id} path variable to a device, writing
// the error response itself on failure.
func (s *Server) deviceFromPath(w http.ResponseWriter, r *http.Request) (*db.Device, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid device id"))
		return nil, false
	}
	device, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return nil, false
	}
	return device, true
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.queryParamInt(r, "limit", defaultAlertLimit)
	list, err := s.alerts.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"alerts": list})
}

func (s *Server) unreadCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.alerts.UnreadCount(r.Context())
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"unread": count})
}

func (s *Server) markReadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid alert id"))
		return
	}
	if err := s.alerts.MarkRead(r.Context(), id); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markAllReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkAllRead(r.Context()); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRulesHandler(w http.ResponseWriter, r *http.Request) {
	rules, err := s.alerts.GetRules(r.Context())
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"rules": rules})
}

// updateRuleRequest toggles a built-in rule.
type updateRuleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) updateRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateRuleRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.alerts.SetRuleEnabled(r.Context(), id, *req.Enabled); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCustomRulesHandler(w http.ResponseWriter, r *http.Request) {
	rules, err := s.alerts.GetCustomRules(r.Context())
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"rules": rules})
}

// customRuleRequest is the custom rule create/update payload.
type customRuleRequest struct {
	Name          string          `json:"name" validate:"required,min=1,max=255"`
	Description   string          `json:"description" validate:"max=1024"`
	Conditions    json.RawMessage `json:"conditions" validate:"required"`
	Severity      string          `json:"severity" validate:"omitempty,oneof=info warning critical"`
	NotifyDesktop *bool           `json:"notify_desktop"`
	WebhookURL    string          `json:"webhook_url" validate:"omitempty,url"`
	Enabled       *bool           `json:"enabled"`
}

func (s *Server) createCustomRuleHandler(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.customRuleFromRequest(w, r)
	if !ok {
		return
	}
	rule.ID = uuid.New()

	if err := s.alerts.CreateCustomRule(r.Context(), rule); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, rule)
}

func (s *Server) updateCustomRuleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid rule id"))
		return
	}

	rule, ok := s.customRuleFromRequest(w, r)
	if !ok {
		return
	}
	rule.ID = id

	if err := s.alerts.UpdateCustomRule(r.Context(), rule); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rule)
}

func (s *Server) deleteCustomRuleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid rule id"))
		return
	}
	if err := s.alerts.DeleteCustomRule(r.Context(), id); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// customRuleFromRequest parses and validates the shared create/update
// payload. The condition tree must parse as valid rule JSON.
func (s *Server) customRuleFromRequest(w http.ResponseWriter, r *http.Request) (*db.CustomAlertRule, bool) {
	var req customRuleRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	if _, err := alerts.ParseConditions(req.Conditions); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid conditions: %w", err))
		return nil, false
	}

	rule := &db.CustomAlertRule{
		Name:       req.Name,
		Conditions: db.JSONB(req.Conditions),
		Severity:   req.Severity,
		Enabled:    true,
	}
	if rule.Severity == "" {
		rule.Severity = db.SeverityWarning
	}
	if req.Description != "" {
		desc := req.Description
		rule.Description = &desc
	}
	rule.NotifyDesktop = req.NotifyDesktop == nil || *req.NotifyDesktop
	if req.WebhookURL != "" {
		url := req.WebhookURL
		rule.WebhookURL = &url
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	return rule, true
}
