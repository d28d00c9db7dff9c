// Package scan runs the phased network scan pipeline and the continuous
// monitor loop. A scan walks a fixed sequence of phases — neighbor
// discovery, ping sweep, hostname enrichment and persistence, port
// probing, fingerprinting, alert evaluation — with cooperative
// cancellation checks between phases and per device during the port
// scan. At most one scan runs per process.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saagar210/Echolocate/internal/alerts"
	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/events"
	"github.com/saagar210/Echolocate/internal/fingerprint"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/metrics"
	"github.com/saagar210/Echolocate/internal/neighbors"
	"github.com/saagar210/Echolocate/internal/probe"
)

// Progress anchors per phase. Port scanning interpolates between its
// anchor and portScanEnd per device.
const (
	progressDiscovery = 20
	progressPing      = 30
	progressEnriching = 50
	progressPortScan  = 60
	portScanEnd       = 90
	progressComplete  = 100
)

// DeviceStore is the device persistence surface the orchestrator needs.
// Implemented by db.DeviceRepository.
type DeviceStore interface {
	Snapshots(ctx context.Context) ([]db.DeviceSnapshot, error)
	GetByMAC(ctx context.Context, mac string) (*db.Device, error)
	Insert(ctx context.Context, device *db.Device) error
	Seen(ctx context.Context, mac, ip string) error
	MarkDeparted(ctx context.Context, mac string) error
	UpdateHostname(ctx context.Context, mac, hostname string) error
	UpdateOSGuess(ctx context.Context, mac, osGuess string, confidence float64) error
	UpdateDeviceType(ctx context.Context, mac, deviceType string) error
	SetGateway(ctx context.Context, mac string) error
	RecordLatency(ctx context.Context, deviceID uuid.UUID, latencyMS float64) error
}

// ScanStore is the scan record surface. Implemented by db.ScanRepository.
type ScanStore interface {
	Create(ctx context.Context, scan *db.Scan) error
	UpdateProgress(ctx context.Context, id uuid.UUID, phase string, progress int) error
	Complete(ctx context.Context, id uuid.UUID, devicesFound, newDevices int) error
	Fail(ctx context.Context, id uuid.UUID, status, message string) error
	InsertPort(ctx context.Context, port *db.PortRecord) error
}

// AlertEvaluator diffs snapshots and persists generated alerts.
// Implemented by alerts.Engine.
type AlertEvaluator interface {
	EvaluateAlerts(ctx context.Context, previous, current []db.DeviceSnapshot) ([]alerts.GeneratedAlert, error)
}

// AlertNotifier delivers generated alerts, best-effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alerts []alerts.GeneratedAlert)
}

// Discoverer produces the neighbor-table view of the network.
type Discoverer interface {
	Discover(ctx context.Context) neighbors.Result
}

// Pinger sweeps hosts for liveness and latency.
type Pinger interface {
	Sweep(ctx context.Context, ips []string) []probe.PingResult
}

// PortProber probes TCP ports on one host, returning the open ports
// ascending plus per-state probe counts.
type PortProber interface {
	ScanPorts(ctx context.Context, ip string, ports []int) ([]probe.PortResult, map[string]int)
}

// HostnameResolver turns an IP into a hostname, empty when unknown.
type HostnameResolver interface {
	Reverse(ctx context.Context, ip string) string
}

// MDNSSource browses mDNS for IP-to-hostname mappings.
type MDNSSource interface {
	Hostnames(ctx context.Context) map[string]string
}

// VendorLookup maps a MAC address to its vendor name, empty when unknown.
type VendorLookup interface {
	Lookup(mac string) string
}

// neighborDiscoverer adapts a neighbors.Source to the Discoverer
// interface.
type neighborDiscoverer struct {
	src neighbors.Source
}

func (d neighborDiscoverer) Discover(ctx context.Context) neighbors.Result {
	return neighbors.Discover(ctx, d.src)
}

// NewNeighborDiscoverer wraps the platform neighbor-table source.
func NewNeighborDiscoverer(src neighbors.Source) Discoverer {
	return neighborDiscoverer{src: src}
}

// Config selects what a single scan run does.
type Config struct {
	// Kind is one of the db.ScanKind constants. Empty means full.
	Kind string

	// Ports overrides the configured port set when non-empty.
	Ports []int
}

// Result is the terminal outcome of a completed scan.
type Result struct {
	ScanID       uuid.UUID     `json:"scan_id"`
	DevicesFound int           `json:"devices_found"`
	NewDevices   int           `json:"new_devices"`
	Duration     time.Duration `json:"duration"`
}

// Orchestrator coordinates one scan at a time over injected
// collaborators.
type Orchestrator struct {
	devices  DeviceStore
	scans    ScanStore
	engine   AlertEvaluator
	notifier AlertNotifier
	discover Discoverer
	pinger   Pinger
	prober   PortProber
	resolver HostnameResolver
	mdns     MDNSSource
	vendors  VendorLookup
	sink     events.Sink
	metrics  *metrics.Metrics
	logger   *logging.Logger
	cfg      config.ScanningConfig

	// mu serializes scans. A second Run while one is in flight is
	// rejected, not queued.
	mu sync.Mutex

	// cancel aborts the scan currently holding mu.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Options carries the orchestrator's injected collaborators. Devices,
// Scans, Engine, Discoverer, Pinger and Prober are required; the rest
// default to no-ops.
type Options struct {
	Devices  DeviceStore
	Scans    ScanStore
	Engine   AlertEvaluator
	Notifier AlertNotifier
	Discover Discoverer
	Pinger   Pinger
	Prober   PortProber
	Resolver HostnameResolver
	MDNS     MDNSSource
	Vendors  VendorLookup
	Sink     events.Sink
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Scanning config.ScanningConfig
}

// NewOrchestrator assembles a scan orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	return &Orchestrator{
		devices:  opts.Devices,
		scans:    opts.Scans,
		engine:   opts.Engine,
		notifier: opts.Notifier,
		discover: opts.Discover,
		pinger:   opts.Pinger,
		prober:   opts.Prober,
		resolver: opts.Resolver,
		mdns:     opts.MDNS,
		vendors:  opts.Vendors,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger:   opts.Logger.WithComponent("scan"),
		cfg:      opts.Scanning,
	}
}

// Running reports whether a scan currently holds the lock.
func (o *Orchestrator) Running() bool {
	if o.mu.TryLock() {
		o.mu.Unlock()
		return false
	}
	return true
}

// Cancel aborts the in-flight scan, if any.
func (o *Orchestrator) Cancel() bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// progress is the payload of scan progress events.
type progress struct {
	ScanID          string  `json:"scan_id"`
	Phase           string  `json:"phase"`
	DevicesFound    int     `json:"devices_found"`
	PercentComplete float64 `json:"percent_complete"`
}

// Run executes one scan. It rejects concurrent runs, walks the phases in
// order for the configured kind, and returns the terminal result. On
// cancellation the scan record is marked canceled and the returned error
// carries the CANCELED code.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (*Result, error) {
	if !o.mu.TryLock() {
		return nil, errors.ErrScanInProgress()
	}
	defer o.mu.Unlock()

	if cfg.Kind == "" {
		cfg.Kind = db.ScanKindFull
	}

	if o.cfg.MaxScanTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, o.cfg.MaxScanTimeout)
		defer timeoutCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
	defer func() {
		o.cancelMu.Lock()
		o.cancel = nil
		o.cancelMu.Unlock()
	}()

	start := time.Now()
	scan := &db.Scan{Kind: cfg.Kind, Status: db.ScanStatusRunning, Phase: db.ScanPhaseDiscovery}
	if err := o.scans.Create(ctx, scan); err != nil {
		return nil, err
	}
	scanID := scan.ID

	o.metrics.SetScanActive(true)
	defer o.metrics.SetScanActive(false)

	o.logger.InfoScan("Scan started", scanID.String(), "kind", cfg.Kind)
	o.emitProgress(scanID, db.ScanPhaseDiscovery, 0, 0)

	// Previous snapshot for the alert diff, taken before this scan
	// mutates anything.
	previous, err := o.snapshotDevices(ctx)
	if err != nil {
		return nil, o.fail(ctx, scanID, cfg.Kind, err)
	}

	// Phase 1: neighbor discovery.
	discovered := o.discover.Discover(ctx)
	deviceCount := len(discovered.Entries)
	o.setPhase(ctx, scanID, db.ScanPhaseDiscovery, progressDiscovery, deviceCount)

	if err := o.checkCanceled(ctx, scanID, cfg.Kind); err != nil {
		return nil, err
	}

	// Phase 2: ping sweep.
	var pingLatency map[string]float64
	if cfg.Kind != db.ScanKindPassive {
		o.setPhase(ctx, scanID, db.ScanPhasePing, progressPing, deviceCount)
		pingLatency = o.sweep(ctx, discovered.Entries)
	}

	if err := o.checkCanceled(ctx, scanID, cfg.Kind); err != nil {
		return nil, err
	}

	// Phase 3: enrichment and persistence.
	o.setPhase(ctx, scanID, db.ScanPhaseEnriching, progressEnriching, deviceCount)
	newDevices, err := o.enrich(ctx, cfg.Kind, discovered, pingLatency)
	if err != nil {
		return nil, o.fail(ctx, scanID, cfg.Kind, err)
	}

	if err := o.checkCanceled(ctx, scanID, cfg.Kind); err != nil {
		return nil, err
	}

	// Phases 4 and 5: port scan and fingerprinting.
	if cfg.Kind == db.ScanKindFull || cfg.Kind == db.ScanKindPortOnly {
		if err := o.portScan(ctx, scanID, cfg, discovered, deviceCount); err != nil {
			return nil, err
		}
	}

	if err := o.checkCanceled(ctx, scanID, cfg.Kind); err != nil {
		return nil, err
	}

	// Phase 6: alert evaluation. The current snapshot holds only the
	// devices this scan actually saw, so devices that vanished from
	// the network are absent from it and register as departed.
	current, err := o.snapshotSeen(ctx, discovered)
	if err != nil {
		return nil, o.fail(ctx, scanID, cfg.Kind, err)
	}
	if err := o.evaluateAlerts(ctx, previous, current); err != nil {
		return nil, o.fail(ctx, scanID, cfg.Kind, err)
	}

	// Terminal: persist counts and duration.
	if err := o.scans.Complete(ctx, scanID, deviceCount, newDevices); err != nil {
		return nil, o.fail(ctx, scanID, cfg.Kind, err)
	}

	duration := time.Since(start)
	result := &Result{
		ScanID:       scanID,
		DevicesFound: deviceCount,
		NewDevices:   newDevices,
		Duration:     duration,
	}

	o.setPhase(ctx, scanID, db.ScanPhaseCompleted, progressComplete, deviceCount)
	o.sink.Publish(events.New(events.TypeScanCompleted, result))

	o.metrics.IncrementScansTotal(cfg.Kind, db.ScanStatusCompleted)
	o.metrics.RecordScanDuration(cfg.Kind, duration)
	o.metrics.AddDevicesFound(cfg.Kind, deviceCount)
	o.metrics.AddNewDevices(newDevices)

	o.logger.InfoScan("Scan completed", scanID.String(),
		"devices_found", deviceCount,
		"new_devices", newDevices,
		"duration_ms", duration.Milliseconds())

	return result, nil
}

// sweep pings every discovered IP and returns latency by IP for the
// hosts that answered.
func (o *Orchestrator) sweep(ctx context.Context, entries []neighbors.Entry) map[string]float64 {
	ips := make([]string, 0, len(entries))
	for _, e := range entries {
		ips = append(ips, e.IP)
	}

	latency := make(map[string]float64)
	for _, r := range o.pinger.Sweep(ctx, ips) {
		if r.Alive {
			o.metrics.IncrementPings("alive")
			if r.LatencyMS > 0 {
				latency[r.IP] = r.LatencyMS
				o.metrics.ObservePingRTT(r.LatencyMS)
			}
		} else {
			o.metrics.IncrementPings("dead")
		}
	}
	return latency
}

// enrich looks up vendors and hostnames for discovered entries and
// persists them: existing devices are touched, new ones inserted. For
// port-only scans unknown devices are skipped rather than inserted.
func (o *Orchestrator) enrich(ctx context.Context, kind string, discovered neighbors.Result, latency map[string]float64) (int, error) {
	var mdnsNames map[string]string
	resolveNames := kind == db.ScanKindFull || kind == db.ScanKindQuick
	if resolveNames && o.mdns != nil {
		mdnsNames = o.mdns.Hostnames(ctx)
	}

	newDevices := 0
	for _, entry := range discovered.Entries {
		isGateway := entry.IP == discovered.Gateway

		vendor := ""
		if o.vendors != nil {
			vendor = o.vendors.Lookup(entry.MAC)
		}

		hostname := ""
		if resolveNames {
			if o.resolver != nil {
				hostname = o.resolver.Reverse(ctx, entry.IP)
			}
			if hostname == "" {
				hostname = mdnsNames[entry.IP]
			}
		}

		existing, err := o.devices.GetByMAC(ctx, entry.MAC)
		switch {
		case err == nil:
			if err := o.devices.Seen(ctx, entry.MAC, entry.IP); err != nil {
				return newDevices, err
			}
			if hostname != "" && (existing.Hostname == nil || *existing.Hostname != hostname) {
				if err := o.devices.UpdateHostname(ctx, entry.MAC, hostname); err != nil {
					return newDevices, err
				}
			}
			if ms, ok := latency[entry.IP]; ok {
				if err := o.devices.RecordLatency(ctx, existing.ID, ms); err != nil {
					return newDevices, err
				}
			}

		case errors.IsCode(err, errors.CodeNotFound):
			if kind == db.ScanKindPortOnly {
				continue
			}

			mac, macErr := db.ParseMACAddr(entry.MAC)
			if macErr != nil {
				o.logger.Warn("Skipping entry with unparseable MAC", "mac", entry.MAC, "error", macErr)
				continue
			}

			deviceType := db.DeviceTypeUnknown
			if isGateway {
				deviceType = db.DeviceTypeRouter
			}
			device := &db.Device{
				MACAddress: mac,
				CurrentIP:  db.NewIPAddr(entry.IP),
				DeviceType: &deviceType,
				Gateway:    isGateway,
			}
			if vendor != "" {
				device.Vendor = &vendor
			}
			if hostname != "" {
				device.Hostname = &hostname
			}

			if err := o.devices.Insert(ctx, device); err != nil {
				return newDevices, err
			}
			newDevices++

			if ms, ok := latency[entry.IP]; ok {
				if err := o.devices.RecordLatency(ctx, device.ID, ms); err != nil {
					return newDevices, err
				}
			}
			o.sink.Publish(events.New(events.TypeDeviceSeen, device))

		default:
			return newDevices, err
		}

		if isGateway {
			if err := o.devices.SetGateway(ctx, entry.MAC); err != nil {
				return newDevices, err
			}
		}
	}

	return newDevices, nil
}

// portScan probes each discovered device and records open ports, then
// refreshes OS guesses and device types. Cancellation is checked before
// every device.
func (o *Orchestrator) portScan(ctx context.Context, scanID uuid.UUID, cfg Config, discovered neighbors.Result, deviceCount int) error {
	o.setPhase(ctx, scanID, db.ScanPhasePortScan, progressPortScan, deviceCount)

	ports := cfg.Ports
	if len(ports) == 0 {
		ports = probe.PortSet(o.cfg.PortSet)
	}

	total := len(discovered.Entries)
	if total == 0 {
		total = 1
	}

	for i, entry := range discovered.Entries {
		if err := o.checkCanceled(ctx, scanID, cfg.Kind); err != nil {
			return err
		}

		pct := float64(progressPortScan) + float64(portScanEnd-progressPortScan)*float64(i)/float64(total)
		o.emitProgress(scanID, db.ScanPhasePortScan, deviceCount, pct)

		probeStart := time.Now()
		results, stateCounts := o.prober.ScanPorts(ctx, entry.IP, ports)
		o.metrics.RecordProbeDuration("port_scan", time.Since(probeStart))
		for state, n := range stateCounts {
			o.metrics.AddPortsProbed(state, n)
		}

		device, err := o.devices.GetByMAC(ctx, entry.MAC)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				continue
			}
			return o.fail(ctx, scanID, cfg.Kind, err)
		}

		open := make([]int, 0, len(results))
		for _, r := range results {
			open = append(open, r.Port)

			record := &db.PortRecord{
				ScanID:   scanID,
				DeviceID: device.ID,
				Port:     r.Port,
				State:    r.State,
			}
			if r.Service != "" {
				service := r.Service
				record.Service = &service
			}
			if r.Banner != "" {
				banner := r.Banner
				record.Banner = &banner
			}
			if err := o.scans.InsertPort(ctx, record); err != nil {
				return o.fail(ctx, scanID, cfg.Kind, err)
			}
		}

		if err := o.fingerprintDevice(ctx, device, open); err != nil {
			return o.fail(ctx, scanID, cfg.Kind, err)
		}
	}

	return nil
}

// fingerprintDevice refreshes a device's OS guess and type from its open
// ports. A nil OS guess never overwrites an existing one.
func (o *Orchestrator) fingerprintDevice(ctx context.Context, device *db.Device, openPorts []int) error {
	vendor := ""
	if device.Vendor != nil {
		vendor = *device.Vendor
	}
	mac := device.MACAddress.String()

	osGuess := ""
	if device.OSGuess != nil {
		osGuess = *device.OSGuess
	}
	if guess := fingerprint.GuessOS(openPorts, vendor); guess != nil {
		osGuess = guess.OS
		if err := o.devices.UpdateOSGuess(ctx, mac, guess.OS, guess.Confidence); err != nil {
			return err
		}
	}

	deviceType := fingerprint.ClassifyDevice(openPorts, vendor, osGuess, device.Gateway)
	if deviceType != db.DeviceTypeUnknown {
		if err := o.devices.UpdateDeviceType(ctx, mac, deviceType); err != nil {
			return err
		}
	}
	return nil
}

// evaluateAlerts runs the alert engine over the previous and current
// snapshots, stamps departed devices, and delivers notifications.
func (o *Orchestrator) evaluateAlerts(ctx context.Context, previous, current []db.DeviceSnapshot) error {
	currentByID := make(map[uuid.UUID]struct{}, len(current))
	for i := range current {
		currentByID[current[i].ID] = struct{}{}
	}
	for i := range previous {
		prev := &previous[i]
		if !prev.Online {
			continue
		}
		if _, present := currentByID[prev.ID]; present {
			continue
		}
		if err := o.devices.MarkDeparted(ctx, prev.MACAddress); err != nil {
			return err
		}
	}

	generated, err := o.engine.EvaluateAlerts(ctx, previous, current)
	if err != nil {
		return err
	}

	for i := range generated {
		o.metrics.IncrementAlertsGenerated(generated[i].Alert.Type, generated[i].Alert.Severity)
		o.sink.Publish(events.New(events.TypeAlertNew, generated[i].Alert))
	}
	if o.notifier != nil && len(generated) > 0 {
		o.notifier.Notify(ctx, generated)
	}
	return nil
}

// snapshotDevices returns the current repository state as snapshots,
// open ports and latest latency included so condition leaves that read
// them see real data.
func (o *Orchestrator) snapshotDevices(ctx context.Context) ([]db.DeviceSnapshot, error) {
	return o.devices.Snapshots(ctx)
}

// snapshotSeen returns snapshots for the devices whose MAC appeared in
// this scan's neighbor table.
func (o *Orchestrator) snapshotSeen(ctx context.Context, discovered neighbors.Result) ([]db.DeviceSnapshot, error) {
	seen := make(map[string]struct{}, len(discovered.Entries))
	for _, e := range discovered.Entries {
		seen[e.MAC] = struct{}{}
	}

	all, err := o.devices.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]db.DeviceSnapshot, 0, len(all))
	for _, s := range all {
		if _, ok := seen[s.MACAddress]; !ok {
			continue
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

// setPhase persists the phase transition and publishes a progress event.
// A persistence failure here is logged but does not abort the scan.
func (o *Orchestrator) setPhase(ctx context.Context, scanID uuid.UUID, phase string, percent, devicesFound int) {
	if err := o.scans.UpdateProgress(ctx, scanID, phase, percent); err != nil {
		o.logger.Warn("Failed to persist scan progress", "scan_id", scanID.String(), "phase", phase, "error", err)
	}
	o.emitProgress(scanID, phase, devicesFound, float64(percent))
}

func (o *Orchestrator) emitProgress(scanID uuid.UUID, phase string, devicesFound int, percent float64) {
	o.sink.Publish(events.New(events.TypeScanProgress, progress{
		ScanID:          scanID.String(),
		Phase:           phase,
		DevicesFound:    devicesFound,
		PercentComplete: percent,
	}))
}

// checkCanceled marks the scan canceled and returns the cancellation
// error when the context is done.
func (o *Orchestrator) checkCanceled(ctx context.Context, scanID uuid.UUID, kind string) error {
	if ctx.Err() == nil {
		return nil
	}

	// Use a fresh context: the scan's own is already dead.
	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.scans.Fail(failCtx, scanID, db.ScanStatusCanceled, "canceled"); err != nil {
		o.logger.ErrorScan("Failed to mark scan canceled", scanID.String(), err)
	}

	o.metrics.IncrementScansTotal(kind, db.ScanStatusCanceled)
	o.sink.Publish(events.New(events.TypeScanFailed, progress{
		ScanID: scanID.String(),
		Phase:  db.ScanStatusCanceled,
	}))
	o.logger.InfoScan("Scan canceled", scanID.String())
	return errors.ErrScanCanceled(scanID.String())
}

// fail marks the scan failed and returns the original error.
func (o *Orchestrator) fail(ctx context.Context, scanID uuid.UUID, kind string, cause error) error {
	failCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		failCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := o.scans.Fail(failCtx, scanID, db.ScanStatusFailed, cause.Error()); err != nil {
		o.logger.ErrorScan("Failed to mark scan failed", scanID.String(), err)
	}

	o.metrics.IncrementScansTotal(kind, db.ScanStatusFailed)
	o.metrics.IncrementScanErrors(kind, string(errors.GetCode(cause)))
	o.sink.Publish(events.New(events.TypeScanFailed, progress{ScanID: scanID.String()}))
	o.logger.ErrorScan("Scan failed", scanID.String(), cause)
	return cause
}
