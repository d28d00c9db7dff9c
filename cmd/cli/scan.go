package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/saagar210/Echolocate/internal/db"
)

var (
	scanKind  string
	scanPorts string
	scanLimit int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Start and inspect network scans",
	Long: `Start a scan on the running daemon, cancel the scan in
progress, or list past scans. Scans run asynchronously; progress is
visible in 'scan history' and on the websocket event stream.`,
	Example: `  echolocate scan start
  echolocate scan start --kind quick
  echolocate scan start --kind port_only --ports 22,80,443
  echolocate scan cancel
  echolocate scan history --limit 10`,
}

var scanStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a scan",
	Run:   runScanStart,
}

var scanCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the scan in progress",
	Run:   runScanCancel,
}

var scanHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past scans",
	Run:   runScanHistory,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanStartCmd)
	scanCmd.AddCommand(scanCancelCmd)
	scanCmd.AddCommand(scanHistoryCmd)

	scanStartCmd.Flags().StringVar(&scanKind, "kind", "full",
		"Scan kind: full, quick, passive, port_only")
	scanStartCmd.Flags().StringVar(&scanPorts, "ports", "",
		"Comma-separated ports to probe instead of the configured set")
	scanHistoryCmd.Flags().IntVar(&scanLimit, "limit", 20, "Number of scans to list")
}

func runScanStart(_ *cobra.Command, _ []string) {
	validKinds := map[string]bool{
		db.ScanKindFull:     true,
		db.ScanKindQuick:    true,
		db.ScanKindPassive:  true,
		db.ScanKindPortOnly: true,
	}
	if !validKinds[scanKind] {
		fmt.Fprintf(os.Stderr, "Error: invalid scan kind %q\n", scanKind)
		fmt.Fprintf(os.Stderr, "Valid kinds: full, quick, passive, port_only\n")
		os.Exit(1)
	}

	ports, err := parsePortList(scanPorts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid ports %q: %v\n", scanPorts, err)
		os.Exit(1)
	}

	payload := map[string]interface{}{"kind": scanKind}
	if len(ports) > 0 {
		payload["ports"] = ports
	}

	client := mustCreateAPIClient()
	var resp struct {
		JobID string `json:"job_id"`
		Kind  string `json:"kind"`
	}
	if err := client.Post("/scans", payload, &resp); err != nil {
		exitOnAPIError(err, "start scan")
	}

	fmt.Printf("Scan queued (kind: %s, job: %s)\n", resp.Kind, resp.JobID)
	fmt.Println("Follow progress with 'echolocate scan history'")
}

func runScanCancel(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	if err := client.Delete("/scans/current", nil); err != nil {
		exitOnAPIError(err, "cancel scan")
	}
	fmt.Println("Scan canceled")
}

func runScanHistory(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Scans []db.Scan `json:"scans"`
	}
	if err := client.Get(fmt.Sprintf("/scans?limit=%d", scanLimit), &resp); err != nil {
		exitOnAPIError(err, "list scans")
	}

	if len(resp.Scans) == 0 {
		fmt.Println("No scans recorded yet")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Kind", "Status", "Progress", "Devices", "New", "Started", "Duration")

	for i := range resp.Scans {
		s := &resp.Scans[i]

		duration := "-"
		if s.CompletedAt != nil {
			duration = s.CompletedAt.Sub(s.StartedAt).Round(timeRounding).String()
		}

		_ = table.Append([]string{
			shortID(s.ID.String()),
			s.Kind,
			s.Status,
			fmt.Sprintf("%d%%", s.Progress),
			strconv.Itoa(s.DevicesFound),
			strconv.Itoa(s.NewDevices),
			s.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
		})
	}
	_ = table.Render()
}

// parsePortList parses a comma-separated port list.
func parsePortList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
