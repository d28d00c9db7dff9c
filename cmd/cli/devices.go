package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/saagar210/Echolocate/internal/db"
)

const timeRounding = time.Second

var (
	devicesOnlineOnly  bool
	deviceLatencyCount int
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect and manage the device inventory",
	Long: `List known devices, show details for one device, rename or
trust devices, view latency history, or remove stale entries.`,
	Example: `  echolocate devices list
  echolocate devices list --online
  echolocate devices show <device-uuid>
  echolocate devices rename <id> "Living room TV"
  echolocate devices trust <id>
  echolocate devices latency <id>
  echolocate devices delete <id>`,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known devices",
	Run:   runDevicesList,
}

var devicesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one device in detail",
	Args:  cobra.ExactArgs(1),
	Run:   runDevicesShow,
}

var devicesRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Set a custom display name (empty name clears it)",
	Args:  cobra.ExactArgs(2),
	Run:   runDevicesRename,
}

var devicesTrustCmd = &cobra.Command{
	Use:   "trust <id>",
	Short: "Mark a device as trusted",
	Args:  cobra.ExactArgs(1),
	Run:   makeTrustRunner(true),
}

var devicesUntrustCmd = &cobra.Command{
	Use:   "untrust <id>",
	Short: "Clear a device's trusted flag",
	Args:  cobra.ExactArgs(1),
	Run:   makeTrustRunner(false),
}

var devicesLatencyCmd = &cobra.Command{
	Use:   "latency <id>",
	Short: "Show recent latency samples for a device",
	Args:  cobra.ExactArgs(1),
	Run:   runDevicesLatency,
}

var devicesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a device and its history",
	Args:  cobra.ExactArgs(1),
	Run:   runDevicesDelete,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesShowCmd)
	devicesCmd.AddCommand(devicesRenameCmd)
	devicesCmd.AddCommand(devicesTrustCmd)
	devicesCmd.AddCommand(devicesUntrustCmd)
	devicesCmd.AddCommand(devicesLatencyCmd)
	devicesCmd.AddCommand(devicesDeleteCmd)

	devicesListCmd.Flags().BoolVar(&devicesOnlineOnly, "online", false, "Show only devices currently online")
	devicesLatencyCmd.Flags().IntVar(&deviceLatencyCount, "limit", 20, "Number of samples to show")
}

func runDevicesList(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Devices []db.DeviceSnapshot `json:"devices"`
	}
	if err := client.Get("/devices", &resp); err != nil {
		exitOnAPIError(err, "list devices")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "IP", "MAC", "Vendor", "Type", "OS", "Status", "Last Seen")

	shown := 0
	for i := range resp.Devices {
		d := &resp.Devices[i]
		if devicesOnlineOnly && !d.Online {
			continue
		}
		shown++

		status := "offline"
		if d.Online {
			status = "online"
		}
		if d.Gateway {
			status += " (gw)"
		}

		_ = table.Append([]string{
			shortID(d.ID.String()),
			d.DisplayName(),
			d.IPAddress,
			d.MACAddress,
			d.Vendor,
			d.DeviceType,
			d.OSGuess,
			status,
			d.LastSeen.Format("2006-01-02 15:04"),
		})
	}

	if shown == 0 {
		fmt.Println("No devices found. Run 'echolocate scan start' first.")
		return
	}
	_ = table.Render()
	fmt.Printf("\n%d device(s)\n", shown)
}

func runDevicesShow(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	var d db.DeviceSnapshot
	if err := client.Get("/devices/"+args[0], &d); err != nil {
		exitOnAPIError(err, "show device")
	}

	fmt.Printf("Device %s\n", d.ID)
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Name:       %s\n", d.DisplayName())
	fmt.Printf("MAC:        %s\n", d.MACAddress)
	fmt.Printf("IP:         %s\n", d.IPAddress)
	if d.Hostname != "" {
		fmt.Printf("Hostname:   %s\n", d.Hostname)
	}
	if d.Vendor != "" {
		fmt.Printf("Vendor:     %s\n", d.Vendor)
	}
	if d.DeviceType != "" {
		fmt.Printf("Type:       %s\n", d.DeviceType)
	}
	if d.OSGuess != "" {
		fmt.Printf("OS:         %s (confidence %.0f%%)\n", d.OSGuess, d.OSConfidence*100)
	}
	fmt.Printf("Online:     %t\n", d.Online)
	fmt.Printf("Trusted:    %t\n", d.Trusted)
	fmt.Printf("Gateway:    %t\n", d.Gateway)
	if d.LatencyMS != nil {
		fmt.Printf("Latency:    %.1f ms\n", *d.LatencyMS)
	}
	if len(d.OpenPorts) > 0 {
		fmt.Printf("Open ports: %s\n", joinPorts(d.OpenPorts))
	}
	fmt.Printf("First seen: %s\n", d.FirstSeen.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last seen:  %s\n", d.LastSeen.Format("2006-01-02 15:04:05"))
}

func runDevicesRename(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	payload := map[string]interface{}{"custom_name": args[1]}
	if err := client.Put("/devices/"+args[0], payload, nil); err != nil {
		exitOnAPIError(err, "rename device")
	}
	if args[1] == "" {
		fmt.Println("Custom name cleared")
	} else {
		fmt.Printf("Device renamed to %q\n", args[1])
	}
}

func makeTrustRunner(trusted bool) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		client := mustCreateAPIClient()
		payload := map[string]interface{}{"trusted": trusted}
		if err := client.Put("/devices/"+args[0], payload, nil); err != nil {
			exitOnAPIError(err, "update device trust")
		}
		if trusted {
			fmt.Println("Device marked trusted")
		} else {
			fmt.Println("Device trust cleared")
		}
	}
}

func runDevicesLatency(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Samples []db.LatencySample `json:"samples"`
	}
	endpoint := fmt.Sprintf("/devices/%s/latency?limit=%d", args[0], deviceLatencyCount)
	if err := client.Get(endpoint, &resp); err != nil {
		exitOnAPIError(err, "device latency")
	}

	if len(resp.Samples) == 0 {
		fmt.Println("No latency samples recorded")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Measured", "Latency")
	for i := range resp.Samples {
		s := &resp.Samples[i]
		_ = table.Append([]string{
			s.MeasuredAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.1f ms", s.LatencyMS),
		})
	}
	_ = table.Render()
}

func runDevicesDelete(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	if err := client.Delete("/devices/"+args[0], nil); err != nil {
		exitOnAPIError(err, "delete device")
	}
	fmt.Println("Device deleted")
}

// shortID truncates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}
