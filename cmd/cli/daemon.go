package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saagar210/Echolocate/internal/daemon"
)

const (
	daemonStopTimeout      = 30 // seconds to wait before force kill
	daemonStopProgressStep = 5  // show progress every N seconds
)

var daemonPidFile string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run and control the background daemon",
	Long: `The daemon runs the monitor loop, scheduled scans, alert
evaluation and the REST API. Start it in the foreground (or with
daemon.daemonize in the config), stop it, reload its configuration,
or check whether it is running.`,
	Example: `  echolocate daemon start
  echolocate daemon stop
  echolocate daemon status
  echolocate daemon reload`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Run:   runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Run:   runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Run:   runDaemonStatus,
}

var daemonReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon configuration (SIGHUP)",
	Run:   runDaemonReload,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonReloadCmd)

	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "",
		"PID file path (default: daemon.pid_file from config)")
}

// pidFilePath resolves the PID file from the flag or the config.
func pidFilePath() string {
	if daemonPidFile != "" {
		return daemonPidFile
	}
	return loadConfig().Daemon.PIDFile
}

func runDaemonStart(_ *cobra.Command, _ []string) {
	cfg := loadConfig()
	if daemonPidFile != "" {
		cfg.Daemon.PIDFile = daemonPidFile
	}

	if isDaemonRunning(cfg.Daemon.PIDFile) {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID file: %s)\n", cfg.Daemon.PIDFile)
		os.Exit(1)
	}

	d := daemon.New(cfg, getConfigFilePath(), version)

	fmt.Println("Starting echolocate daemon...")
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}
}

func runDaemonStop(_ *cobra.Command, _ []string) {
	pidFile := pidFilePath()
	if !isDaemonRunning(pidFile) {
		fmt.Printf("Daemon is not running (no PID file at %s)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending stop signal: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	for i := 0; i < daemonStopTimeout; i++ {
		if !isDaemonRunning(pidFile) {
			fmt.Println("Daemon stopped")
			return
		}
		time.Sleep(time.Second)
		if i%daemonStopProgressStep == daemonStopProgressStep-1 {
			fmt.Printf("Waiting for daemon to stop... (%d seconds)\n", i+1)
		}
	}

	fmt.Println("Daemon did not stop gracefully, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		fmt.Fprintf(os.Stderr, "Error force-killing daemon: %v\n", err)
		os.Exit(1)
	}
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	pidFile := pidFilePath()

	fmt.Println("Echolocate Daemon Status")
	fmt.Println(strings.Repeat("=", 30))

	if !isDaemonRunning(pidFile) {
		fmt.Println("Status: not running")
		fmt.Printf("PID file: %s (not found)\n", pidFile)
		return
	}

	pid, _ := readPIDFile(pidFile)
	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", pidFile)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Printf("Started: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Uptime: %s\n", time.Since(info.ModTime()).Round(time.Second))
	}

	// Enrich with live state when the API answers.
	client, err := NewAPIClient()
	if err != nil {
		return
	}
	var status struct {
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
		ScanRunning bool   `json:"scan_running"`
		WSClients   int    `json:"ws_clients"`
	}
	if err := client.Get("/status", &status); err != nil {
		return
	}
	fmt.Printf("Version: %s\n", status.Version)
	fmt.Printf("Scan running: %t\n", status.ScanRunning)
	fmt.Printf("Websocket clients: %d\n", status.WSClients)
}

func runDaemonReload(_ *cobra.Command, _ []string) {
	pidFile := pidFilePath()
	if !isDaemonRunning(pidFile) {
		fmt.Fprintf(os.Stderr, "Daemon is not running (no PID file at %s)\n", pidFile)
		os.Exit(1)
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending reload signal: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reload signal sent to PID %d\n", pid)
}

func isDaemonRunning(pidFile string) bool {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func readPIDFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile) // #nosec G304
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}
