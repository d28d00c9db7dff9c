// Package cli implements the Cobra-based command-line interface: scan
// control, device inventory, alert management, rule toggles and daemon
// lifecycle commands. Most commands talk to a running daemon over its
// REST API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information, set from main via SetVersion.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "echolocate",
	Short: "LAN device discovery and monitoring",
	Long: `Echolocate discovers and monitors devices on the local network.
It sweeps the LAN with ARP, ping, reverse DNS and mDNS, probes open
ports, fingerprints operating systems and device types, and raises
alerts when devices appear, depart, or match custom rules.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads the config file and matching environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ECHOLOCATE")

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

func setConfigDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "echolocate")
	viper.SetDefault("database.username", "echolocate")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("scanning.port_set", "top100")
	viper.SetDefault("scanning.enable_mdns", true)

	viper.SetDefault("api.listen_addr", "127.0.0.1")
	viper.SetDefault("api.port", 8710)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
}

// getConfigFilePath returns the config file the CLI should load: the
// --config flag if given, then whatever viper found, then ./config.yaml.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "config.yaml"
}

// loadConfig loads the full configuration or exits with an error.
func loadConfig() *config.Config {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets build information, called from main.
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging configures the default structured logger from the config
// file, falling back to defaults when no config is loadable.
func initLogging() {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == "debug",
	})
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
