package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("echolocate %s\n", version)
	fmt.Printf("  commit: %s\n", commit)
	fmt.Printf("  built:  %s\n", buildTime)

	// Also report the daemon's version when one is reachable.
	client, err := NewAPIClient()
	if err != nil {
		return
	}
	var resp struct {
		Version string `json:"version"`
	}
	if err := client.Get("/version", &resp); err != nil {
		return
	}
	if resp.Version != "" && resp.Version != version {
		fmt.Printf("  daemon: %s\n", resp.Version)
	}
}
