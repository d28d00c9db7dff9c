package main

import "github.com/saagar210/Echolocate/cmd/cli"

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
