// Command huginn is the network reconnaissance CLI.
package main

import "github.com/huginnscan/huginn/cmd/cli"

// Build information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
