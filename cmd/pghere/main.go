package main

import (
	"os"

	"pghere/internal/cli/commands"
	"pghere/internal/common"
)

// Set by goreleaser ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)
	if err := commands.Execute(); err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(common.ExitCode(err))
	}
}
