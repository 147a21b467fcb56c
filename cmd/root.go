// Package cmd implements the mcprelay CLI: serve, validate, status, repl,
// and version, following the teacher's cobra-based cmd package layout.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes, matching the teacher's CLI convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the base command; mcprelay with no subcommand prints help.
var rootCmd = &cobra.Command{
	Use:          "mcprelay",
	Short:        "Aggregate MCP backend servers behind one JSON-RPC proxy",
	Long:         `mcprelay supervises a pool of backend MCP servers, merges their tools, prompts, and resources behind one namespaced surface, and applies a configurable plugin chain to every call.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command, injected by main at
// build time via -ldflags.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, exiting with a non-zero status on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcprelay version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
