package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcprelay/internal/config"
	"github.com/stacklok/mcprelay/internal/overrides"
)

var statusConfigPath string

// statusCmd renders the configured backend list as a table, the CLI echo
// of server__list named in SPEC_FULL §4.8 (a local read of config + the
// override file, not a wire call into a running proxy).
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured backends and their enable overrides as a table",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(statusConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ov, err := overrides.Load()
	if err != nil {
		return fmt.Errorf("loading overrides: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Backend", "Transport", "Default enabled", "Override"})

	for _, b := range cfg.Backends {
		override := text.FgHiBlack.Sprint("none")
		if o, ok := ov.Get(b.Name); ok && o.Enabled != nil {
			override = fmt.Sprintf("%v", *o.Enabled)
		}
		t.AppendRow(table.Row{b.Name, string(b.Transport), b.Enabled, override})
	}
	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "Path to the mcprelay config file")
}
