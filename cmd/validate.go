package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/mcprelay/internal/config"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate an mcprelay config file without starting the proxy",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(validateConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config valid: %d backend(s), %d plugin(s)\n", len(cfg.Backends), len(cfg.Plugins.Plugins))
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "Path to the mcprelay config file")
}
