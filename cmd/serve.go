package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stacklok/mcprelay/internal/app"
)

var (
	serveConfigPath string
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mcprelay proxy",
	Long: `Loads the configured backends and plugin layer, supervises every
backend connection, and serves the aggregated MCP surface over the
configured transport (stdio by default) until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	appCfg := app.NewConfig(serveConfigPath, serveDebug)

	application, err := app.NewApplication(appCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize mcprelay: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the mcprelay config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug-level logging")
}
