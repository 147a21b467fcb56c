package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcprelay/internal/wire"
)

var replEndpoint string

// replCmd opens an interactive console against a running mcprelay SSE
// endpoint, for poking at the aggregated surface by hand during plugin or
// backend development. Grounded on muster's agent REPL (readline-driven
// command loop, spinner feedback while a call is in flight).
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Open an interactive console against a running mcprelay SSE endpoint",
	Args:  cobra.NoArgs,
	RunE:  runRepl,
}

func runRepl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	c, err := client.NewSSEMCPClient(replEndpoint)
	if err != nil {
		return fmt.Errorf("repl: creating client: %w", err)
	}
	defer c.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" connecting to %s...", replEndpoint)
	s.Start()
	connectErr := connectAndInitialize(ctx, c)
	s.Stop()
	if connectErr != nil {
		return fmt.Errorf("repl: connecting: %w", connectErr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", replEndpoint)

	rl, err := readline.New("mcprelay> ")
	if err != nil {
		return fmt.Errorf("repl: initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on ^D, readline.ErrInterrupt on ^C
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		runReplCommand(ctx, cmd, c, line)
	}
}

func connectAndInitialize(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: string(wire.Latest),
			ClientInfo:      mcp.Implementation{Name: "mcprelay-repl", Version: "0.1.0"},
		},
	})
	return err
}

// runReplCommand parses one REPL input line, "tool.name {json args}" (args
// default to {}), and prints the call result.
func runReplCommand(ctx context.Context, cmd *cobra.Command, c *client.Client, line string) {
	name, rawArgs, _ := strings.Cut(line, " ")
	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		rawArgs = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "invalid JSON arguments: %v\n", err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.CallTool(callCtx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{Name: name, Arguments: args},
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "call failed: %v\n", err)
		return
	}
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			fmt.Fprintln(cmd.OutOrStdout(), tc.Text)
		}
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
	replCmd.Flags().StringVar(&replEndpoint, "endpoint", "http://127.0.0.1:8765/sse", "mcprelay SSE endpoint to connect to")
}
