// Package wire defines the plugin wire frame format (spec §3) and the
// translation rules applied when forwarding messages between MCP protocol
// versions (spec §6).
package wire

import "encoding/json"

// PluginMetadata accompanies a PluginRequest frame.
type PluginMetadata struct {
	RequestID  string `json:"requestId"`
	Timestamp  int64  `json:"timestamp"`
	ServerName string `json:"serverName"`
	Phase      string `json:"phase"`
	UserQuery  string `json:"userQuery,omitempty"`
}

// PluginRequest is written, newline-terminated, to a plugin's stdin.
type PluginRequest struct {
	ToolName   string         `json:"toolName"`
	RawContent string         `json:"rawContent"`
	MaxTokens  int            `json:"maxTokens,omitempty"`
	Metadata   PluginMetadata `json:"metadata"`
}

// PluginResponse is read, newline-terminated, from a plugin's stdout.
//
// Invariant: if Error is non-empty, Continue must be false. Callers that
// construct a PluginResponse from untrusted plugin output should call
// Validate before trusting Continue.
type PluginResponse struct {
	Text     string          `json:"text"`
	Continue bool            `json:"continue"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Validate enforces the error/continue invariant of spec §3's plugin frame.
func (r PluginResponse) Validate() error {
	if r.Error != "" && r.Continue {
		return errFrameInvariant
	}
	return nil
}

var errFrameInvariant = &frameError{"plugin response has error set with continue:true"}

type frameError struct{ msg string }

func (e *frameError) Error() string { return e.msg }
