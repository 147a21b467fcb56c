package wire

import "encoding/json"

// ProtocolVersion is one of the MCP wire protocol versions the proxy speaks.
type ProtocolVersion string

const (
	V20241105 ProtocolVersion = "2024-11-05"
	V20250326 ProtocolVersion = "2025-03-26"
	V20250618 ProtocolVersion = "2025-06-18"
)

// SupportedVersions is ordered oldest first; the last entry is the proxy's
// own latest, advertised in its initialize response.
var SupportedVersions = []ProtocolVersion{V20241105, V20250326, V20250618}

// Latest is the newest protocol version the proxy itself understands.
const Latest = V20250618

func versionRank(v ProtocolVersion) int {
	for i, sv := range SupportedVersions {
		if sv == v {
			return i
		}
	}
	return -1
}

// Negotiate picks the protocol version used for a client session: the
// minimum of what the client asked for and what the proxy supports. An
// unrecognized client version falls back to the proxy's latest, matching
// the "treat as latest until told otherwise" resolution in SPEC_FULL §9.
func Negotiate(clientRequested string) ProtocolVersion {
	requested := ProtocolVersion(clientRequested)
	if versionRank(requested) < 0 {
		return Latest
	}
	if versionRank(requested) < versionRank(Latest) {
		return requested
	}
	return Latest
}

// fieldsDroppedOnDowngradeTo241105 lists the JSON object keys introduced
// after 2024-11-05 that must not reach a client negotiated onto it.
var fieldsDroppedOnDowngradeTo241105 = []string{"title", "outputSchema", "structuredContent"}

// TranslateOutbound rewrites a JSON-RPC result payload (already decoded into
// a generic map so unknown fields round-trip untouched) to match the
// negotiated client version before it is sent out. raw is mutated in place
// and also returned for convenience.
func TranslateOutbound(raw map[string]any, version ProtocolVersion) map[string]any {
	if raw == nil {
		return raw
	}
	switch version {
	case V20241105:
		stripFieldsDeep(raw, fieldsDroppedOnDowngradeTo241105)
		downgradeAudioContent(raw)
	case V20250618:
		synthesizeResourceName(raw)
	}
	return raw
}

func stripFieldsDeep(v any, fields []string) {
	switch t := v.(type) {
	case map[string]any:
		for _, f := range fields {
			delete(t, f)
		}
		for _, child := range t {
			stripFieldsDeep(child, fields)
		}
	case []any:
		for _, child := range t {
			stripFieldsDeep(child, fields)
		}
	}
}

// downgradeAudioContent replaces any content part with type "audio" by a
// descriptive text placeholder, since AudioContent does not exist in
// 2024-11-05.
func downgradeAudioContent(v any) {
	switch t := v.(type) {
	case map[string]any:
		if arr, ok := t["content"].([]any); ok {
			for i, part := range arr {
				if pm, ok := part.(map[string]any); ok && pm["type"] == "audio" {
					mime, _ := pm["mimeType"].(string)
					arr[i] = map[string]any{
						"type": "text",
						"text": "[audio content omitted: " + mime + "]",
					}
				}
			}
		}
		for _, child := range t {
			downgradeAudioContent(child)
		}
	case []any:
		for _, child := range t {
			downgradeAudioContent(child)
		}
	}
}

// synthesizeResourceName fills ResourceContents.name from its uri when
// absent, required when a client negotiated up to 2025-06-18 against a
// backend that only ever spoke an older version.
func synthesizeResourceName(v any) {
	switch t := v.(type) {
	case map[string]any:
		if uri, ok := t["uri"].(string); ok {
			if _, hasName := t["name"]; !hasName {
				t["name"] = uri
			}
		}
		for _, child := range t {
			synthesizeResourceName(child)
		}
	case []any:
		for _, child := range t {
			synthesizeResourceName(child)
		}
	}
}

// DecodeToMap round-trips a json.RawMessage through a generic map so field
// stripping/synthesis can operate without a fixed schema, preserving any
// key the proxy's own types don't model.
func DecodeToMap(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
