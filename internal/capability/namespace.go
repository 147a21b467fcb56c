// Package capability implements the merged tool/prompt/resource listing of
// spec §4.3: one namespaced entry per backend item, recomputed whenever a
// backend changes Ready/enabled state, grounded on the name-merge strategy
// of the teacher's aggregator registry but fixed to a single separator
// scheme rather than dynamically resolving collisions.
package capability

import "strings"

const separator = "__"

// Namespace builds the `<backend>__<local>` name of spec §3.
func Namespace(backend, local string) string {
	return backend + separator + local
}

// SplitNamespace reverses Namespace, splitting at the first separator and
// returning ok=false if name does not contain the separator at all.
// Proxy-native tool names such as server__list also contain the separator
// and split like any backend name.
func SplitNamespace(name string) (backend, local string, ok bool) {
	idx := strings.Index(name, separator)
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len(separator):], true
}
