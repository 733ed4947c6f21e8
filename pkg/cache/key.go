package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a logical provider request. Callers choose a stable
// namespace per logical operation type; parameters are unordered and never
// affect the derived key.
type Key struct {
	// Namespace is the logical operation type, e.g. an endpoint path.
	Namespace string

	// Params are named request parameters.
	Params map[string]string

	// Query are repeated query parameters. Only the first value per name
	// participates in the key.
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: toolgate:namespace:param1=val1:param2=val2
//
// Example:
//
//	toolgate:v1/quotes:depth=5:symbol=ACME
func (k Key) String() string {
	parts := []string{"toolgate"}

	namespace := strings.Trim(k.Namespace, "/")
	if namespace != "" {
		parts = append(parts, namespace)
	}

	// Params sorted for determinism.
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	// Query params sorted for determinism.
	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Query.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
