package merge

import "strings"

// MergeLabels returns the union of two ':'-separated label lists. Labels of a keep
// their order; labels only in b follow in b's order.
func MergeLabels(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a == b {
		return a
	}
	seen := make(map[string]struct{})
	var out []string
	for _, l := range append(strings.Split(a, ":"), strings.Split(b, ":")...) {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return strings.Join(out, ":")
}
