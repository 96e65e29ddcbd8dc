package backend

import (
	"fmt"
	"strings"
)

// orderInputs arranges declared graph input names as ids, mask, type ids.
// Unmatched names follow in declared order. When ids or mask cannot be found
// by name the declared order is kept as is.
func orderInputs(declared []string) []string {
	var ids, mask, types string
	var rest []string
	for _, name := range declared {
		n := strings.ToLower(name)
		switch {
		case ids == "" && (strings.Contains(n, "input_ids") || n == "ids"):
			ids = name
		case mask == "" && (strings.Contains(n, "attention_mask") || n == "mask"):
			mask = name
		case types == "" && strings.Contains(n, "token_type"):
			types = name
		default:
			rest = append(rest, name)
		}
	}
	if ids == "" || mask == "" {
		return append([]string(nil), declared...)
	}
	out := []string{ids, mask}
	if types != "" {
		out = append(out, types)
	}
	return append(out, rest...)
}

type optimization int

const (
	optimizeDisable optimization = iota
	optimizeBasic
	optimizeExtended
	optimizeAll
)

func parseOptimization(name string) (optimization, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disable":
		return optimizeDisable, nil
	case "", "basic":
		return optimizeBasic, nil
	case "extended":
		return optimizeExtended, nil
	case "all":
		return optimizeAll, nil
	}
	return optimizeBasic, fmt.Errorf("unknown graph optimization %q", name)
}
