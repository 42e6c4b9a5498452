package sensor

import (
	"slices"
	"strconv"
)

// Walk calls visit for every terminal value in payload with the key path
// from the root. Object keys are visited in sorted order and array elements
// use their index as key. The path slice passed to visit is a fresh copy.
//
// Walk over {"ENERGY":{"Power":10,"Voltage":230}} visits
// ["ENERGY","Power"] and ["ENERGY","Voltage"].
func Walk(payload any, visit func(path []string, value any)) {
	walk(payload, nil, visit)
}

func walk(node any, path []string, visit func([]string, any)) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			walk(v[k], append(path, k), visit)
		}
	case []any:
		for i, item := range v {
			walk(item, append(path, strconv.Itoa(i)), visit)
		}
	default:
		if len(path) == 0 {
			return
		}
		visit(slices.Clone(path), v)
	}
}
