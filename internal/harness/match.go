package harness

import (
	"fmt"
	"reflect"
	"sort"
)

// matchSubset reports whether expected is a subset of actual, returning
// the path of the first mismatch.
func matchSubset(actual, expected any, path string) (bool, string) {
	switch exp := expected.(type) {
	case nil:
		if actual == nil {
			return true, ""
		}
		return false, fmt.Sprintf("%s: expected null, got %v", path, actual)

	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false, fmt.Sprintf("%s: expected an object, got %v", path, actual)
		}
		keys := make([]string, 0, len(exp))
		for k := range exp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			av, exists := act[k]
			if !exists {
				return false, fmt.Sprintf("%s: missing key %q", join(path, k), k)
			}
			if ok, why := matchSubset(av, exp[k], join(path, k)); !ok {
				return false, why
			}
		}
		// Extra keys in actual are OK (subset match)
		return true, ""

	case []any:
		act, ok := asList(actual)
		if !ok {
			return false, fmt.Sprintf("%s: expected a list, got %v", path, actual)
		}
		for i, e := range exp {
			found := false
			for _, a := range act {
				if ok, _ := matchSubset(a, e, ""); ok {
					found = true
					break
				}
			}
			if !found {
				return false, fmt.Sprintf("%s[%d]: no element matches %v in %v", path, i, e, act)
			}
		}
		return true, ""
	}

	if ef, ok := number(expected); ok {
		if af, ok := number(actual); ok && af == ef {
			return true, ""
		}
		return false, fmt.Sprintf("%s: expected %v, got %v", path, expected, actual)
	}
	if !reflect.DeepEqual(actual, expected) {
		return false, fmt.Sprintf("%s: expected %v, got %v", path, expected, actual)
	}
	return true, ""
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// asList accepts the list shapes the plan view produces.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
