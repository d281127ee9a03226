package verify

import (
	"fmt"
	"slices"
	"strconv"
)

// Wildcard matches any value, including a missing one inside an array.
const Wildcard = "#"

// DeepCompare reports whether actual satisfies the expected pattern.
// Both values are decoded JSON (nil, bool, float64, string, []any, map[string]any).
// On failure the returned message names the first failing path.
func DeepCompare(actual, expected any, path string) (bool, string) {
	if s, ok := expected.(string); ok && s == Wildcard {
		return true, ""
	}

	if actual == nil || expected == nil {
		if actual == nil && expected == nil {
			return true, ""
		}
		return false, fmt.Sprintf("Null/undefined mismatch at %s: expected %s, got %s", path, display(expected), display(actual))
	}

	switch exp := expected.(type) {
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return false, fmt.Sprintf("Type mismatch at %s: expected array, got %s", path, typeOf(actual))
		}
		return compareArray(act, exp, path)
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false, fmt.Sprintf("Type mismatch at %s: expected object, got %s", path, typeOf(actual))
		}
		return compareObject(act, exp, path)
	default:
		if primitiveEqual(actual, expected) {
			return true, ""
		}
		return false, fmt.Sprintf("Value mismatch at %s: expected %s, got %s", path, display(expected), display(actual))
	}
}

func compareArray(actual, expected []any, path string) (bool, string) {
	if len(expected) == 0 {
		if len(actual) == 0 {
			return true, ""
		}
		return false, fmt.Sprintf("Array length mismatch at %s", path)
	}

	if len(expected) == 1 {
		if s, ok := expected[0].(string); ok && s == Wildcard {
			return true, ""
		}
	}

	// Each expected element needs one match anywhere in actual. Matches are
	// not consumed, so one actual element may satisfy several expected ones.
	for i, want := range expected {
		elemPath := fmt.Sprintf("%s[%d]", path, i)
		found := false
		for _, got := range actual {
			if ok, _ := DeepCompare(got, want, elemPath); ok {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("No matching element found at %s", elemPath)
		}
	}
	return true, ""
}

func compareObject(actual, expected map[string]any, path string) (bool, string) {
	for _, key := range sortedKeys(expected) {
		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}

		got, ok := actual[key]
		if !ok {
			return false, fmt.Sprintf("Missing key at %s", keyPath)
		}
		if ok, msg := DeepCompare(got, expected[key], keyPath); !ok {
			return false, msg
		}
	}
	return true, ""
}

// primitiveEqual is strict equality: both sides must have the same JSON type.
func primitiveEqual(a, b any) bool {
	switch bv := b.(type) {
	case string:
		av, ok := a.(string)
		return ok && av == bv
	case float64:
		av, ok := a.(float64)
		return ok && av == bv
	case bool:
		av, ok := a.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return "object"
	}
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		return "[array]"
	default:
		return "[object]"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
