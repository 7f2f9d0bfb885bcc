package claims

import (
	"fmt"
	"regexp"
	"strings"
)

// Value is the result of resolving a claim path. A claim may resolve to a
// single scalar or to a list of strings; both are carried as strings so
// mapping rules can compare them uniformly.
type Value struct {
	List   []string
	IsList bool
}

// First returns the first resolved string, if any.
func (v Value) First() (string, bool) {
	if len(v.List) == 0 {
		return "", false
	}
	return v.List[0], true
}

// Strings returns all resolved strings.
func (v Value) Strings() []string {
	return v.List
}

// Empty reports whether the value holds no strings. An empty list is still a
// present value; callers distinguishing present-but-empty from absent must
// check the ok result of Resolve/ResolveMatch instead.
func (v Value) Empty() bool {
	return len(v.List) == 0
}

func scalar(s string) Value {
	return Value{List: []string{s}}
}

func list(items []string) Value {
	return Value{List: items, IsList: true}
}

// Resolve walks the claim bag along the dot-separated path and coerces the
// raw value to strings. It never fails: a missing key, a non-traversable
// intermediate value, or a falsy leaf all yield ok=false.
func Resolve(claims map[string]interface{}, path string) (Value, bool) {
	var raw interface{} = claims
	for _, key := range splitPath(path) {
		bag, ok := raw.(map[string]interface{})
		if !ok {
			return Value{}, false
		}
		raw = bag[key]
	}

	if !truthy(raw) {
		return Value{}, false
	}

	if items, ok := raw.([]interface{}); ok {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if truthy(item) {
				out = append(out, stringify(item))
			}
		}
		return list(out), true
	}

	return scalar(stringify(raw)), true
}

// ResolveMatch resolves the path and then filters the result against
// matchValue. With isRegex the pattern is compiled once and used as a test;
// otherwise filtering is exact string equality. List elements that do not
// match are dropped (a fully filtered list stays a present, empty list);
// a non-matching scalar makes the whole result absent. An empty matchValue
// means no filtering.
func ResolveMatch(claims map[string]interface{}, path, matchValue string, isRegex bool) (Value, bool) {
	value, ok := Resolve(claims, path)
	if !ok || matchValue == "" {
		return value, ok
	}

	if isRegex {
		re, err := regexp.Compile(matchValue)
		if err != nil {
			// An uncompilable pattern matches nothing.
			if value.IsList {
				return list(nil), true
			}
			return Value{}, false
		}
		return filter(value, re.MatchString)
	}

	return filter(value, func(s string) bool { return s == matchValue })
}

func filter(value Value, match func(string) bool) (Value, bool) {
	if value.IsList {
		out := make([]string, 0, len(value.List))
		for _, item := range value.List {
			if match(item) {
				out = append(out, item)
			}
		}
		return list(out), true
	}

	one, _ := value.First()
	if match(one) {
		return value, true
	}
	return Value{}, false
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// truthy mirrors the loose emptiness rules of claim bags decoded from JSON:
// nil, false, zero numbers and empty strings contribute nothing.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep integral values undecorated.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
