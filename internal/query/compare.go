// Provides loose comparison of JSON values.

package query

import (
	"cmp"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Values compared here come from decoded JSON: nil, bool, json.Number or
// float64, string, []any and map[string]any. Comparison is loose: numeric
// strings compare as numbers, bool and null compare by truthiness.

var numericRe = regexp.MustCompile(`^[ \t\n\r\v\f]*[+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?[ \t\n\r\v\f]*$`)

// number is a parsed numeric value that keeps integers exact.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func (a number) compare(b number) int {
	if a.isInt && b.isInt {
		return cmp.Compare(a.i, b.i)
	}
	return cmp.Compare(a.float(), b.float())
}

func (a number) float() float64 {
	if a.isInt {
		return float64(a.i)
	}
	return a.f
}

func (a number) String() string {
	if a.isInt {
		return strconv.FormatInt(a.i, 10)
	}
	return strconv.FormatFloat(a.f, 'f', -1, 64)
}

func parseNumber(s string) (number, bool) {
	if !numericRe.MatchString(s) {
		return number{}, false
	}
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return number{i: i, isInt: true}, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !math.IsInf(f, 0) {
		return number{}, false
	}
	return number{f: f}, true
}

// asNumber returns v as a number when v is a JSON number or a Go numeric
// type. Strings are not considered.
func asNumber(v any) (number, bool) {
	switch n := v.(type) {
	case json.Number:
		return parseNumber(string(n))
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return number{i: int64(n), isInt: true}, true
		}
		return number{f: n}, true
	case float32:
		return asNumber(float64(n))
	case int:
		return number{i: int64(n), isInt: true}, true
	case int64:
		return number{i: n, isInt: true}, true
	case int32:
		return number{i: int64(n), isInt: true}, true
	case uint:
		return number{f: float64(n), isInt: false}, true
	case uint64:
		if n <= math.MaxInt64 {
			return number{i: int64(n), isInt: true}, true
		}
		return number{f: float64(n)}, true
	case uint32:
		return number{i: int64(n), isInt: true}, true
	default:
		return number{}, false
	}
}

// toNumber returns v as a number when v is a number or a numeric string.
func toNumber(v any) (number, bool) {
	if s, ok := v.(string); ok {
		return parseNumber(s)
	}
	return asNumber(v)
}

// IsNumeric reports whether v is a number or a numeric string.
func IsNumeric(v any) bool {
	_, ok := toNumber(v)
	return ok
}

// truthy returns the boolean value of v.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if n, ok := asNumber(v); ok {
		return n.float() != 0
	}
	return true
}

// looseEqual implements == between a row value and a clause value.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return true
		}
		other := a
		if a == nil {
			other = b
		}
		if s, ok := other.(string); ok {
			return s == ""
		}
		return !truthy(other)
	}
	if _, ok := a.(bool); ok {
		return truthy(a) == truthy(b)
	}
	if _, ok := b.(bool); ok {
		return truthy(a) == truthy(b)
	}

	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	switch {
	case aNum && bNum:
		return na.compare(nb) == 0
	case aNum && bStr:
		if n, ok := parseNumber(sb); ok {
			return na.compare(n) == 0
		}
		return na.String() == sb
	case aStr && bNum:
		if n, ok := parseNumber(sa); ok {
			return n.compare(nb) == 0
		}
		return sa == nb.String()
	case aStr && bStr:
		if x, ok := parseNumber(sa); ok {
			if y, ok := parseNumber(sb); ok {
				return x.compare(y) == 0
			}
		}
		return sa == sb
	}

	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !looseEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !looseEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// looseCompare orders a row value against a numeric clause value b.
func looseCompare(a any, b number) int {
	switch t := a.(type) {
	case nil, bool:
		return cmpBool(truthy(t), b.float() != 0)
	case string:
		if n, ok := parseNumber(t); ok {
			return n.compare(b)
		}
		return cmp.Compare(t, b.String())
	case []any, map[string]any:
		return 1
	}
	if n, ok := asNumber(a); ok {
		return n.compare(b)
	}
	return 1
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
