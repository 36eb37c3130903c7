// Package tmpl implements variable substitution in thread templates:
// `${name:type:default}` and `${name}` tokens embedded in arbitrary
// JSON-like object trees (spec.md §4.3).
package tmpl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches a string whose *entire* content is one
// placeholder: ${name}, ${name:type}, or ${name:type:default}.
var tokenPattern = regexp.MustCompile(`^\$\{([A-Za-z0-9_]+)((?::[^{}]*)*)\}$`)

// Variables maps a placeholder name to its substitution value. A nil
// entry (explicit null) forces removal even when a default exists.
type Variables map[string]interface{}

// Substitute recursively walks tree (built from map[string]interface{},
// []interface{}, string, float64, bool, nil, as produced by
// encoding/json or schema.Parse) and replaces every full-string template
// token it finds. Arrays are compacted when an element is removed.
func Substitute(tree interface{}, vars Variables) interface{} {
	switch v := tree.(type) {
	case string:
		return substituteString(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			r := Substitute(val, vars)
			if r == removedMarker {
				continue
			}
			out[k] = r
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, el := range v {
			r := Substitute(el, vars)
			if r == removedMarker {
				continue
			}
			out = append(out, r)
		}
		return out
	default:
		return v
	}
}

// removedMarker is a private sentinel marking a value to be dropped from
// its parent: a missing variable with no default, an explicit null, or a
// failed coercion all substitute to it.
type removed struct{}

var removedMarker interface{} = removed{}

func substituteString(s string, vars Variables) interface{} {
	m := tokenPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	name := m[1]
	rest := m[2] // "", ":type", or ":type:default" (default may itself contain colons)
	var typ, def string
	hasDefault := false
	if rest != "" {
		parts := strings.SplitN(rest[1:], ":", 2)
		typ = parts[0]
		if len(parts) == 2 {
			def = parts[1]
			hasDefault = true
		}
	}

	val, present := vars[name]
	if present && val == nil {
		// Explicit null forces removal even if a default exists.
		return removedMarker
	}
	if !present {
		if !hasDefault {
			return removedMarker
		}
		return coerce(def, typ)
	}
	return coerceValue(val, typ)
}

func coerce(raw, typ string) interface{} {
	switch typ {
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return removedMarker
		}
		return f
	case "bigint":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return removedMarker
		}
		return n
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return removedMarker
		}
		return b
	default: // "string" or unspecified
		return raw
	}
}

func coerceValue(val interface{}, typ string) interface{} {
	switch typ {
	case "number":
		switch v := val.(type) {
		case float64:
			return v
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return removedMarker
			}
			return f
		}
	case "bigint":
		switch v := val.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return removedMarker
			}
			return n
		}
	case "boolean":
		switch v := val.(type) {
		case bool:
			return v
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return removedMarker
			}
			return b
		}
	case "string", "":
		return fmt.Sprintf("%v", val)
	}
	return val
}
