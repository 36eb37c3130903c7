// Package schema implements the structural validator that turns loosely
// typed input (maps, strings, numbers — the shape you get back from a
// JSON decode or a hand-built map) into strictly typed request values,
// filling defaults along the way (spec.md §4.2).
package schema

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the leaf type a schema node coerces its input into.
type Kind uint8

const (
	KindString Kind = iota
	KindBytes
	KindNumber
	KindBool
	KindArray
	KindObject
	KindFunc
)

// ParseFunc is a custom parser plugged in for schema nodes whose value
// slot is declared as "function" (e.g. ParseEnum, ParseNodeType).
type ParseFunc func(input interface{}) (interface{}, error)

// Node is one entry of a recursive schema declaration. The zero value is
// a required KindString leaf.
type Node struct {
	Kind     Kind
	Optional bool
	HasDefault bool
	Default  interface{}
	Elem     *Node            // element schema for KindArray
	Fields   map[string]*Node // field schemas for KindObject
	Fallback *Node            // schema for unknown keys ("" declared key)
	Fn       ParseFunc        // custom parser for KindFunc
	PostFn   func(v interface{}) (interface{}, error)
}

// Required returns a required leaf schema of the given kind.
func Required(k Kind) *Node { return &Node{Kind: k} }

// OptionalWithDefault returns a `name?` schema: optional, filled with def
// if absent.
func OptionalWithDefault(k Kind, def interface{}) *Node {
	return &Node{Kind: k, Optional: true, HasDefault: true, Default: def}
}

// OptionalNoDefault returns a `name??` schema: optional, omitted if absent.
func OptionalNoDefault(k Kind) *Node {
	return &Node{Kind: k, Optional: true}
}

// Func wraps a custom parser as a schema node.
func Func(fn ParseFunc) *Node { return &Node{Kind: KindFunc, Fn: fn} }

// Object builds a required object schema from named fields. A field named
// "" is the fallback schema applied to any key not otherwise declared.
func Object(fields map[string]*Node) *Node {
	n := &Node{Kind: KindObject, Fields: map[string]*Node{}}
	for k, v := range fields {
		if k == "" {
			n.Fallback = v
			continue
		}
		n.Fields[k] = v
	}
	return n
}

// Array builds a required array schema whose elements follow elem.
func Array(elem *Node) *Node { return &Node{Kind: KindArray, Elem: elem} }

// WithPostFn attaches a `_postFn` hook invoked on the fully parsed subtree.
func (n *Node) WithPostFn(fn func(v interface{}) (interface{}, error)) *Node {
	n.PostFn = fn
	return n
}

// TypeMismatchError reports a coercion failure with the dotted key path
// that produced it.
type TypeMismatchError struct {
	Path string
	Err  error
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("schema: type mismatch at %q: %v", e.Path, e.Err)
}
func (e *TypeMismatchError) Unwrap() error { return e.Err }

// Parse coerces input against schema, returning a Go value:
// string, []byte, float64, bool, []interface{}, or map[string]interface{}.
func Parse(schema *Node, input interface{}) (interface{}, error) {
	return parseAt(schema, input, "$")
}

func parseAt(schema *Node, input interface{}, path string) (interface{}, error) {
	if input == nil && schema.Kind != KindFunc {
		if !schema.Optional {
			return nil, &TypeMismatchError{Path: path, Err: fmt.Errorf("required value missing")}
		}
		if !schema.HasDefault {
			return nil, nil // "name??": omit entirely
		}
		input = schema.Default
		// Defaults that are containers recurse with an empty container.
		if schema.Kind == KindObject && input == nil {
			input = map[string]interface{}{}
		}
		if schema.Kind == KindArray && input == nil {
			input = []interface{}{}
		}
	}

	var out interface{}
	var err error
	switch schema.Kind {
	case KindFunc:
		out, err = schema.Fn(input)
	case KindString:
		out, err = coerceString(input)
	case KindBytes:
		out, err = coerceBytes(input)
	case KindNumber:
		out, err = coerceNumber(input)
	case KindBool:
		out, err = coerceBool(input)
	case KindArray:
		out, err = parseArray(schema, input, path)
	case KindObject:
		out, err = parseObject(schema, input, path)
	default:
		return nil, &TypeMismatchError{Path: path, Err: fmt.Errorf("unknown schema kind")}
	}
	if err != nil {
		var tm *TypeMismatchError
		if !asTypeMismatch(err, &tm) {
			err = &TypeMismatchError{Path: path, Err: err}
		}
		return nil, err
	}
	if schema.PostFn != nil {
		return schema.PostFn(out)
	}
	return out, nil
}

func asTypeMismatch(err error, tm **TypeMismatchError) bool {
	t, ok := err.(*TypeMismatchError)
	if ok {
		*tm = t
	}
	return ok
}

func parseArray(schema *Node, input interface{}, path string) (interface{}, error) {
	arr, ok := input.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", input)
	}
	out := make([]interface{}, 0, len(arr))
	for i, el := range arr {
		v, err := parseAt(schema.Elem, el, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseObject(schema *Node, input interface{}, path string) (interface{}, error) {
	obj, ok := input.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", input)
	}
	out := make(map[string]interface{}, len(schema.Fields))
	for key, fieldSchema := range schema.Fields {
		if strings.HasPrefix(key, "#") {
			continue // comment-marker keys are ignored
		}
		v, err := parseAt(fieldSchema, obj[key], path+"."+key)
		if err != nil {
			return nil, err
		}
		if v != nil || fieldSchema.HasDefault || !fieldSchema.Optional {
			out[key] = v
		}
	}
	if schema.Fallback != nil {
		for key, raw := range obj {
			if _, declared := schema.Fields[key]; declared {
				continue
			}
			v, err := parseAt(schema.Fallback, raw, path+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
	}
	return out, nil
}

func coerceString(input interface{}) (interface{}, error) {
	switch v := input.(type) {
	case string:
		return v, nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", input)
	}
}

// coerceBytes implements the hex:/ascii:/utf8:/base64: prefix convention,
// defaulting to hex when no prefix is present.
func coerceBytes(input interface{}) (interface{}, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		switch {
		case strings.HasPrefix(v, "hex:"):
			return hex.DecodeString(strings.TrimPrefix(v, "hex:"))
		case strings.HasPrefix(v, "ascii:"):
			return []byte(strings.TrimPrefix(v, "ascii:")), nil
		case strings.HasPrefix(v, "utf8:"):
			return []byte(strings.TrimPrefix(v, "utf8:")), nil
		case strings.HasPrefix(v, "base64:"):
			return base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "base64:"))
		default:
			return hex.DecodeString(v)
		}
	default:
		return nil, fmt.Errorf("cannot coerce %T to bytes", input)
	}
}

func coerceNumber(input interface{}) (interface{}, error) {
	switch v := input.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("lossy or invalid numeric string %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to number", input)
	}
}

func coerceBool(input interface{}) (interface{}, error) {
	switch v := input.(type) {
	case bool:
		return v, nil
	case string:
		return v != "" && v != "false" && v != "0", nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to bool", input)
	}
}

// ParseEnum returns a ParseFunc resolving input against values, falling
// back to def when input is nil/unset.
func ParseEnum(values []string, def string) ParseFunc {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(input interface{}) (interface{}, error) {
		if input == nil {
			return def, nil
		}
		s, ok := input.(string)
		if !ok {
			return nil, fmt.Errorf("enum expects string, got %T", input)
		}
		if _, ok := set[s]; !ok {
			return nil, fmt.Errorf("unrecognized enum value %q", s)
		}
		return s, nil
	}
}
