package request

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"nsbox/pkg/errors"
)

// valueType validates one decoded JSON value and converts it to its Go form.
type valueType interface {
	check(at string, raw any) (any, error)
}

type field struct {
	name string
	typ  valueType
}

// values holds the converted fields of one object, keyed by field name.
type values map[string]any

func (v values) has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v values) str(name, def string) string {
	if s, ok := v[name].(string); ok {
		return s
	}
	return def
}

func (v values) boolean(name string, def bool) bool {
	if b, ok := v[name].(bool); ok {
		return b
	}
	return def
}

func (v values) int64(name string, def int64) int64 {
	if n, ok := v[name].(int64); ok {
		return n
	}
	return def
}

func (v values) strings(name string) []string {
	s, _ := v[name].([]string)
	return s
}

func invalid(at, reason string) error {
	return errors.ValidationError(at, reason)
}

func fieldPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// object is a closed record: declared fields are checked in declaration order,
// then any undeclared key is rejected, then build applies cross-field rules.
type object struct {
	fields []field
	build  func(at string, v values) (any, error)
}

func (o *object) check(at string, raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(at, "expecting an object")
	}
	v := make(values, len(m))
	for _, f := range o.fields {
		rv, present := m[f.name]
		if !present {
			continue
		}
		cv, err := f.typ.check(fieldPath(at, f.name), rv)
		if err != nil {
			return nil, err
		}
		v[f.name] = cv
	}
	if key, ok := o.unknownKey(m); ok {
		err := errors.ValidationError(fieldPath(at, key), "unknown field")
		err.Code = errors.UnknownField
		return nil, err
	}
	return o.build(at, v)
}

func (o *object) unknownKey(m map[string]any) (string, bool) {
	var unknown []string
	for key := range m {
		declared := false
		for _, f := range o.fields {
			if f.name == key {
				declared = true
				break
			}
		}
		if !declared {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return "", false
	}
	sort.Strings(unknown)
	return unknown[0], true
}

type stringType struct {
	nonEmpty bool
	maxLen   int
}

func (t stringType) check(at string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(at, "expecting a string")
	}
	if t.nonEmpty && s == "" {
		return nil, invalid(at, "expecting a non-empty string")
	}
	if t.maxLen > 0 && len(s) > t.maxLen {
		return nil, invalid(at, fmt.Sprintf("longer than %d bytes", t.maxLen))
	}
	if strings.IndexByte(s, 0) >= 0 {
		return nil, invalid(at, "contains a NUL byte")
	}
	return s, nil
}

type pathType struct {
	absolute bool
}

func (t pathType) check(at string, raw any) (any, error) {
	v, err := stringType{nonEmpty: true}.check(at, raw)
	if err != nil {
		return nil, err
	}
	p := v.(string)
	if t.absolute && !path.IsAbs(p) {
		return nil, invalid(at, "expecting an absolute path")
	}
	return p, nil
}

type boolType struct{}

func (boolType) check(at string, raw any) (any, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, invalid(at, "expecting a boolean")
	}
	return b, nil
}

// intType accepts non-negative integral numbers up to max.
type intType struct {
	max int64
}

func (t intType) check(at string, raw any) (any, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return nil, invalid(at, "expecting a non-negative integer")
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 {
			return nil, invalid(at, "expecting a non-negative integer")
		}
		if i > t.max {
			return nil, invalid(at, "value too big")
		}
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) {
		return nil, invalid(at, "expecting a non-negative integer")
	}
	if f > float64(t.max) {
		return nil, invalid(at, "value too big")
	}
	return int64(f), nil
}

// secondsType accepts non-negative, possibly fractional, numbers.
type secondsType struct{}

func (secondsType) check(at string, raw any) (any, error) {
	n, ok := raw.(json.Number)
	if !ok {
		return nil, invalid(at, "expecting a non-negative number")
	}
	f, err := n.Float64()
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, invalid(at, "expecting a non-negative number")
	}
	return f, nil
}

type stringListType struct {
	nonEmpty bool
	// program requires the first element, the executable, to be non-empty.
	program  bool
	elem     stringType
	verify   func(s string) string
}

func (t stringListType) check(at string, raw any) (any, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid(at, "expecting an array of strings")
	}
	if t.nonEmpty && len(items) == 0 {
		return nil, invalid(at, "expecting a non-empty array")
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		elemAt := indexPath(at, i)
		elem := t.elem
		if t.program && i == 0 {
			elem.nonEmpty = true
		}
		v, err := elem.check(elemAt, item)
		if err != nil {
			return nil, err
		}
		s := v.(string)
		if t.verify != nil {
			if reason := t.verify(s); reason != "" {
				return nil, invalid(elemAt, reason)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

type listType struct {
	elem valueType
}

func (t listType) check(at string, raw any) (any, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid(at, "expecting an array")
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := t.elem.check(indexPath(at, i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type enumType struct {
	choices map[string]any
}

func (t enumType) check(at string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(at, "expecting a string")
	}
	v, ok := t.choices[s]
	if !ok {
		return nil, invalid(at, fmt.Sprintf("unsupported value %q", s))
	}
	return v, nil
}

// sinkType accepts a path or the number of a descriptor the caller passed in.
type sinkType struct{}

func (sinkType) check(at string, raw any) (any, error) {
	switch raw.(type) {
	case string:
		v, err := stringType{nonEmpty: true}.check(at, raw)
		if err != nil {
			return nil, err
		}
		return Sink{Path: v.(string), FD: -1}, nil
	case json.Number:
		v, err := intType{max: math.MaxInt32}.check(at, raw)
		if err != nil {
			return nil, err
		}
		return Sink{FD: int(v.(int64))}, nil
	default:
		return nil, invalid(at, "expecting a path or a file descriptor number")
	}
}
