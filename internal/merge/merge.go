// Package merge implements the recursive deep-merge used for airport
// object patches and the shared controller scratchpad.
//
// Inputs are the generic JSON trees produced by encoding/json
// (map[string]interface{}, []interface{}, primitives). Guard violations
// reject the whole merge before anything is written, so a failed patch
// never leaves partial state behind.
package merge

import (
	"errors"
	"fmt"
	"reflect"
)

// Limits bounds the shape of user-supplied JSON trees.
type Limits struct {
	MaxDepth      int
	MaxProperties int
	MaxArraySize  int
	MaxKeyLength  int
}

// DefaultLimits returns the documented guard defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:      20,
		MaxProperties: 100,
		MaxArraySize:  1000,
		MaxKeyLength:  100,
	}
}

// ErrGuard is the sentinel wrapped by all guard violations.
var ErrGuard = errors.New("merge guard violation")

// Validate walks a decoded JSON value and checks it against the limits.
// A visited set guards against re-entry should callers hand in trees
// with structural sharing; plain json.Unmarshal output never cycles.
func Validate(v interface{}, lim Limits) error {
	return walk(v, lim, 1, map[uintptr]bool{})
}

func walk(v interface{}, lim Limits, depth int, seen map[uintptr]bool) error {
	if depth > lim.MaxDepth {
		return fmt.Errorf("%w: depth exceeds %d", ErrGuard, lim.MaxDepth)
	}

	switch val := v.(type) {
	case map[string]interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return fmt.Errorf("%w: cyclic structure", ErrGuard)
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		if len(val) > lim.MaxProperties {
			return fmt.Errorf("%w: object has %d keys, max %d", ErrGuard, len(val), lim.MaxProperties)
		}
		for k, child := range val {
			if len(k) > lim.MaxKeyLength {
				return fmt.Errorf("%w: key length %d exceeds %d", ErrGuard, len(k), lim.MaxKeyLength)
			}
			if err := walk(child, lim, depth+1, seen); err != nil {
				return err
			}
		}
	case []interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return fmt.Errorf("%w: cyclic structure", ErrGuard)
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		if len(val) > lim.MaxArraySize {
			return fmt.Errorf("%w: array has %d entries, max %d", ErrGuard, len(val), lim.MaxArraySize)
		}
		for _, child := range val {
			if err := walk(child, lim, depth+1, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge applies source onto target and returns the merged object.
//
// Object values merge recursively; primitives, nulls and arrays replace
// whatever the target held. Arrays are never element-merged. The source
// is validated against the limits first, so a guard violation leaves the
// target untouched. A nil target is treated as empty.
func Merge(target, source map[string]interface{}, lim Limits) (map[string]interface{}, error) {
	if err := Validate(source, lim); err != nil {
		return nil, err
	}
	if target == nil {
		target = map[string]interface{}{}
	}
	apply(target, source)
	return target, nil
}

func apply(target, source map[string]interface{}) {
	for k, sv := range source {
		if child, ok := sv.(map[string]interface{}); ok {
			tc, ok := target[k].(map[string]interface{})
			if !ok {
				tc = map[string]interface{}{}
				target[k] = tc
			}
			apply(tc, child)
			continue
		}
		// Primitive, null or array: leaf replace.
		target[k] = sv
	}
}

// Clone deep-copies a decoded JSON object tree. Used when a snapshot of
// mutable hub state must cross a goroutine boundary.
func Clone(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return nil
	}
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return Clone(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
