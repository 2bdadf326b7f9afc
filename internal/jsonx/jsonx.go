// Package jsonx wraps encoding/json with the NaN/Infinity tolerance
// spec.md §3 requires of doc_store's encoding. No package in the retrieval
// pack addresses this (it is PouchDB's own accommodation for document
// bodies that started life as JavaScript numbers), so it is built directly
// on encoding/json: a thin, generic-value preprocessing pass swaps the
// three non-finite float64 values for sentinel strings before Marshal and
// back after Unmarshal, since the standard library's encoder refuses to
// serialize them at all.
package jsonx

import (
	"encoding/json"
	"math"
)

const (
	nanSentinel    = "\x00__lantern_nan__"
	posInfSentinel = "\x00__lantern_posinf__"
	negInfSentinel = "\x00__lantern_neginf__"
)

// Marshal encodes v, tolerating NaN/+Inf/-Inf float64 values anywhere in
// the value tree (maps, slices) by substituting sentinel strings.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(sanitize(v))
}

// Unmarshal decodes data into v (which must be a pointer, as with
// encoding/json), reversing the sentinel substitution afterward. The
// reversal is applied only when v is a *map[string]interface{} or an
// *interface{}; other targets (structs) keep any sentinel strings as-is.
func Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	desanitizeInPlace(v)
	return nil
}

func sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		switch {
		case math.IsNaN(t):
			return nanSentinel
		case math.IsInf(t, 1):
			return posInfSentinel
		case math.IsInf(t, -1):
			return negInfSentinel
		}
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sanitize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitize(val)
		}
		return out
	default:
		return v
	}
}

func desanitizeInPlace(v interface{}) {
	switch t := v.(type) {
	case *map[string]interface{}:
		if t != nil {
			*t = desanitizeMap(*t)
		}
	case *interface{}:
		if t != nil {
			*t = desanitize(*t)
		}
	}
}

func desanitizeMap(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		m[k] = desanitize(v)
	}
	return m
}

func desanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		switch t {
		case nanSentinel:
			return math.NaN()
		case posInfSentinel:
			return math.Inf(1)
		case negInfSentinel:
			return math.Inf(-1)
		}
		return t
	case map[string]interface{}:
		return desanitizeMap(t)
	case []interface{}:
		for i, e := range t {
			t[i] = desanitize(e)
		}
		return t
	default:
		return v
	}
}
