package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
)

// Metadata holds the key/value pairs a type declares next to its capabilities.
// Values are restricted to strings, booleans, int64 and float64.
type Metadata map[string]any

// Clone returns a shallow copy of the metadata. Nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// UnmarshalJSON decodes metadata, keeping integral numbers as int64 so that records read back
// from an inspection worker compare equal to records produced in-process.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}

	out := make(Metadata, len(raw))
	for k, v := range raw {
		nv, err := NormalizeValue(v)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = nv
	}
	*m = out
	return nil
}

// NormalizeValue converts a metadata value to its canonical representation: string, bool,
// int64 or float64. Any other kind of value, NaN and infinities are rejected.
func NormalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64:
		return val, nil
	case float64:
		return finite(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return finite(f)
	case nil:
		return nil, fmt.Errorf("nil value")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// finite rejects NaN and infinities, which have no JSON representation.
func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	return f, nil
}
