package settings

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// ErrMissing is returned when a required key is absent.
var ErrMissing = errors.New("missing setting")

// Mask replaces the value of a sensitive key in a redacted bag.
const Mask = "********"

var (
	sensitiveMu sync.RWMutex
	sensitive   = map[string]struct{}{}
)

// RegisterSensitive marks keys whose values must never be shown, such as credentials.
// Repository kinds call it from init for the keys they read secrets from.
func RegisterSensitive(keys ...string) {
	sensitiveMu.Lock()
	defer sensitiveMu.Unlock()
	for _, k := range keys {
		sensitive[k] = struct{}{}
	}
}

// IsSensitive reports whether key was registered with RegisterSensitive.
func IsSensitive(key string) bool {
	sensitiveMu.RLock()
	defer sensitiveMu.RUnlock()
	_, ok := sensitive[key]
	return ok
}

// Bag is an ordered string-keyed map of primitive values. The zero value is empty and usable.
type Bag struct {
	keys   []string
	values map[string]any
}

// New builds a bag from alternating key/value pairs, panicking on malformed input.
// It is meant for literals in code and tests:
//
//	settings.New("path", "/opt/plugins", "timeout", "5s")
func New(kv ...any) Bag {
	if len(kv)%2 != 0 {
		panic("settings: odd number of key/value arguments")
	}
	var b Bag
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("settings: key %v is not a string", kv[i]))
		}
		if err := b.Set(key, kv[i+1]); err != nil {
			panic(err)
		}
	}
	return b
}

// Set stores value under key, keeping the original position of an existing key.
func (b *Bag) Set(key string, value any) error {
	if key == "" {
		return errors.New("settings: empty key")
	}
	v, err := capability.NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("settings: %q: %w", key, err)
	}
	if b.values == nil {
		b.values = make(map[string]any)
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
	return nil
}

// Get returns the value stored under key.
func (b Bag) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (b Bag) Keys() []string {
	return slices.Clone(b.keys)
}

// Len returns the number of entries.
func (b Bag) Len() int {
	return len(b.keys)
}

// String returns the value under key formatted as a string.
func (b Bag) String(key string) (string, error) {
	v, ok := b.values[key]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrMissing, key)
	}
	switch val := v.(type) {
	case string:
		return val, nil
	default:
		return fmt.Sprint(val), nil
	}
}

// StringOr returns the string under key, or def when the key is absent.
func (b Bag) StringOr(key, def string) string {
	if _, ok := b.values[key]; !ok {
		return def
	}
	s, _ := b.String(key)
	return s
}

// Int returns the value under key as an integer; strings are parsed.
func (b Bag) Int(key string) (int64, error) {
	v, ok := b.values[key]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrMissing, key)
	}
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		if val != float64(int64(val)) {
			return 0, fmt.Errorf("setting %q: %v is not an integer", key, val)
		}
		return int64(val), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("setting %q: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("setting %q: %T is not an integer", key, v)
	}
}

// Duration returns the value under key as a duration. Strings use time.ParseDuration,
// numbers are seconds.
func (b Bag) Duration(key string) (time.Duration, error) {
	v, ok := b.values[key]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrMissing, key)
	}
	switch val := v.(type) {
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("setting %q: %w", key, err)
		}
		return d, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("setting %q: %T is not a duration", key, v)
	}
}

// Bool returns the value under key as a boolean. Strings use strconv.ParseBool and integers
// must be 0 or 1.
func (b Bag) Bool(key string) (bool, error) {
	v, ok := b.values[key]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrMissing, key)
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		if val == 0 || val == 1 {
			return val == 1, nil
		}
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return false, fmt.Errorf("setting %q: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("setting %q: %v is not a boolean", key, v)
}

// Equal reports whether both bags hold the same keys and values. Order is not significant.
func (b Bag) Equal(other Bag) bool {
	if len(b.keys) != len(other.keys) {
		return false
	}
	for k, v := range b.values {
		ov, ok := other.values[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (b Bag) Clone() Bag {
	var c Bag
	for _, k := range b.keys {
		_ = c.Set(k, b.values[k])
	}
	return c
}

// Redacted returns a copy with the values of registered sensitive keys, and of any key in
// extra, replaced by Mask. Use it before logging or serving a bag.
func (b Bag) Redacted(extra ...string) Bag {
	var c Bag
	for _, k := range b.keys {
		v := b.values[k]
		if IsSensitive(k) || slices.Contains(extra, k) {
			v = Mask
		}
		_ = c.Set(k, v)
	}
	return c
}

// Map returns the entries as a plain map.
func (b Bag) Map() map[string]any {
	m := make(map[string]any, len(b.keys))
	for _, k := range b.keys {
		m[k] = b.values[k]
	}
	return m
}

// UnmarshalYAML decodes a mapping of scalars, keeping document order.
func (b *Bag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*b = Bag{}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: settings must be a mapping", node.Line)
	}

	var out Bag
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: setting %q must be a scalar", valNode.Line, keyNode.Value)
		}
		var v any
		if err := valNode.Decode(&v); err != nil {
			return fmt.Errorf("line %d: setting %q: %w", valNode.Line, keyNode.Value, err)
		}
		if _, dup := out.values[keyNode.Value]; dup {
			return fmt.Errorf("line %d: duplicate setting %q", keyNode.Line, keyNode.Value)
		}
		if err := out.Set(keyNode.Value, v); err != nil {
			return fmt.Errorf("line %d: %w", valNode.Line, err)
		}
	}
	*b = out
	return nil
}

// MarshalYAML encodes the bag as a mapping in insertion order.
func (b Bag) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range b.keys {
		var val yaml.Node
		if err := val.Encode(b.values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}
	return node, nil
}

// Format renders the bag as "key=value" pairs in insertion order.
func (b Bag) Format() string {
	parts := make([]string, 0, len(b.keys))
	for _, k := range b.keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, b.values[k]))
	}
	return strings.Join(parts, ",")
}
