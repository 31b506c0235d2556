package capability

import (
	"errors"
	"fmt"
	"reflect"
)

// Module is a named, ordered set of exported types.
type Module struct {
	Name  string
	Types []*Type
}

// NewModule creates a module from the given exports, keeping their order.
func NewModule(name string, types ...*Type) *Module {
	return &Module{Name: name, Types: types}
}

// Lookup returns the first exported type with the given name.
func (m *Module) Lookup(name string) (*Type, bool) {
	if m == nil {
		return nil, false
	}
	for _, t := range m.Types {
		if t != nil && t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Type is one exported implementation and its declarations.
type Type struct {
	// Name is the fully qualified name of the concrete type.
	Name string
	// New constructs a fresh instance.
	New func() any
	// Provides lists the capabilities, in declaration order.
	Provides []ID
	// Metadata is shared by every capability the type provides.
	Metadata Metadata

	err error
}

// Option configures an exported type.
type Option func(*Type)

// Export declares the type produced by ctor. The type name is derived from C, so ctor should
// return the concrete type (usually a pointer) rather than an interface.
func Export[C any](ctor func() C, opts ...Option) *Type {
	t := &Type{Name: TypeName(reflect.TypeFor[C]())}
	if ctor != nil {
		t.New = func() any { return ctor() }
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Provides declares that the type implements the interface T.
func Provides[T any]() Option {
	return ProvidesID(Of[T]())
}

// ProvidesID declares a capability by its ID.
func ProvidesID(id ID) Option {
	return func(t *Type) {
		if id == "" {
			t.err = errors.Join(t.err, errors.New("empty capability id"))
			return
		}
		for _, existing := range t.Provides {
			if existing == id {
				return
			}
		}
		t.Provides = append(t.Provides, id)
	}
}

// WithMetadata attaches a key/value pair. Setting the same key twice keeps the last value.
func WithMetadata(key string, value any) Option {
	return func(t *Type) {
		if key == "" {
			t.err = errors.Join(t.err, errors.New("empty metadata key"))
			return
		}
		v, err := NormalizeValue(value)
		if err != nil {
			t.err = errors.Join(t.err, fmt.Errorf("metadata %q: %w", key, err))
			return
		}
		if t.Metadata == nil {
			t.Metadata = make(Metadata)
		}
		t.Metadata[key] = v
	}
}

// Validate reports whether the declaration can be inspected.
func (t *Type) Validate() error {
	if t == nil {
		return errors.New("nil type entry")
	}
	if t.err != nil {
		return t.err
	}
	if t.Name == "" {
		return errors.New("type has no name")
	}
	if t.New == nil {
		return fmt.Errorf("type %s has no constructor", t.Name)
	}
	for k, v := range t.Metadata {
		if _, err := NormalizeValue(v); err != nil {
			return fmt.Errorf("metadata %q: %w", k, err)
		}
	}
	return nil
}

// Instantiate calls the constructor, turning a panic or a nil result into an error.
func (t *Type) Instantiate() (inst any, err error) {
	if t.New == nil {
		return nil, fmt.Errorf("type %s has no constructor", t.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("constructor of %s panicked: %v", t.Name, r)
		}
	}()

	inst = t.New()
	if inst == nil {
		return nil, fmt.Errorf("constructor of %s returned nil", t.Name)
	}
	if rv := reflect.ValueOf(inst); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, fmt.Errorf("constructor of %s returned nil", t.Name)
	}
	return inst, nil
}
