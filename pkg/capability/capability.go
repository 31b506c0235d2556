package capability

import (
	"reflect"
)

// ID identifies a capability by the fully qualified name of its interface type.
type ID string

// String returns the capability name.
func (id ID) String() string {
	return string(id)
}

// Of returns the capability ID of the interface type T.
func Of[T any]() ID {
	return ID(TypeName(reflect.TypeFor[T]()))
}

// TypeName returns the fully qualified name of t ("pkg/path.Name"). Pointer types are
// prefixed with "*"; unnamed types fall back to their Go syntax representation.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeName(t.Elem())
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
