// Package metadata projects capability metadata onto caller-defined shapes so that plugin
// candidates can be filtered before anything is loaded.
//
// A shape is a struct whose fields are matched against metadata keys by exact, case-sensitive
// name, or by a `metadata:"key"` tag:
//
//	type GreeterMeta struct {
//		Language string `metadata:"language"`
//		Formal   bool
//	}
//
// Keys missing from the metadata leave the field at its zero value. A value that cannot be
// assigned to its field is a conversion error, including a number that would lose its fraction
// or not fit the field.
package metadata
