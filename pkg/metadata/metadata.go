package metadata

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/platinummonkey/hubcap/pkg/capability"
)

// TagName is the struct tag consulted when matching metadata keys to fields.
const TagName = "metadata"

// ErrConversion is returned when a metadata value cannot be assigned to the shape.
var ErrConversion = errors.New("metadata conversion failed")

// Project decodes md into a fresh value of M.
func Project[M any](md capability.Metadata) (M, error) {
	var out M
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &out,
		TagName:    TagName,
		MatchName:  exactMatch,
		DecodeHook: exactNumbers,
	})
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	if err := dec.Decode(map[string]any(md)); err != nil {
		var zero M
		return zero, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return out, nil
}

func exactMatch(key, field string) bool {
	return key == field
}

// exactNumbers rejects numbers that would change value when stored in the target field: a
// float with a fraction going into an integer, and values out of the field's range.
func exactNumbers(from, to reflect.Value) (any, error) {
	data := from.Interface()
	target := to.Type()
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	field := reflect.New(target).Elem()

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			f := from.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || field.OverflowInt(int64(f)) {
				return nil, fmt.Errorf("%v is not representable as %s", f, target)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if field.OverflowInt(from.Int()) {
				return nil, fmt.Errorf("%d overflows %s", from.Int(), target)
			}
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			f := from.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || field.OverflowUint(uint64(f)) {
				return nil, fmt.Errorf("%v is not representable as %s", f, target)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if i := from.Int(); i < 0 || field.OverflowUint(uint64(i)) {
				return nil, fmt.Errorf("%d overflows %s", i, target)
			}
		}
	case reflect.Float32:
		switch from.Kind() {
		case reflect.Float32, reflect.Float64:
			if field.OverflowFloat(from.Float()) {
				return nil, fmt.Errorf("%v overflows %s", from.Float(), target)
			}
		}
	}
	return data, nil
}
