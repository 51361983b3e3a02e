package iceberg

import (
	icebergo "github.com/polarsignals/iceberg-go"

	"github.com/polarsignals/frostlake"
)

// MapType maps an engine type to an Iceberg primitive type, the match
// iceberg.rs's iceberg_type performs. Lists, tuples, arrays, opaque
// objects and pointers have no Iceberg primitive counterpart.
func MapType(t frostlake.Type) (icebergo.Type, error) {
	switch t {
	case frostlake.TypeBool:
		return icebergo.PrimitiveTypeBoolean, nil
	case frostlake.TypeFloat64:
		return icebergo.PrimitiveTypeDouble, nil
	case frostlake.TypeString, frostlake.TypeJSON:
		return icebergo.PrimitiveTypeString, nil
	case frostlake.TypeBytes:
		return icebergo.PrimitiveTypeBinary, nil
	case frostlake.TypeTimestampNaive:
		return icebergo.PrimitiveTypeTimestamp, nil
	case frostlake.TypeTimestampUTC:
		return icebergo.PrimitiveTypeTimestamptz, nil
	case frostlake.TypeInt64, frostlake.TypeDuration:
		return icebergo.PrimitiveTypeLong, nil
	default:
		return nil, &frostlake.UnsupportedTypeError{Type: t}
	}
}

// BuildSchema assigns 1-based field IDs to fields in order, then appends
// frostlake.SpecialOutputFields the same way, matching build_schema's
// numbering exactly: user fields first, special fields continuing the
// same counter. A user field is optional when it is Nullable; the special
// fields are always required.
func BuildSchema(fields []frostlake.Field) (*icebergo.Schema, error) {
	nested := make([]icebergo.NestedField, 0, len(fields)+len(frostlake.SpecialOutputFields))
	id := 0
	for _, f := range fields {
		id++
		t, err := MapType(f.Type)
		if err != nil {
			return nil, err
		}
		nested = append(nested, icebergo.NestedField{ID: id, Name: f.Name, Type: t, Required: !f.Nullable})
	}
	for _, f := range frostlake.SpecialOutputFields {
		id++
		t, err := MapType(f.Type)
		if err != nil {
			return nil, err
		}
		nested = append(nested, icebergo.NestedField{ID: id, Name: f.Name, Type: t, Required: true})
	}
	return icebergo.NewSchema(0, nested...), nil
}
