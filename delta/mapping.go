package delta

import "github.com/polarsignals/frostlake"

// PrimitiveType is Format-D's primitive type vocabulary.
type PrimitiveType int

const (
	Boolean PrimitiveType = iota
	Long
	Double
	String
	Binary
	TimestampNtz
	Timestamp
)

func (t PrimitiveType) String() string {
	switch t {
	case Boolean:
		return "boolean"
	case Long:
		return "long"
	case Double:
		return "double"
	case String:
		return "string"
	case Binary:
		return "binary"
	case TimestampNtz:
		return "timestamp_ntz"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// MapType maps an engine type to a Format-D primitive type, exactly the
// match frostlake/delta.rs's delta_table_primitive_type performs.
func MapType(t frostlake.Type) (PrimitiveType, error) {
	switch t {
	case frostlake.TypeBool:
		return Boolean, nil
	case frostlake.TypeInt64, frostlake.TypeDuration:
		return Long, nil
	case frostlake.TypeFloat64:
		return Double, nil
	case frostlake.TypeString, frostlake.TypeJSON:
		return String, nil
	case frostlake.TypeBytes:
		return Binary, nil
	case frostlake.TypeTimestampNaive:
		return TimestampNtz, nil
	case frostlake.TypeTimestampUTC:
		return Timestamp, nil
	default:
		return 0, &frostlake.UnsupportedTypeError{Type: t}
	}
}
