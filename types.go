package frostlake

import "fmt"

// Type is the engine-side primitive type of a schema field. It is the
// common vocabulary both the delta and iceberg packages translate into
// their own format-native primitive types.
type Type int

const (
	TypeBool Type = iota
	TypeInt64
	TypeFloat64
	TypeString
	TypeBytes
	TypeTimestampNaive
	TypeTimestampUTC
	TypeDuration
	TypeJSON
	TypeAny
	TypeArray
	TypeTuple
	TypeList
	TypeOpaqueObject
	TypePointer
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "Bool"
	case TypeInt64:
		return "Int64"
	case TypeFloat64:
		return "Float64"
	case TypeString:
		return "String"
	case TypeBytes:
		return "Bytes"
	case TypeTimestampNaive:
		return "TimestampNaive"
	case TypeTimestampUTC:
		return "TimestampUtc"
	case TypeDuration:
		return "Duration"
	case TypeJSON:
		return "Json"
	case TypeAny:
		return "Any"
	case TypeArray:
		return "Array"
	case TypeTuple:
		return "Tuple"
	case TypeList:
		return "List"
	case TypeOpaqueObject:
		return "OpaqueObject"
	case TypePointer:
		return "Pointer"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Optional wraps a Type to signal that the column may contain nulls. It is
// not itself a Type value, and the format mapping functions do not accept
// it: a schema field's nullability is carried by Field.Nullable.
type Optional struct {
	Wrapped Type
}

// Field is one ordered, named entry of an engine-level schema.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// SpecialOutputField is one of the fixed, ordered, non-nullable trailing
// columns every writer appends after the user schema.
type SpecialOutputField struct {
	Name string
	Type Type
}

// SpecialOutputFields is the stable suffix appended to every written table.
// Names, types, and order must never change independently in the two
// format packages: both derive their special columns from this slice.
var SpecialOutputFields = []SpecialOutputField{
	{Name: "time", Type: TypeInt64},
	{Name: "diff", Type: TypeInt64},
	{Name: "shard", Type: TypeInt64},
}

// WriterTag is the fixed value stored in the `author` namespace/table
// property the Iceberg writer sets on creation. The Delta writer sets no
// such property.
const WriterTag = "frostlake"
