// Package pqrow converts Arrow records into Parquet rows and Parquet rows
// back into decoded values, for the one fixed schema a frostlake table
// writer/reader deals with at a time.
//
// Adapted from the teacher's pqarrow.RecordToRow/appendToRow, trimmed down:
// frostdb's version handles dynamic (repeated) parquet columns for its own
// wide, schemaless tables; a frostlake table has a single, static schema
// per table, so the dynamic-column and repetition-level bookkeeping is
// dropped here.
package pqrow

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/frostlake"
)

// appendColumnValue appends the value at row index from an arrow column
// into a parquet row, matching it to fieldIndex's definition level.
func appendColumnValue(row []parquet.Value, c arrow.Array, index, fieldIndex int) ([]parquet.Value, error) {
	if c.IsNull(index) {
		return append(row, parquet.NullValue().Level(0, 0, fieldIndex)), nil
	}
	switch arr := c.(type) {
	case *array.Boolean:
		return append(row, parquet.ValueOf(arr.Value(index)).Level(0, 1, fieldIndex)), nil
	case *array.Int64:
		return append(row, parquet.ValueOf(arr.Value(index)).Level(0, 1, fieldIndex)), nil
	case *array.Float64:
		return append(row, parquet.ValueOf(arr.Value(index)).Level(0, 1, fieldIndex)), nil
	case *array.String:
		return append(row, parquet.ValueOf(arr.Value(index)).Level(0, 1, fieldIndex)), nil
	case *array.Binary:
		return append(row, parquet.ValueOf(arr.Value(index)).Level(0, 1, fieldIndex)), nil
	case *array.Timestamp:
		return append(row, parquet.ValueOf(int64(arr.Value(index))).Level(0, 1, fieldIndex)), nil
	default:
		return nil, fmt.Errorf("column not of expected type: %v", c.DataType().ID())
	}
}

// RecordToRow converts row index of an Arrow record into a Parquet row
// ordered according to schema's fields.
func RecordToRow(schema *parquet.Schema, record arrow.Record, index int) (parquet.Row, error) {
	fields := schema.Fields()
	row := make([]parquet.Value, 0, len(fields))

	recordFields := record.Schema().Fields()
	for i, f := range fields {
		found := false
		for j, rf := range recordFields {
			if rf.Name != f.Name() {
				continue
			}
			var err error
			row, err = appendColumnValue(row, record.Column(j), index, i)
			if err != nil {
				return nil, err
			}
			found = true
			break
		}
		if !found {
			row = append(row, parquet.NullValue().Level(0, 0, i))
		}
	}
	return row, nil
}

// ValueToGo decodes a single parquet.Value into a Go value according to
// its declared frostlake.Type, for assembly into a Row.
func ValueToGo(v parquet.Value, t frostlake.Type) any {
	if v.IsNull() {
		return nil
	}
	switch t {
	case frostlake.TypeBool:
		return v.Boolean()
	case frostlake.TypeInt64, frostlake.TypeDuration, frostlake.TypeTimestampNaive, frostlake.TypeTimestampUTC:
		return v.Int64()
	case frostlake.TypeFloat64:
		return v.Double()
	case frostlake.TypeString, frostlake.TypeJSON:
		return string(v.ByteArray())
	case frostlake.TypeBytes:
		b := v.ByteArray()
		out := make([]byte, len(b))
		copy(out, b)
		return out
	default:
		return v.Clone()
	}
}

// RowToValues decodes a parquet.Row into a frostlake.Row keyed by field
// name, using columnTypes to pick the right Go representation per column.
func RowToValues(schema *parquet.Schema, row parquet.Row, columnTypes map[string]frostlake.Type) frostlake.Row {
	out := make(frostlake.Row, len(columnTypes))
	fields := schema.Fields()
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(fields) {
			continue
		}
		name := fields[col].Name()
		t, ok := columnTypes[name]
		if !ok {
			continue
		}
		out[name] = ValueToGo(v, t)
	}
	return out
}
