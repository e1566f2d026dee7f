// Package columnar writes table snapshots to Parquet files.
//
// The Arrow schema is derived from the column registry where a column is
// declared, and inferred from the column's values where it is not (columns
// added by administrative patches have no declaration). Every Parquet field
// is nullable: snapshots null-fill columns that were added after older rows
// were written, so any column may carry NULLs.
package columnar

import (
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/parquet/compress"

	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/schema"
	"github.com/robodata/rolloutdb/pkg/table"
)

// Options controls Parquet encoding.
type Options struct {
	// Compression is the Parquet page compression codec: "snappy", "zstd",
	// "gzip", "brotli" or "none".
	Compression string

	// BatchSize is the number of rows buffered before a record batch is
	// flushed to the file.
	BatchSize int
}

// DefaultOptions returns the encoding options used when none are given.
func DefaultOptions() Options {
	return Options{
		Compression: "snappy",
		BatchSize:   1000,
	}
}

func compressionCodec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, rollouterrors.Newf(rollouterrors.ErrorTypeExport,
			"unsupported compression codec: %s", name)
	}
}

// SchemaFor builds the Arrow schema for a snapshot table. Declared columns
// take their type from the registry; undeclared columns are typed from their
// values. The id column is exported as text regardless of its declared type.
func SchemaFor(tbl *table.Table, reg *schema.Registry) *arrow.Schema {
	columns := tbl.Columns()
	fields := make([]arrow.Field, 0, len(columns))
	for _, name := range columns {
		var dataType arrow.DataType
		if f, ok := reg.Field(name); ok {
			dataType = fieldArrowType(f.Type)
		} else {
			values, _ := tbl.Column(name)
			dataType = inferArrowType(values)
		}
		fields = append(fields, arrow.Field{Name: name, Type: dataType, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func fieldArrowType(t schema.FieldType) arrow.DataType {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeUUID:
		return arrow.BinaryTypes.String
	case schema.FieldTypeInt:
		return arrow.PrimitiveTypes.Int64
	case schema.FieldTypeFloat:
		return arrow.PrimitiveTypes.Float64
	case schema.FieldTypeBool:
		return arrow.FixedWidthTypes.Boolean
	case schema.FieldTypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_ns
	default:
		return arrow.BinaryTypes.String
	}
}

// inferArrowType types an undeclared column from its first non-nil value.
// String values are not probed for embedded numbers or booleans: a TEXT
// column patched in by an administrator stays text. A column of nothing but
// NULLs is exported as text.
func inferArrowType(values []any) arrow.DataType {
	for _, v := range values {
		if v == nil {
			continue
		}
		switch v.(type) {
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case int, int32, int64:
			return arrow.PrimitiveTypes.Int64
		case float32, float64:
			return arrow.PrimitiveTypes.Float64
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_ns
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}
