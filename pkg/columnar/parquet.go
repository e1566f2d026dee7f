package columnar

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/schema"
	"github.com/robodata/rolloutdb/pkg/table"
)

// Writer encodes rows into a Parquet stream. Rows are buffered into record
// batches and flushed every BatchSize rows; Close flushes the remainder and
// finalizes the file footer. A Writer is single-use and not safe for
// concurrent appends.
type Writer struct {
	arrowSchema *arrow.Schema
	fileWriter  *pqarrow.FileWriter
	builder     *array.RecordBuilder
	batchSize   int
	buffered    int
	rowsWritten int64
}

// NewWriter creates a Parquet writer targeting w with the given Arrow schema.
func NewWriter(w io.Writer, arrowSchema *arrow.Schema, opts Options) (*Writer, error) {
	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultOptions().BatchSize
	}

	alloc := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(alloc),
	)

	fw, err := pqarrow.NewFileWriter(arrowSchema, w, props, arrowProps)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport, "failed to create parquet writer")
	}

	return &Writer{
		arrowSchema: arrowSchema,
		fileWriter:  fw,
		builder:     array.NewRecordBuilder(alloc, arrowSchema),
		batchSize:   batchSize,
	}, nil
}

// AppendRow buffers one row. Values must be aligned with the schema fields.
func (pw *Writer) AppendRow(values []any) error {
	if len(values) != pw.arrowSchema.NumFields() {
		return rollouterrors.Newf(rollouterrors.ErrorTypeExport,
			"row has %d values, schema has %d fields", len(values), pw.arrowSchema.NumFields())
	}

	for i, field := range pw.arrowSchema.Fields() {
		if err := pw.appendValue(i, values[i]); err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport,
				"failed to append value").WithDetail("column", field.Name)
		}
	}

	pw.buffered++
	if pw.buffered >= pw.batchSize {
		return pw.flushBatch()
	}
	return nil
}

// Flush writes any buffered rows as a record batch.
func (pw *Writer) Flush() error {
	return pw.flushBatch()
}

// Close flushes buffered rows and finalizes the Parquet footer. The file is
// not valid until Close returns nil.
func (pw *Writer) Close() error {
	if err := pw.flushBatch(); err != nil {
		return err
	}
	pw.builder.Release()
	if err := pw.fileWriter.Close(); err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport, "failed to close parquet writer")
	}
	return nil
}

// RowsWritten reports the number of rows flushed so far.
func (pw *Writer) RowsWritten() int64 {
	return pw.rowsWritten
}

func (pw *Writer) flushBatch() error {
	if pw.buffered == 0 {
		return nil
	}

	record := pw.builder.NewRecord()
	defer record.Release()

	if err := pw.fileWriter.WriteBuffered(record); err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport, "failed to write record batch")
	}

	pw.rowsWritten += int64(pw.buffered)
	pw.buffered = 0
	return nil
}

// appendValue coerces a snapshot cell into the column's builder. Cells come
// from database/sql scans, so booleans may arrive as int64 and timestamps as
// text. Values that cannot be coerced become NULL rather than failing the
// export.
func (pw *Writer) appendValue(colIdx int, value any) error {
	builder := pw.builder.Field(colIdx)

	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		switch v := value.(type) {
		case bool:
			b.Append(v)
		case int64:
			b.Append(v != 0)
		case int:
			b.Append(v != 0)
		default:
			b.AppendNull()
		}

	case *array.Int64Builder:
		switch v := value.(type) {
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		case int64:
			b.Append(v)
		default:
			b.AppendNull()
		}

	case *array.Float64Builder:
		switch v := value.(type) {
		case float32:
			b.Append(float64(v))
		case float64:
			b.Append(v)
		case int64:
			b.Append(float64(v))
		case int:
			b.Append(float64(v))
		default:
			b.AppendNull()
		}

	case *array.StringBuilder:
		switch v := value.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case time.Time:
			b.Append(v.UTC().Format(time.RFC3339Nano))
		default:
			b.Append(fmt.Sprintf("%v", value))
		}

	case *array.TimestampBuilder:
		switch v := value.(type) {
		case time.Time:
			b.Append(arrow.Timestamp(v.UnixNano()))
		case string:
			if t, ok := parseTimestamp(v); ok {
				b.Append(arrow.Timestamp(t.UnixNano()))
			} else {
				b.AppendNull()
			}
		case []byte:
			if t, ok := parseTimestamp(string(v)); ok {
				b.Append(arrow.Timestamp(t.UnixNano()))
			} else {
				b.AppendNull()
			}
		default:
			b.AppendNull()
		}

	default:
		return rollouterrors.Newf(rollouterrors.ErrorTypeExport,
			"unsupported builder type: %T", builder)
	}

	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WriteTable encodes an entire snapshot table and returns the row count.
func WriteTable(w io.Writer, tbl *table.Table, reg *schema.Registry, opts Options) (int64, error) {
	pw, err := NewWriter(w, SchemaFor(tbl, reg), opts)
	if err != nil {
		return 0, err
	}

	for i := 0; i < tbl.Len(); i++ {
		if err := pw.AppendRow(tbl.Row(i)); err != nil {
			return pw.RowsWritten(), err
		}
	}

	if err := pw.Close(); err != nil {
		return pw.RowsWritten(), err
	}
	return pw.RowsWritten(), nil
}
