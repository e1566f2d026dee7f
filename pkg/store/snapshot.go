package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/robodata/rolloutdb/pkg/columnar"
	"github.com/robodata/rolloutdb/pkg/metrics"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/table"
)

// Snapshot reads the whole table into memory, ordered by id. Declared
// columns that are missing from the physical table are appended as all-NULL
// columns, so the snapshot always covers the full registry even before a
// schema sync has widened the table. Columns unknown to the registry, such
// as administratively patched ones, are included as-is.
func (s *Store) Snapshot(ctx context.Context) (*table.Table, error) {
	timer := metrics.NewTimer("snapshot")
	defer timer.ObserveLatency()

	stmt := fmt.Sprintf("SELECT * FROM %s ORDER BY id", s.reg.Table())
	tbl, err := s.queryTable(ctx, stmt)
	if err != nil {
		return nil, err
	}

	for _, col := range s.reg.Columns() {
		if tbl.HasColumn(col) {
			continue
		}
		if err := tbl.AddColumn(col); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// SnapshotColumns projects the snapshot onto the given declared columns.
// Requesting a column outside the declared schema is an error, even when the
// physical table carries it: administratively patched columns stay invisible
// here until a matching field declaration exists. A declared column the
// physical table lacks projects as all-NULL, like in Snapshot.
func (s *Store) SnapshotColumns(ctx context.Context, columns []string) (*table.Table, error) {
	for _, c := range columns {
		if !s.reg.Contains(c) {
			return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"column %s is not a declared field", c)
		}
	}

	tbl, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.Select(columns)
}

// TableByIDs returns the snapshot restricted to the given ids, ordered by
// id. Ids with no matching row are simply absent.
func (s *Store) TableByIDs(ctx context.Context, ids []string) (*table.Table, error) {
	parsed, err := ParseIDs(ids)
	if err != nil {
		return nil, err
	}

	var stmt string
	var args []any
	if len(parsed) == 0 {
		stmt = fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", s.reg.Table())
	} else {
		stmt, args = s.idSelect(parsed)
	}

	tbl, err := s.queryTable(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	for _, col := range s.reg.Columns() {
		if tbl.HasColumn(col) {
			continue
		}
		if err := tbl.AddColumn(col); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// ExportParquet writes the full snapshot to a Parquet file. The id column is
// exported as text. The file is written to a temporary sibling and renamed
// into place, so a failed export never leaves a truncated file at path.
func (s *Store) ExportParquet(ctx context.Context, path string) (int64, error) {
	tbl, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return s.exportTable(tbl, path)
}

// ExportParquetColumns writes a projected snapshot to a Parquet file. The
// projection follows SnapshotColumns semantics: asking for a column outside
// the declared schema is an error.
func (s *Store) ExportParquetColumns(ctx context.Context, path string, columns []string) (int64, error) {
	tbl, err := s.SnapshotColumns(ctx, columns)
	if err != nil {
		return 0, err
	}
	return s.exportTable(tbl, path)
}

func (s *Store) exportTable(tbl *table.Table, path string) (int64, error) {
	start := time.Now()

	if tbl.HasColumn("id") {
		for i := 0; i < tbl.Len(); i++ {
			cell, _ := tbl.Cell(i, "id")
			if err := tbl.SetCell(i, "id", stringifyID(cell)); err != nil {
				return 0, err
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport,
			"failed to create export directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rollouts-*.parquet")
	if err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport,
			"failed to create temporary export file")
	}
	tmpName := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.Remove(tmpName)
		}
	}()

	rows, err := columnar.WriteTable(tmp, tbl, s.reg, s.export)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport,
			"failed to finalize export file")
	}

	if err := os.Rename(tmpName, path); err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeExport,
			"failed to move export file into place").WithDetail("path", path)
	}
	removeTmp = false

	metrics.ExportDuration.Observe(time.Since(start).Seconds())
	s.log.Info("table exported",
		zap.String("path", path),
		zap.Int64("rows", rows))

	return rows, nil
}

// queryTable runs a SELECT * statement and loads the result into a Table.
func (s *Store) queryTable(ctx context.Context, stmt string, args ...any) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to query table snapshot")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to list snapshot columns")
	}

	tbl, err := table.New(cols)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		values, err := scanRowSlice(rows, len(cols))
		if err != nil {
			return nil, err
		}
		if err := tbl.AppendRow(values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to read snapshot rows")
	}

	return tbl, nil
}

// stringifyID normalizes an id cell to text for export. Ids are stored as
// TEXT so this is usually a pass-through.
func stringifyID(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

func scanRowSlice(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	ptrs := make([]any, width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to scan snapshot row")
	}
	return values, nil
}
