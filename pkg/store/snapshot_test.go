package store

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rolloutdb/pkg/columnar"
	"github.com/robodata/rolloutdb/pkg/config"
	"github.com/robodata/rolloutdb/pkg/rollout"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/schema"
	"github.com/robodata/rolloutdb/pkg/testutil"
)

// narrowTableStore builds a store whose registry is wider than the physical
// table, the state a database is in after the record declaration gained
// fields but before a schema sync widened the table.
func narrowTableStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Storage.Path = testutil.TempDBPath(t)

	db, err := sql.Open("sqlite", cfg.Storage.DSN())
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	narrow := schema.MustNewRegistry(rollout.TableName, rollout.Fields()[:9])
	require.NoError(t, schema.Sync(ctx, db, narrow, testutil.TestLogger(t)))

	insert := `INSERT INTO rollout
		(id, creation_time, ingestion_time, path, filename, dataset_name, dataset_formalname, split, length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stamp := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	_, err = db.ExecContext(ctx, insert,
		"99999999-9999-4999-8999-999999999999", stamp, stamp,
		"/data/kitchen/ep_001.tfrecord", "ep_001.tfrecord", "kitchen", "kitchen_v1", "train", 100)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert,
		"11111111-1111-4111-8111-111111111111", stamp, stamp,
		"/data/kitchen/ep_000.tfrecord", "ep_000.tfrecord", "kitchen", "kitchen_v1", nil, 80)
	require.NoError(t, err)

	return &Store{
		db:     db,
		reg:    rollout.NewRegistry(),
		log:    testutil.TestLogger(t),
		export: columnar.DefaultOptions(),
	}
}

func TestSnapshotPadsDeclaredColumns(t *testing.T) {
	st := narrowTableStore(t)

	tbl, err := st.Snapshot(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(rollout.Fields()), len(tbl.Columns()))
	require.Equal(t, 2, tbl.Len())

	// Rows come back ordered by id even though they were inserted reversed.
	first, ok := tbl.Cell(0, "id")
	require.True(t, ok)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", first)

	// Declared columns absent from the physical table are all-NULL.
	values, err := tbl.Column("task_success")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, values)

	// Physical columns keep their stored values.
	lengths, err := tbl.Column("length")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(80), int64(100)}, lengths)
}

func TestSnapshotColumnsProjection(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_000.tfrecord")))

	tbl, err := st.SnapshotColumns(ctx, []string{"filename", "length"})
	require.NoError(t, err)
	assert.Equal(t, []string{"filename", "length"}, tbl.Columns())
	require.Equal(t, 1, tbl.Len())

	cell, ok := tbl.Cell(0, "filename")
	require.True(t, ok)
	assert.Equal(t, "ep_000.tfrecord", cell)

	_, err = st.SnapshotColumns(ctx, []string{"no_such_column"})
	require.Error(t, err)
	assert.True(t, rollouterrors.IsType(err, rollouterrors.ErrorTypeValidation))
}

func TestSnapshotColumnsRejectsPatchedColumn(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_000.tfrecord")))
	require.NoError(t, st.ApplyColumnPatch(ctx, ColumnPatch{
		Name:    "quality_tag",
		Type:    schema.FieldTypeString,
		Default: "silver",
	}))

	// Physically present but undeclared: projection must refuse it.
	_, err := st.SnapshotColumns(ctx, []string{"quality_tag"})
	require.Error(t, err)
	assert.True(t, rollouterrors.IsType(err, rollouterrors.ErrorTypeValidation))
}

func TestSnapshotColumnsPadsDeclaredColumns(t *testing.T) {
	st := narrowTableStore(t)

	tbl, err := st.SnapshotColumns(context.Background(), []string{"filename", "task_success"})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	values, err := tbl.Column("task_success")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, values)
}

func TestSnapshotIncludesPatchedColumns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_000.tfrecord")))
	require.NoError(t, st.ApplyColumnPatch(ctx, ColumnPatch{
		Name:    "quality_tag",
		Type:    schema.FieldTypeString,
		Default: "silver",
	}))

	tbl, err := st.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, tbl.HasColumn("quality_tag"))

	cell, ok := tbl.Cell(0, "quality_tag")
	require.True(t, ok)
	assert.Equal(t, "silver", cell)
}

func TestTableByIDs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := sampleRollout(t, "kitchen", "ep_000.tfrecord")
	b := sampleRollout(t, "kitchen", "ep_001.tfrecord")
	require.NoError(t, st.InsertMany(ctx, []*rollout.Rollout{a, b}))

	tbl, err := st.TableByIDs(ctx, []string{a.ID.String()})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	cell, ok := tbl.Cell(0, "id")
	require.True(t, ok)
	assert.Equal(t, a.ID.String(), cell)

	// Unknown ids are absent, malformed ids are rejected.
	empty, err := st.TableByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
	assert.Equal(t, len(rollout.Fields()), len(empty.Columns()))

	_, err = st.TableByIDs(ctx, []string{"not-a-uuid"})
	require.Error(t, err)
	assert.True(t, rollouterrors.IsType(err, rollouterrors.ErrorTypeValidation))
}

func readParquetIDs(t *testing.T, path string) (int64, []string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	fr, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer fr.Close()

	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	require.NoError(t, err)

	rr, err := arrowReader.GetRecordReader(context.Background(), nil, nil)
	require.NoError(t, err)
	defer rr.Release()

	var ids []string
	for rr.Next() {
		rec := rr.Record()
		idx := rec.Schema().FieldIndices("id")
		require.Len(t, idx, 1)
		col, ok := rec.Column(idx[0]).(*array.String)
		require.True(t, ok, "id column should be text, got %s", rec.Column(idx[0]).DataType())
		for i := 0; i < int(rec.NumRows()); i++ {
			ids = append(ids, col.Value(i))
		}
	}

	return fr.NumRows(), ids
}

func TestExportParquet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := sampleRollout(t, "kitchen", "ep_000.tfrecord")
	b := sampleRollout(t, "kitchen", "ep_001.tfrecord")
	// A record with no optional fields set must export as NULLs.
	bare := rollout.New("warehouse", "warehouse_v1", "/data/warehouse/ep_000.tfrecord", "ep_000.tfrecord")
	bare.CreationTime = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.InsertMany(ctx, []*rollout.Rollout{a, b, bare}))

	require.NoError(t, st.ApplyColumnPatch(ctx, ColumnPatch{
		Name:    "quality_tag",
		Type:    schema.FieldTypeString,
		Default: "silver",
	}))

	dir := t.TempDir()
	path := filepath.Join(dir, "rollouts.parquet")

	rows, err := st.ExportParquet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	numRows, ids := readParquetIDs(t, path)
	assert.Equal(t, int64(3), numRows)

	want := []string{a.ID.String(), b.ID.String(), bare.ID.String()}
	assert.ElementsMatch(t, want, ids)
	assert.IsIncreasing(t, ids)

	// The temporary sibling must be gone after the rename.
	leftovers, err := filepath.Glob(filepath.Join(dir, ".rollouts-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportParquetReplacesExisting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_000.tfrecord")))

	path := filepath.Join(t.TempDir(), "rollouts.parquet")

	rows, err := st.ExportParquet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_001.tfrecord")))

	rows, err = st.ExportParquet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	numRows, _ := readParquetIDs(t, path)
	assert.Equal(t, int64(2), numRows)
}

func TestExportParquetColumns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertOne(ctx, sampleRollout(t, "kitchen", "ep_000.tfrecord")))

	path := filepath.Join(t.TempDir(), "subset.parquet")
	rows, err := st.ExportParquetColumns(ctx, path, []string{"id", "filename", "length"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	numRows, ids := readParquetIDs(t, path)
	assert.Equal(t, int64(1), numRows)
	assert.Len(t, ids, 1)

	_, err = st.ExportParquetColumns(ctx, path, []string{"id", "no_such_column"})
	require.Error(t, err)
	assert.True(t, rollouterrors.IsType(err, rollouterrors.ErrorTypeValidation))
}

func TestExportParquetEmptyTable(t *testing.T) {
	st := openTestStore(t)

	path := filepath.Join(t.TempDir(), "rollouts.parquet")
	rows, err := st.ExportParquet(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, rows)

	_, err = os.Stat(path)
	require.NoError(t, err)

	numRows, ids := readParquetIDs(t, path)
	assert.Zero(t, numRows)
	assert.Empty(t, ids)
}
