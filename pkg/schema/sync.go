package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/robodata/rolloutdb/pkg/metrics"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

// Column describes one physical column of a SQLite table as reported by
// PRAGMA table_info.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	Default    sql.NullString
	PrimaryKey bool
}

// Querier is the query surface shared by *sql.DB and *sql.Tx, so table
// introspection can run inside or outside a transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableColumns inspects the physical table and returns its columns in
// ordinal order. A missing table yields an empty slice and no error.
func TableColumns(ctx context.Context, db Querier, table string) ([]Column, error) {
	if !ValidIdentifier(table) {
		return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"invalid table identifier %q", table)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to inspect table")
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
				"failed to scan table info")
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       colType,
			NotNull:    notNull != 0,
			Default:    dfltValue,
			PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to read table info")
	}

	return cols, nil
}

// Sync creates the table when absent, otherwise adds any declared columns
// missing from the physical table. Existing columns are never dropped or
// retyped, and physical columns unknown to the registry are left alone.
// Safe to call repeatedly; a second call with an unchanged registry is a
// no-op.
func Sync(ctx context.Context, db *sql.DB, reg *Registry, log *zap.Logger) error {
	existing, err := TableColumns(ctx, db, reg.Table())
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		return createTable(ctx, db, reg, log)
	}
	return addMissingColumns(ctx, db, reg, existing, log)
}

// createTable builds the full CREATE TABLE statement from the registry.
func createTable(ctx context.Context, db *sql.DB, reg *Registry, log *zap.Logger) error {
	columns := make([]string, 0, reg.Len())
	for _, f := range reg.fields {
		col := f.Name + " " + ColumnType(f)
		if f.Primary {
			col += " PRIMARY KEY"
		}
		columns = append(columns, col)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		reg.Table(), strings.Join(columns, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeSchema,
			"failed to create table").WithDetail("table", reg.Table())
	}

	log.Info("table created",
		zap.String("table", reg.Table()),
		zap.Int("columns", reg.Len()))

	return nil
}

// addMissingColumns widens the table with one ALTER TABLE ADD COLUMN per
// declared column absent from the physical schema, all in one transaction.
func addMissingColumns(ctx context.Context, db *sql.DB, reg *Registry, existing []Column, log *zap.Logger) error {
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.Name] = true
	}

	var missing []Field
	for _, f := range reg.fields {
		if !present[f.Name] {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeSchema,
			"failed to begin schema transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range missing {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NULL",
			reg.Table(), f.Name, ColumnType(f))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeSchema,
				"failed to add column").WithDetail("column", f.Name)
		}

		log.Info("column added",
			zap.String("table", reg.Table()),
			zap.String("column", f.Name),
			zap.String("type", ColumnType(f)))
	}

	if err := tx.Commit(); err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeSchema,
			"failed to commit schema transaction")
	}

	metrics.ColumnsAdded.WithLabelValues("sync").Add(float64(len(missing)))

	return nil
}
