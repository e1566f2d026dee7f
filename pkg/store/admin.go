package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/robodata/rolloutdb/pkg/metrics"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/schema"
)

// KeyedValue assigns a value to the rows matching a composite key. Key holds
// one value per key column, compared with equality and joined with AND.
type KeyedValue struct {
	Key   []any
	Value any
}

// ColumnPatch is an administrative, out-of-registry schema change: add a
// column to the live table and optionally backfill it. Patched columns are
// invisible to typed reads until the matching field is added to the record
// declaration; until then they surface only in snapshots and exports.
type ColumnPatch struct {
	// Name of the column to add. Adding a column that already exists is
	// a no-op, so a patch can be re-run safely.
	Name string
	// Type decides the storage column type.
	Type schema.FieldType
	// Default, when non-nil, is written to every row before keyed values
	// are applied.
	Default any
	// KeyColumns name the columns that KeyedValues are matched on.
	KeyColumns []string
	// KeyedValues override Default for the rows matching each key.
	KeyedValues []KeyedValue
}

// ApplyColumnPatch applies a column patch in a single transaction: the
// column add, the bulk default and every keyed override either all commit
// or none do.
func (s *Store) ApplyColumnPatch(ctx context.Context, patch ColumnPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	timer := metrics.NewTimer("apply_column_patch")
	defer timer.ObserveLatency()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to begin patch transaction")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := schema.TableColumns(ctx, tx, s.reg.Table())
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.Name] = true
	}

	added := false
	if !present[patch.Name] {
		colType := schema.ColumnType(schema.Field{Name: patch.Name, Type: patch.Type})
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			s.reg.Table(), patch.Name, colType)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeSchema,
				"failed to add patched column").WithDetail("column", patch.Name)
		}
		added = true
	}

	for _, key := range patch.KeyColumns {
		if !present[key] && key != patch.Name {
			return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"key column %s does not exist", key)
		}
	}

	if patch.Default != nil {
		stmt := fmt.Sprintf("UPDATE %s SET %s = ?", s.reg.Table(), patch.Name)
		if _, err := tx.ExecContext(ctx, stmt, bindValue(patch.Default)); err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
				"failed to apply column default").WithDetail("column", patch.Name)
		}
	}

	for i, kv := range patch.KeyedValues {
		conditions := make([]string, len(patch.KeyColumns))
		args := make([]any, 0, len(kv.Key)+1)
		args = append(args, bindValue(kv.Value))
		for j, key := range patch.KeyColumns {
			conditions[j] = key + " = ?"
			args = append(args, bindValue(kv.Key[j]))
		}

		stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s",
			s.reg.Table(), patch.Name, strings.Join(conditions, " AND "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
				"failed to apply keyed value").
				WithDetail("column", patch.Name).
				WithDetail("keyed_index", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to commit patch transaction")
	}

	if added {
		metrics.ColumnsAdded.WithLabelValues("patch").Inc()
	}
	s.log.Info("column patch applied",
		zap.String("column", patch.Name),
		zap.Bool("added", added),
		zap.Bool("default_set", patch.Default != nil),
		zap.Int("keyed_values", len(patch.KeyedValues)))

	return nil
}

func validatePatch(patch ColumnPatch) error {
	if !schema.ValidIdentifier(patch.Name) {
		return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"invalid column identifier %q", patch.Name)
	}
	for _, key := range patch.KeyColumns {
		if !schema.ValidIdentifier(key) {
			return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"invalid key column identifier %q", key)
		}
	}
	if len(patch.KeyedValues) > 0 && len(patch.KeyColumns) == 0 {
		return rollouterrors.New(rollouterrors.ErrorTypeValidation,
			"keyed values require key columns")
	}
	for i, kv := range patch.KeyedValues {
		if len(kv.Key) != len(patch.KeyColumns) {
			return rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"keyed value %d has %d key parts, want %d",
				i, len(kv.Key), len(patch.KeyColumns))
		}
	}
	return nil
}
