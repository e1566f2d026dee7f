package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robodata/rolloutdb/pkg/metrics"
	"github.com/robodata/rolloutdb/pkg/rollout"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

// FindByNaturalKey looks up a rollout by its natural key, the pair of
// dataset_formalname and filename. The boolean reports whether a row was
// found; absence is not an error. When several rows share the key the first
// one wins.
func (s *Store) FindByNaturalKey(ctx context.Context, datasetFormalName, filename string) (*rollout.Rollout, bool, error) {
	stmt := fmt.Sprintf(
		"SELECT * FROM %s WHERE dataset_formalname = ? AND filename = ? LIMIT 1",
		s.reg.Table())

	rows, err := s.db.QueryContext(ctx, stmt, datasetFormalName, filename)
	if err != nil {
		return nil, false, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to query rollout by natural key")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
				"failed to read rollout row")
		}
		return nil, false, nil
	}

	row, err := scanRowMap(rows)
	if err != nil {
		return nil, false, err
	}

	r, err := rollout.FromRow(row)
	if err != nil {
		return nil, false, err
	}

	metrics.RecordsRead.WithLabelValues("find_by_natural_key").Inc()
	return r, true, nil
}

// FindByDataset returns every reconstructible rollout of a dataset, matched
// on dataset_formalname. Rows that fail reconstruction are logged and
// skipped so one damaged row cannot hold the rest of the dataset hostage.
func (s *Store) FindByDataset(ctx context.Context, datasetFormalName string) ([]*rollout.Rollout, error) {
	timer := metrics.NewTimer("find_by_dataset")
	defer timer.ObserveLatency()

	stmt := fmt.Sprintf("SELECT * FROM %s WHERE dataset_formalname = ?", s.reg.Table())

	rows, err := s.db.QueryContext(ctx, stmt, datasetFormalName)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to query dataset rollouts").WithDetail("dataset", datasetFormalName)
	}
	defer rows.Close()

	out, err := s.collectRollouts(rows, true, "find_by_dataset")
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindAll returns every rollout in the table. Unlike FindByDataset, a row
// that fails reconstruction fails the whole call: a full scan is the one
// place schema damage must surface instead of being skipped.
func (s *Store) FindAll(ctx context.Context) ([]*rollout.Rollout, error) {
	timer := metrics.NewTimer("find_all")
	defer timer.ObserveLatency()

	stmt := fmt.Sprintf("SELECT * FROM %s", s.reg.Table())

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to query rollouts")
	}
	defer rows.Close()

	return s.collectRollouts(rows, false, "find_all")
}

// ParseIDs converts id strings into UUIDs, so callers holding either form
// can use the id lookups. A malformed id is a validation error.
func ParseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeValidation,
				"malformed rollout id").WithDetail("id", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FindByIDs returns the rollouts whose ids are in the given set, ordered by
// id. Ids with no matching row are simply absent from the result.
func (s *Store) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*rollout.Rollout, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	timer := metrics.NewTimer("find_by_ids")
	defer timer.ObserveLatency()

	stmt, args := s.idSelect(ids)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to query rollouts by id")
	}
	defer rows.Close()

	return s.collectRollouts(rows, false, "find_by_ids")
}

// LoadDataset fetches rollouts of one dataset. With a nil filename list the
// whole dataset is returned; otherwise each filename is looked up by natural
// key and filenames with no row are logged and skipped.
func (s *Store) LoadDataset(ctx context.Context, datasetFormalName string, filenames []string) ([]*rollout.Rollout, error) {
	if filenames == nil {
		return s.FindByDataset(ctx, datasetFormalName)
	}

	out := make([]*rollout.Rollout, 0, len(filenames))
	for _, filename := range filenames {
		r, found, err := s.FindByNaturalKey(ctx, datasetFormalName, filename)
		if err != nil {
			return nil, err
		}
		if !found {
			s.log.Warn("rollout not found",
				zap.String("dataset", datasetFormalName),
				zap.String("filename", filename))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// DatasetCount is one row of the per-dataset tally.
type DatasetCount struct {
	Dataset string
	Count   int64
}

// CountByDataset tallies rows per dataset_name, most populous first.
func (s *Store) CountByDataset(ctx context.Context) ([]DatasetCount, error) {
	stmt := fmt.Sprintf(
		"SELECT dataset_name, COUNT(*) FROM %s GROUP BY dataset_name ORDER BY COUNT(*) DESC, dataset_name ASC",
		s.reg.Table())

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to count datasets")
	}
	defer rows.Close()

	var counts []DatasetCount
	for rows.Next() {
		var c DatasetCount
		if err := rows.Scan(&c.Dataset, &c.Count); err != nil {
			return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
				"failed to scan dataset count")
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to read dataset counts")
	}

	return counts, nil
}

func (s *Store) idSelect(ids []uuid.UUID) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE id IN (%s) ORDER BY id",
		s.reg.Table(), placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return stmt, args
}

// collectRollouts drains rows into reconstructed rollouts. With skipBad set,
// rows that fail reconstruction are logged and counted instead of failing
// the call.
func (s *Store) collectRollouts(rows *sql.Rows, skipBad bool, operation string) ([]*rollout.Rollout, error) {
	out := make([]*rollout.Rollout, 0, 16)
	for rows.Next() {
		row, err := scanRowMap(rows)
		if err != nil {
			return nil, err
		}

		r, err := rollout.FromRow(row)
		if err != nil {
			if skipBad {
				metrics.RowsSkipped.Inc()
				s.log.Warn("skipping rollout row that failed reconstruction",
					zap.String("operation", operation),
					zap.Error(err))
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to read rollout rows")
	}

	metrics.RecordsRead.WithLabelValues(operation).Add(float64(len(out)))
	return out, nil
}

// scanRowMap scans the current row into a column-keyed map.
func scanRowMap(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to list result columns")
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to scan rollout row")
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = values[i]
	}
	return row, nil
}
