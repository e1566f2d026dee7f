// Package store persists rollout records in a single SQLite table.
//
// A Store owns the database handle, keeps the column registry it was opened
// with, and reconciles the physical table against that registry on open.
// All reads reconstruct typed rollout records from flat rows; reads that
// serve bulk workflows skip rows that fail reconstruction, while full scans
// fail hard so schema damage is not silently papered over.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/robodata/rolloutdb/pkg/columnar"
	"github.com/robodata/rolloutdb/pkg/config"
	"github.com/robodata/rolloutdb/pkg/metrics"
	"github.com/robodata/rolloutdb/pkg/rollout"
	"github.com/robodata/rolloutdb/pkg/rollouterrors"
	"github.com/robodata/rolloutdb/pkg/schema"
)

// Store is a handle to the rollout table. It is safe for concurrent use;
// SQLite's single-writer model is enforced through the connection pool cap.
type Store struct {
	db     *sql.DB
	reg    *schema.Registry
	log    *zap.Logger
	export columnar.Options

	insertStmt string
}

// Open opens (or creates) the SQLite database at the configured path and
// synchronizes the rollout table with the registry: the table is created
// when absent, and declared columns missing from it are added. Columns are
// never dropped or retyped.
func Open(ctx context.Context, cfg *config.Config, reg *schema.Registry, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeConfig,
			"failed to create database directory")
	}

	db, err := sql.Open("sqlite", cfg.Storage.DSN())
	if err != nil {
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeConfig,
			"failed to open database").WithDetail("path", cfg.Storage.Path)
	}
	// SQLite supports one writer; a larger pool just trades SQLITE_BUSY for
	// lock contention.
	db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, rollouterrors.Wrap(err, rollouterrors.ErrorTypeConfig,
			"failed to reach database").WithDetail("path", cfg.Storage.Path)
	}

	if err := schema.Sync(ctx, db, reg, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("store opened",
		zap.String("path", cfg.Storage.Path),
		zap.String("table", reg.Table()),
		zap.Int("declared_columns", reg.Len()))

	return &Store{
		db:  db,
		reg: reg,
		log: log,
		export: columnar.Options{
			Compression: cfg.Export.Compression,
			BatchSize:   cfg.Export.BatchSize,
		},
		insertStmt: buildInsertStmt(reg),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Registry returns the column registry the store was opened with.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Columns reports the physical columns of the rollout table, including any
// administratively patched columns the registry does not declare.
func (s *Store) Columns(ctx context.Context) ([]schema.Column, error) {
	return schema.TableColumns(ctx, s.db, s.reg.Table())
}

func buildInsertStmt(reg *schema.Registry) string {
	cols := reg.Columns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		reg.Table(), strings.Join(cols, ", "), placeholders)
}

// insertArgs flattens a rollout into bind arguments in registry column order.
func (s *Store) insertArgs(r *rollout.Rollout) ([]any, error) {
	if r == nil {
		return nil, rollouterrors.New(rollouterrors.ErrorTypeValidation, "rollout is nil")
	}
	if r.ID == uuid.Nil {
		return nil, rollouterrors.New(rollouterrors.ErrorTypeValidation, "rollout id is required")
	}

	flat := r.Flatten("")
	args := make([]any, 0, s.reg.Len())
	for _, col := range s.reg.Columns() {
		args = append(args, bindValue(flat[col]))
	}
	return args, nil
}

// InsertOne writes a single rollout row.
func (s *Store) InsertOne(ctx context.Context, r *rollout.Rollout) error {
	timer := metrics.NewTimer("insert_one")
	defer timer.ObserveLatency()

	args, err := s.insertArgs(r)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.insertStmt, args...); err != nil {
		metrics.RecordsWritten.WithLabelValues("insert_one", "error").Inc()
		return wrapWriteError(err, r)
	}

	metrics.RecordsWritten.WithLabelValues("insert_one", "success").Inc()
	s.log.Info("rollout inserted",
		zap.String("rollout_id", r.ID.String()),
		zap.String("dataset", r.DatasetFormalName),
		zap.String("filename", r.Filename))

	return nil
}

// InsertMany writes a batch of rollouts in one transaction. Either every row
// is written or none are.
func (s *Store) InsertMany(ctx context.Context, rollouts []*rollout.Rollout) error {
	if len(rollouts) == 0 {
		return nil
	}

	timer := metrics.NewTimer("insert_many")
	defer timer.ObserveLatency()

	// Validate and flatten everything up front so a bad record is rejected
	// before the transaction starts.
	batch := make([][]any, 0, len(rollouts))
	for i, r := range rollouts {
		args, err := s.insertArgs(r)
		if err != nil {
			return rollouterrors.Wrap(err, rollouterrors.ErrorTypeValidation,
				fmt.Sprintf("invalid rollout at index %d", i))
		}
		batch = append(batch, args)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to begin insert transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.insertStmt)
	if err != nil {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to prepare insert")
	}
	defer stmt.Close()

	for i, args := range batch {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			metrics.RecordsWritten.WithLabelValues("insert_many", "error").Add(float64(len(rollouts)))
			return wrapWriteError(err, rollouts[i]).WithDetail("batch_index", i)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordsWritten.WithLabelValues("insert_many", "error").Add(float64(len(rollouts)))
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to commit insert transaction")
	}

	metrics.RecordsWritten.WithLabelValues("insert_many", "success").Add(float64(len(rollouts)))
	s.log.Info("rollouts inserted",
		zap.Int("count", len(rollouts)),
		zap.String("dataset", rollouts[0].DatasetFormalName))

	return nil
}

// DeleteByDataset removes every row whose dataset_formalname matches.
// The confirmed flag must be true; callers are expected to obtain explicit
// confirmation before invoking a bulk delete. The number of matching rows is
// logged before the delete runs, and returned after.
func (s *Store) DeleteByDataset(ctx context.Context, datasetFormalName string, confirmed bool) (int64, error) {
	if !confirmed {
		return 0, rollouterrors.New(rollouterrors.ErrorTypeGuard,
			"refusing to delete dataset rows without confirmation").
			WithDetail("dataset", datasetFormalName)
	}

	timer := metrics.NewTimer("delete_by_dataset")
	defer timer.ObserveLatency()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to begin delete transaction")
	}
	defer func() { _ = tx.Rollback() }()

	countStmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE dataset_formalname = ?", s.reg.Table())
	var matching int64
	if err := tx.QueryRowContext(ctx, countStmt, datasetFormalName).Scan(&matching); err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to count dataset rows").WithDetail("dataset", datasetFormalName)
	}
	s.log.Info("deleting dataset rows",
		zap.String("dataset", datasetFormalName),
		zap.Int64("rows", matching))

	stmt := fmt.Sprintf("DELETE FROM %s WHERE dataset_formalname = ?", s.reg.Table())
	res, err := tx.ExecContext(ctx, stmt, datasetFormalName)
	if err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to delete dataset rows").WithDetail("dataset", datasetFormalName)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to count deleted rows")
	}

	if err := tx.Commit(); err != nil {
		return 0, rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery,
			"failed to commit delete transaction")
	}

	metrics.RowsDeleted.Add(float64(deleted))
	s.log.Info("dataset rows deleted",
		zap.String("dataset", datasetFormalName),
		zap.Int64("rows", deleted))

	return deleted, nil
}

// bindValue converts a flattened field value into a driver-friendly bind
// argument. UUIDs are stored as text and timestamps as RFC 3339 text so the
// stored form does not depend on driver defaults.
func bindValue(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func wrapWriteError(err error, r *rollout.Rollout) *rollouterrors.Error {
	if isConstraintError(err) {
		return rollouterrors.Wrap(err, rollouterrors.ErrorTypeConstraint,
			"rollout violates a table constraint").
			WithDetail("rollout_id", r.ID.String())
	}
	return rollouterrors.Wrap(err, rollouterrors.ErrorTypeQuery, "failed to insert rollout").
		WithDetail("rollout_id", r.ID.String())
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}
