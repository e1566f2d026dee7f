// Package rolloutdb provides schema-evolving storage for robot trajectory
// records. Rollout metadata is flattened into a single SQLite table whose
// columns track the declared record schema: new fields become new columns,
// existing columns are never dropped or retyped, and rows written under an
// older schema stay readable forever.
//
// # Architecture
//
// The module is layered bottom-up:
//
// 1. Declaration: pkg/schema declares fields with semantic types and maps
// them to storage column types. pkg/rollout binds the declaration to the
// Rollout record and its flattening adapter.
//
// 2. Synchronization: on open, the store compares the declared schema with
// the live table and issues CREATE TABLE or additive ALTER TABLE statements.
// Synchronization is idempotent and strictly widening.
//
// 3. Access: pkg/store implements typed reads and writes, dataset-scoped
// queries, guarded bulk deletion, raw table snapshots and administrative
// column patches.
//
// 4. Export: pkg/columnar turns snapshots into Parquet files via Apache
// Arrow, deriving the Arrow schema from the declaration and falling back to
// value inspection for columns only an administrator has added.
//
// # Quick Start
//
//	cfg := config.DefaultConfig()
//	cfg.Storage.Path = "data/rollouts.db"
//
//	st, err := store.Open(ctx, cfg, rollout.NewRegistry(), logger.Get())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	r := rollout.New("kitchen", "kitchen_v2_2026", "/data/raw/ep_000411.tfrecord", "ep_000411.tfrecord")
//	r.CreationTime = time.Now().UTC()
//	r.Length = 412
//	r.Robot.Embodiment = "widowx"
//	r.Task.LanguageInstruction = "fold the towel"
//
//	if err := st.InsertOne(ctx, r); err != nil {
//		log.Fatal(err)
//	}
//
// The rolloutdb command wraps the same operations for shell use; see
// cmd/rolloutdb.
package rolloutdb
