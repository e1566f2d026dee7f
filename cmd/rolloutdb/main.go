package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robodata/rolloutdb/pkg/config"
	"github.com/robodata/rolloutdb/pkg/jsonutil"
	"github.com/robodata/rolloutdb/pkg/logger"
	"github.com/robodata/rolloutdb/pkg/rollout"
	"github.com/robodata/rolloutdb/pkg/schema"
	"github.com/robodata/rolloutdb/pkg/store"
)

var version = "0.1.0"

// Persistent flags shared by every command.
var (
	configFile    string
	dbPath        string
	logLevel      string
	enableMetrics bool
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "rolloutdb",
		Short: "Rolloutdb - schema-evolving storage for robot trajectory records",
		Long: `Rolloutdb stores robot rollout records as flat rows in a single SQLite table.
The declared record schema is synchronized additively: new fields become new
columns, existing columns are never dropped or retyped. Snapshots of the
table can be exported to Parquet for analysis.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML configuration file (optional)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path, overrides the configured one")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&enableMetrics, "enable-metrics", false, "Print collected metrics on exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rolloutdb v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Create or widen the rollout table to match the declared schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	})

	var insertFile string
	insertCmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert rollout records from JSON",
		Long: `Insert rollout records from a JSON file or stdin. The input is either a
single record object or an array of records. Records without an id get a
fresh one; records without an ingestion time are stamped with now.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(insertFile)
		},
	}
	insertCmd.Flags().StringVarP(&insertFile, "file", "f", "-", "Input JSON file, - for stdin")
	root.AddCommand(insertCmd)

	var getDataset, getFilename, getID string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one rollout record",
		Long: `Fetch one rollout record, either by id or by its natural key, the pair of
dataset formal name and filename.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(getDataset, getFilename, getID)
		},
	}
	getCmd.Flags().StringVar(&getDataset, "dataset", "", "Dataset formal name")
	getCmd.Flags().StringVar(&getFilename, "filename", "", "Episode filename")
	getCmd.Flags().StringVar(&getID, "id", "", "Rollout id")
	root.AddCommand(getCmd)

	var listDataset string
	var listIDs, listFilenames []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rollout records as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(listDataset, listFilenames, listIDs)
		},
	}
	listCmd.Flags().StringVar(&listDataset, "dataset", "", "Dataset formal name")
	listCmd.Flags().StringSliceVar(&listFilenames, "filenames", nil, "Restrict --dataset to these filenames")
	listCmd.Flags().StringSliceVar(&listIDs, "ids", nil, "Rollout ids to fetch")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show per-dataset record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	})

	var exportOut string
	var exportColumns []string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the table to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(exportOut, exportColumns)
		},
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output Parquet path (required)")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "Export only these columns")
	_ = exportCmd.MarkFlagRequired("out")
	root.AddCommand(exportCmd)

	var deleteYes bool
	deleteCmd := &cobra.Command{
		Use:   "delete <dataset_formalname>",
		Short: "Delete every row of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(args[0], deleteYes)
		},
	}
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Skip the confirmation prompt")
	root.AddCommand(deleteCmd)

	var patchFile, patchColumn, patchType, patchDefault string
	patchCmd := &cobra.Command{
		Use:   "patch",
		Short: "Add a column to the live table and optionally backfill it",
		Long: `Add a column to the live table and optionally backfill it. The simple form
takes --column, --type and --default. Keyed backfills, where specific rows
get specific values, are described by a JSON patch file:

  {
    "column": "quality_tag",
    "type": "string",
    "default": "silver",
    "key_columns": ["dataset_name", "filename"],
    "keyed_values": [
      {"key": ["kitchen", "ep_001.tfrecord"], "value": "gold"}
    ]
  }

Patched columns stay invisible to typed reads until the matching field is
added to the record declaration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaultSet := cmd.Flags().Changed("default")
			return runPatch(patchFile, patchColumn, patchType, patchDefault, defaultSet)
		},
	}
	patchCmd.Flags().StringVarP(&patchFile, "file", "f", "", "JSON patch description")
	patchCmd.Flags().StringVar(&patchColumn, "column", "", "Column name to add")
	patchCmd.Flags().StringVar(&patchType, "type", "string", "Column type (string, int, float, bool, timestamp)")
	patchCmd.Flags().StringVar(&patchDefault, "default", "", "Value written to every row")
	root.AddCommand(patchCmd)

	err := root.Execute()
	if enableMetrics {
		dumpMetrics(os.Stderr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration from defaults, the
// optional config file and command line overrides, then initializes the
// global logger from it.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		if err := config.Load(configFile, cfg); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	}); err != nil {
		return nil, err
	}

	return cfg, nil
}

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.Get().With(zap.String("component", "rolloutdb-cli"))
	return store.Open(ctx, cfg, rollout.NewRegistry(), log)
}

func runSync() error {
	ctx := context.Background()

	// Opening the store runs the synchronizer.
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cols, err := st.Columns(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("table %s has %d columns:\n", rollout.TableName, len(cols))
	for _, c := range cols {
		marker := ""
		if c.PrimaryKey {
			marker = "  primary key"
		}
		fmt.Printf("  %-40s %s%s\n", c.Name, c.Type, marker)
	}
	return nil
}

func runInsert(path string) error {
	records, err := readRollouts(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records in input")
	}

	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.IngestionTime.IsZero() {
			r.IngestionTime = now
		}
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.InsertMany(ctx, records); err != nil {
		return err
	}

	fmt.Printf("inserted %d rollouts\n", len(records))
	for _, r := range records {
		fmt.Printf("  %s  %s/%s\n", r.ID, r.DatasetFormalName, r.Filename)
	}
	return nil
}

func readRollouts(path string) ([]*rollout.Rollout, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []*rollout.Rollout
		if err := jsonutil.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		return records, nil
	}

	var record rollout.Rollout
	if err := jsonutil.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return []*rollout.Rollout{&record}, nil
}

func runGet(dataset, filename, id string) error {
	ctx := context.Background()

	var r *rollout.Rollout
	switch {
	case id != "":
		ids, err := store.ParseIDs([]string{id})
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		found, err := st.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("rollout %s not found", id)
		}
		r = found[0]

	case dataset != "" && filename != "":
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		got, found, err := st.FindByNaturalKey(ctx, dataset, filename)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("rollout %s/%s not found", dataset, filename)
		}
		r = got

	default:
		return fmt.Errorf("either --id or both --dataset and --filename are required")
	}

	out, err := jsonutil.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runList(dataset string, filenames, rawIDs []string) error {
	if dataset == "" && len(rawIDs) == 0 {
		return fmt.Errorf("either --dataset or --ids is required")
	}
	if dataset != "" && len(rawIDs) > 0 {
		return fmt.Errorf("--dataset and --ids are mutually exclusive")
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var records []*rollout.Rollout
	if dataset != "" {
		records, err = st.LoadDataset(ctx, dataset, filenames)
	} else {
		var ids []uuid.UUID
		ids, err = store.ParseIDs(rawIDs)
		if err == nil {
			records, err = st.FindByIDs(ctx, ids)
		}
	}
	if err != nil {
		return err
	}

	enc := jsonutil.NewStreamingEncoder(os.Stdout, false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return enc.Close()
}

func runStats() error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.CountByDataset(ctx)
	if err != nil {
		return err
	}

	var total int64
	for _, c := range counts {
		fmt.Printf("%-48s %8d\n", c.Dataset, c.Count)
		total += c.Count
	}
	fmt.Printf("%-48s %8d\n", "total", total)
	return nil
}

func runExport(out string, columns []string) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var rows int64
	if len(columns) > 0 {
		rows, err = st.ExportParquetColumns(ctx, out, columns)
	} else {
		rows, err = st.ExportParquet(ctx, out)
	}
	if err != nil {
		return err
	}

	fmt.Printf("exported %d rows to %s\n", rows, out)
	return nil
}

func runDelete(dataset string, yes bool) error {
	if !yes {
		fmt.Printf("This permanently deletes every row of dataset %q.\n", dataset)
		fmt.Print(`Type "yes" to continue: `)

		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil || strings.TrimSpace(line) != "yes" {
			return fmt.Errorf("delete aborted")
		}
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.DeleteByDataset(ctx, dataset, true)
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d rows of dataset %s\n", deleted, dataset)
	return nil
}

// patchSpec is the JSON form of a column patch.
type patchSpec struct {
	Column      string       `json:"column"`
	Type        string       `json:"type"`
	Default     any          `json:"default"`
	KeyColumns  []string     `json:"key_columns"`
	KeyedValues []patchValue `json:"keyed_values"`
}

type patchValue struct {
	Key   []any `json:"key"`
	Value any   `json:"value"`
}

func runPatch(file, column, colType, defaultValue string, defaultSet bool) error {
	var patch store.ColumnPatch

	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read patch file: %w", err)
		}
		var spec patchSpec
		if err := jsonutil.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("failed to parse patch file: %w", err)
		}

		fieldType := schema.FieldType(spec.Type)
		patch = store.ColumnPatch{
			Name:       spec.Column,
			Type:       fieldType,
			Default:    normalizePatchValue(spec.Default, fieldType),
			KeyColumns: spec.KeyColumns,
		}
		for _, kv := range spec.KeyedValues {
			patch.KeyedValues = append(patch.KeyedValues, store.KeyedValue{
				Key:   kv.Key,
				Value: normalizePatchValue(kv.Value, fieldType),
			})
		}

	case column != "":
		fieldType := schema.FieldType(colType)
		patch = store.ColumnPatch{Name: column, Type: fieldType}
		if defaultSet {
			v, err := parsePatchDefault(defaultValue, fieldType)
			if err != nil {
				return err
			}
			patch.Default = v
		}

	default:
		return fmt.Errorf("either --file or --column is required")
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ApplyColumnPatch(ctx, patch); err != nil {
		return err
	}

	fmt.Printf("column patch applied: %s\n", patch.Name)
	return nil
}

// normalizePatchValue fixes up JSON decoding artifacts: JSON has no integer
// type, so whole numbers destined for integer columns arrive as float64.
func normalizePatchValue(v any, t schema.FieldType) any {
	if t != schema.FieldTypeInt {
		return v
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func parsePatchDefault(raw string, t schema.FieldType) (any, error) {
	switch t {
	case schema.FieldTypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer default %q", raw)
		}
		return v, nil
	case schema.FieldTypeFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float default %q", raw)
		}
		return v, nil
	case schema.FieldTypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool default %q", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

// dumpMetrics prints every rolloutdb metric collected during the run.
func dumpMetrics(w io.Writer) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "failed to gather metrics: %v\n", err)
		return
	}

	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "rolloutdb_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%s%s %s\n", name, labelString(m), metricValue(mf.GetType(), m))
		}
	}
}

func labelString(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func metricValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64)
	case dto.MetricType_GAUGE:
		return strconv.FormatFloat(m.GetGauge().GetValue(), 'f', -1, 64)
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%s",
			h.GetSampleCount(),
			strconv.FormatFloat(h.GetSampleSum(), 'f', -1, 64))
	default:
		return "?"
	}
}
