package rollout

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

// Flatten projects the record onto its flat column mapping. Column names
// are the nested path joined with underscores, each prefixed with prefix
// (normally empty). Unset optional fields map to nil; timestamps are
// normalized to UTC.
func (r *Rollout) Flatten(prefix string) map[string]any {
	row := make(map[string]any, 26)

	row[prefix+"id"] = r.ID
	row[prefix+"creation_time"] = r.CreationTime.UTC()
	row[prefix+"ingestion_time"] = r.IngestionTime.UTC()
	row[prefix+"path"] = r.Path
	row[prefix+"filename"] = r.Filename
	row[prefix+"dataset_name"] = r.DatasetName
	row[prefix+"dataset_formalname"] = r.DatasetFormalName
	row[prefix+"split"] = optString(r.Split)
	row[prefix+"length"] = r.Length

	row[prefix+"robot_embodiment"] = r.Robot.Embodiment
	row[prefix+"robot_gripper"] = optString(r.Robot.Gripper)
	row[prefix+"robot_morphology"] = r.Robot.Morphology
	row[prefix+"robot_action_space"] = r.Robot.ActionSpace
	row[prefix+"robot_rgb_cams"] = r.Robot.RGBCams
	row[prefix+"robot_depth_cams"] = r.Robot.DepthCams
	row[prefix+"robot_wrist_cams"] = r.Robot.WristCams

	row[prefix+"environment_name"] = r.Environment.Name
	row[prefix+"environment_lighting"] = optString(r.Environment.Lighting)
	row[prefix+"environment_simulation"] = r.Environment.Simulation
	row[prefix+"environment_data_collection_method"] = optString(r.Environment.DataCollectionMethod)

	row[prefix+"task_language_instruction"] = r.Task.LanguageInstruction
	row[prefix+"task_success_criteria"] = optString(r.Task.SuccessCriteria)
	row[prefix+"task_success"] = optFloat(r.Task.Success)

	row[prefix+"trajectory_freq_hz"] = optFloat(r.Trajectory.FreqHz)
	row[prefix+"trajectory_action_dim"] = r.Trajectory.ActionDim
	row[prefix+"trajectory_state_dim"] = r.Trajectory.StateDim

	return row
}

// FromRow rebuilds a Rollout from a raw column-value mapping. Unknown keys
// are ignored and NULL optional fields become nil pointers; a NULL or
// missing required field, or a value that cannot be coerced to its declared
// type, yields a reconstruction error. Timestamps are returned in UTC.
func FromRow(row map[string]any) (*Rollout, error) {
	rr := &rowReader{row: row}

	r := &Rollout{
		ID:                rr.uuidField("id"),
		CreationTime:      rr.timeField("creation_time"),
		IngestionTime:     rr.timeField("ingestion_time"),
		Path:              rr.stringField("path"),
		Filename:          rr.stringField("filename"),
		DatasetName:       rr.stringField("dataset_name"),
		DatasetFormalName: rr.stringField("dataset_formalname"),
		Split:             rr.optStringField("split"),
		Length:            rr.intField("length"),
		Robot: Robot{
			Embodiment:  rr.stringField("robot_embodiment"),
			Gripper:     rr.optStringField("robot_gripper"),
			Morphology:  rr.stringField("robot_morphology"),
			ActionSpace: rr.stringField("robot_action_space"),
			RGBCams:     rr.intField("robot_rgb_cams"),
			DepthCams:   rr.intField("robot_depth_cams"),
			WristCams:   rr.intField("robot_wrist_cams"),
		},
		Environment: Environment{
			Name:                 rr.stringField("environment_name"),
			Lighting:             rr.optStringField("environment_lighting"),
			Simulation:           rr.boolField("environment_simulation"),
			DataCollectionMethod: rr.optStringField("environment_data_collection_method"),
		},
		Task: Task{
			LanguageInstruction: rr.stringField("task_language_instruction"),
			SuccessCriteria:     rr.optStringField("task_success_criteria"),
			Success:             rr.optFloatField("task_success"),
		},
		Trajectory: Trajectory{
			FreqHz:    rr.optFloatField("trajectory_freq_hz"),
			ActionDim: rr.intField("trajectory_action_dim"),
			StateDim:  rr.intField("trajectory_state_dim"),
		},
	}

	if rr.err != nil {
		return nil, rr.err
	}
	return r, nil
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func optFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// rowReader pulls typed fields out of a raw row, remembering the first
// coercion failure so FromRow can report it once.
type rowReader struct {
	row map[string]any
	err error
}

// take returns the value for name; ok is false for absent keys and NULLs.
func (rr *rowReader) take(name string) (any, bool) {
	v, ok := rr.row[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (rr *rowReader) fail(name string, err error) {
	if rr.err == nil {
		rr.err = rollouterrors.Wrap(err, rollouterrors.ErrorTypeReconstruction,
			"failed to rebuild rollout").WithDetail("column", name)
	}
}

func (rr *rowReader) failMissing(name string) {
	if rr.err == nil {
		rr.err = rollouterrors.Newf(rollouterrors.ErrorTypeReconstruction,
			"required column %s is missing or NULL", name)
	}
}

func (rr *rowReader) uuidField(name string) uuid.UUID {
	v, ok := rr.take(name)
	if !ok {
		rr.failMissing(name)
		return uuid.Nil
	}
	u, err := coerceUUID(v)
	if err != nil {
		rr.fail(name, err)
	}
	return u
}

func (rr *rowReader) timeField(name string) time.Time {
	v, ok := rr.take(name)
	if !ok {
		rr.failMissing(name)
		return time.Time{}
	}
	t, err := coerceTime(v)
	if err != nil {
		rr.fail(name, err)
	}
	return t
}

func (rr *rowReader) stringField(name string) string {
	v, ok := rr.take(name)
	if !ok {
		rr.failMissing(name)
		return ""
	}
	s, err := coerceString(v)
	if err != nil {
		rr.fail(name, err)
	}
	return s
}

func (rr *rowReader) optStringField(name string) *string {
	v, ok := rr.take(name)
	if !ok {
		return nil
	}
	s, err := coerceString(v)
	if err != nil {
		rr.fail(name, err)
		return nil
	}
	return &s
}

func (rr *rowReader) intField(name string) int64 {
	v, ok := rr.take(name)
	if !ok {
		rr.failMissing(name)
		return 0
	}
	n, err := coerceInt(v)
	if err != nil {
		rr.fail(name, err)
	}
	return n
}

func (rr *rowReader) optFloatField(name string) *float64 {
	v, ok := rr.take(name)
	if !ok {
		return nil
	}
	f, err := coerceFloat(v)
	if err != nil {
		rr.fail(name, err)
		return nil
	}
	return &f
}

func (rr *rowReader) boolField(name string) bool {
	v, ok := rr.take(name)
	if !ok {
		rr.failMissing(name)
		return false
	}
	b, err := coerceBool(v)
	if err != nil {
		rr.fail(name, err)
	}
	return b
}

// Coercions accept the concrete types the SQLite driver returns alongside
// the native Go types Flatten emits.

func coerceUUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		return uuid.Parse(t)
	case []byte:
		return uuid.Parse(string(t))
	}
	return uuid.Nil, fmt.Errorf("cannot interpret %T as uuid", v)
}

// timeLayouts covers RFC3339 plus the layouts SQLite drivers emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}, fmt.Errorf("cannot interpret %T as timestamp", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", s)
}

func coerceString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	}
	return "", fmt.Errorf("cannot interpret %T as string", v)
}

func coerceInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		n := int64(t)
		if float64(n) != t {
			return 0, fmt.Errorf("cannot interpret %v as integer", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot interpret %T as integer", v)
}

func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	}
	return 0, fmt.Errorf("cannot interpret %T as float", v)
}

func coerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	}
	return false, fmt.Errorf("cannot interpret %T as bool", v)
}
