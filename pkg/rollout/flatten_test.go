package rollout

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

// fullRollout returns a record with every optional field set.
func fullRollout() *Rollout {
	return &Rollout{
		ID:                uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		CreationTime:      time.Date(2026, 3, 14, 9, 30, 15, 123456789, time.UTC),
		IngestionTime:     time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
		Path:              "/data/raw/kitchen/ep_000411.tfrecord",
		Filename:          "ep_000411.tfrecord",
		DatasetName:       "kitchen",
		DatasetFormalName: "kitchen_v2_2026",
		Split:             strPtr("train"),
		Length:            412,
		Robot: Robot{
			Embodiment:  "widowx",
			Gripper:     strPtr("parallel_jaw"),
			Morphology:  "single_arm",
			ActionSpace: "cartesian",
			RGBCams:     2,
			DepthCams:   1,
			WristCams:   1,
		},
		Environment: Environment{
			Name:                 "toy_kitchen_1",
			Lighting:             strPtr("dim"),
			Simulation:           false,
			DataCollectionMethod: strPtr("teleop"),
		},
		Task: Task{
			LanguageInstruction: "fold the towel",
			SuccessCriteria:     strPtr("towel folded within 60s"),
			Success:             floatPtr(0.95),
		},
		Trajectory: Trajectory{
			FreqHz:    floatPtr(5.0),
			ActionDim: 7,
			StateDim:  7,
		},
	}
}

// bareRollout returns a record with every optional field unset.
func bareRollout() *Rollout {
	return &Rollout{
		ID:                uuid.MustParse("7ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		CreationTime:      time.Date(2026, 3, 14, 9, 30, 15, 0, time.UTC),
		IngestionTime:     time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
		Path:              "/data/raw/lab/ep_000001.tfrecord",
		Filename:          "ep_000001.tfrecord",
		DatasetName:       "lab",
		DatasetFormalName: "lab_v1",
		Length:            88,
		Robot: Robot{
			Embodiment:  "franka",
			Morphology:  "single_arm",
			ActionSpace: "joint",
		},
		Environment: Environment{
			Name:       "lab_bench",
			Simulation: true,
		},
		Task: Task{
			LanguageInstruction: "pick up the cube",
		},
		Trajectory: Trajectory{
			ActionDim: 8,
			StateDim:  8,
		},
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   *Rollout
	}{
		{"all optionals set", fullRollout()},
		{"no optionals set", bareRollout()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromRow(tt.in.Flatten(""))
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestFlattenMatchesDeclaredFields(t *testing.T) {
	row := fullRollout().Flatten("")

	// Flatten and Fields must agree exactly: every declared column is
	// present, nothing undeclared appears.
	require.Equal(t, len(Fields()), len(row))
	for _, f := range Fields() {
		_, ok := row[f.Name]
		assert.True(t, ok, f.Name)
	}
}

func TestFlattenUnsetOptionalsAreNil(t *testing.T) {
	row := bareRollout().Flatten("")

	for _, name := range []string{
		"split", "robot_gripper", "environment_lighting",
		"environment_data_collection_method", "task_success_criteria",
		"task_success", "trajectory_freq_hz",
	} {
		v, ok := row[name]
		require.True(t, ok, name)
		assert.Nil(t, v, name)
	}
}

func TestFlattenPrefix(t *testing.T) {
	row := fullRollout().Flatten("rollout_")

	_, bare := row["id"]
	assert.False(t, bare)
	assert.Contains(t, row, "rollout_id")
	assert.Contains(t, row, "rollout_robot_embodiment")
}

func TestFlattenNormalizesTimesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	r := fullRollout()
	r.CreationTime = time.Date(2026, 3, 14, 4, 30, 15, 0, est)

	row := r.Flatten("")
	created, ok := row["creation_time"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, created.Location())
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 15, 0, time.UTC), created)
}

// TestFromRowDriverTypes feeds FromRow the representations a SQLite driver
// actually hands back: text ids and timestamps, int64 for integers and
// booleans, byte slices for some text columns.
func TestFromRowDriverTypes(t *testing.T) {
	row := map[string]any{
		"id":                                 "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"creation_time":                      "2026-03-14T09:30:15.123456789Z",
		"ingestion_time":                     "2026-03-15 08:00:00",
		"path":                               []byte("/data/raw/kitchen/ep_000411.tfrecord"),
		"filename":                           "ep_000411.tfrecord",
		"dataset_name":                       "kitchen",
		"dataset_formalname":                 "kitchen_v2_2026",
		"split":                              "train",
		"length":                             int64(412),
		"robot_embodiment":                   "widowx",
		"robot_gripper":                      nil,
		"robot_morphology":                   "single_arm",
		"robot_action_space":                 "cartesian",
		"robot_rgb_cams":                     int64(2),
		"robot_depth_cams":                   int64(1),
		"robot_wrist_cams":                   int64(1),
		"environment_name":                   "toy_kitchen_1",
		"environment_lighting":               nil,
		"environment_simulation":             int64(1),
		"environment_data_collection_method": nil,
		"task_language_instruction":          "fold the towel",
		"task_success_criteria":              nil,
		"task_success":                       0.95,
		"trajectory_freq_hz":                 nil,
		"trajectory_action_dim":              int64(7),
		"trajectory_state_dim":               int64(7),
	}

	r, err := FromRow(row)
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), r.ID)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 15, 123456789, time.UTC), r.CreationTime)
	assert.Equal(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), r.IngestionTime)
	assert.Equal(t, "/data/raw/kitchen/ep_000411.tfrecord", r.Path)
	assert.Equal(t, "train", *r.Split)
	assert.Equal(t, int64(412), r.Length)
	assert.Nil(t, r.Robot.Gripper)
	assert.True(t, r.Environment.Simulation)
	assert.Equal(t, 0.95, *r.Task.Success)
	assert.Nil(t, r.Trajectory.FreqHz)
}

func TestFromRowIgnoresUnknownColumns(t *testing.T) {
	row := fullRollout().Flatten("")
	row["quality_tag"] = "gold"
	row["operator_note"] = nil

	got, err := FromRow(row)
	require.NoError(t, err)
	assert.Equal(t, fullRollout(), got)
}

func TestFromRowErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{
			name:   "missing required column",
			mutate: func(row map[string]any) { delete(row, "robot_embodiment") },
		},
		{
			name:   "NULL required column",
			mutate: func(row map[string]any) { row["creation_time"] = nil },
		},
		{
			name:   "malformed uuid",
			mutate: func(row map[string]any) { row["id"] = "not-a-uuid" },
		},
		{
			name:   "unparseable timestamp",
			mutate: func(row map[string]any) { row["ingestion_time"] = "yesterday" },
		},
		{
			name:   "fractional value in integer column",
			mutate: func(row map[string]any) { row["length"] = 412.5 },
		},
		{
			name:   "text in boolean column",
			mutate: func(row map[string]any) { row["environment_simulation"] = "maybe" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := fullRollout().Flatten("")
			tt.mutate(row)

			_, err := FromRow(row)
			require.Error(t, err)
			assert.True(t, rollouterrors.IsType(err, rollouterrors.ErrorTypeReconstruction))
		})
	}
}

func TestNew(t *testing.T) {
	r := New("kitchen", "kitchen_v2_2026", "/data/raw/ep_000411.tfrecord", "ep_000411.tfrecord")

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.False(t, r.IngestionTime.IsZero())
	assert.Equal(t, time.UTC, r.IngestionTime.Location())
	assert.Equal(t, "kitchen", r.DatasetName)
	assert.Equal(t, "kitchen_v2_2026", r.DatasetFormalName)
	assert.Equal(t, "/data/raw/ep_000411.tfrecord", r.Path)
	assert.Equal(t, "ep_000411.tfrecord", r.Filename)

	other := New("kitchen", "kitchen_v2_2026", "/data/raw/ep_000412.tfrecord", "ep_000412.tfrecord")
	assert.NotEqual(t, r.ID, other.ID)
}

func TestNewRegistryDeclaration(t *testing.T) {
	reg := NewRegistry()

	assert.Equal(t, TableName, reg.Table())
	assert.Equal(t, len(Fields()), reg.Len())

	primary, ok := reg.Primary()
	require.True(t, ok)
	assert.Equal(t, "id", primary.Name)
}
