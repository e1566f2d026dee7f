// Package rollout defines the semantic rollout record and its mapping to
// the flat column layout of the rollout table.
//
// A Rollout is one robot trajectory episode with nested Robot, Environment,
// Task and Trajectory sub-objects. The storage layer never sees the nested
// form: Flatten projects a record onto prefix-joined column names and
// FromRow rebuilds the record from a raw row. Fields is the static list of
// declared columns; it is the single source of truth for both directions
// and for schema synchronization.
package rollout

import (
	"time"

	"github.com/google/uuid"

	"github.com/robodata/rolloutdb/pkg/schema"
)

// TableName is the physical table every rollout record lives in.
const TableName = "rollout"

// Rollout is one recorded robot trajectory episode.
type Rollout struct {
	// ID identifies the record; assigned at creation
	ID uuid.UUID `json:"id"`
	// CreationTime is when the episode was recorded upstream
	CreationTime time.Time `json:"creation_time"`
	// IngestionTime is when the record entered this store
	IngestionTime time.Time `json:"ingestion_time"`

	// Path locates the raw episode file
	Path string `json:"path"`
	// Filename is the episode file name; part of the natural key
	Filename string `json:"filename"`
	// DatasetName is the colloquial dataset name
	DatasetName string `json:"dataset_name"`
	// DatasetFormalName is the canonical dataset name; part of the natural key
	DatasetFormalName string `json:"dataset_formalname"`
	// Split is the train/val/test assignment when the dataset declares one
	Split *string `json:"split,omitempty"`
	// Length is the number of steps in the episode
	Length int64 `json:"length"`

	Robot       Robot       `json:"robot"`
	Environment Environment `json:"environment"`
	Task        Task        `json:"task"`
	Trajectory  Trajectory  `json:"trajectory"`
}

// Robot describes the embodiment that produced the episode.
type Robot struct {
	Embodiment  string  `json:"embodiment"`
	Gripper     *string `json:"gripper,omitempty"`
	Morphology  string  `json:"morphology"`
	ActionSpace string  `json:"action_space"`
	RGBCams     int64   `json:"rgb_cams"`
	DepthCams   int64   `json:"depth_cams"`
	WristCams   int64   `json:"wrist_cams"`
}

// Environment describes where the episode was collected.
type Environment struct {
	Name                 string  `json:"name"`
	Lighting             *string `json:"lighting,omitempty"`
	Simulation           bool    `json:"simulation"`
	DataCollectionMethod *string `json:"data_collection_method,omitempty"`
}

// Task describes what the robot was asked to do.
type Task struct {
	LanguageInstruction string   `json:"language_instruction"`
	SuccessCriteria     *string  `json:"success_criteria,omitempty"`
	Success             *float64 `json:"success,omitempty"`
}

// Trajectory summarizes the recorded motion data.
type Trajectory struct {
	FreqHz    *float64 `json:"freq_hz,omitempty"`
	ActionDim int64    `json:"action_dim"`
	StateDim  int64    `json:"state_dim"`
}

// New creates a Rollout with a fresh ID and the ingestion time set to now.
// The caller fills the remaining fields before insert.
func New(datasetName, datasetFormalName, path, filename string) *Rollout {
	return &Rollout{
		ID:                uuid.New(),
		IngestionTime:     time.Now().UTC(),
		Path:              path,
		Filename:          filename,
		DatasetName:       datasetName,
		DatasetFormalName: datasetFormalName,
	}
}

// Fields returns the declared storage fields in column order. The list is
// static: adding a field here is the only way a new column reaches the
// synchronizer, the flattener and the reconstruction path.
func Fields() []schema.Field {
	return []schema.Field{
		{Name: "id", Type: schema.FieldTypeUUID, Primary: true},
		{Name: "creation_time", Type: schema.FieldTypeTimestamp},
		{Name: "ingestion_time", Type: schema.FieldTypeTimestamp},
		{Name: "path", Type: schema.FieldTypeString},
		{Name: "filename", Type: schema.FieldTypeString},
		{Name: "dataset_name", Type: schema.FieldTypeString},
		{Name: "dataset_formalname", Type: schema.FieldTypeString},
		{Name: "split", Type: schema.FieldTypeString, Optional: true},
		{Name: "length", Type: schema.FieldTypeInt},
		{Name: "robot_embodiment", Type: schema.FieldTypeString},
		{Name: "robot_gripper", Type: schema.FieldTypeString, Optional: true},
		{Name: "robot_morphology", Type: schema.FieldTypeString},
		{Name: "robot_action_space", Type: schema.FieldTypeString},
		{Name: "robot_rgb_cams", Type: schema.FieldTypeInt},
		{Name: "robot_depth_cams", Type: schema.FieldTypeInt},
		{Name: "robot_wrist_cams", Type: schema.FieldTypeInt},
		{Name: "environment_name", Type: schema.FieldTypeString},
		{Name: "environment_lighting", Type: schema.FieldTypeString, Optional: true},
		{Name: "environment_simulation", Type: schema.FieldTypeBool},
		{Name: "environment_data_collection_method", Type: schema.FieldTypeString, Optional: true},
		{Name: "task_language_instruction", Type: schema.FieldTypeString},
		{Name: "task_success_criteria", Type: schema.FieldTypeString, Optional: true},
		{Name: "task_success", Type: schema.FieldTypeFloat, Optional: true},
		{Name: "trajectory_freq_hz", Type: schema.FieldTypeFloat, Optional: true},
		{Name: "trajectory_action_dim", Type: schema.FieldTypeInt},
		{Name: "trajectory_state_dim", Type: schema.FieldTypeInt},
	}
}

// NewRegistry builds the schema registry for the rollout table. The result
// is immutable; construct it once near process start and pass it by
// reference to the store.
func NewRegistry() *schema.Registry {
	return schema.MustNewRegistry(TableName, Fields())
}
