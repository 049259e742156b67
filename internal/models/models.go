package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExperimentKind 实验类型
type ExperimentKind string

const (
	// ExperimentKindStandard is the only kind the storage layer supports.
	ExperimentKindStandard ExperimentKind = "standard"
	// ExperimentKindSimple is a legacy variant kept for decoding old rows;
	// loading one through the storage layer fails.
	ExperimentKindSimple ExperimentKind = "simple"
)

// TrialKind 试验类型
type TrialKind string

const (
	TrialKindSingle TrialKind = "single"
	TrialKindBatch  TrialKind = "batch"
)

// Experiment 实验
type Experiment struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Kind        ExperimentKind `db:"kind" json:"kind"`
	Properties  JSONMap        `db:"properties" json:"properties"`
	Status      string         `db:"status" json:"status"` // draft, running, completed, abandoned
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`

	// Trials in creation order. Trial.Index is the identity within the
	// experiment and is never reused.
	Trials []*Trial `json:"trials"`

	// DataByTrial holds observation data attached to the experiment,
	// keyed by trial index.
	DataByTrial map[int][]*ObservationData `json:"data_by_trial"`
}

// Trial 试验（单臂或批量）
type Trial struct {
	ID          int64     `db:"id" json:"id"`
	UID         uuid.UUID `db:"uid" json:"uid"`
	Index       int       `db:"idx" json:"index"`
	Kind        TrialKind `db:"kind" json:"kind"`
	Status      string    `db:"status" json:"status"` // candidate, staged, running, completed, failed
	Arms        JSONArms  `db:"arms" json:"arms"`
	RunMetadata JSONMap   `db:"run_metadata" json:"run_metadata"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Arm 参数组合
type Arm struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ObservationData 试验观测数据
type ObservationData struct {
	ID         int64          `db:"id" json:"id"`
	TrialIndex int            `db:"trial_index" json:"trial_index"`
	Metrics    JSONMetricRows `db:"metrics" json:"metrics"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// MetricRow 单条观测
type MetricRow struct {
	MetricName string  `json:"metric_name"`
	ArmName    string  `json:"arm_name"`
	Mean       float64 `json:"mean"`
	SEM        float64 `json:"sem"`
}

// GenerationStrategy 生成策略
//
// Runs is the full in-memory history of generator runs, in production order.
// SavedRuns is the durable checkpoint: Runs[:SavedRuns] are persisted,
// Runs[SavedRuns:] are pending. The persisted sequence is always a prefix of
// the in-memory sequence.
type GenerationStrategy struct {
	ID           int64     `db:"id" json:"id"`
	ExperimentID int64     `db:"experiment_id" json:"experiment_id"`
	Name         string    `db:"name" json:"name"`
	Steps        JSONSteps `db:"steps" json:"steps"`

	Runs      []*GeneratorRun `json:"runs"`
	SavedRuns int             `json:"saved_runs"`
}

// PendingRuns returns the generator runs produced since the last persisted
// checkpoint, in original order.
func (s *GenerationStrategy) PendingRuns() []*GeneratorRun {
	if s.SavedRuns >= len(s.Runs) {
		return nil
	}
	return s.Runs[s.SavedRuns:]
}

// AttachRuns appends runs to the in-memory history, assigning positions.
func (s *GenerationStrategy) AttachRuns(runs ...*GeneratorRun) {
	for _, run := range runs {
		run.Index = len(s.Runs)
		s.Runs = append(s.Runs, run)
	}
}

// GenerationStep 生成策略步骤
type GenerationStep struct {
	ModelKey  string `json:"model_key"`
	NumTrials int    `json:"num_trials"` // -1 表示不限
}

// GeneratorRun 一次提案生成记录（不可变，顺序有意义）
type GeneratorRun struct {
	ID          int64     `db:"id" json:"id"`
	UID         uuid.UUID `db:"uid" json:"uid"`
	Index       int       `db:"idx" json:"index"`
	ModelKey    string    `db:"model_key" json:"model_key"`
	Arms        JSONArms  `db:"arms" json:"arms"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
}

// JSONB 类型辅助

type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := asBytes(value)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

type JSONArms []Arm

func (j JSONArms) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONArms) Scan(value interface{}) error {
	if value == nil {
		*j = []Arm{}
		return nil
	}
	bytes, ok := asBytes(value)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

type JSONSteps []GenerationStep

func (j JSONSteps) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONSteps) Scan(value interface{}) error {
	if value == nil {
		*j = []GenerationStep{}
		return nil
	}
	bytes, ok := asBytes(value)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

type JSONMetricRows []MetricRow

func (j JSONMetricRows) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONMetricRows) Scan(value interface{}) error {
	if value == nil {
		*j = []MetricRow{}
		return nil
	}
	bytes, ok := asBytes(value)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// asBytes 兼容驱动返回 []byte 或 string
func asBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}
