package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// CalibrationStatus is the lifecycle state of a calibration job.
type CalibrationStatus string

const (
	CalibrationPending   CalibrationStatus = "pending"
	CalibrationRunning   CalibrationStatus = "running"
	CalibrationCompleted CalibrationStatus = "completed"
	CalibrationFailed    CalibrationStatus = "failed"
)

// CalibrationConfig parameterizes the deterministic bin-count search.
type CalibrationConfig struct {
	TargetAccuracy   float64 `json:"target_accuracy" validate:"min=0,max=1"`
	MetricKey        string  `json:"metric_key" validate:"required"`
	Weighting        string  `json:"weighting,omitempty" validate:"omitempty,oneof=uniform sample"`
	Seed             int64   `json:"seed"`
	MaxIterations    int     `json:"max_iterations,omitempty" validate:"omitempty,min=1,max=6"`
	MinSamplesPerBin int     `json:"min_samples_per_bin,omitempty" validate:"omitempty,min=1"`
}

func (c CalibrationConfig) Value() (driver.Value, error) { return jsonbValue(c) }
func (c *CalibrationConfig) Scan(src any) error          { return jsonbScan(c, src) }

// BinMapping is one calibration bin: its probability range and the
// calibrated probability assigned to predictions falling inside it.
type BinMapping struct {
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Calibrated float64 `json:"calibrated"`
	Empirical  float64 `json:"empirical"`
	Count      int     `json:"count"`
}

// BinMappings is the ordered bin table for one bin count.
type BinMappings []BinMapping

func (m BinMappings) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *BinMappings) Scan(src any) error          { return jsonbScan(m, src) }

// IterationMetrics are the quality measures for one bin count.
type IterationMetrics struct {
	Accuracy float64 `json:"accuracy"`
	Brier    float64 `json:"brier_score"`
	ECE      float64 `json:"ece"`
}

func (m IterationMetrics) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *IterationMetrics) Scan(src any) error          { return jsonbScan(m, src) }

// CalibrationIteration is one immutable step of the bin-count search.
type CalibrationIteration struct {
	ID        int64            `db:"id" json:"id"`
	JobID     uuid.UUID        `db:"job_id" json:"job_id"`
	Index     int              `db:"iteration_index" json:"iteration_index"`
	BinCount  int              `db:"bin_count" json:"bin_count"`
	Mapping   BinMappings      `db:"mapping" json:"mapping"`
	Metrics   IterationMetrics `db:"metrics" json:"metrics"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// CalibrationResult is the job-level outcome: the winning bin count and
// its metrics. Identical (config, data, seed) produce byte-identical
// canonical encodings of this value.
type CalibrationResult struct {
	BestBinCount int              `json:"best_bin_count"`
	BestMetrics  IterationMetrics `json:"best_metrics"`
	Mapping      BinMappings      `json:"mapping"`
	Iterations   int              `json:"iterations"`
	EarlyStopped bool             `json:"early_stopped"`
	SampleCount  int              `json:"sample_count"`
}

func (r CalibrationResult) Value() (driver.Value, error) { return jsonbValue(r) }
func (r *CalibrationResult) Scan(src any) error          { return jsonbScan(r, src) }

// CalibrationJob is a deterministic search over bin counts mapping
// predictions to empirical probabilities.
type CalibrationJob struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	ProjectID    uuid.UUID          `db:"project_id" json:"project_id"`
	DatasetID    string             `db:"dataset_id" json:"dataset_id"`
	Config       CalibrationConfig  `db:"config" json:"config"`
	Status       CalibrationStatus  `db:"status" json:"status"`
	BestBinCount *int               `db:"best_bin_count" json:"best_bin_count,omitempty"`
	Result       *CalibrationResult `db:"result" json:"result,omitempty"`
	ResultHash   *string            `db:"result_hash" json:"result_hash,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
}

// GroundTruthLabel is a reference outcome used for calibration. Labels are
// idempotent upserts keyed by (dataset_id, run_id).
type GroundTruthLabel struct {
	DatasetID string    `db:"dataset_id" json:"dataset_id"`
	RunID     uuid.UUID `db:"run_id" json:"run_id"`
	NodeID    uuid.UUID `db:"node_id" json:"node_id"`
	Label     float64   `db:"label" json:"label"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CreateCalibrationJobRequest contains fields for starting a calibration
// job against a ground-truth dataset.
type CreateCalibrationJobRequest struct {
	ProjectID uuid.UUID         `json:"project_id"`
	DatasetID string            `json:"dataset_id"`
	Config    CalibrationConfig `json:"config"`
}
