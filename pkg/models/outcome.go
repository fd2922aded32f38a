package models

import "database/sql/driver"

// Outcome is a run's aggregated result: a primary outcome with its
// probability, the full outcome distribution, and named key metrics.
type Outcome struct {
	PrimaryOutcome     string             `json:"primary_outcome"`
	PrimaryProbability float64            `json:"primary_outcome_probability"`
	Distribution       map[string]float64 `json:"outcome_distribution"`
	KeyMetrics         map[string]float64 `json:"key_metrics,omitempty"`
}

func (o Outcome) Value() (driver.Value, error) { return jsonbValue(o) }
func (o *Outcome) Scan(src any) error          { return jsonbScan(o, src) }

// StageCounters tracks how many times each loop stage ran.
type StageCounters struct {
	Observe  int64 `json:"observe"`
	Evaluate int64 `json:"evaluate"`
	Decide   int64 `json:"decide"`
	Act      int64 `json:"act"`
	Update   int64 `json:"update"`
}

// ExecutionCounters are the required execution accounting for a run.
// Serving simulations must finish with LLMCallsInTickLoop == 0.
type ExecutionCounters struct {
	TicksExecuted         int              `json:"ticks_executed"`
	AgentStepsExecuted    int64            `json:"agent_steps_executed"`
	Stages                StageCounters    `json:"loop_stage_counters"`
	RuleApplicationCounts map[string]int64 `json:"rule_application_counts,omitempty"`
	LLMCallsInTickLoop    int              `json:"llm_calls_in_tick_loop"`
	LLMCallsInCompilation int              `json:"llm_calls_in_compilation"`
	PartitionsCount       int              `json:"partitions_count"`
	BatchesCount          int64            `json:"batches_count"`
	BackpressureEvents    int              `json:"backpressure_events"`
	AgentsTerminated      int              `json:"agents_terminated,omitempty"`
}

func (c ExecutionCounters) Value() (driver.Value, error) { return jsonbValue(c) }
func (c *ExecutionCounters) Scan(src any) error          { return jsonbScan(c, src) }

// LeakageGuardStats summarizes guard activity during a run. Every blocked
// access is auditable through the manifest even when the run succeeds.
type LeakageGuardStats struct {
	TotalRequests         int      `json:"total_requests"`
	BlockedAccessAttempts int      `json:"blocked_access_attempts"`
	BlockedSources        []string `json:"blocked_sources,omitempty"`
	RecordsFiltered       int      `json:"records_filtered"`
	LeakageDetected       bool     `json:"leakage_detected"`
}

func (s LeakageGuardStats) Value() (driver.Value, error) { return jsonbValue(s) }
func (s *LeakageGuardStats) Scan(src any) error          { return jsonbScan(s, src) }

// ReliabilityLevel grades a composite reliability score.
type ReliabilityLevel string

const (
	ReliabilityHigh    ReliabilityLevel = "high"
	ReliabilityMedium  ReliabilityLevel = "medium"
	ReliabilityLow     ReliabilityLevel = "low"
	ReliabilityVeryLow ReliabilityLevel = "very_low"
)

// ReliabilityWeights are the component weights used for a specific score.
// They are stored with the score, never assumed.
type ReliabilityWeights struct {
	Calibration float64 `json:"calibration"`
	Stability   float64 `json:"stability"`
	DataGap     float64 `json:"data_gap"`
	Drift       float64 `json:"drift"`
}

// Reliability is the weighted composite score with its full computation
// trace. Stability is nil when fewer than two seeds exist; its weight is
// redistributed across the remaining components.
type Reliability struct {
	Score              float64            `json:"score"`
	ConfidenceLevel    ReliabilityLevel   `json:"confidence_level"`
	Calibration        float64            `json:"calibration_component"`
	CalibrationBounded bool               `json:"calibration_bounded"`
	Stability          *float64           `json:"stability_component"`
	DataGap            float64            `json:"data_gap_component"`
	Drift              float64            `json:"drift_component"`
	Weights            ReliabilityWeights `json:"weights"`
	Trace              []string           `json:"computation_trace,omitempty"`
	RunIDs             []string           `json:"run_ids,omitempty"`
}

func (r Reliability) Value() (driver.Value, error) { return jsonbValue(r) }
func (r *Reliability) Scan(src any) error          { return jsonbScan(r, src) }
