package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// EvidencePackVersion identifies the pack layout and its hash policies.
// Variance metrics are excluded from result_hash under this version.
const EvidencePackVersion = "1.0"

// ArtifactLineage links a pack back to the artifacts it proves.
type ArtifactLineage struct {
	RunConfigHash     string      `json:"run_config_hash"`
	TelemetryRef      *string     `json:"telemetry_ref,omitempty"`
	ManifestEntryIDs  []int64     `json:"manifest_entry_ids"`
	ParameterVersion  *string     `json:"parameter_version,omitempty"`
	UpstreamNodePath  []uuid.UUID `json:"upstream_node_path,omitempty"`
	EngineVersion     string      `json:"engine_version"`
	RulesetVersion    string      `json:"ruleset_version"`
	DatasetVersion    string      `json:"dataset_version"`
	CalibrationJobID  *uuid.UUID  `json:"calibration_job_id,omitempty"`
	ReferenceWindowID *string     `json:"reference_window_id,omitempty"`
}

// ExecutionProof captures the accounting a verifier needs to check the run
// stayed inside its declared execution envelope.
type ExecutionProof struct {
	Counters  ExecutionCounters `json:"execution_counters"`
	SeedUsed  int64             `json:"seed_used"`
	Partial   bool              `json:"partial"`
	Status    RunStatus         `json:"status"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
}

// DeterminismSignature is the hash triple that makes two runs comparable.
type DeterminismSignature struct {
	RunConfigHash string `json:"run_config_hash"`
	SeedUsed      int64  `json:"seed_used"`
	ResultHash    string `json:"result_hash"`
	TelemetryHash string `json:"telemetry_hash"`
}

// TelemetryProof summarizes the telemetry blob for verification.
type TelemetryProof struct {
	TelemetryHash string `json:"telemetry_hash"`
	BlobHash      string `json:"blob_hash,omitempty"`
	KeyframeCount int    `json:"keyframe_count"`
	DeltaCount    int    `json:"delta_count"`
	TotalEvents   int    `json:"total_events"`
	TickCount     int    `json:"tick_count"`
	AgentCount    int    `json:"agent_count"`
}

// ResultsProof carries the hashed result payload.
type ResultsProof struct {
	ResultHash string   `json:"result_hash"`
	Outcome    *Outcome `json:"outcome,omitempty"`
}

// AntiLeakageProof surfaces guard activity for audit.
type AntiLeakageProof struct {
	IsolationLevel        int      `json:"isolation_level"`
	BlockedAccessAttempts int      `json:"blocked_access_attempts"`
	BlockedSources        []string `json:"blocked_sources,omitempty"`
	RecordsFiltered       int      `json:"records_filtered"`
	LeakageDetected       bool     `json:"leakage_detected"`
}

// AuditProof references the manifest trail for the run.
type AuditProof struct {
	ManifestEntryCount int     `json:"manifest_entry_count"`
	FirstEntryID       *int64  `json:"first_entry_id,omitempty"`
	LastEntryID        *int64  `json:"last_entry_id,omitempty"`
	ManifestHash       *string `json:"manifest_hash,omitempty"`
}

// EvidencePack is the canonical proof bundle for a run: lineage, execution
// counters, hashes, reliability, and audit references.
type EvidencePack struct {
	EvidencePackID       uuid.UUID            `json:"evidence_pack_id"`
	EvidencePackVersion  string               `json:"evidence_pack_version"`
	GeneratedAt          time.Time            `json:"generated_at"`
	RunID                uuid.UUID            `json:"run_id"`
	NodeID               uuid.UUID            `json:"node_id"`
	TenantID             uuid.UUID            `json:"tenant_id"`
	ProjectID            uuid.UUID            `json:"project_id"`
	ArtifactLineage      ArtifactLineage      `json:"artifact_lineage"`
	ExecutionProof       ExecutionProof       `json:"execution_proof"`
	DeterminismSignature DeterminismSignature `json:"determinism_signature"`
	TelemetryProof       TelemetryProof       `json:"telemetry_proof"`
	ResultsProof         ResultsProof         `json:"results_proof"`
	ReliabilityProof     *Reliability         `json:"reliability_proof,omitempty"`
	AuditProof           AuditProof           `json:"audit_proof"`
	AntiLeakageProof     *AntiLeakageProof    `json:"anti_leakage_proof,omitempty"`
}

func (p EvidencePack) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *EvidencePack) Scan(src any) error          { return jsonbScan(p, src) }

// DeterminismComparisonResult enumerates the fields on which two runs
// diverge. Two runs are deterministic peers when no differences remain.
type DeterminismComparisonResult struct {
	RunA            uuid.UUID `json:"run_a"`
	RunB            uuid.UUID `json:"run_b"`
	IsDeterministic bool      `json:"is_deterministic"`
	Differences     []string  `json:"differences"`
}
