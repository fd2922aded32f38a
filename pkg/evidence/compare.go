package evidence

import (
	"fmt"

	"github.com/manyworlds/continuum/pkg/models"
)

// CompareDeterminism checks whether two runs are deterministic peers: same
// config hash, same seed, and byte-identical result and telemetry hashes.
// Every diverging field is named so a mismatch is diagnosable.
func CompareDeterminism(a, b *models.Run) models.DeterminismComparisonResult {
	result := models.DeterminismComparisonResult{
		RunA:        a.ID,
		RunB:        b.ID,
		Differences: []string{},
	}

	if a.ConfigHash != b.ConfigHash {
		result.Differences = append(result.Differences,
			fmt.Sprintf("run_config_hash: %s != %s", short(a.ConfigHash), short(b.ConfigHash)))
	}
	if a.SeedUsed != b.SeedUsed {
		result.Differences = append(result.Differences,
			fmt.Sprintf("seed_used: %d != %d", a.SeedUsed, b.SeedUsed))
	}
	if a.Status != b.Status {
		result.Differences = append(result.Differences,
			fmt.Sprintf("status: %s != %s", a.Status, b.Status))
	}
	if d := compareHashPtr("result_hash", a.ResultHash, b.ResultHash); d != "" {
		result.Differences = append(result.Differences, d)
	}
	if d := compareHashPtr("telemetry_hash", a.TelemetryHash, b.TelemetryHash); d != "" {
		result.Differences = append(result.Differences, d)
	}
	if a.TicksExecuted != b.TicksExecuted {
		result.Differences = append(result.Differences,
			fmt.Sprintf("ticks_executed: %d != %d", a.TicksExecuted, b.TicksExecuted))
	}

	result.IsDeterministic = len(result.Differences) == 0
	return result
}

func compareHashPtr(field string, a, b *string) string {
	av, bv := "", ""
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	if av == bv {
		return ""
	}
	return fmt.Sprintf("%s: %s != %s", field, short(av), short(bv))
}

// short truncates a hash for readable diagnostics.
func short(hash string) string {
	if hash == "" {
		return "<unset>"
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
