// Package evidence produces the proof artifacts for completed runs: the
// canonical hash triple, determinism comparison, the reliability composite,
// deterministic calibration, parameter version history, and evidence pack
// assembly.
package evidence

import (
	"strings"

	"github.com/manyworlds/continuum/pkg/canonical"
	"github.com/manyworlds/continuum/pkg/models"
)

// varianceMetricSuffix marks key metrics excluded from result_hash. The
// exclusion policy travels with models.EvidencePackVersion.
const varianceMetricSuffix = "_variance"

// RunConfigHash hashes the non-volatile view of a run config. Two configs
// describing the same computation hash identically.
func RunConfigHash(cfg models.RunConfig) (string, error) {
	return canonical.Hash(cfg.HashableView())
}

// ResultHash hashes a run's outcome: primary outcome, its probability, the
// full distribution, and key metrics minus variance metrics. Variance
// depends on ensemble membership, not on this run's computation, so it
// cannot participate in a per-run determinism signature.
func ResultHash(outcome *models.Outcome) (string, error) {
	if outcome == nil {
		return canonical.Hash(map[string]any{})
	}
	metrics := make(map[string]float64, len(outcome.KeyMetrics))
	for key, value := range outcome.KeyMetrics {
		if strings.HasSuffix(key, varianceMetricSuffix) {
			continue
		}
		metrics[key] = value
	}
	return canonical.Hash(map[string]any{
		"primary_outcome":             outcome.PrimaryOutcome,
		"primary_outcome_probability": outcome.PrimaryProbability,
		"outcome_distribution":        outcome.Distribution,
		"key_metrics":                 metrics,
	})
}

// PackHash hashes an assembled evidence pack.
func PackHash(pack *models.EvidencePack) (string, error) {
	return canonical.Hash(pack)
}
