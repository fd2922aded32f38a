package universe

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// foldOutcomes computes the node-level aggregate from succeeded runs. Runs
// are walked in run-id order and every per-key accumulation iterates sorted
// keys, so the fold is independent of query and map ordering. The fold is
// associative: recomputing from scratch after any subset always converges
// to the same value for the same run set.
func foldOutcomes(runs []*models.Run) *models.AggregatedOutcome {
	withOutcome := make([]*models.Run, 0, len(runs))
	for _, run := range runs {
		if run.Outcome != nil {
			withOutcome = append(withOutcome, run)
		}
	}
	if len(withOutcome) == 0 {
		return nil
	}
	sort.Slice(withOutcome, func(i, j int) bool {
		return withOutcome[i].ID.String() < withOutcome[j].ID.String()
	})

	keys := map[string]struct{}{}
	for _, run := range withOutcome {
		for key := range run.Outcome.Distribution {
			keys[key] = struct{}{}
		}
	}
	sortedKeys := make([]string, 0, len(keys))
	for key := range keys {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Strings(sortedKeys)

	agg := &models.AggregatedOutcome{
		Outcomes:    make(map[string]models.OutcomeStats, len(sortedKeys)),
		SampleCount: len(withOutcome),
	}
	for _, run := range withOutcome {
		agg.RunIDs = append(agg.RunIDs, run.ID)
	}

	for _, key := range sortedKeys {
		values := make([]float64, 0, len(withOutcome))
		for _, run := range withOutcome {
			// Runs that never observed this outcome contribute zero, not
			// absence; the distribution is over the same outcome space.
			values = append(values, run.Outcome.Distribution[key])
		}
		agg.Outcomes[key] = foldStats(values)
	}

	agg.PrimaryOutcome = primaryOutcome(agg.Outcomes, sortedKeys)
	return agg
}

// foldStats computes mean, variance, min, and max in one deterministic pass.
func foldStats(values []float64) models.OutcomeStats {
	stats := models.OutcomeStats{
		SampleCount: len(values),
		Min:         math.Inf(1),
		Max:         math.Inf(-1),
	}
	mean := 0.0
	for _, v := range values {
		mean += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	mean /= float64(len(values))
	stats.Mean = mean

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	stats.Variance = variance / float64(len(values))
	return stats
}

// primaryOutcome picks the key with the highest mean probability; ties go
// to the lexicographically smallest key.
func primaryOutcome(outcomes map[string]models.OutcomeStats, sortedKeys []string) string {
	best, bestMean := "", math.Inf(-1)
	for _, key := range sortedKeys {
		if outcomes[key].Mean > bestMean {
			best, bestMean = key, outcomes[key].Mean
		}
	}
	return best
}

// confidenceFor bands the reliability-adjusted probability.
func confidenceFor(probability float64, runs []*models.Run) models.Confidence {
	adjusted := probability * meanReliability(runs)
	switch {
	case adjusted >= 0.8:
		return models.ConfidenceHigh
	case adjusted >= 0.6:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// meanReliability averages the reliability scores of runs that carry one.
// Runs scored before any calibration exists still count; a node with no
// scored runs keeps the raw probability.
func meanReliability(runs []*models.Run) float64 {
	sum, n := 0.0, 0
	for _, run := range runs {
		if run.Reliability != nil {
			sum += run.Reliability.Score
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// capToSiblingMass caps a node's branch probability at the mass its
// siblings leave unclaimed. Within a parent, child probabilities sum
// to at most 1; a node whose own ensemble mean would overshoot takes
// what remains, down to zero.
func capToSiblingMass(p float64, siblings []*models.Node, selfID uuid.UUID) float64 {
	sum := 0.0
	for _, sib := range siblings {
		if sib.ID != selfID {
			sum += sib.Probability
		}
	}
	if remaining := 1 - sum; p > remaining {
		return math.Max(0, remaining)
	}
	return p
}
