package evidence

import (
	"math"

	"github.com/manyworlds/continuum/pkg/models"
)

// binSchedule is the fixed sequence of bin counts the search walks through,
// truncated to the job's max_iterations.
var binSchedule = []int{5, 10, 15, 20, 25, 30}

const defaultMinSamplesPerBin = 2

// Sample pairs one prediction with its ground-truth label. Weight is 1 for
// uniform weighting.
type Sample struct {
	Prediction float64
	Label      float64
	Weight     float64
}

// Calibrate runs the deterministic bin-count search: for each bin count in
// the schedule, build equal-width bins over the observed prediction range,
// map each bin to its weighted empirical label rate (falling back to the
// overall mean for under-populated bins), and measure accuracy, Brier score
// and ECE. The best iteration by accuracy wins; reaching the target accuracy
// stops the search early. The same config and samples always produce the
// same result.
func Calibrate(cfg models.CalibrationConfig, samples []Sample) (*models.CalibrationResult, []models.CalibrationIteration, error) {
	if len(samples) == 0 {
		return nil, nil, models.NewValidationError("samples", "at least one labeled sample is required")
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 || maxIterations > len(binSchedule) {
		maxIterations = len(binSchedule)
	}
	minSamples := cfg.MinSamplesPerBin
	if minSamples <= 0 {
		minSamples = defaultMinSamplesPerBin
	}

	minP, maxP := samples[0].Prediction, samples[0].Prediction
	totalWeight, meanLabel := 0.0, 0.0
	for _, s := range samples {
		minP = math.Min(minP, s.Prediction)
		maxP = math.Max(maxP, s.Prediction)
		totalWeight += s.Weight
		meanLabel += s.Weight * s.Label
	}
	if totalWeight <= 0 {
		return nil, nil, models.NewValidationError("samples", "total sample weight must be positive")
	}
	meanLabel /= totalWeight

	var iterations []models.CalibrationIteration
	result := &models.CalibrationResult{SampleCount: len(samples)}
	bestAccuracy := math.Inf(-1)

	for index, binCount := range binSchedule[:maxIterations] {
		mapping := buildBins(samples, binCount, minP, maxP, minSamples, meanLabel)
		metrics := measure(samples, mapping, minP, maxP, totalWeight)

		iterations = append(iterations, models.CalibrationIteration{
			Index:    index,
			BinCount: binCount,
			Mapping:  mapping,
			Metrics:  metrics,
		})
		result.Iterations = index + 1

		// Strict improvement keeps the earliest bin count on ties.
		if metrics.Accuracy > bestAccuracy {
			bestAccuracy = metrics.Accuracy
			result.BestBinCount = binCount
			result.BestMetrics = metrics
			result.Mapping = mapping
		}
		if cfg.TargetAccuracy > 0 && metrics.Accuracy >= cfg.TargetAccuracy {
			result.EarlyStopped = true
			break
		}
	}
	return result, iterations, nil
}

// buildBins constructs the equal-width bin table for one bin count.
func buildBins(samples []Sample, binCount int, minP, maxP float64, minSamples int, meanLabel float64) models.BinMappings {
	width := (maxP - minP) / float64(binCount)

	type accum struct {
		weight   float64
		labelSum float64
		count    int
	}
	bins := make([]accum, binCount)
	for _, s := range samples {
		i := binIndex(s.Prediction, minP, width, binCount)
		bins[i].weight += s.Weight
		bins[i].labelSum += s.Weight * s.Label
		bins[i].count++
	}

	mapping := make(models.BinMappings, binCount)
	for i := range bins {
		m := models.BinMapping{
			Lower: minP + float64(i)*width,
			Upper: minP + float64(i+1)*width,
			Count: bins[i].count,
		}
		if bins[i].weight > 0 {
			m.Empirical = bins[i].labelSum / bins[i].weight
		}
		if bins[i].count >= minSamples {
			m.Calibrated = m.Empirical
		} else {
			// Too thin to trust; the overall mean label is the only
			// estimate that cannot overfit a handful of samples.
			m.Calibrated = meanLabel
		}
		mapping[i] = m
	}
	return mapping
}

// measure scores one bin table over the full sample set.
func measure(samples []Sample, mapping models.BinMappings, minP float64, maxP float64, totalWeight float64) models.IterationMetrics {
	binCount := len(mapping)
	width := (maxP - minP) / float64(binCount)

	correct, brier := 0.0, 0.0
	binWeight := make([]float64, binCount)
	binPredSum := make([]float64, binCount)
	for _, s := range samples {
		i := binIndex(s.Prediction, minP, width, binCount)
		calibrated := mapping[i].Calibrated
		if (calibrated >= 0.5) == (s.Label >= 0.5) {
			correct += s.Weight
		}
		d := calibrated - s.Label
		brier += s.Weight * d * d
		binWeight[i] += s.Weight
		binPredSum[i] += s.Weight * s.Prediction
	}

	ece := 0.0
	for i := range mapping {
		if binWeight[i] == 0 {
			continue
		}
		meanPrediction := binPredSum[i] / binWeight[i]
		ece += (binWeight[i] / totalWeight) * math.Abs(mapping[i].Empirical-meanPrediction)
	}

	return models.IterationMetrics{
		Accuracy: correct / totalWeight,
		Brier:    brier / totalWeight,
		ECE:      ece,
	}
}

func binIndex(p, minP, width float64, binCount int) int {
	if width <= 0 {
		return 0
	}
	i := int((p - minP) / width)
	if i >= binCount {
		i = binCount - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
