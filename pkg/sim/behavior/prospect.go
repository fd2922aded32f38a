package behavior

import "math"

// Prospect-theory defaults (Tversky-Kahneman estimates).
const (
	DefaultValueCurvature = 0.88
	DefaultLossAversion   = 2.25

	// Prelec parameters are clamped into this range.
	minProbWeightParam = 0.3
	maxProbWeightParam = 1.0
)

// Value returns the subjective value of an outcome x: x^α for gains,
// -λ·(-x)^α for losses. Non-positive alpha or lambda fall back to the
// defaults.
func Value(x, alpha, lambda float64) float64 {
	if alpha <= 0 {
		alpha = DefaultValueCurvature
	}
	if lambda <= 0 {
		lambda = DefaultLossAversion
	}
	if x >= 0 {
		return math.Pow(x, alpha)
	}
	return -lambda * math.Pow(-x, alpha)
}

// Weight returns the Prelec probability weight
// w(p) = exp(-β·(-ln p)^α), with α and β clamped into [0.3, 1].
// Probabilities outside (0, 1) clamp to 0 or 1.
func Weight(p, alpha, beta float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	alpha = clampWeightParam(alpha)
	beta = clampWeightParam(beta)
	return math.Exp(-beta * math.Pow(-math.Log(p), alpha))
}

func clampWeightParam(v float64) float64 {
	if v < minProbWeightParam {
		return minProbWeightParam
	}
	if v > maxProbWeightParam {
		return maxProbWeightParam
	}
	return v
}

// EvaluateProspect folds a risky prospect into one subjective utility:
// Σ w(pᵢ)·v(xᵢ) over its outcomes.
func EvaluateProspect(outcomes, probs []float64, params Params) float64 {
	total := 0.0
	for i, x := range outcomes {
		if i >= len(probs) {
			break
		}
		total += Weight(probs[i], params.ProbWeightAlpha, params.ProbWeightBeta) *
			Value(x, params.ValueCurvature, params.LossAversion)
	}
	return total
}
