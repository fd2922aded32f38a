package evidence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
)

func TestResultHashExcludesVarianceMetrics(t *testing.T) {
	base := &models.Outcome{
		PrimaryOutcome:     "adoption",
		PrimaryProbability: 0.72,
		Distribution:       map[string]float64{"adoption": 0.72, "churn": 0.28},
		KeyMetrics:         map[string]float64{"avg_reward": 1.4},
	}
	withVariance := &models.Outcome{
		PrimaryOutcome:     base.PrimaryOutcome,
		PrimaryProbability: base.PrimaryProbability,
		Distribution:       base.Distribution,
		KeyMetrics: map[string]float64{
			"avg_reward":          1.4,
			"avg_reward_variance": 0.03,
		},
	}

	hashA, err := ResultHash(base)
	require.NoError(t, err)
	hashB, err := ResultHash(withVariance)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	changed := *base
	changed.PrimaryProbability = 0.73
	hashC, err := ResultHash(&changed)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashC)
}

func TestRunConfigHashIgnoresVolatileFields(t *testing.T) {
	cfg := models.RunConfig{
		SeedConfig:       models.SeedConfig{Strategy: models.SeedStrategyFixed, PrimarySeed: 7},
		Horizon:          100,
		KeyframeInterval: 10,
		SchedulerProfile: "default",
		MaxAgents:        500,
	}
	hashA, err := RunConfigHash(cfg)
	require.NoError(t, err)

	// Execution-time settings do not change what is computed.
	cfg.MaxExecutionMS = 60000
	hashB, err := RunConfigHash(cfg)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	cfg.Horizon = 200
	hashC, err := RunConfigHash(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashC)
}

func strPtr(s string) *string { return &s }

func TestCompareDeterminismPeers(t *testing.T) {
	a := &models.Run{
		ID:            uuid.New(),
		ConfigHash:    "abc",
		SeedUsed:      42,
		Status:        models.RunStatusSucceeded,
		ResultHash:    strPtr("r1"),
		TelemetryHash: strPtr("t1"),
		TicksExecuted: 100,
	}
	b := &models.Run{
		ID:            uuid.New(),
		ConfigHash:    "abc",
		SeedUsed:      42,
		Status:        models.RunStatusSucceeded,
		ResultHash:    strPtr("r1"),
		TelemetryHash: strPtr("t1"),
		TicksExecuted: 100,
	}

	result := CompareDeterminism(a, b)
	assert.True(t, result.IsDeterministic)
	assert.Empty(t, result.Differences)
}

func TestCompareDeterminismNamesEveryDivergence(t *testing.T) {
	a := &models.Run{
		ID:            uuid.New(),
		ConfigHash:    "abc",
		SeedUsed:      42,
		Status:        models.RunStatusSucceeded,
		ResultHash:    strPtr("r1"),
		TicksExecuted: 100,
	}
	b := &models.Run{
		ID:            uuid.New(),
		ConfigHash:    "abc",
		SeedUsed:      43,
		Status:        models.RunStatusSucceeded,
		ResultHash:    strPtr("r2"),
		TicksExecuted: 90,
	}

	result := CompareDeterminism(a, b)
	assert.False(t, result.IsDeterministic)
	require.Len(t, result.Differences, 3)
	assert.Contains(t, result.Differences[0], "seed_used")
	assert.Contains(t, result.Differences[1], "result_hash")
	assert.Contains(t, result.Differences[2], "ticks_executed")
}
