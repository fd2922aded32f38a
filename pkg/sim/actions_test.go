package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/sim/state"
)

func TestCompileActionsValidation(t *testing.T) {
	cases := []struct {
		name    string
		space   *config.ActionSpaceConfig
		wantErr string
	}{
		{
			name:    "empty space",
			space:   &config.ActionSpaceConfig{},
			wantErr: "at least one action",
		},
		{
			name: "missing name",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{{Type: "engage"}},
			},
			wantErr: "has no name",
		},
		{
			name: "duplicate name",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{
					{Name: "vote"}, {Name: "vote"},
				},
			},
			wantErr: `duplicate action name "vote"`,
		},
		{
			name: "unknown effect target",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{
					{Name: "vote", Effects: map[string]float64{"charisma": 0.1}},
				},
			},
			wantErr: `unknown effect target "charisma"`,
		},
		{
			name: "lonely risk parameter",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{
					{Name: "gamble", Parameters: map[string]float64{"risk_outcome": 2}},
				},
			},
			wantErr: "must be set together",
		},
		{
			name: "probability out of range",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{
					{Name: "gamble", Parameters: map[string]float64{"risk_outcome": 2, "risk_probability": 1.5}},
				},
			},
			wantErr: "outside [0,1]",
		},
		{
			name: "bad precondition",
			space: &config.ActionSpaceConfig{
				Actions: []config.ActionDefinitionConfig{
					{Name: "vote", Preconditions: []string{"charisma_above_0.5"}},
				},
			},
			wantErr: "unknown precondition",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileActions(tc.space)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestCompileActionsCommitSemantics(t *testing.T) {
	plan, err := compileActions(&config.ActionSpaceConfig{
		Actions: []config.ActionDefinitionConfig{
			{Name: "endorse", Type: "commit"},
			{Name: "walk_back", Type: "uncommit"},
			{Name: "pledge", Effects: map[string]float64{"commit": 1, "engagement": 0.05}},
			{Name: "hedge", Effects: map[string]float64{"uncommit": 1}},
			{Name: "browse", Type: "observe"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, commitSelf, plan.commit[0])
	assert.Equal(t, commitClear, plan.commit[1])
	assert.Equal(t, commitSelf, plan.commit[2], "commit effect key implies commitment")
	assert.Equal(t, commitClear, plan.commit[3])
	assert.Equal(t, commitNone, plan.commit[4])

	// The commit pseudo-effect never reaches the scalar ops.
	require.Len(t, plan.effects[2], 1)
	assert.Equal(t, state.ColEngagement, plan.effects[2][0].col)
}

func TestCompileActionsEffectsSortedByColumn(t *testing.T) {
	plan, err := compileActions(&config.ActionSpaceConfig{
		Actions: []config.ActionDefinitionConfig{
			{Name: "study", Effects: map[string]float64{
				"echo_chamber_score":   -0.01,
				"engagement":           0.02,
				"information_exposure": 0.05,
			}},
		},
	})
	require.NoError(t, err)

	require.Len(t, plan.effects[0], 3)
	assert.Equal(t, state.ColEngagement, plan.effects[0][0].col)
	assert.Equal(t, state.ColInformationExposure, plan.effects[0][1].col)
	assert.Equal(t, state.ColEchoChamberScore, plan.effects[0][2].col)
}

func TestCompileActionsProspect(t *testing.T) {
	plan, err := compileActions(&config.ActionSpaceConfig{
		Actions: []config.ActionDefinitionConfig{
			{Name: "gamble", Parameters: map[string]float64{
				"risk_outcome":     2.0,
				"risk_probability": 0.3,
			}},
			{Name: "insure", Parameters: map[string]float64{
				"risk_outcome":     -1.0,
				"risk_probability": 0.1,
				"safe_outcome":     0.2,
			}},
			{Name: "abstain"},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, plan.prospects[0])
	assert.Equal(t, []float64{2.0, 0}, plan.prospects[0].outcomes)
	assert.InDelta(t, 0.3, plan.prospects[0].probs[0], 1e-12)
	assert.InDelta(t, 0.7, plan.prospects[0].probs[1], 1e-12)

	assert.Equal(t, []float64{-1.0, 0.2}, plan.prospects[1].outcomes)
	assert.Nil(t, plan.prospects[2], "actions without risk parameters carry no prospect")
}
