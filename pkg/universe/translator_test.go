package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/models"
)

func TestDecodeTranslation(t *testing.T) {
	translation, err := decodeTranslation(map[string]any{
		"variables": []any{
			map[string]any{"variable": "interest_rate", "operation": "add", "value": 0.5},
		},
		"event_scripts": []any{
			map[string]any{"script_name": "rate_shock", "at_tick": float64(10)},
		},
		"explanation": "raise rates by 50bps and inject a shock",
		"confidence":  0.82,
	})
	require.NoError(t, err)

	require.Len(t, translation.Deltas.Variables, 1)
	assert.Equal(t, "interest_rate", translation.Deltas.Variables[0].Variable)
	assert.Equal(t, models.DeltaOpAdd, translation.Deltas.Variables[0].Operation)
	assert.InDelta(t, 0.5, translation.Deltas.Variables[0].Value, 1e-9)
	require.Len(t, translation.Deltas.EventScripts, 1)
	assert.Equal(t, "rate_shock", translation.Deltas.EventScripts[0].ScriptName)
	assert.Equal(t, 10, translation.Deltas.EventScripts[0].AtTick)
	assert.Equal(t, 0.82, translation.Confidence)
}

func TestDecodeTranslationRejectsEmptyResult(t *testing.T) {
	_, err := decodeTranslation(map[string]any{"explanation": "nothing to do"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestDecodeTranslationRejectsUnknownOperation(t *testing.T) {
	_, err := decodeTranslation(map[string]any{
		"variables": []any{
			map[string]any{"variable": "x", "operation": "divide", "value": 2.0},
		},
	})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestNewGRPCTranslatorRequiresEndpoint(t *testing.T) {
	_, err := NewGRPCTranslator(nil)
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}
