package gateway

import (
	"strings"

	"github.com/manyworlds/continuum/pkg/models"
)

// redactedValue replaces secret-looking parameter values in the manifest.
const redactedValue = "***REDACTED***"

// secretKeyFragments flag a parameter as secret when its lowercased name
// contains any of them.
var secretKeyFragments = []string{
	"api_key",
	"apikey",
	"token",
	"secret",
	"password",
	"passwd",
	"credential",
	"authorization",
	"auth_header",
	"private_key",
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactParams returns a copy of params safe to persist in the manifest:
// secret-looking keys are replaced at every nesting level. The original
// map is never modified.
func RedactParams(params map[string]any) models.ManifestParams {
	if params == nil {
		return models.ManifestParams{}
	}
	out := make(models.ManifestParams, len(params))
	for key, value := range params {
		if isSecretKey(key) {
			out[key] = redactedValue
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[key] = map[string]any(RedactParams(v))
		case []any:
			out[key] = redactSlice(v)
		default:
			out[key] = value
		}
	}
	return out
}

func redactSlice(values []any) []any {
	out := make([]any, len(values))
	for i, value := range values {
		switch v := value.(type) {
		case map[string]any:
			out[i] = map[string]any(RedactParams(v))
		case []any:
			out[i] = redactSlice(v)
		default:
			out[i] = value
		}
	}
	return out
}
