package universe

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/manyworlds/continuum/pkg/config"
	"github.com/manyworlds/continuum/pkg/models"
)

// translateMethod is the full method name of the external translation
// service. The service speaks Struct-shaped requests and responses, so no
// generated stubs are needed on this side.
const translateMethod = "/continuum.translator.v1.TranslatorService/TranslatePatch"

// Translation is the compiled form of a natural-language intervention.
type Translation struct {
	Deltas      models.PatchDeltas
	Explanation string
	Confidence  float64
}

// Translator turns a natural-language query into applicable patch deltas.
// Translation happens before the fork commits; a failed translation fails
// the fork.
type Translator interface {
	Translate(ctx context.Context, projectID string, query string) (*Translation, error)
	Close() error
}

// GRPCTranslator calls the external Python translation service.
type GRPCTranslator struct {
	conn *grpc.ClientConn
	cfg  config.TranslatorConfig
}

// NewGRPCTranslator dials the translator endpoint. The connection is lazy;
// failures surface on the first Translate call.
func NewGRPCTranslator(cfg *config.TranslatorConfig) (*GRPCTranslator, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, models.NewValidationError("translator.endpoint", "is required")
	}
	var opts []grpc.DialOption
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to translator at %s: %w", cfg.Endpoint, err)
	}
	return &GRPCTranslator{conn: conn, cfg: *cfg}, nil
}

// Translate sends the query and decodes the structured patch response.
func (t *GRPCTranslator) Translate(ctx context.Context, projectID string, query string) (*Translation, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{
		"project_id": projectID,
		"query":      query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode translation request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, translateMethod, req, resp); err != nil {
		return nil, fmt.Errorf("translation call failed: %w", err)
	}
	return decodeTranslation(resp.AsMap())
}

// Close releases the gRPC connection.
func (t *GRPCTranslator) Close() error {
	return t.conn.Close()
}

// decodeTranslation maps the loose response shape onto typed deltas. The
// JSON round trip reuses the models' tags instead of hand-walking the tree.
func decodeTranslation(payload map[string]any) (*Translation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode translation response: %w", err)
	}
	var decoded struct {
		Variables    []models.VariableDelta  `json:"variables"`
		EventScripts []models.EventScriptRef `json:"event_scripts"`
		Explanation  string                  `json:"explanation"`
		Confidence   float64                 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode translation response: %w", err)
	}
	if len(decoded.Variables) == 0 && len(decoded.EventScripts) == 0 {
		return nil, models.NewValidationError("nl_query",
			"translation produced no applicable deltas")
	}
	for _, v := range decoded.Variables {
		switch v.Operation {
		case models.DeltaOpAdd, models.DeltaOpMul, models.DeltaOpSet:
		default:
			return nil, models.NewValidationError("nl_query",
				fmt.Sprintf("translation produced unknown operation %q", v.Operation))
		}
	}
	return &Translation{
		Deltas: models.PatchDeltas{
			Variables:    decoded.Variables,
			EventScripts: decoded.EventScripts,
		},
		Explanation: decoded.Explanation,
		Confidence:  decoded.Confidence,
	}, nil
}
