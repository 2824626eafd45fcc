// Package llm adapts the Gemini API to the extraction capability. The
// determinism contract is enforced here: temperature is pinned to zero and a
// configuration asking for anything else is rejected at construction.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"essaypipe/internal/model"
)

// DefaultModel is used when the config names none.
const DefaultModel = "gemini-2.0-flash"

type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGemini builds the adapter. temperature exists only so configuration
// mistakes surface loudly; any non-zero value is an error.
func NewGemini(ctx context.Context, apiKey, modelName string, temperature float64, log *zap.Logger) (*Gemini, error) {
	if temperature != 0 {
		return nil, fmt.Errorf("llm temperature must be 0, got %v", temperature)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Gemini{client: client, model: modelName, log: log}, nil
}

func (g *Gemini) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(user),
		&genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](0),
			ResponseMIMEType:  "application/json",
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		},
	)
	if err != nil {
		return "", model.NewStageError(model.KindExtractionError, "extract", err)
	}
	text := resp.Text()
	if text == "" {
		return "", model.NewStageError(model.KindExtractionError, "extract", fmt.Errorf("empty model response"))
	}
	return text, nil
}
