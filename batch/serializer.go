package batch

import "fmt"

// PayloadSerializer converts a caller-supplied request into a Gemini API
// generateContent payload. Implementations form a closed set; callers pick
// one through the corresponding PendingBatch entry point rather than by
// runtime type inspection.
type PayloadSerializer interface {
	Serialize(request any) (map[string]any, error)
}

// RawSerializer passes through a payload that is already Gemini-shaped.
type RawSerializer struct{}

// Serialize implements PayloadSerializer.
func (RawSerializer) Serialize(request any) (map[string]any, error) {
	payload, ok := request.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("raw serializer expects map[string]any, got %T", request)
	}
	return payload, nil
}

// TextRequest is a plain text-generation request.
type TextRequest struct {
	Prompt          string
	System          string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens int
	ThinkingBudget  int
}

// TextSerializer builds a generateContent payload from a TextRequest.
type TextSerializer struct{}

// Serialize implements PayloadSerializer.
func (TextSerializer) Serialize(request any) (map[string]any, error) {
	req, ok := request.(*TextRequest)
	if !ok {
		return nil, fmt.Errorf("text serializer expects *TextRequest, got %T", request)
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("text request has an empty prompt")
	}

	payload := map[string]any{
		"contents": []any{
			map[string]any{
				"role":  "user",
				"parts": []any{map[string]any{"text": req.Prompt}},
			},
		},
	}

	if req.System != "" {
		payload["system_instruction"] = map[string]any{
			"parts": []any{map[string]any{"text": req.System}},
		}
	}

	if cfg := generationConfig(req); len(cfg) > 0 {
		payload["generationConfig"] = cfg
	}

	return payload, nil
}

// StructuredRequest is a text request constrained to a JSON response schema.
type StructuredRequest struct {
	TextRequest
	Schema map[string]any
}

// StructuredSerializer builds a generateContent payload that forces
// structured JSON output.
type StructuredSerializer struct{}

// Serialize implements PayloadSerializer.
func (StructuredSerializer) Serialize(request any) (map[string]any, error) {
	req, ok := request.(*StructuredRequest)
	if !ok {
		return nil, fmt.Errorf("structured serializer expects *StructuredRequest, got %T", request)
	}
	if req.Schema == nil {
		return nil, fmt.Errorf("structured request has no response schema")
	}

	payload, err := (TextSerializer{}).Serialize(&req.TextRequest)
	if err != nil {
		return nil, err
	}

	cfg, _ := payload["generationConfig"].(map[string]any)
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["response_mime_type"] = "application/json"
	cfg["response_schema"] = req.Schema
	payload["generationConfig"] = cfg

	return payload, nil
}

func generationConfig(req *TextRequest) map[string]any {
	cfg := map[string]any{}
	if req.Temperature != nil {
		cfg["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		cfg["topP"] = *req.TopP
	}
	if req.MaxOutputTokens > 0 {
		cfg["maxOutputTokens"] = req.MaxOutputTokens
	}
	if req.ThinkingBudget > 0 {
		cfg["thinkingConfig"] = map[string]any{"thinkingBudget": req.ThinkingBudget}
	}
	return cfg
}
