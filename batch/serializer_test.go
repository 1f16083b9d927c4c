package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawSerializer(t *testing.T) {
	payload := map[string]any{"contents": []any{}}

	got, err := RawSerializer{}.Serialize(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = RawSerializer{}.Serialize("not a map")
	assert.Error(t, err)
}

func TestTextSerializer(t *testing.T) {
	temp := 0.2
	payload, err := TextSerializer{}.Serialize(&TextRequest{
		Prompt:          "Summarize this document.",
		System:          "You are terse.",
		Temperature:     &temp,
		MaxOutputTokens: 256,
	})
	require.NoError(t, err)

	contents, ok := payload["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
	turn := contents[0].(map[string]any)
	assert.Equal(t, "user", turn["role"])

	system, ok := payload["system_instruction"].(map[string]any)
	require.True(t, ok)
	parts := system["parts"].([]any)
	assert.Equal(t, "You are terse.", parts[0].(map[string]any)["text"])

	cfg, ok := payload["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.2, cfg["temperature"])
	assert.Equal(t, 256, cfg["maxOutputTokens"])
}

func TestTextSerializer_MinimalRequest(t *testing.T) {
	payload, err := TextSerializer{}.Serialize(&TextRequest{Prompt: "hi"})
	require.NoError(t, err)

	assert.Contains(t, payload, "contents")
	assert.NotContains(t, payload, "system_instruction")
	assert.NotContains(t, payload, "generationConfig")
}

func TestTextSerializer_EmptyPrompt(t *testing.T) {
	_, err := TextSerializer{}.Serialize(&TextRequest{})
	assert.Error(t, err)
}

func TestTextSerializer_ThinkingBudget(t *testing.T) {
	payload, err := TextSerializer{}.Serialize(&TextRequest{Prompt: "hi", ThinkingBudget: 1024})
	require.NoError(t, err)

	cfg := payload["generationConfig"].(map[string]any)
	thinking, ok := cfg["thinkingConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1024, thinking["thinkingBudget"])
}

func TestStructuredSerializer(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sentiment": map[string]any{"type": "string"},
		},
	}

	payload, err := StructuredSerializer{}.Serialize(&StructuredRequest{
		TextRequest: TextRequest{Prompt: "Classify this."},
		Schema:      schema,
	})
	require.NoError(t, err)

	cfg, ok := payload["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", cfg["response_mime_type"])
	assert.Equal(t, schema, cfg["response_schema"])
}

func TestStructuredSerializer_NoSchema(t *testing.T) {
	_, err := StructuredSerializer{}.Serialize(&StructuredRequest{
		TextRequest: TextRequest{Prompt: "Classify this."},
	})
	assert.Error(t, err)
}
