package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successResponse(parts ...map[string]any) map[string]any {
	anyParts := make([]any, len(parts))
	for i, p := range parts {
		anyParts[i] = p
	}
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{"parts": anyParts},
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     float64(12),
			"candidatesTokenCount": float64(34),
			"thoughtsTokenCount":   float64(5),
		},
	}
}

func TestResultFromEntry_Success(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key:      "doc-1",
		Response: successResponse(map[string]any{"text": "hello"}),
	})

	assert.True(t, res.Successful)
	assert.Equal(t, "doc-1", res.Key)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.PromptTokens)
	assert.Equal(t, 12, *res.PromptTokens)
	require.NotNil(t, res.CompletionTokens)
	assert.Equal(t, 34, *res.CompletionTokens)
	require.NotNil(t, res.ThoughtTokens)
	assert.Equal(t, 5, *res.ThoughtTokens)
}

func TestResultFromEntry_Error(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key:   "doc-2",
		Error: map[string]any{"code": float64(8), "message": "quota exceeded"},
	})

	assert.False(t, res.Successful)
	assert.Contains(t, res.Error, "quota exceeded")
	assert.Nil(t, res.PromptTokens)

	_, ok := res.Text()
	assert.False(t, ok)
}

func TestResultFromEntry_NoResponseNoError(t *testing.T) {
	res := ResultFromEntry(ResultEntry{Key: "doc-3"})
	assert.False(t, res.Successful)
}

func TestResult_TextSkipsThoughtParts(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key: "k",
		Response: successResponse(
			map[string]any{"text": "let me think", "thought": true},
			map[string]any{"text": "final "},
			map[string]any{"text": "answer"},
		),
	})

	text, ok := res.Text()
	require.True(t, ok)
	assert.Equal(t, "final answer", text)

	thinking, ok := res.Thinking()
	require.True(t, ok)
	assert.Equal(t, "let me think", thinking)
}

func TestResult_ThinkingAbsent(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key:      "k",
		Response: successResponse(map[string]any{"text": "plain"}),
	})

	_, ok := res.Thinking()
	assert.False(t, ok)
}

func TestResult_TextNoCandidates(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key:      "k",
		Response: map[string]any{"candidates": []any{}},
	})

	_, ok := res.Text()
	assert.False(t, ok)
}

func TestResult_StructuredOutput(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantOK bool
	}{
		{"object", `{"score": 9}`, true},
		{"array", `[1, 2, 3]`, true},
		{"scalar", `42`, false},
		{"string literal", `"just text"`, false},
		{"not json", `hello world`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResultFromEntry(ResultEntry{
				Key:      "k",
				Response: successResponse(map[string]any{"text": tt.text}),
			})
			out, ok := res.StructuredOutput()
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.NotNil(t, out)
			}
		})
	}
}

func TestResult_StructuredOutputObject(t *testing.T) {
	res := ResultFromEntry(ResultEntry{
		Key:      "k",
		Response: successResponse(map[string]any{"text": `{"sentiment":"positive"}`}),
	})

	out, ok := res.StructuredOutput()
	require.True(t, ok)
	obj, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "positive", obj["sentiment"])
}
