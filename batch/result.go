package batch

import "encoding/json"

// ResultEntry is one raw result line fetched from the API, before it is
// correlated with a stored request.
type ResultEntry struct {
	Key      string
	Response map[string]any
	Error    map[string]any
}

// Result is the decoded outcome of one remote-produced result line.
// It is ephemeral and never persisted as-is.
type Result struct {
	Key              string
	Successful       bool
	Response         map[string]any
	Error            string
	PromptTokens     *int
	CompletionTokens *int
	ThoughtTokens    *int
}

// ResultFromEntry builds a Result from a fetched entry. An entry is
// successful iff it carries a response and no error. Token counts come from
// the response's usageMetadata section when present.
func ResultFromEntry(entry ResultEntry) Result {
	r := Result{
		Key:        entry.Key,
		Successful: entry.Error == nil && entry.Response != nil,
		Response:   entry.Response,
	}

	if entry.Error != nil {
		if b, err := json.Marshal(entry.Error); err == nil {
			r.Error = string(b)
		}
	}

	if usage, ok := entry.Response["usageMetadata"].(map[string]any); ok {
		r.PromptTokens = intField(usage, "promptTokenCount")
		r.CompletionTokens = intField(usage, "candidatesTokenCount")
		r.ThoughtTokens = intField(usage, "thoughtsTokenCount")
	}

	return r
}

// Text returns the final answer text: the concatenation of all non-thought
// text parts of the first candidate. ok is false when the call failed or
// produced no candidates.
func (r Result) Text() (string, bool) {
	parts, ok := r.parts()
	if !ok {
		return "", false
	}

	var out string
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		text, ok := part["text"].(string)
		if !ok {
			continue
		}
		if thought, _ := part["thought"].(bool); thought {
			continue
		}
		out += text
	}
	return out, true
}

// Thinking returns the model's internal reasoning: the concatenation of all
// thought-flagged text parts of the first candidate. ok is false when the
// call failed, produced no candidates, or emitted no thought parts.
func (r Result) Thinking() (string, bool) {
	parts, ok := r.parts()
	if !ok {
		return "", false
	}

	var out string
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		text, ok := part["text"].(string)
		if !ok {
			continue
		}
		if thought, _ := part["thought"].(bool); !thought {
			continue
		}
		out += text
	}
	if out == "" {
		return "", false
	}
	return out, true
}

// StructuredOutput parses the final answer text as JSON. ok is false unless
// the text decodes to an object or an array.
func (r Result) StructuredOutput() (any, bool) {
	text, ok := r.Text()
	if !ok {
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return decoded, true
	}
	return nil, false
}

func (r Result) parts() ([]any, bool) {
	if !r.Successful || r.Response == nil {
		return nil, false
	}
	candidates, ok := r.Response["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return nil, false
	}
	first, ok := candidates[0].(map[string]any)
	if !ok {
		return nil, false
	}
	content, ok := first["content"].(map[string]any)
	if !ok {
		return nil, false
	}
	parts, ok := content["parts"].([]any)
	if !ok {
		return nil, false
	}
	return parts, true
}

func intField(m map[string]any, key string) *int {
	// JSON numbers decode as float64.
	f, ok := m[key].(float64)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}
