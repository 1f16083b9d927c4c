package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// KeyedRequest is one serialized request payload tagged with its
// correlation key.
type KeyedRequest struct {
	Key     string
	Payload map[string]any
}

// Uploader builds JSONL submission files and pushes them through the file
// API. It also provides the size estimate used for input mode selection,
// computed without any network call.
type Uploader struct {
	client *Client
}

// NewUploader creates an Uploader on top of the given client.
func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client}
}

type jsonlLine struct {
	Key     string         `json:"key"`
	Request map[string]any `json:"request"`
}

// BuildJSONL encodes requests as newline-delimited JSON, one
// {"key":...,"request":...} object per line.
func (u *Uploader) BuildJSONL(requests []KeyedRequest) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range requests {
		line, err := json.Marshal(jsonlLine{Key: r.Key, Request: r.Payload})
		if err != nil {
			return nil, fmt.Errorf("encode request with key %q: %w", r.Key, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// EstimateSize returns the serialized size of the full request set in
// bytes: each line's JSON encoding plus one separator byte per request.
func (u *Uploader) EstimateSize(requests []KeyedRequest) int {
	size := 0
	for _, r := range requests {
		line, err := json.Marshal(jsonlLine{Key: r.Key, Request: r.Payload})
		if err != nil {
			continue
		}
		size += len(line) + 1
	}
	return size
}

// UploadRequests builds the JSONL blob and uploads it, returning the file
// name to reference in the batch submission.
func (u *Uploader) UploadRequests(ctx context.Context, requests []KeyedRequest, displayName string) (string, error) {
	jsonl, err := u.BuildJSONL(requests)
	if err != nil {
		return "", err
	}
	return u.client.UploadFile(ctx, jsonl, displayName, "application/jsonl")
}
