package batch

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a JSON object column. It round-trips through a TEXT/JSON column
// and stays opaque to the orchestrator.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// JSONValue is like JSONMap but accepts any JSON document, so structured
// responses can be an object or an array.
type JSONValue struct {
	Data any
}

// Value implements driver.Valuer.
func (v JSONValue) Value() (driver.Value, error) {
	if v.Data == nil {
		return nil, nil
	}
	b, err := json.Marshal(v.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (v *JSONValue) Scan(value any) error {
	if value == nil {
		v.Data = nil
		return nil
	}
	var b []byte
	switch t := value.(type) {
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return fmt.Errorf("unsupported type %T for JSONValue", value)
	}
	if len(b) == 0 {
		v.Data = nil
		return nil
	}
	return json.Unmarshal(b, &v.Data)
}

// Batch is one submission to the Gemini batch API, tracked through its
// lifecycle state machine.
type Batch struct {
	ID                  uint       `gorm:"primaryKey"`
	APIBatchName        string     `gorm:"size:255;index"`
	Model               string     `gorm:"size:255;not null"`
	DisplayName         string     `gorm:"size:255"`
	State               State      `gorm:"size:32;not null;default:pending;index"`
	InputMode           InputMode  `gorm:"size:16"`
	TotalRequests       int        `gorm:"not null;default:0"`
	CompletedRequests   int        `gorm:"not null;default:0"`
	FailedRequests      int        `gorm:"not null;default:0"`
	OnCompletedHandler  string     `gorm:"size:255"`
	OnEachResultHandler string     `gorm:"size:255"`
	Metadata            JSONMap    `gorm:"type:text"`
	ErrorMessage        string     `gorm:"type:text"`
	Queue               string     `gorm:"size:255"`
	Connection          string     `gorm:"size:255"`
	SubmittedAt         *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName implements gorm schema.Tabler.
func (Batch) TableName() string { return "gemini_batches" }

// IsTerminal reports whether the batch reached a terminal state.
func (b *Batch) IsTerminal() bool { return b.State.IsTerminal() }

// IsActive reports whether the batch is still in flight.
func (b *Batch) IsActive() bool { return b.State.IsActive() }

// BatchRequest is one unit of work within a batch. Key is the sole
// correlation handle between a submitted request and its result line,
// unique within the parent batch.
type BatchRequest struct {
	ID                 uint      `gorm:"primaryKey"`
	BatchID            uint      `gorm:"not null;uniqueIndex:uniq_batch_key"`
	Key                string    `gorm:"size:255;not null;uniqueIndex:uniq_batch_key"`
	State              State     `gorm:"size:32;not null;default:pending"`
	RequestPayload     JSONMap   `gorm:"type:text;not null"`
	ResponsePayload    JSONMap   `gorm:"type:text"`
	ResponseText       *string   `gorm:"type:text"`
	StructuredResponse JSONValue `gorm:"type:text"`
	Meta               JSONMap   `gorm:"type:text"`
	PromptTokens       *int
	CompletionTokens   *int
	ThoughtTokens      *int
	ErrorMessage       string `gorm:"type:text"`
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName implements gorm schema.Tabler.
func (BatchRequest) TableName() string { return "gemini_batch_requests" }

// IsTerminal reports whether the request already received its result.
func (r *BatchRequest) IsTerminal() bool { return r.State.IsTerminal() }
