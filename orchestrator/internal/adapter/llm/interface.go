// Package llm runs units of work against a language model.
package llm

import (
	"context"
	"encoding/json"
)

// Usage is the token count of one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Completion is the text result of a call.
type Completion struct {
	Text  string
	Usage Usage
}

// Schema names a JSON schema the structured result must follow.
type Schema struct {
	Name       string
	Definition map[string]interface{}
}

// Executor invokes one text-generation call per unit of work. Implementations
// may be slow and may fail; callers do not retry.
type Executor interface {
	Execute(ctx context.Context, instruction, input string) (*Completion, error)
	// ExecuteStructured returns a JSON document conforming to schema.
	ExecuteStructured(ctx context.Context, instruction, input string, schema Schema) (json.RawMessage, Usage, error)
}

// Ensure Client implements Executor interface.
var _ Executor = (*Client)(nil)
