package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockClient is a deterministic Executor for local runs and tests.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ Executor = (*MockClient)(nil)

func (m *MockClient) Execute(ctx context.Context, instruction, input string) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("[MOCK] Reviewed %d bytes of source following %q.", len(input), truncate(instruction, 60))
	return &Completion{Text: text, Usage: estimateUsage(instruction, input, text)}, nil
}

// ExecuteStructured ignores schema and returns a fixed report with one low severity finding.
func (m *MockClient) ExecuteStructured(ctx context.Context, instruction, input string, schema Schema) (json.RawMessage, Usage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Usage{}, err
	}
	report := map[string]interface{}{
		"introduction": "[MOCK] Automated audit report.",
		"scope":        fmt.Sprintf("%d bytes of auditor output", len(input)),
		"conclusion":   "[MOCK] No blocking issues found.",
		"findings": map[string]interface{}{
			"critical": []interface{}{},
			"high":     []interface{}{},
			"medium":   []interface{}{},
			"low": []interface{}{
				map[string]string{
					"name":           "mock finding",
					"explanation":    "Produced by the mock executor.",
					"recommendation": "Configure a real model.",
					"reference":      "n/a",
				},
			},
		},
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, Usage{}, err
	}
	return raw, estimateUsage(instruction, input, string(raw)), nil
}

// estimateUsage provides a rough token count estimate.
func estimateUsage(instruction, input, output string) Usage {
	return Usage{
		InputTokens:  int64(len(instruction)+len(input)) / 4,
		OutputTokens: int64(len(output)) / 4,
	}
}
