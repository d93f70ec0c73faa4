package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   Input
		allowed bool
		reasons []string
	}{
		{"allowed", Input{Category: "gas", InputBytes: 100, AuditorCount: 3}, true, nil},
		{"empty input", Input{Category: "gas", InputBytes: 0, AuditorCount: 3}, false, []string{"empty input"}},
		{"too large", Input{Category: "security", InputBytes: 600_000, AuditorCount: 3}, false, []string{"input of 600000 bytes exceeds 524288"}},
		{"unknown category", Input{Category: "style", InputBytes: 10, AuditorCount: 0}, false, []string{"no active auditors", `unknown category "style"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := engine.Evaluate(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed())
			assert.Equal(t, tt.reasons, d.Reasons)
		})
	}
}

func TestNewEngineRejectsInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package audit_admission\nresult = {")
	assert.Error(t, err)
}
