package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuditResultFlatten(t *testing.T) {
	raw := []byte(`{
		"introduction": "intro",
		"scope": "contracts/",
		"conclusion": "fine",
		"findings": {
			"critical": [{"name": "reentrancy", "explanation": "e", "recommendation": "r", "reference": "L10"}],
			"high": [],
			"medium": [],
			"low": [{"name": "naming", "explanation": "e2", "recommendation": "r2", "reference": "L2"}]
		}
	}`)

	result, err := ParseAuditResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "intro", result.Introduction)

	findings := result.Flatten("job-1")
	require.Len(t, findings, 2)
	assert.Equal(t, SeverityCritical, findings[0].Level)
	assert.Equal(t, "reentrancy", findings[0].Name)
	assert.Equal(t, SeverityLow, findings[1].Level)
	assert.Equal(t, "job-1", findings[1].JobID)
}

func TestParseAuditResultRejectsGarbage(t *testing.T) {
	_, err := ParseAuditResult([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseAuditResult([]byte(`{}`))
	assert.Error(t, err)
}

func TestCategoryAndStatus(t *testing.T) {
	assert.True(t, CategoryGas.Valid())
	assert.False(t, Category("style").Valid())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}
