package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FindingEntry is a finding as emitted by the reviewer.
type FindingEntry struct {
	Name           string `json:"name"`
	Explanation    string `json:"explanation"`
	Recommendation string `json:"recommendation"`
	Reference      string `json:"reference"`
}

// FindingsBySeverity is the reviewer's findings grouped by severity.
type FindingsBySeverity struct {
	Critical []FindingEntry `json:"critical"`
	High     []FindingEntry `json:"high"`
	Medium   []FindingEntry `json:"medium"`
	Low      []FindingEntry `json:"low"`
}

// AuditResult is the structured output of the synthesis step.
type AuditResult struct {
	Introduction string             `json:"introduction"`
	Scope        string             `json:"scope"`
	Conclusion   string             `json:"conclusion"`
	Findings     FindingsBySeverity `json:"findings"`
}

// ParseAuditResult decodes and validates reviewer output.
func ParseAuditResult(raw []byte) (*AuditResult, error) {
	var result AuditResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("invalid audit result: %w", err)
	}
	if result.Introduction == "" && result.Scope == "" && result.Conclusion == "" {
		return nil, errors.New("invalid audit result: introduction, scope and conclusion are all empty")
	}
	return &result, nil
}

func (r *AuditResult) bySeverity() map[Severity][]FindingEntry {
	return map[Severity][]FindingEntry{
		SeverityCritical: r.Findings.Critical,
		SeverityHigh:     r.Findings.High,
		SeverityMedium:   r.Findings.Medium,
		SeverityLow:      r.Findings.Low,
	}
}

// Flatten returns one Finding per (severity, entry) pair, most severe first.
func (r *AuditResult) Flatten(jobID string) []Finding {
	grouped := r.bySeverity()
	var out []Finding
	for _, level := range Severities {
		for _, e := range grouped[level] {
			out = append(out, Finding{
				JobID:          jobID,
				Level:          level,
				Name:           e.Name,
				Explanation:    e.Explanation,
				Recommendation: e.Recommendation,
				Reference:      e.Reference,
			})
		}
	}
	return out
}

var findingEntrySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"name":           map[string]interface{}{"type": "string"},
		"explanation":    map[string]interface{}{"type": "string"},
		"recommendation": map[string]interface{}{"type": "string"},
		"reference":      map[string]interface{}{"type": "string"},
	},
	"required":             []string{"name", "explanation", "recommendation", "reference"},
	"additionalProperties": false,
}

func severityList() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": findingEntrySchema}
}

// AuditResultSchema is the JSON schema requested from the reviewer.
var AuditResultSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"introduction": map[string]interface{}{"type": "string"},
		"scope":        map[string]interface{}{"type": "string"},
		"conclusion":   map[string]interface{}{"type": "string"},
		"findings": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"critical": severityList(),
				"high":     severityList(),
				"medium":   severityList(),
				"low":      severityList(),
			},
			"required":             []string{"critical", "high", "medium", "low"},
			"additionalProperties": false,
		},
	},
	"required":             []string{"introduction", "scope", "conclusion", "findings"},
	"additionalProperties": false,
}
