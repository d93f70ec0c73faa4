// Package domain defines the core domain models for the orchestrator.
package domain

// JobStatus is the status of a job or of one of its checkpoints.
type JobStatus string

const (
	StatusWaiting    JobStatus = "WAITING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSuccess    JobStatus = "SUCCESS"
	StatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Category selects the set of auditors a job runs.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryGas      Category = "gas"
)

// Categories lists every known category.
var Categories = []Category{CategorySecurity, CategoryGas}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity groups findings.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities is ordered from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ReviewerTag is the tag of the synthesis step.
const ReviewerTag = "reviewer"
