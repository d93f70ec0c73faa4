package domain

import "time"

// Job is one end-to-end audit.
type Job struct {
	JobID          string    `json:"job_id"`
	Category       Category  `json:"category"`
	Status         JobStatus `json:"status"`
	Input          string    `json:"-"`
	ProcessingTime float64   `json:"processing_time"`
	Introduction   string    `json:"introduction,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	Conclusion     string    `json:"conclusion,omitempty"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	Credits        int64     `json:"credits"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JobOutcome holds the fields written when a job reaches a terminal status.
type JobOutcome struct {
	Status         JobStatus
	ProcessingTime float64
	InputTokens    int64
	OutputTokens   int64
	Credits        int64
	Error          string
	// Result and Findings are only persisted on success.
	Result   *AuditResult
	Findings []Finding
}

// Checkpoint is the durable status of one unit of work of a job.
type Checkpoint struct {
	JobID          string    `json:"job_id"`
	Tag            string    `json:"tag"`
	Status         JobStatus `json:"status"`
	Result         *string   `json:"result,omitempty"`
	ProcessingTime *float64  `json:"processing_time,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Finding is one entry of a successful synthesis.
type Finding struct {
	ID             int64    `json:"id"`
	JobID          string   `json:"job_id"`
	Level          Severity `json:"level"`
	Name           string   `json:"name"`
	Explanation    string   `json:"explanation"`
	Recommendation string   `json:"recommendation"`
	Reference      string   `json:"reference"`
}

// Auditor is a unit-of-work definition: an instruction run against the job input.
type Auditor struct {
	Tag         string   `json:"tag"`
	Category    Category `json:"category"`
	Instruction string   `json:"instruction"`
	Active      bool     `json:"active"`
}
