package domain

// SubmitRequest is the body of an audit submission.
type SubmitRequest struct {
	JobID    string   `json:"job_id,omitempty"`
	Category Category `json:"category"`
	Input    string   `json:"input"`
}

// JobResponse is a job together with its findings.
type JobResponse struct {
	*Job
	Findings []Finding `json:"findings,omitempty"`
}

// CheckpointsResponse is the poll view of a job's progress.
type CheckpointsResponse struct {
	JobID       string       `json:"job_id"`
	Status      JobStatus    `json:"status"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}
