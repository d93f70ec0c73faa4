package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrEmptyInput      = errors.New("input is required")
	ErrBlockedByPolicy = errors.New("blocked by policy")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobFinished     = errors.New("job already finished")
	ErrJobRunning      = errors.New("job already running")
	ErrNoReviewer      = errors.New("no active reviewer for category")

	ErrEmptyTag         = errors.New("auditor tag is required")
	ErrEmptyInstruction = errors.New("active auditor needs an instruction")
)

// SynthesisError is the fatal failure of the reviewer step. The job it
// belongs to always ends FAILED without findings.
type SynthesisError struct {
	JobID string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for job %s: %v", e.JobID, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
