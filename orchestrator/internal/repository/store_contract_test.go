package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

// runStoreContract runs the behaviour every Store must share. Job ids are
// prefixed so the cases can run against a shared database.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store, prefix string) {
	cases := []struct {
		name string
		run  func(t *testing.T, store Store, id func(string) string)
	}{
		{"JobLifecycle", testJobLifecycle},
		{"MissingJob", testMissingJob},
		{"UpsertCheckpointIsIdempotent", testUpsertCheckpointIsIdempotent},
		{"FailedJobHasNoFindings", testFailedJobHasNoFindings},
		{"ListJobs", testListJobs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			id := func(s string) string { return prefix + tc.name + "-" + s }
			tc.run(t, store, id)
		})
	}
}

func createJob(t *testing.T, store Store, jobID string) {
	t.Helper()
	job := &domain.Job{JobID: jobID, Category: domain.CategoryGas, Status: domain.StatusWaiting, Input: "contract A {}"}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
}

func testJobLifecycle(t *testing.T, store Store, id func(string) string) {
	ctx := context.Background()
	j1 := id("j1")
	createJob(t, store, j1)

	err := store.CreateJob(ctx, &domain.Job{JobID: j1, Category: domain.CategoryGas, Status: domain.StatusWaiting, Input: "x"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	ok, err := store.MarkJobProcessing(ctx, j1)
	if err != nil || !ok {
		t.Fatalf("MarkJobProcessing = %v, %v", ok, err)
	}

	result := &domain.AuditResult{Introduction: "intro", Scope: "scope", Conclusion: "done"}
	findings := []domain.Finding{
		{Level: domain.SeverityCritical, Name: "a", Explanation: "e", Recommendation: "r", Reference: "L1"},
		{Level: domain.SeverityLow, Name: "b", Explanation: "e", Recommendation: "r", Reference: "L2"},
	}
	ok, err = store.FinishJob(ctx, j1, domain.JobOutcome{
		Status: domain.StatusSuccess, ProcessingTime: 1.5, InputTokens: 10, OutputTokens: 20, Credits: 3,
		Result: result, Findings: findings,
	})
	if err != nil || !ok {
		t.Fatalf("FinishJob = %v, %v", ok, err)
	}

	job, err := store.GetJob(ctx, j1)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != domain.StatusSuccess || job.Introduction != "intro" || job.OutputTokens != 20 || job.Credits != 3 {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, err := store.ListFindings(ctx, j1)
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(got) != 2 || got[0].Level != domain.SeverityCritical || got[1].Reference != "L2" {
		t.Fatalf("unexpected findings: %+v", got)
	}

	// Terminal jobs are immutable.
	ok, err = store.FinishJob(ctx, j1, domain.JobOutcome{
		Status: domain.StatusFailed, Error: "late",
		Findings: []domain.Finding{{Level: domain.SeverityHigh, Name: "late"}},
	})
	if err != nil || ok {
		t.Fatalf("second FinishJob = %v, %v", ok, err)
	}
	ok, err = store.MarkJobProcessing(ctx, j1)
	if err != nil || ok {
		t.Fatalf("MarkJobProcessing on terminal job = %v, %v", ok, err)
	}
	job, _ = store.GetJob(ctx, j1)
	if job.Status != domain.StatusSuccess || job.Error != "" {
		t.Fatalf("terminal job was modified: %+v", job)
	}
	if got, _ := store.ListFindings(ctx, j1); len(got) != 2 {
		t.Fatalf("findings written by a rejected finish: %+v", got)
	}
}

func testMissingJob(t *testing.T, store Store, id func(string) string) {
	ctx := context.Background()

	job, err := store.GetJob(ctx, id("missing"))
	if err != nil || job != nil {
		t.Fatalf("GetJob(missing) = %+v, %v", job, err)
	}
	if _, err := store.FinishJob(ctx, id("missing"), domain.JobOutcome{Status: domain.StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from FinishJob, got %v", err)
	}
	if _, err := store.MarkJobProcessing(ctx, id("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from MarkJobProcessing, got %v", err)
	}
}

func testUpsertCheckpointIsIdempotent(t *testing.T, store Store, id func(string) string) {
	ctx := context.Background()
	j1 := id("j1")
	createJob(t, store, j1)

	if err := store.UpsertCheckpoint(ctx, j1, "storage", domain.StatusProcessing, nil, nil); err != nil {
		t.Fatalf("UpsertCheckpoint failed: %v", err)
	}
	text := "pack slots"
	elapsed := 2.25
	for i := 0; i < 2; i++ {
		if err := store.UpsertCheckpoint(ctx, j1, "storage", domain.StatusSuccess, &text, &elapsed); err != nil {
			t.Fatalf("UpsertCheckpoint failed: %v", err)
		}
	}

	checkpoints, err := store.ListCheckpoints(ctx, j1)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(checkpoints))
	}
	cp := checkpoints[0]
	if cp.Status != domain.StatusSuccess || cp.Result == nil || *cp.Result != text || cp.ProcessingTime == nil || *cp.ProcessingTime != elapsed {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	// Overwriting with FAILED clears the result.
	if err := store.UpsertCheckpoint(ctx, j1, "storage", domain.StatusFailed, nil, nil); err != nil {
		t.Fatalf("UpsertCheckpoint failed: %v", err)
	}
	checkpoints, _ = store.ListCheckpoints(ctx, j1)
	if len(checkpoints) != 1 || checkpoints[0].Status != domain.StatusFailed || checkpoints[0].Result != nil {
		t.Fatalf("unexpected checkpoints: %+v", checkpoints)
	}
}

func testFailedJobHasNoFindings(t *testing.T, store Store, id func(string) string) {
	ctx := context.Background()
	j1 := id("j1")
	createJob(t, store, j1)

	ok, err := store.FinishJob(ctx, j1, domain.JobOutcome{Status: domain.StatusFailed, ProcessingTime: 0.5, Error: "synthesis failed"})
	if err != nil || !ok {
		t.Fatalf("FinishJob = %v, %v", ok, err)
	}
	job, err := store.GetJob(ctx, j1)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != domain.StatusFailed || job.Error != "synthesis failed" || job.ProcessingTime != 0.5 || job.Introduction != "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	findings, err := store.ListFindings(ctx, j1)
	if err != nil || len(findings) != 0 {
		t.Fatalf("ListFindings = %+v, %v", findings, err)
	}
}

func testListJobs(t *testing.T, store Store, id func(string) string) {
	ctx := context.Background()

	createJob(t, store, id("waiting"))
	createJob(t, store, id("running"))
	createJob(t, store, id("done"))
	if _, err := store.MarkJobProcessing(ctx, id("running")); err != nil {
		t.Fatalf("MarkJobProcessing failed: %v", err)
	}
	if _, err := store.FinishJob(ctx, id("done"), domain.JobOutcome{Status: domain.StatusFailed}); err != nil {
		t.Fatalf("FinishJob failed: %v", err)
	}

	mine := func(jobs []domain.Job) map[string]domain.JobStatus {
		out := make(map[string]domain.JobStatus)
		for _, j := range jobs {
			for _, name := range []string{"waiting", "running", "done"} {
				if j.JobID == id(name) {
					out[name] = j.Status
				}
			}
		}
		return out
	}

	future := time.Now().Add(time.Minute)
	jobs, err := store.ListJobs(ctx, []domain.JobStatus{domain.StatusWaiting, domain.StatusProcessing}, future, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	got := mine(jobs)
	if len(got) != 2 || got["waiting"] != domain.StatusWaiting || got["running"] != domain.StatusProcessing {
		t.Fatalf("expected 2 unfinished jobs, got %+v", got)
	}

	jobs, err = store.ListJobs(ctx, []domain.JobStatus{domain.StatusProcessing}, time.Now().Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if got := mine(jobs); len(got) != 0 {
		t.Fatalf("expected no stale jobs, got %+v", got)
	}
}
