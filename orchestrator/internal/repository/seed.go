package store

import (
	"context"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

const reviewerInstruction = `You are the lead reviewer of a smart contract audit. You receive the findings
of several independent auditors. Merge duplicates, discard false positives and
produce the final report. Group every remaining finding by severity.`

// DefaultAuditors are installed when a store is created. Existing rows are left untouched.
var DefaultAuditors = []domain.Auditor{
	{Tag: "access_control", Category: domain.CategorySecurity, Active: true,
		Instruction: "Audit the contract for missing or incorrect access control: unprotected privileged functions, tx.origin checks, unsafe ownership transfer."},
	{Tag: "reentrancy", Category: domain.CategorySecurity, Active: true,
		Instruction: "Audit the contract for reentrancy: external calls before state updates, cross-function and read-only reentrancy."},
	{Tag: "logic", Category: domain.CategorySecurity, Active: true,
		Instruction: "Audit the contract for business logic errors, arithmetic mistakes and broken invariants."},
	{Tag: domain.ReviewerTag, Category: domain.CategorySecurity, Active: true, Instruction: reviewerInstruction},

	{Tag: "storage", Category: domain.CategoryGas, Active: true,
		Instruction: "Find gas savings in storage layout: slot packing, redundant SLOADs, values that can be immutable or constant."},
	{Tag: "loops", Category: domain.CategoryGas, Active: true,
		Instruction: "Find gas savings in loops: cached lengths, unchecked increments, work that can move out of the loop."},
	{Tag: "calls", Category: domain.CategoryGas, Active: true,
		Instruction: "Find gas savings in external calls and function visibility: calldata over memory, batched calls, custom errors."},
	{Tag: domain.ReviewerTag, Category: domain.CategoryGas, Active: true, Instruction: reviewerInstruction},
}

type auditorSeeder interface {
	ListAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, error)
	UpsertAuditor(ctx context.Context, auditor *domain.Auditor) error
}

func seedAuditors(ctx context.Context, s auditorSeeder) error {
	existing := make(map[string]bool)
	for _, c := range domain.Categories {
		auditors, err := s.ListAuditors(ctx, c)
		if err != nil {
			return err
		}
		for _, a := range auditors {
			existing[string(a.Category)+"/"+a.Tag] = true
		}
	}
	for i := range DefaultAuditors {
		a := DefaultAuditors[i]
		if existing[string(a.Category)+"/"+a.Tag] {
			continue
		}
		if err := s.UpsertAuditor(ctx, &a); err != nil {
			return err
		}
	}
	return nil
}
