package store

import (
	"context"
	"testing"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store := newTestStore(t)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}, "")
}

func TestSQLiteStoreSeedsAuditors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	gas, err := store.ListAuditors(ctx, domain.CategoryGas)
	if err != nil {
		t.Fatalf("ListAuditors failed: %v", err)
	}
	if len(gas) != 4 {
		t.Fatalf("expected 4 gas auditors, got %d", len(gas))
	}

	if err := store.UpsertAuditor(ctx, &domain.Auditor{Tag: "loops", Category: domain.CategoryGas, Instruction: "new", Active: false}); err != nil {
		t.Fatalf("UpsertAuditor failed: %v", err)
	}
	if err := seedAuditors(ctx, store); err != nil {
		t.Fatalf("reseed failed: %v", err)
	}
	gas, _ = store.ListAuditors(ctx, domain.CategoryGas)
	for _, a := range gas {
		if a.Tag == "loops" && (a.Active || a.Instruction != "new") {
			t.Fatalf("seeding overwrote an existing auditor: %+v", a)
		}
	}

	all, _ := store.ListAuditors(ctx, "")
	if len(all) != len(DefaultAuditors) {
		t.Fatalf("expected %d auditors, got %d", len(DefaultAuditors), len(all))
	}
}
