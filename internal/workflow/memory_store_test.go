package workflow

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/payment"
)

func newStoredWorkflow(t *testing.T, store *MemoryStore, id string) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:                id,
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024"},
		PayerRef:          "demo_wallet",
		Status:            StatusQueued,
	}
	if err := store.Create(context.Background(), wf); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return wf
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	newStoredWorkflow(t, store, "wf-1")

	claimed, err := store.Claim(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed.Status != StatusProcessing || claimed.StartedAt == 0 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	outcome := Outcome{
		Stages: []Stage{{
			ProviderID:  "search_pro_2024",
			Transaction: &payment.Transaction{ID: "tx-1", Amount: 0.012},
			Result:      map[string]any{"ok": true},
		}},
		TotalCost: 0.012,
	}
	if err := store.MarkCompleted(context.Background(), "wf-1", outcome); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	got, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == 0 {
		t.Fatalf("unexpected terminal state: %+v", got)
	}
	if len(got.Stages) != 1 || got.Stages[0].Transaction.ID != "tx-1" {
		t.Fatalf("stages not persisted: %+v", got.Stages)
	}
}

func TestMemoryStoreClaimGuards(t *testing.T) {
	store := NewMemoryStore()
	newStoredWorkflow(t, store, "wf-1")

	if _, err := store.Claim(context.Background(), "wf-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := store.Claim(context.Background(), "wf-1"); !stdErrors.Is(err, ErrWorkflowConflict) {
		t.Fatalf("expected conflict on double claim, got %v", err)
	}

	if err := store.MarkFailed(context.Background(), "wf-1", CodeProviderInvocation, "boom", Outcome{}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(context.Background(), "wf-1"); !stdErrors.Is(err, ErrWorkflowCompleted) {
		t.Fatalf("expected completed error on terminal claim, got %v", err)
	}
	if _, err := store.Claim(context.Background(), "missing"); !stdErrors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreFailedKeepsPartialStages(t *testing.T) {
	store := NewMemoryStore()
	newStoredWorkflow(t, store, "wf-1")
	if _, err := store.Claim(context.Background(), "wf-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	outcome := Outcome{
		Stages: []Stage{{
			ProviderID:  "search_pro_2024",
			Transaction: &payment.Transaction{ID: "tx-1", Amount: 0.012},
		}},
		TotalCost: 0.012,
	}
	if err := store.MarkFailed(context.Background(), "wf-1", CodeProviderInvocation, "provider exploded", outcome); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorDetail != "provider exploded" {
		t.Fatalf("unexpected failed state: %+v", got)
	}
	if got.ErrorCode != string(CodeProviderInvocation) {
		t.Fatalf("unexpected error code: %s", got.ErrorCode)
	}
	if len(got.Stages) != 1 || got.Stages[0].Result != nil {
		t.Fatalf("partial stage should be kept without a result: %+v", got.Stages)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []string{"wf-1", "wf-2", "wf-3"} {
		newStoredWorkflow(t, store, id)
	}
	if _, err := store.Claim(context.Background(), "wf-2"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := store.MarkCompleted(context.Background(), "wf-2", Outcome{TotalCost: 0.012}); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	queued, err := store.List(context.Background(), ListOptions{Statuses: []Status{StatusQueued}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("unexpected queued count: %d", len(queued))
	}

	stats, err := store.Stats(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Queued != 2 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalCost != 0.012 {
		t.Fatalf("unexpected total cost: %v", stats.TotalCost)
	}
}

func TestMemoryStoreCreateValidation(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Create(context.Background(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := store.Create(context.Background(), &Workflow{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty id, got %v", err)
	}
	newStoredWorkflow(t, store, "wf-1")
	if err := store.Create(context.Background(), &Workflow{ID: "wf-1"}); !stdErrors.Is(err, ErrWorkflowConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
