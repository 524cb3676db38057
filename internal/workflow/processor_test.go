package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/internal/invoke"
	"AgentMarket-Chain/internal/payment"
)

func newTestProcessor(t *testing.T, registry *invoke.Registry) (*Processor, *MemoryStore, *payment.Ledger, *events.Broadcaster) {
	t.Helper()
	store := NewMemoryStore()
	ledger := payment.NewLedger(0.25)
	broadcaster := events.NewBroadcaster(32)
	t.Cleanup(broadcaster.Close)
	orch := NewOrchestrator(testCatalog(), ledger, registry, WithBroadcaster(broadcaster))
	processor := NewProcessor(orch, store, nil, WithProcessorBroadcaster(broadcaster))
	return processor, store, ledger, broadcaster
}

func TestProcessorHandleCompletesWorkflow(t *testing.T) {
	processor, store, _, broadcaster := newTestProcessor(t, invoke.DefaultRegistry(0))
	sub := broadcaster.Subscribe()

	newStoredWorkflow(t, store, "wf-1")
	if err := processor.Handle(context.Background(), "wf-1"); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	wf, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Fatalf("unexpected status: %s", wf.Status)
	}
	if len(wf.Stages) != 1 || wf.TotalCost != 0.012 {
		t.Fatalf("unexpected outcome: %+v", wf)
	}

	types := collectEventTypes(t, sub, 3)
	if types[0] != events.TypeWorkflowStarted || types[len(types)-1] != events.TypeWorkflowCompleted {
		t.Fatalf("unexpected event sequence: %v", types)
	}
}

func TestProcessorHandleFailureKeepsCharges(t *testing.T) {
	registry := invoke.NewRegistry()
	registry.Register("Research", failingInvoker{})
	processor, store, ledger, broadcaster := newTestProcessor(t, registry)
	sub := broadcaster.Subscribe()

	newStoredWorkflow(t, store, "wf-1")
	if err := processor.Handle(context.Background(), "wf-1"); err != nil {
		t.Fatalf("handle should convert execution failure to terminal state, got %v", err)
	}

	wf, err := store.Get(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if wf.Status != StatusFailed || wf.ErrorDetail == "" {
		t.Fatalf("unexpected failed state: %+v", wf)
	}
	if len(wf.Stages) != 1 || wf.Stages[0].Result != nil {
		t.Fatalf("charged stage should be kept without result: %+v", wf.Stages)
	}
	if ledger.Stats().TotalTransactions != 1 {
		t.Fatal("charge before the failed invocation must stand")
	}

	types := collectEventTypes(t, sub, 2)
	if types[len(types)-1] != events.TypeWorkflowFailed {
		t.Fatalf("unexpected event sequence: %v", types)
	}
}

func TestProcessorHandleSkipsAlreadyClaimed(t *testing.T) {
	processor, store, ledger, _ := newTestProcessor(t, invoke.DefaultRegistry(0))
	newStoredWorkflow(t, store, "wf-1")

	if err := processor.Handle(context.Background(), "wf-1"); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	// 终态后的重复投递必须是无害的空操作。
	if err := processor.Handle(context.Background(), "wf-1"); err != nil {
		t.Fatalf("redelivery should be a no-op, got %v", err)
	}
	if ledger.Stats().TotalTransactions != 1 {
		t.Fatal("redelivery must not charge again")
	}
	if err := processor.Handle(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown id should be skipped, got %v", err)
	}
}

func TestServiceSubmitSynchronous(t *testing.T) {
	processor, store, _, _ := newTestProcessor(t, invoke.DefaultRegistry(0))
	service := NewService(store, nil, processor)

	wf, err := service.Submit(context.Background(), Request{
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "content_creator_pro"},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Fatalf("unexpected status: %s", wf.Status)
	}
	if !almostEqual(wf.TotalCost, 0.020) {
		t.Fatalf("unexpected total cost: %v", wf.TotalCost)
	}
	if wf.PayerRef != "demo_wallet" {
		t.Fatalf("default payer should apply: %s", wf.PayerRef)
	}
}

func TestServiceSubmitRejectsEmptyQuery(t *testing.T) {
	processor, store, _, _ := newTestProcessor(t, invoke.DefaultRegistry(0))
	service := NewService(store, nil, processor)

	if _, err := service.Submit(context.Background(), Request{Query: "  "}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestServiceSubmitAsyncThroughQueue(t *testing.T) {
	store := NewMemoryStore()
	ledger := payment.NewLedger(0.25)
	queue := NewMemoryQueue(16)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))
	processor := NewProcessor(orch, store, queue, WithWorkerCount(2))
	service := NewService(store, queue, processor)
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = processor.Start(ctx)
	}()

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		wf, err := service.SubmitAsync(ctx, Request{
			Query:             fmt.Sprintf("widgets %d", i),
			SelectedProviders: []string{"search_pro_2024", "business_analyst_ai"},
		})
		if err != nil {
			t.Fatalf("submit async failed: %v", err)
		}
		if wf.Status != StatusQueued {
			t.Fatalf("async submit should return queued workflow: %s", wf.Status)
		}
		ids = append(ids, wf.ID)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	for _, id := range ids {
		wf, err := service.WaitUntilCompleted(waitCtx, id, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("wait failed for %s: %v", id, err)
		}
		if wf.Status != StatusCompleted {
			t.Fatalf("unexpected terminal status for %s: %s", id, wf.Status)
		}
	}
	if !almostEqual(ledger.TotalRevenue(), 4*0.030) {
		t.Fatalf("unexpected ledger revenue: %v", ledger.TotalRevenue())
	}
}

func collectEventTypes(t *testing.T, ch chan events.Event, min int) []string {
	t.Helper()
	types := make([]string, 0, min)
	deadline := time.After(2 * time.Second)
	for len(types) < min {
		select {
		case event := <-ch:
			types = append(types, event.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	return types
}
