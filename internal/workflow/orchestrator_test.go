package workflow

import (
	"context"
	"errors"
	"math"
	"testing"

	"AgentMarket-Chain/internal/catalog"
	"AgentMarket-Chain/internal/invoke"
	"AgentMarket-Chain/internal/payment"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Provider{
		{ID: "search_pro_2024", PriceUnit: 0.012, Category: "Research"},
		{ID: "content_creator_pro", PriceUnit: 0.008, Category: "Content"},
		{ID: "business_analyst_ai", PriceUnit: 0.018, Category: "Business Intelligence"},
	})
}

type failingInvoker struct{}

func (failingInvoker) Invoke(context.Context, invoke.Request) (map[string]any, error) {
	return nil, errors.New("provider exploded")
}

func TestExecuteFullPipeline(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))

	wf := &Workflow{
		ID:                "wf-1",
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "content_creator_pro", "business_analyst_ai"},
		PayerRef:          "demo_wallet",
	}
	outcome, err := orch.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(outcome.Stages) != 3 {
		t.Fatalf("unexpected stage count: %d", len(outcome.Stages))
	}
	if !almostEqual(outcome.TotalCost, 0.038) {
		t.Fatalf("unexpected total cost: %v", outcome.TotalCost)
	}
	var sum float64
	for i, stage := range outcome.Stages {
		if stage.Transaction == nil {
			t.Fatalf("stage %d missing transaction", i)
		}
		if stage.Result == nil {
			t.Fatalf("stage %d missing result", i)
		}
		sum += stage.Transaction.Amount
	}
	if !almostEqual(sum, outcome.TotalCost) {
		t.Fatalf("total cost does not match transactions: %v vs %v", sum, outcome.TotalCost)
	}
	if order := []string{outcome.Stages[0].ProviderID, outcome.Stages[1].ProviderID, outcome.Stages[2].ProviderID}; order[0] != "search_pro_2024" || order[1] != "content_creator_pro" || order[2] != "business_analyst_ai" {
		t.Fatalf("stages out of order: %v", order)
	}
	if !almostEqual(ledger.TotalRevenue(), 0.038) {
		t.Fatalf("unexpected ledger revenue: %v", ledger.TotalRevenue())
	}
}

func TestExecuteSkipsUnknownProviders(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))

	wf := &Workflow{
		ID:                "wf-2",
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "missing_agent", "content_creator_pro"},
		PayerRef:          "demo_wallet",
	}
	outcome, err := orch.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(outcome.Stages) != 2 {
		t.Fatalf("unexpected stage count: %d", len(outcome.Stages))
	}
	if !almostEqual(outcome.TotalCost, 0.020) {
		t.Fatalf("unexpected total cost: %v", outcome.TotalCost)
	}
	if ledger.Stats().TotalTransactions != 2 {
		t.Fatalf("unknown provider must not be charged")
	}
}

func TestExecuteAbortsOnProviderFailure(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	registry := invoke.NewRegistry()
	registry.Register("Research", invoke.NewResearchInvoker(0))
	registry.Register("Content", failingInvoker{})
	registry.Register("Business Intelligence", invoke.NewAnalysisInvoker(0))
	orch := NewOrchestrator(testCatalog(), ledger, registry)

	wf := &Workflow{
		ID:                "wf-3",
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "content_creator_pro", "business_analyst_ai"},
		PayerRef:          "demo_wallet",
	}
	outcome, err := orch.Execute(context.Background(), wf)
	if err == nil {
		t.Fatal("expected provider failure")
	}
	// 第二个阶段已扣费但没有产出，第三个阶段不应执行。
	if len(outcome.Stages) != 2 {
		t.Fatalf("unexpected stage count: %d", len(outcome.Stages))
	}
	if outcome.Stages[0].Result == nil {
		t.Fatal("first stage should have a result")
	}
	if outcome.Stages[1].Result != nil {
		t.Fatal("failed stage must not have a result")
	}
	if outcome.Stages[1].Transaction == nil {
		t.Fatal("failed stage keeps its charge")
	}
	if !almostEqual(outcome.TotalCost, 0.020) {
		t.Fatalf("unexpected total cost: %v", outcome.TotalCost)
	}
	if ledger.Stats().TotalTransactions != 2 {
		t.Fatalf("charges before the failure must stand")
	}
}

func TestExecuteDuplicateProviderChargedTwice(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))

	wf := &Workflow{
		ID:                "wf-4",
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "search_pro_2024"},
		PayerRef:          "demo_wallet",
	}
	outcome, err := orch.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(outcome.Stages) != 2 {
		t.Fatalf("each occurrence is an independent stage, got %d", len(outcome.Stages))
	}
	if !almostEqual(outcome.TotalCost, 0.024) {
		t.Fatalf("unexpected total cost: %v", outcome.TotalCost)
	}
	if ledger.CountForProvider("search_pro_2024") != 2 {
		t.Fatalf("expected two charges for the duplicated provider")
	}
}

func TestExecuteEmptySelection(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))

	wf := &Workflow{ID: "wf-5", Query: "widgets", PayerRef: "demo_wallet"}
	outcome, err := orch.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(outcome.Stages) != 0 || outcome.TotalCost != 0 {
		t.Fatalf("empty selection must be a zero-cost no-op: %+v", outcome)
	}
}

func TestExecuteLaterStageSeesPriorResults(t *testing.T) {
	ledger := payment.NewLedger(0.25)
	orch := NewOrchestrator(testCatalog(), ledger, invoke.DefaultRegistry(0))

	wf := &Workflow{
		ID:                "wf-6",
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024", "content_creator_pro"},
		PayerRef:          "demo_wallet",
	}
	outcome, err := orch.Execute(context.Background(), wf)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	second := outcome.Stages[1].Result
	if second["source_stages"] != 1 {
		t.Fatalf("second stage should see one prior result: %+v", second)
	}
}
