package invoke

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRegistryResolvesKnownCategories(t *testing.T) {
	registry := DefaultRegistry(0)

	for _, category := range []string{"Research", "Content", "Business Intelligence"} {
		invoker, ok := registry.Resolve(category)
		if !ok || invoker == nil {
			t.Fatalf("expected invoker for category %q", category)
		}
	}

	// 未知分类命中兜底实现。
	invoker, ok := registry.Resolve("Unknown Category")
	if !ok || invoker == nil {
		t.Fatal("expected fallback invoker")
	}
	payload, err := invoker.Invoke(context.Background(), Request{Query: "solar panels"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if payload["echo"] != "solar panels" {
		t.Fatalf("unexpected fallback payload: %+v", payload)
	}
}

func TestResolveWithoutFallback(t *testing.T) {
	registry := NewRegistry()
	registry.Register("Research", NewResearchInvoker(0))

	if _, ok := registry.Resolve("Content"); ok {
		t.Fatal("expected miss for unregistered category")
	}
}

func TestResearchInvokerPayload(t *testing.T) {
	invoker := NewResearchInvoker(0)
	payload, err := invoker.Invoke(context.Background(), Request{Query: "ev batteries"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	results, ok := payload["results"].(map[string]any)
	if !ok {
		t.Fatalf("expected results map, got %+v", payload)
	}
	if _, ok := results["market_intelligence"]; !ok {
		t.Fatalf("expected market intelligence block: %+v", results)
	}
}

func TestInvokerHonorsContextCancel(t *testing.T) {
	invoker := NewAnalysisInvoker(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := invoker.Invoke(ctx, Request{Query: "anything"}); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
