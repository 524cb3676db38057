package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProvidersDecodesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/providers" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(CatalogPage{
			Providers: []Provider{
				{ID: "search_pro_2024", PriceUnit: 0.012, Category: "Research"},
			},
			Categories: []string{"Research"},
			Total:      1,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	page, err := client.Providers(context.Background())
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if page.Total != 1 || page.Providers[0].ID != "search_pro_2024" {
		t.Fatalf("unexpected catalog page: %+v", page)
	}
}

func TestSubmitWorkflowAndWait(t *testing.T) {
	submitted := false
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/workflows" && r.Method == http.MethodPost:
			var body WorkflowSubmission
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			if body.Query != "widgets" {
				t.Fatalf("unexpected query: %q", body.Query)
			}
			submitted = true
			_ = json.NewEncoder(w).Encode(Workflow{ID: "wf-1", Status: "queued"})
		case r.URL.Path == "/api/v1/workflows/wf-1":
			polls++
			status := "processing"
			if polls >= 2 {
				status = "completed"
			}
			_ = json.NewEncoder(w).Encode(Workflow{ID: "wf-1", Status: status, TotalCost: 0.020})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	wf, err := client.SubmitWorkflow(context.Background(), WorkflowSubmission{
		Query:             "widgets",
		SelectedProviders: []string{"search_pro_2024"},
		Async:             true,
	})
	if err != nil {
		t.Fatalf("submit workflow: %v", err)
	}
	if !submitted || wf.ID != "wf-1" {
		t.Fatalf("submission not recorded: %+v", wf)
	}

	final, err := client.WaitForWorkflow(context.Background(), "wf-1", time.Millisecond)
	if err != nil {
		t.Fatalf("wait for workflow: %v", err)
	}
	if final.Status != "completed" || final.TotalCost != 0.020 {
		t.Fatalf("unexpected terminal workflow: %+v", final)
	}
}

func TestGetWorkflowError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "工作流不存在", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetWorkflow(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestQuotePassesLimitAndSelection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/payments/quote":
			var body struct {
				SelectedProviders []string `json:"selected_providers"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode quote request: %v", err)
			}
			if len(body.SelectedProviders) != 2 {
				t.Fatalf("unexpected selection: %v", body.SelectedProviders)
			}
			_ = json.NewEncoder(w).Encode(Quote{TotalCost: 0.020, PlatformFee: 0.005})
		case "/api/v1/transactions":
			if r.URL.Query().Get("limit") != "5" {
				t.Fatalf("limit not forwarded: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(LedgerPage{TotalRevenue: 0.020})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	quote, err := client.Quote(context.Background(), []string{"search_pro_2024", "content_creator_pro"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.TotalCost != 0.020 {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	page, err := client.Transactions(context.Background(), 5)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if page.TotalRevenue != 0.020 {
		t.Fatalf("unexpected ledger page: %+v", page)
	}
}
