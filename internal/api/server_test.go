package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentMarket-Chain/internal/catalog"
	"AgentMarket-Chain/internal/invoke"
	"AgentMarket-Chain/internal/payment"
	"AgentMarket-Chain/internal/workflow"
)

func newTestServer(t *testing.T) (*Server, *payment.Ledger) {
	t.Helper()
	cat := catalog.Default()
	ledger := payment.NewLedger(0.25)
	store := workflow.NewMemoryStore()
	orch := workflow.NewOrchestrator(cat, ledger, invoke.DefaultRegistry(0))
	processor := workflow.NewProcessor(orch, store, nil)
	service := workflow.NewService(store, nil, processor)
	return NewServer(":0", cat, ledger, service), ledger
}

func TestHandleProviders(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var got struct {
		Providers  []catalog.Provider `json:"providers"`
		Categories []string           `json:"categories"`
		Total      int                `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 3 || len(got.Providers) != 3 {
		t.Fatalf("unexpected catalog payload: %+v", got)
	}
}

func TestHandleProviderDetail(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/search_pro_2024", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}
}

func TestSubmitWorkflowSynchronous(t *testing.T) {
	server, ledger := newTestServer(t)

	body := `{"query":"widgets","selected_providers":["search_pro_2024","content_creator_pro"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d body=%s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["status"] != string(workflow.StatusCompleted) {
		t.Fatalf("unexpected status: %v", got["status"])
	}
	if math.Abs(got["total_cost"].(float64)-0.020) > 1e-9 {
		t.Fatalf("unexpected total cost: %v", got["total_cost"])
	}
	results, ok := got["results"].(map[string]any)
	if !ok || len(results) != 2 {
		t.Fatalf("unexpected results: %v", got["results"])
	}
	if ledger.Stats().TotalTransactions != 2 {
		t.Fatalf("ledger should record two charges")
	}

	// 随后可以按 ID 查询到同一条记录。
	id := got["id"].(string)
	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("workflow detail lookup failed: %d", rec.Code)
	}
}

func TestSubmitWorkflowRejectsEmptyQuery(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rec.Code)
	}
}

func TestWorkflowDetailNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleTransactionsAndStats(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"query":"widgets","selected_providers":["business_analyst_ai"]}`
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions failed: %d", rec.Code)
	}
	var txResp struct {
		Transactions []payment.Transaction `json:"transactions"`
		TotalRevenue float64               `json:"total_revenue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &txResp); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txResp.Transactions) != 1 || math.Abs(txResp.TotalRevenue-0.018) > 1e-9 {
		t.Fatalf("unexpected transactions payload: %+v", txResp)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
}

func TestHandlePaymentQuote(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"selected_providers":["search_pro_2024","missing","content_creator_pro"]}`
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/quote", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("quote failed: %d", rec.Code)
	}
	var got struct {
		TotalCost   float64  `json:"total_cost"`
		PlatformFee float64  `json:"platform_fee"`
		Skipped     []string `json:"skipped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if math.Abs(got.TotalCost-0.020) > 1e-9 {
		t.Fatalf("unexpected quote total: %v", got.TotalCost)
	}
	if math.Abs(got.PlatformFee-0.005) > 1e-9 {
		t.Fatalf("unexpected platform fee: %v", got.PlatformFee)
	}
	if len(got.Skipped) != 1 || got.Skipped[0] != "missing" {
		t.Fatalf("unexpected skipped list: %v", got.Skipped)
	}
}

func TestHandleHealthAndCoordination(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/coordination", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("coordination failed: %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode coordination: %v", err)
	}
	if got["state"] != "disabled" {
		t.Fatalf("expected disabled coordination by default: %v", got)
	}
}
