package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentMarket-Chain/sdk/go/market"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/providers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(market.CatalogPage{
			Providers: []market.Provider{
				{ID: "search_pro_2024", Name: "Search Pro Agent", PriceUnit: 0.012, Category: "Research"},
				{ID: "content_creator_pro", Name: "Content Creator Pro", PriceUnit: 0.008, Category: "Content"},
			},
			Categories: []string{"Content", "Research"},
			Total:      2,
		})
	})
	mux.HandleFunc("/api/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(market.Workflow{
				ID:        "wf-demo",
				Status:    "completed",
				TotalCost: 0.020,
				Results: map[string]map[string]any{
					"search_pro_2024":     {"type": "market_intelligence"},
					"content_creator_pro": {"type": "blog_post"},
				},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := market.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := client.Providers(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("catalog lists %d providers\n", page.Total)

	wf, err := client.SubmitWorkflow(ctx, market.WorkflowSubmission{
		Query:             "market analysis for widgets",
		SelectedProviders: []string{"search_pro_2024", "content_creator_pro"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("workflow %s finished status=%s cost=%.3f\n", wf.ID, wf.Status, wf.TotalCost)
}
