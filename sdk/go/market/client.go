package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the marketplace REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Provider describes an agent listed in the marketplace catalog.
type Provider struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PriceUnit     float64  `json:"price_unit"`
	Capabilities  []string `json:"capabilities"`
	Category      string   `json:"category"`
	Owner         string   `json:"owner"`
	Rating        float64  `json:"rating"`
	TotalUses     int      `json:"total_uses"`
	AvgLatencySec float64  `json:"avg_latency_sec"`
	SuccessRate   float64  `json:"success_rate"`
}

// CatalogPage is the payload returned by the provider listing endpoint.
type CatalogPage struct {
	Providers  []Provider `json:"providers"`
	Categories []string   `json:"categories"`
	Total      int        `json:"total"`
}

// Receipt carries the settlement reference for a confirmed charge.
type Receipt struct {
	Ref         string `json:"ref"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Transaction is a single confirmed charge recorded by the ledger.
type Transaction struct {
	ID              string  `json:"id"`
	ProviderID      string  `json:"provider_id"`
	Amount          float64 `json:"amount"`
	PayerRef        string  `json:"payer_ref"`
	TreasuryRef     string  `json:"treasury_ref"`
	Status          string  `json:"status"`
	PlatformFee     float64 `json:"platform_fee"`
	ProviderEarning float64 `json:"provider_earning"`
	Receipt         Receipt `json:"receipt"`
	CreatedAt       int64   `json:"created_at"`
}

// WorkflowSubmission represents the payload required to start a workflow.
type WorkflowSubmission struct {
	ID                string   `json:"id,omitempty"`
	Query             string   `json:"query"`
	SelectedProviders []string `json:"selected_providers"`
	PayerRef          string   `json:"payer_ref,omitempty"`
	Async             bool     `json:"async,omitempty"`
}

// Stage records the charge and, when the invocation succeeded, the result of
// one provider invocation within a workflow.
type Stage struct {
	ProviderID  string         `json:"provider_id"`
	Transaction *Transaction   `json:"transaction"`
	Result      map[string]any `json:"result,omitempty"`
}

// Workflow contains the full view of a submitted workflow.
type Workflow struct {
	ID                string                    `json:"id"`
	Query             string                    `json:"query"`
	SelectedProviders []string                  `json:"selected_providers"`
	PayerRef          string                    `json:"payer_ref"`
	Status            string                    `json:"status"`
	Stages            []Stage                   `json:"stages"`
	Results           map[string]map[string]any `json:"results,omitempty"`
	Transactions      map[string]*Transaction   `json:"transactions,omitempty"`
	TotalCost         float64                   `json:"total_cost"`
	ErrorDetail       string                    `json:"error_detail,omitempty"`
	ErrorCode         string                    `json:"error_code,omitempty"`
	SessionID         string                    `json:"session_id,omitempty"`
	ThreadID          string                    `json:"thread_id,omitempty"`
	CreatedAt         int64                     `json:"created_at"`
	StartedAt         int64                     `json:"started_at,omitempty"`
	CompletedAt       int64                     `json:"completed_at,omitempty"`
	FailedAt          int64                     `json:"failed_at,omitempty"`
	UpdatedAt         int64                     `json:"updated_at"`
}

// Quote is a pre-submission cost estimate for a provider selection.
type Quote struct {
	Skipped          []string `json:"skipped"`
	TotalCost        float64  `json:"total_cost"`
	PlatformFeeRatio float64  `json:"platform_fee_ratio"`
	PlatformFee      float64  `json:"platform_fee"`
	ProviderEarnings float64  `json:"provider_earnings"`
}

// LedgerPage is the payload returned by the transaction listing endpoint.
type LedgerPage struct {
	Transactions []Transaction `json:"transactions"`
	TotalRevenue float64       `json:"total_revenue"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("marketplace api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the marketplace API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Providers fetches the full provider catalog.
func (c *Client) Providers(ctx context.Context) (CatalogPage, error) {
	var page CatalogPage
	if err := c.get(ctx, "/api/v1/providers", &page); err != nil {
		return CatalogPage{}, err
	}
	return page, nil
}

// Provider fetches a single catalog entry by identifier.
func (c *Client) Provider(ctx context.Context, id string) (Provider, error) {
	var provider Provider
	if err := c.get(ctx, "/api/v1/providers/"+url.PathEscape(id), &provider); err != nil {
		return Provider{}, err
	}
	return provider, nil
}

// Quote estimates the cost of a provider selection without charging.
func (c *Client) Quote(ctx context.Context, providerIDs []string) (Quote, error) {
	var quote Quote
	payload := struct {
		SelectedProviders []string `json:"selected_providers"`
	}{SelectedProviders: providerIDs}
	if err := c.post(ctx, "/api/v1/payments/quote", payload, &quote); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// SubmitWorkflow starts a workflow. Synchronous submissions return the
// terminal workflow; async ones return the queued record immediately.
func (c *Client) SubmitWorkflow(ctx context.Context, submission WorkflowSubmission) (Workflow, error) {
	var wf Workflow
	if err := c.post(ctx, "/api/v1/workflows", submission, &wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow fetches workflow details by identifier.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	var wf Workflow
	if err := c.get(ctx, "/api/v1/workflows/"+url.PathEscape(workflowID), &wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// WaitForWorkflow polls until the workflow reaches a terminal status or the
// context is cancelled. A failed workflow is a normal record, not an error.
func (c *Client) WaitForWorkflow(ctx context.Context, workflowID string, interval time.Duration) (Workflow, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		wf, err := c.GetWorkflow(ctx, workflowID)
		if err != nil {
			return Workflow{}, err
		}
		if wf.Status == "completed" || wf.Status == "failed" {
			return wf, nil
		}
		select {
		case <-ctx.Done():
			return Workflow{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Transactions fetches the most recent ledger entries.
func (c *Client) Transactions(ctx context.Context, limit int) (LedgerPage, error) {
	endpoint := "/api/v1/transactions"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var page LedgerPage
	if err := c.get(ctx, endpoint, &page); err != nil {
		return LedgerPage{}, err
	}
	return page, nil
}

// MarketplaceStats fetches the aggregated marketplace view.
func (c *Client) MarketplaceStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.get(ctx, "/api/v1/marketplace/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
