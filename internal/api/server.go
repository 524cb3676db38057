package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentMarket-Chain/internal/catalog"
	"AgentMarket-Chain/internal/coordination"
	"AgentMarket-Chain/internal/events"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/payment"
	"AgentMarket-Chain/internal/workflow"
)

// Server 负责暴露市场的 REST 接口。
type Server struct {
	addr        string
	catalog     *catalog.Catalog
	ledger      *payment.Ledger
	service     *workflow.Service
	integration *coordination.Integration
	broadcaster *events.Broadcaster
}

// ServerOption 定义可选的服务配置。
type ServerOption func(*Server)

// WithCoordination 暴露协调层状态接口。
func WithCoordination(integration *coordination.Integration) ServerOption {
	return func(s *Server) {
		s.integration = integration
	}
}

// WithEventBroadcaster 启用 SSE 事件流接口。
func WithEventBroadcaster(broadcaster *events.Broadcaster) ServerOption {
	return func(s *Server) {
		s.broadcaster = broadcaster
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, cat *catalog.Catalog, ledger *payment.Ledger, service *workflow.Service, opts ...ServerOption) *Server {
	s := &Server{
		addr:    addr,
		catalog: cat,
		ledger:  ledger,
		service: service,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Routes 返回完整的路由表，测试可以直接挂到 httptest 上。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/providers", s.instrument("providers", s.handleProviders))
	mux.HandleFunc("/api/v1/providers/", s.instrument("provider_detail", s.handleProviderDetail))
	mux.HandleFunc("/api/v1/marketplace/stats", s.instrument("marketplace_stats", s.handleMarketplaceStats))
	mux.HandleFunc("/api/v1/workflows", s.instrument("workflows", s.handleWorkflows))
	mux.HandleFunc("/api/v1/workflows/", s.instrument("workflow_detail", s.handleWorkflowDetail))
	mux.HandleFunc("/api/v1/transactions", s.instrument("transactions", s.handleTransactions))
	mux.HandleFunc("/api/v1/payments/quote", s.instrument("payment_quote", s.handlePaymentQuote))
	mux.HandleFunc("/api/v1/coordination", s.instrument("coordination", s.handleCoordination))
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))
	return mux
}

// instrument 统计每个接口的请求量与耗时。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		http.Error(w, "目录未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  s.catalog.List(),
		"categories": s.catalog.Categories(),
		"total":      s.catalog.Len(),
	})
}

func (s *Server) handleProviderDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/providers/")
	if id == "" {
		http.Error(w, "缺少 Provider ID", http.StatusBadRequest)
		return
	}
	provider, ok := s.catalog.Get(id)
	if !ok {
		http.Error(w, "Provider 不存在", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

func (s *Server) handleMarketplaceStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	ledgerStats := s.ledger.Stats()
	workflowStats, err := s.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  s.catalog.Len(),
		"categories": s.catalog.Categories(),
		"ledger":     ledgerStats,
		"workflows":  workflowStats,
	})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitWorkflow(w, r)
	case http.MethodGet:
		s.handleListWorkflows(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// submitRequest 在工作流请求之上增加异步提交开关。
type submitRequest struct {
	workflow.Request
	Async bool `json:"async"`
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "工作流服务未初始化", http.StatusServiceUnavailable)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("async") == "true" {
		req.Async = true
	}

	ctx := r.Context()
	var (
		wf  *workflow.Workflow
		err error
	)
	if req.Async {
		wf, err = s.service.SubmitAsync(ctx, req.Request)
	} else {
		wf, err = s.service.Submit(ctx, req.Request)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.ObserveWorkflow(string(wf.Status))
	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, renderWorkflow(wf))
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	opts := make([]workflow.ListOption, 0, 4)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, workflow.WithLimit(parsed))
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses := make([]workflow.Status, 0, 2)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, workflow.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, workflow.WithStatuses(statuses...))
	}
	if raw := r.URL.Query().Get("query"); raw != "" {
		opts = append(opts, workflow.WithQuery(raw))
	}

	workflows, err := s.service.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rendered := make([]map[string]any, 0, len(workflows))
	for _, wf := range workflows {
		rendered = append(rendered, renderWorkflow(wf))
	}
	writeJSON(w, http.StatusOK, rendered)
}

func (s *Server) handleWorkflowDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/workflows/")
	if id == "" {
		http.Error(w, "缺少工作流 ID", http.StatusBadRequest)
		return
	}
	wf, err := s.service.Get(r.Context(), id)
	if err != nil {
		if workflow.IsWorkflowError(err, workflow.CodeWorkflowNotFound) {
			http.Error(w, "工作流不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, renderWorkflow(wf))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions":  s.ledger.Recent(limit),
		"total_revenue": s.ledger.TotalRevenue(),
	})
}

// quoteRequest 描述一次报价请求。
type quoteRequest struct {
	SelectedProviders []string `json:"selected_providers"`
}

func (s *Server) handlePaymentQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	var total float64
	items := make([]map[string]any, 0, len(req.SelectedProviders))
	skipped := make([]string, 0)
	for _, id := range req.SelectedProviders {
		provider, ok := s.catalog.Get(id)
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		total += provider.PriceUnit
		items = append(items, map[string]any{
			"provider_id": provider.ID,
			"price_unit":  provider.PriceUnit,
		})
	}
	feeRatio := s.ledger.PlatformFeeRatio()
	writeJSON(w, http.StatusOK, map[string]any{
		"items":              items,
		"skipped":            skipped,
		"total_cost":         total,
		"platform_fee_ratio": feeRatio,
		"platform_fee":       total * feeRatio,
		"provider_earnings":  total * (1 - feeRatio),
	})
}

func (s *Server) handleCoordination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.integration == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": string(coordination.StateDisabled)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      string(s.integration.State()),
		"session_id": s.integration.SessionID(),
	})
}

// handleEvents 以 Server-Sent Events 形式转发工作流生命周期事件。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.broadcaster == nil {
		http.Error(w, "事件广播未启用", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "当前连接不支持流式响应", http.StatusInternalServerError)
		return
	}

	sub := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub:
			if !open {
				return
			}
			encoded, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, encoded)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"providers": s.catalog.Len(),
		"timestamp": time.Now().Unix(),
	})
}

// renderWorkflow 在序列化时补充按 Provider 聚合的视图。
func renderWorkflow(wf *workflow.Workflow) map[string]any {
	out := map[string]any{
		"id":                 wf.ID,
		"query":              wf.Query,
		"selected_providers": wf.SelectedProviders,
		"payer_ref":          wf.PayerRef,
		"status":             wf.Status,
		"stages":             wf.Stages,
		"results":            wf.Results(),
		"transactions":       wf.Transactions(),
		"total_cost":         wf.TotalCost,
		"created_at":         wf.CreatedAt,
		"updated_at":         wf.UpdatedAt,
	}
	if wf.StartedAt != 0 {
		out["started_at"] = wf.StartedAt
	}
	if wf.CompletedAt != 0 {
		out["completed_at"] = wf.CompletedAt
	}
	if wf.FailedAt != 0 {
		out["failed_at"] = wf.FailedAt
	}
	if wf.ErrorDetail != "" {
		out["error_detail"] = wf.ErrorDetail
		out["error_code"] = wf.ErrorCode
	}
	if wf.SessionID != "" {
		out["session_id"] = wf.SessionID
		out["thread_id"] = wf.ThreadID
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
