package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 10 * time.Second
)

// Config 描述了访问外部协调服务所需的信息。
type Config struct {
	BaseURL       string
	ApplicationID string
	PrivacyKey    string
	Timeout       time.Duration
}

// Client 通过 HTTP 访问协调服务的会话与消息接口。
type Client struct {
	baseURL       string
	applicationID string
	privacyKey    string
	httpClient    *http.Client
}

// NewClient 根据配置创建协调服务客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未配置协调服务地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	applicationID := strings.TrimSpace(cfg.ApplicationID)
	if applicationID == "" {
		applicationID = "app"
	}
	privacyKey := strings.TrimSpace(cfg.PrivacyKey)
	if privacyKey == "" {
		privacyKey = "priv"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:       baseURL,
		applicationID: applicationID,
		privacyKey:    privacyKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Probe 检查协调服务是否可达。
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("构建健康检查请求失败: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("协调服务不可达: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("协调服务健康检查返回状态 %d", resp.StatusCode)
	}
	return nil
}

// OpenSession 创建协调会话并返回会话 ID。
func (c *Client) OpenSession(ctx context.Context) (string, error) {
	payload := map[string]any{
		"applicationId": c.applicationID,
		"privacyKey":    c.privacyKey,
	}
	var decoded struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.postJSON(ctx, "/sessions", payload, &decoded); err != nil {
		return "", err
	}
	if decoded.SessionID == "" {
		return "", errors.New("协调服务未返回会话 ID")
	}
	return decoded.SessionID, nil
}

// CreateThread 在会话内创建一个对话线程。
func (c *Client) CreateThread(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("会话 ID 不能为空")
	}
	payload := map[string]any{
		"name":        fmt.Sprintf("marketplace_thread_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		"description": "agent marketplace workflow thread",
	}
	var decoded struct {
		ThreadID string `json:"threadId"`
	}
	if err := c.postJSON(ctx, fmt.Sprintf("/sessions/%s/threads", sessionID), payload, &decoded); err != nil {
		return "", err
	}
	if decoded.ThreadID == "" {
		return "", errors.New("协调服务未返回线程 ID")
	}
	return decoded.ThreadID, nil
}

// SendMessage 向指定线程发送一条描述性消息。
func (c *Client) SendMessage(ctx context.Context, sessionID, threadID, message string) error {
	if sessionID == "" || threadID == "" {
		return errors.New("会话与线程 ID 不能为空")
	}
	payload := map[string]any{
		"message":   message,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	path := fmt.Sprintf("/sessions/%s/threads/%s/messages", sessionID, threadID)
	return c.postJSON(ctx, path, payload, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化协调请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("构建协调请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求协调服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("协调服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析协调响应失败: %w", err)
	}
	return nil
}
