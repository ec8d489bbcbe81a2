package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RESTClient REST API 客户端,承载会话签发、元数据与历史事件查询
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRESTClient 创建REST客户端。apiKey 非空时所有请求携带 Bearer 鉴权头。
func NewRESTClient(baseURL string, apiKey string, timeout time.Duration) *RESTClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// 确保baseURL以/api/v1结尾
	if !strings.HasSuffix(baseURL, "/api/v1") {
		baseURL = strings.TrimRight(baseURL, "/") + "/api/v1"
	}

	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// get 发送GET请求
func (c *RESTClient) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// 构建URL
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	// 创建请求
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// 发送请求
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 检查状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	// 解析响应
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post 发送POST请求
func (c *RESTClient) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	// 序列化请求体
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	// 创建请求
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// 发送请求
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 检查状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	// 解析响应
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// decodeAPIError 将非 2xx 响应体解析为 APIError。
// 标准错误体是 {"error":{"code","message"}} 包络,兼容平铺的
// {"code","message"} 形态,两者都解析不出时退化为原始文本。
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Message != "" {
		return apiErr
	}

	apiErr.Code = ""
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// ===== 接口实现 =====

// EventQuery 历史事件查询条件
type EventQuery struct {
	Topic   string
	ChainID string
	// From 起始进度位置(含),nil 表示从最早可用事件开始
	From *uint64
	// Limit 单页最大事件数,0 表示网关默认值
	Limit int
}

// CreateSession 用 API Key 换取短期会话令牌,供 WebSocket 握手使用
func (c *RESTClient) CreateSession(ctx context.Context) (*Session, error) {
	var session Session
	err := c.post(ctx, "/sessions", nil, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListChains 查询网关侧所有可用链
func (c *RESTClient) ListChains(ctx context.Context) ([]ChainInfo, error) {
	var result struct {
		Chains []ChainInfo `json:"chains"`
	}
	err := c.get(ctx, "/chains", nil, &result)
	return result.Chains, err
}

// ListTopics 查询可订阅主题。chainID 非空时按链过滤。
func (c *RESTClient) ListTopics(ctx context.Context, chainID string) ([]TopicInfo, error) {
	params := url.Values{}
	if chainID != "" {
		params.Set("chain_id", chainID)
	}

	var result struct {
		Topics []TopicInfo `json:"topics"`
	}
	err := c.get(ctx, "/topics", params, &result)
	return result.Topics, err
}

// GetEvents 分页查询历史事件,用于流式订阅前的回填
func (c *RESTClient) GetEvents(ctx context.Context, query EventQuery) (*EventPage, error) {
	if query.Topic == "" {
		return nil, fmt.Errorf("event query requires a topic")
	}

	params := url.Values{}
	params.Set("topic", query.Topic)
	if query.ChainID != "" {
		params.Set("chain_id", query.ChainID)
	}
	if query.From != nil {
		params.Set("from", strconv.FormatUint(*query.From, 10))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}

	var page EventPage
	err := c.get(ctx, "/events", params, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Ping 健康检查
func (c *RESTClient) Ping(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}

// Close 释放空闲连接
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
