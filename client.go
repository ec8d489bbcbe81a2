// Package wesstream WES 流网关 Go SDK - 统一的客户端入口
//
// 在单个 WebSocket 连接上复用多条逻辑事件流:连接随首个订阅建立、
// 随最后一个订阅注销而断开,断线自动重连并从各流标记的进度位置续传。
// REST 侧提供链/主题查询与历史事件回填。
package wesstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/weisyn/go-wesstream/core/auth"
	"github.com/weisyn/go-wesstream/core/config"
	"github.com/weisyn/go-wesstream/core/events"
	"github.com/weisyn/go-wesstream/core/metrics"
	"github.com/weisyn/go-wesstream/core/stream"
	"github.com/weisyn/go-wesstream/core/transport"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// 网关内置主题
const (
	// TopicNewHeads 新区块头
	TopicNewHeads = "newHeads"
	// TopicLogs 合约日志
	TopicLogs = "logs"
	// TopicPendingTxs 待打包交易
	TopicPendingTxs = "pendingTxs"
)

// ErrNoRESTEndpoint REST端点未配置,查询与回填不可用
var ErrNoRESTEndpoint = errors.New("wesstream: rest endpoint not configured")

// Config 客户端配置。零值字段取默认值。
type Config struct {
	// WSEndpoint 网关流地址,如 wss://gateway.wes.network/stream,必填
	WSEndpoint string
	// RESTEndpoint 网关REST地址,为空时禁用查询、回填与会话鉴权
	RESTEndpoint string
	// APIKey 鉴权凭证。配置了RESTEndpoint时用于换取短期会话令牌,
	// 否则直接作为连接令牌
	APIKey string
	// ChainID 便捷订阅的默认链
	ChainID string

	// Timeout REST请求超时
	Timeout time.Duration

	// 连接参数,透传给底层WebSocket连接
	HandshakeTimeout     time.Duration
	ReconnectBaseWait    time.Duration
	ReconnectMaxWait     time.Duration
	MaxReconnectAttempts int
	DisableReconnect     bool

	// DisableAutoRestart 重连后不自动重启流
	DisableAutoRestart bool

	// TokenRefreshInterval 会话令牌的检查间隔
	TokenRefreshInterval time.Duration
	// DisableTokenRefresh 不换取会话令牌,APIKey直接作为连接令牌
	DisableTokenRefresh bool

	Logger *zap.Logger
	// Metrics 指标注册器,为空时不收集指标
	Metrics prometheus.Registerer
}

// EventCallback 便捷订阅的事件回调,每个链事件调用一次。
// ev 指向帧内缓冲,仅在调用期间有效,需要保留时应复制。
type EventCallback func(ev *wire.Event)

// Client WES 流网关客户端
type Client struct {
	cfg Config
	log *zap.Logger

	conn *transport.WSConnection
	rest *transport.RESTClient
	mgr  *stream.Manager
	bus  *events.Bus

	refresher *auth.Refresher

	// authMu 保护会话刷新的惰性启动
	authMu      sync.Mutex
	authStarted bool
}

// New 创建客户端实例,不发起任何网络交互。
// 连接随首个订阅建立,会话令牌随首个订阅换取。
func New(cfg Config) (*Client, error) {
	if cfg.WSEndpoint == "" {
		return nil, fmt.Errorf("wesstream: ws endpoint required")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var connMet *metrics.ConnMetrics
	var streamMet *metrics.StreamMetrics
	if cfg.Metrics != nil {
		connMet = metrics.NewConnMetrics(cfg.Metrics)
		streamMet = metrics.NewStreamMetrics(cfg.Metrics)
	}

	conn := transport.NewWSConnection(transport.WSConfig{
		Endpoint:             cfg.WSEndpoint,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		ReconnectBaseWait:    cfg.ReconnectBaseWait,
		ReconnectMaxWait:     cfg.ReconnectMaxWait,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		DisableReconnect:     cfg.DisableReconnect,
	}, log, transport.WithConnMetrics(connMet))

	c := &Client{
		cfg:  cfg,
		log:  log,
		conn: conn,
		bus:  events.New(log),
	}

	if cfg.RESTEndpoint != "" {
		c.rest = transport.NewRESTClient(cfg.RESTEndpoint, cfg.APIKey, cfg.Timeout)
	}

	// 鉴权:优先走会话令牌,退化为静态令牌
	switch {
	case cfg.APIKey == "":
		// 无鉴权,本地网关场景
	case c.rest != nil && !cfg.DisableTokenRefresh:
		source := auth.NewSessionSource(c.rest, log)
		var opts []auth.RefresherOption
		if cfg.TokenRefreshInterval > 0 {
			opts = append(opts, auth.WithRefreshInterval(cfg.TokenRefreshInterval))
		}
		c.refresher = auth.NewRefresher(source, conn, log, opts...)
	default:
		conn.SetCredential(cfg.APIKey)
	}

	c.mgr = stream.NewManager(conn, stream.Config{
		Endpoint:           cfg.WSEndpoint,
		DisableAutoRestart: cfg.DisableAutoRestart,
	}, log, stream.WithBus(c.bus), stream.WithMetrics(streamMet))

	return c, nil
}

// NewFromProfile 按配置Profile创建客户端,取优先级最高的端点
func NewFromProfile(profile *config.Profile, logger *zap.Logger) (*Client, error) {
	if profile == nil {
		return nil, fmt.Errorf("wesstream: profile required")
	}
	ep := profile.Primary()
	if ep == nil || ep.WS == "" {
		return nil, fmt.Errorf("wesstream: profile %q has no websocket endpoint", profile.Name)
	}

	return New(Config{
		WSEndpoint:           ep.WS,
		RESTEndpoint:         ep.REST,
		APIKey:               profile.APIKey(),
		ChainID:              profile.ChainID,
		Timeout:              time.Duration(profile.Timeout),
		ReconnectBaseWait:    time.Duration(profile.ReconnectBaseWait),
		ReconnectMaxWait:     time.Duration(profile.ReconnectMaxWait),
		MaxReconnectAttempts: profile.MaxReconnectAttempts,
		DisableAutoRestart:   profile.DisableAutoRestart,
		Logger:               logger,
	})
}

// === 流订阅 ===

// Register 注册一条逻辑流,完整控制注册帧与回调。
// 首个流注册时建立连接,标识冲突返回 DuplicateStreamError。
func (c *Client) Register(ctx context.Context, msg *wire.Message, onMessage stream.MessageCallback, opts ...stream.StreamOption) (*stream.Stream, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	return c.mgr.RegisterStream(ctx, msg, onMessage, opts...)
}

// Unregister 注销指定流,最后一条流注销时断开连接
func (c *Client) Unregister(ctx context.Context, id string) error {
	return c.mgr.UnregisterStream(ctx, id)
}

// SubscribeNewHeads 订阅新区块头,chainID为空时取默认链
func (c *Client) SubscribeNewHeads(ctx context.Context, chainID string, cb EventCallback) (*stream.Stream, error) {
	return c.subscribe(ctx, TopicNewHeads, chainID, nil, cb)
}

// SubscribeLogs 订阅合约日志,filters按网关约定过滤(如address/topics)
func (c *Client) SubscribeLogs(ctx context.Context, chainID string, filters map[string]interface{}, cb EventCallback) (*stream.Stream, error) {
	return c.subscribe(ctx, TopicLogs, chainID, filters, cb)
}

// SubscribePendingTxs 订阅待打包交易
func (c *Client) SubscribePendingTxs(ctx context.Context, chainID string, cb EventCallback) (*stream.Stream, error) {
	return c.subscribe(ctx, TopicPendingTxs, chainID, nil, cb)
}

// subscribe 便捷订阅的公共路径:自动分配流标识,逐事件派发回调,
// 数据帧消费完自动推进进度标记,断线重连后从标记位置续传
func (c *Client) subscribe(ctx context.Context, topic, chainID string, filters map[string]interface{}, cb EventCallback) (*stream.Stream, error) {
	if cb == nil {
		return nil, fmt.Errorf("wesstream: event callback required")
	}
	if chainID == "" {
		chainID = c.cfg.ChainID
	}

	msg := wire.NewListen("", topic).WithChain(chainID)
	if len(filters) > 0 {
		msg.WithFilters(filters)
	}

	handler := func(m *wire.Message) {
		switch m.Type {
		case wire.TypeData:
			for i := range m.Events {
				cb(&m.Events[i])
			}
		case wire.TypeError:
			if m.Error != nil {
				c.log.Warn("gateway error on stream",
					zap.String("stream_id", m.ID),
					zap.String("code", m.Error.Code),
					zap.String("message", m.Error.Message))
			}
		}
	}

	return c.Register(ctx, msg, handler, stream.WithAutoMark())
}

// === 便捷方法：链与主题查询 ===

// Chains 列出网关可用的链
func (c *Client) Chains(ctx context.Context) ([]transport.ChainInfo, error) {
	if c.rest == nil {
		return nil, ErrNoRESTEndpoint
	}
	return c.rest.ListChains(ctx)
}

// Topics 列出指定链可订阅的主题,chainID为空时取默认链
func (c *Client) Topics(ctx context.Context, chainID string) ([]transport.TopicInfo, error) {
	if c.rest == nil {
		return nil, ErrNoRESTEndpoint
	}
	if chainID == "" {
		chainID = c.cfg.ChainID
	}
	return c.rest.ListTopics(ctx, chainID)
}

// === 便捷方法：历史回填 ===

// Backfill 按位置区间拉取历史事件,配合订阅实现先补后追
func (c *Client) Backfill(ctx context.Context, query transport.EventQuery) (*transport.EventPage, error) {
	if c.rest == nil {
		return nil, ErrNoRESTEndpoint
	}
	if query.ChainID == "" {
		query.ChainID = c.cfg.ChainID
	}
	return c.rest.GetEvents(ctx, query)
}

// Ping 探测网关REST端点可达性
func (c *Client) Ping(ctx context.Context) error {
	if c.rest == nil {
		return ErrNoRESTEndpoint
	}
	return c.rest.Ping(ctx)
}

// === 状态与访问器 ===

// Bus 返回事件总线,订阅连接与流的生命周期事件
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// REST 返回底层REST客户端,用于直接调用网关API
func (c *Client) REST() *transport.RESTClient {
	return c.rest
}

// Connected 返回流连接是否在线
func (c *Client) Connected() bool {
	return c.mgr.Connected()
}

// ActiveStreams 返回当前活跃流标识
func (c *Client) ActiveStreams() []string {
	return c.mgr.ActiveStreams()
}

// Close 释放客户端:停止令牌刷新、尽力断开连接、回收REST连接池。
// 断开过程的错误只记录不上抛。
func (c *Client) Close(ctx context.Context) error {
	if c.refresher != nil {
		c.refresher.Stop()
	}
	c.mgr.Release(ctx)
	if c.rest != nil {
		return c.rest.Close()
	}
	return nil
}

// ensureSession 惰性启动会话刷新:换取首个令牌并注入连接。
// 失败不做状态记忆,下次调用重试。
func (c *Client) ensureSession(ctx context.Context) error {
	if c.refresher == nil {
		return nil
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.authStarted {
		return nil
	}
	if err := c.refresher.Start(ctx); err != nil {
		return fmt.Errorf("wesstream: start session refresh: %w", err)
	}
	c.authStarted = true
	return nil
}
