// Package transport 提供与 WES 流网关通信的底层传输层。
//
// 包含两条通道:
//   - Connection:持久化 WebSocket 双工通道,承载流式订阅帧
//   - RESTClient:普通 HTTP 通道,承载会话、元数据与历史查询
//
// Connection 的实现负责连接生命周期(拨号、鉴权握手、保活、断线重连),
// 但不理解流语义:帧按请求标识路由的工作由上层 stream.Manager 完成。
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/weisyn/go-wesstream/pkg/wire"
)

// ===== 错误定义 =====

var (
	// ErrNotConnected 连接未建立或已断开时的发送/操作错误
	ErrNotConnected = errors.New("transport: not connected")
	// ErrAlreadyConnected 重复建立连接
	ErrAlreadyConnected = errors.New("transport: already connected")
)

// TransportError 包装传输层不透明故障(拨号失败、写超时、对端关闭等),
// Op 标识出错的操作阶段。
type TransportError struct {
	Op  string // dial / handshake / send / close
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WrapError 将错误包装为 TransportError;若已是 TransportError 则原样返回。
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// ===== 连接契约 =====

// MessageHandler 入站帧回调。传输层在单一读协程上顺序调用,
// 回调返回前不会派发下一帧。
type MessageHandler func(msg *wire.Message)

// ConnectOptions 建立连接时注册的回调集合。
type ConnectOptions struct {
	// OnMessage 每收到一帧调用一次,不得为 nil
	OnMessage MessageHandler
	// OnReconnect 断线后自动重连成功(含重新握手)时调用,可为 nil。
	// 调用发生在新连接可写之后,回调内可以直接 Send。
	OnReconnect func()
}

// Connection 持久化双工连接的抽象。
//
// 实现必须满足:
//   - Connect 在拨号与鉴权握手全部完成后才返回
//   - Send 并发安全,可在任意协程调用
//   - Disconnect 幂等,断开后可再次 Connect 复用同一实例
//   - 自动重连成功后回调 OnReconnect,重连期间 Send 返回 ErrNotConnected
type Connection interface {
	// Connect 建立连接并注册回调。已连接时返回 ErrAlreadyConnected。
	Connect(ctx context.Context, opts ConnectOptions) error

	// Send 向网关发送一帧。未连接时返回包装后的 ErrNotConnected。
	Send(ctx context.Context, msg *wire.Message) error

	// Disconnect 主动断开连接并停止重连。未连接时直接返回 nil。
	Disconnect(ctx context.Context) error

	// IsConnected 返回当前是否存在可用连接
	IsConnected() bool

	// SetCredential 更新鉴权令牌。连接在线时立即发送重新鉴权帧,
	// 后续握手使用新令牌。
	SetCredential(token string)
}

// ===== REST 数据类型 =====

// Session 会话凭证,由 REST 通道签发,WebSocket 握手时使用
type Session struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // Unix 秒
}

// ChainInfo 网关侧链的静态信息
type ChainInfo struct {
	ChainID     string `json:"chain_id"`
	Name        string `json:"name"`
	Height      uint64 `json:"height"`
	FinalHeight uint64 `json:"final_height"`
}

// TopicInfo 可订阅主题的描述
type TopicInfo struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Resumable   bool   `json:"resumable"`
}

// EventPage 历史事件查询的分页结果
type EventPage struct {
	Events       []wire.Event `json:"events"`
	NextPosition *uint64      `json:"next_position,omitempty"`
}

// APIError REST 网关返回的业务错误(非 2xx 响应体)
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (http %d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (http %d): %s", e.Status, e.Message)
}
