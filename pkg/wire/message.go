// Package wire 定义与WES流网关交换的线上消息格式
//
// 网关以单个WebSocket连接复用多条逻辑事件流,每帧承载一个Message。
// 路由仅依据 id 字段进行(同一id关联出站注册与入站事件);type 字段
// 在多路复用层只用于诊断,业务语义由流自身的回调解释。
package wire

import (
	"encoding/json"
	"time"
)

// 消息类型常量
const (
	// TypeListen 出站:注册一条事件流
	TypeListen = "listen"
	// TypeUnlisten 出站:取消一条事件流
	TypeUnlisten = "unlisten"
	// TypeAuth 出站:连接鉴权(握手或凭证更新)
	TypeAuth = "auth"

	// TypeData 入站:事件数据帧
	TypeData = "data"
	// TypeAuthOK 入站:鉴权成功确认
	TypeAuthOK = "auth_ok"
	// TypeListening 入站:流注册/恢复确认
	TypeListening = "listening"
	// TypeUnlistening 入站:流取消确认
	TypeUnlistening = "unlistening"
	// TypeError 入站:网关错误通知
	TypeError = "error"
)

// Message 网关消息帧
//
// 多路复用层只检查 ID、Type 与 Position 三个字段,其余字段原样透传。
// Position 为空指针表示"未指定起始位置"(由网关决定,通常为当前位置),
// 与位置0(从头开始)严格区分。
type Message struct {
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Topic    string                 `json:"topic,omitempty"`
	ChainID  string                 `json:"chain_id,omitempty"`
	Position *uint64                `json:"position,omitempty"`
	Filters  map[string]interface{} `json:"filters,omitempty"`
	Events   []Event                `json:"events,omitempty"`
	Token    string                 `json:"token,omitempty"`
	Error    *ErrorDetail           `json:"error,omitempty"`
}

// Event 数据帧中的单个链事件
type Event struct {
	Position uint64 `json:"position"`
	Kind     string `json:"kind"` // newHead/log/pendingTx

	// 链上锚定
	Height uint64 `json:"height,omitempty"`
	Hash   string `json:"hash,omitempty"`

	// 重组安全字段
	Removed bool   `json:"removed,omitempty"`
	ReorgID string `json:"reorg_id,omitempty"`

	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// ErrorDetail 网关错误详情
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewListen 构建一条流注册消息
// id 可以为空,由多路复用器在注册时分配
func NewListen(id, topic string) *Message {
	return &Message{
		ID:    id,
		Type:  TypeListen,
		Topic: topic,
	}
}

// NewUnlisten 构建一条流取消消息
func NewUnlisten(id string) *Message {
	return &Message{
		ID:   id,
		Type: TypeUnlisten,
	}
}

// NewAuth 构建一条鉴权消息
func NewAuth(token string) *Message {
	return &Message{
		Type:  TypeAuth,
		Token: token,
	}
}

// WithChain 设置链ID
func (m *Message) WithChain(chainID string) *Message {
	m.ChainID = chainID
	return m
}

// WithPosition 设置起始位置
func (m *Message) WithPosition(p uint64) *Message {
	m.Position = &p
	return m
}

// WithFilters 设置过滤器
func (m *Message) WithFilters(filters map[string]interface{}) *Message {
	m.Filters = filters
	return m
}

// Position 返回指向p的指针,用于以字面量填充可选位置字段
func Position(p uint64) *uint64 {
	return &p
}
