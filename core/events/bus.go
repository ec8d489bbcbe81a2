// 基于asaskevich/EventBus的进程内事件总线
// 客户端各组件通过总线广播连接与流的生命周期事件,供调用方观测

package events

import (
	"time"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// ===== 主题定义 =====

const (
	// TopicConnectionUp 连接建立
	TopicConnectionUp = "connection.up"
	// TopicConnectionDown 连接主动断开
	TopicConnectionDown = "connection.down"
	// TopicConnectionReconnected 断线后自动重连成功
	TopicConnectionReconnected = "connection.reconnected"

	// TopicStreamRegistered 流注册成功
	TopicStreamRegistered = "stream.registered"
	// TopicStreamUnregistered 流注销
	TopicStreamUnregistered = "stream.unregistered"
	// TopicStreamRestarted 流重启成功
	TopicStreamRestarted = "stream.restarted"
	// TopicStreamRestartFailed 流重启失败,流保持注册但数据已停
	TopicStreamRestartFailed = "stream.restart_failed"
)

// ===== 载荷类型 =====

// ConnectionEvent 连接主题的载荷
type ConnectionEvent struct {
	Endpoint string    `json:"endpoint"`
	At       time.Time `json:"at"`
}

// StreamEvent 流主题的载荷。Position 为事件发生时刻的生效位置,
// Err 仅在 restart_failed 主题上非空。
type StreamEvent struct {
	StreamID string    `json:"stream_id"`
	Topic    string    `json:"topic"`
	ChainID  string    `json:"chain_id,omitempty"`
	Position *uint64   `json:"position,omitempty"`
	Err      error     `json:"-"`
	At       time.Time `json:"at"`
}

// ===== 总线实现 =====

// Bus 进程内事件总线。实例允许为 nil,nil 时所有方法为空操作。
//
// Publish 的派发语义沿用底层总线:Subscribe 注册的处理器内联执行,
// SubscribeAsync 注册的处理器在独立协程执行。处理耗时较长的订阅方
// 应使用 SubscribeAsync,避免阻塞发布路径。
type Bus struct {
	bus evbus.Bus
	log *zap.Logger
}

// New 创建事件总线
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		bus: evbus.New(),
		log: logger,
	}
}

// Publish 发布事件
func (b *Bus) Publish(topic string, payload interface{}) {
	if b == nil {
		return
	}
	b.log.Debug("publishing event", zap.String("topic", topic))
	b.bus.Publish(topic, payload)
}

// Subscribe 同步订阅,处理器在发布协程内联执行
func (b *Bus) Subscribe(topic string, handler interface{}) error {
	if b == nil {
		return nil
	}
	return b.bus.Subscribe(topic, handler)
}

// SubscribeAsync 异步订阅,处理器在独立协程执行
func (b *Bus) SubscribeAsync(topic string, handler interface{}) error {
	if b == nil {
		return nil
	}
	return b.bus.SubscribeAsync(topic, handler, false)
}

// SubscribeOnce 一次性订阅,触发后自动解除
func (b *Bus) SubscribeOnce(topic string, handler interface{}) error {
	if b == nil {
		return nil
	}
	return b.bus.SubscribeOnce(topic, handler)
}

// Unsubscribe 解除订阅
func (b *Bus) Unsubscribe(topic string, handler interface{}) error {
	if b == nil {
		return nil
	}
	return b.bus.Unsubscribe(topic, handler)
}

// WaitAsync 等待所有异步处理器完成
func (b *Bus) WaitAsync() {
	if b == nil {
		return
	}
	b.bus.WaitAsync()
}
