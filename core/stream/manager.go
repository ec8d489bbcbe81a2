package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/weisyn/go-wesstream/core/events"
	"github.com/weisyn/go-wesstream/core/metrics"
	"github.com/weisyn/go-wesstream/core/transport"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// Config 流管理器配置
type Config struct {
	// Endpoint 网关地址,仅用于日志与事件载荷
	Endpoint string
	// DisableAutoRestart 禁用重连后的自动流重启,
	// 断线恢复后由调用方手动逐流 Restart
	DisableAutoRestart bool
}

// Manager 流多路复用器。
//
// 独占一条 Connection 并维护 id 到 Stream 的注册表。连接生命周期
// 完全由活跃流数量驱动:0→1 建立连接,1→0 断开连接,调用方不直接
// 控制连接。
//
// 不变式:
//   - 注册表先插入条目,再发送注册帧;发送失败立即回滚,
//     注册表绝不含注册帧未送达的流
//   - 注销先移除条目,再发送注销帧;迟到的入站帧静默丢弃,
//     已移除的条目不会复活
//
// 两条不变式由 opMu 临界区内的固定语句顺序保证,注册、注销与
// 释放互相串行;入站路由与重连重启不取 opMu,与它们并发执行。
type Manager struct {
	cfg Config
	log *zap.Logger

	conn transport.Connection
	bus  *events.Bus
	met  *metrics.StreamMetrics

	// opMu 串行化注册/注销/释放等生命周期操作
	opMu sync.Mutex

	// mu 保护注册表
	mu      sync.RWMutex
	streams map[string]*Stream
}

// Option Manager 的可选配置
type Option func(*Manager)

// WithBus 注入事件总线,发布连接与流的生命周期事件
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics 注入流指标收集器
func WithMetrics(met *metrics.StreamMetrics) Option {
	return func(m *Manager) { m.met = met }
}

// NewManager 创建流管理器,不建立连接
func NewManager(conn transport.Connection, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:     cfg,
		log:     logger,
		conn:    conn,
		streams: make(map[string]*Stream),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterStream 注册一条逻辑流。
//
// msg 为注册帧,其 ID 字段作为路由键,为空时自动分配;onMessage
// 接收所有携带该标识的入站帧。首个流注册时先建立连接(含鉴权握手)
// 再发送注册帧。标识冲突返回 DuplicateStreamError,注册帧发送失败
// 回滚注册表并返回 RegistrationError。
func (m *Manager) RegisterStream(ctx context.Context, msg *wire.Message, onMessage MessageCallback, opts ...StreamOption) (*Stream, error) {
	if msg == nil {
		return nil, fmt.Errorf("stream: registration message required")
	}
	if onMessage == nil {
		return nil, fmt.Errorf("stream: message callback required")
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.RLock()
	_, exists := m.streams[id]
	active := len(m.streams)
	m.mu.RUnlock()
	if exists {
		return nil, &DuplicateStreamError{ID: id}
	}

	s := &Stream{
		id:        id,
		mgr:       m,
		template:  *msg,
		onMessage: onMessage,
	}
	s.template.ID = id
	if s.template.Type == "" {
		s.template.Type = wire.TypeListen
	}
	for _, o := range opts {
		o(s)
	}

	// 首个流:先完成连接再发注册帧
	if active == 0 {
		if err := m.conn.Connect(ctx, transport.ConnectOptions{
			OnMessage:   m.route,
			OnReconnect: m.handleReconnect,
		}); err != nil {
			m.met.IncRegistrationFailure()
			return nil, transport.WrapError("connect", err)
		}
		m.log.Info("connection established",
			zap.String("endpoint", m.cfg.Endpoint))
		m.publishConnEvent(events.TopicConnectionUp)
	}

	// 先入表后发送:入站帧不会先于路由表就绪到达
	m.mu.Lock()
	m.streams[id] = s
	m.mu.Unlock()

	if err := s.start(ctx); err != nil {
		m.rollbackRegistration(ctx, id)
		m.met.IncRegistrationFailure()
		return nil, &RegistrationError{ID: id, Err: err}
	}

	m.met.IncRegistration()
	m.met.SetActive(m.Len())
	m.publishStreamEvent(events.TopicStreamRegistered, s, nil)
	m.log.Info("stream registered",
		zap.String("stream_id", id),
		zap.String("topic", s.template.Topic))
	return s, nil
}

// UnregisterStream 注销指定流。未注册的标识是幂等的空操作。
//
// 先移除注册表条目再发送注销帧;移除后活跃数归零时断开连接。
// 注销帧发送与断开的错误合并返回,条目移除不会因此回滚。
func (m *Manager) UnregisterStream(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	s, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.streams, id)
	remaining := len(m.streams)
	m.mu.Unlock()

	var errs error
	if err := m.conn.Send(ctx, wire.NewUnlisten(id)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("send unlisten: %w", err))
	}

	if remaining == 0 {
		if err := m.conn.Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disconnect: %w", err))
		}
		m.publishConnEvent(events.TopicConnectionDown)
	}

	m.met.IncUnregistration()
	m.met.SetActive(remaining)
	m.publishStreamEvent(events.TopicStreamUnregistered, s, nil)
	m.log.Info("stream unregistered",
		zap.String("stream_id", id),
		zap.Int("remaining", remaining))
	return errs
}

// Release 尽力断开连接,错误只记录不上抛。终结清理路径,
// 注册表保持原样,残留的流句柄随连接断开而失效。
func (m *Manager) Release(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.conn.Disconnect(ctx); err != nil {
		m.log.Warn("disconnect failed during release", zap.Error(err))
	}
	m.publishConnEvent(events.TopicConnectionDown)
	m.log.Info("stream manager released", zap.Int("streams_left", m.Len()))
}

// Len 返回当前活跃流数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// ActiveStreams 返回当前活跃流标识,按字典序排序
func (m *Manager) ActiveStreams() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Connected 返回底层连接是否在线
func (m *Manager) Connected() bool {
	return m.conn.IsConnected()
}

// has 注册表成员查询
func (m *Manager) has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[id]
	return ok
}

// rollbackRegistration 回滚失败的注册:移除条目,
// 活跃数归零时顺带断开刚建立的连接
func (m *Manager) rollbackRegistration(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.streams, id)
	remaining := len(m.streams)
	m.mu.Unlock()

	if remaining == 0 {
		if err := m.conn.Disconnect(ctx); err != nil {
			m.log.Warn("disconnect failed during registration rollback",
				zap.String("stream_id", id), zap.Error(err))
		}
		m.publishConnEvent(events.TopicConnectionDown)
	}
}

// route 入站帧路由。由连接的读协程顺序调用,帧序即派发序。
// 查表在读锁内完成,派发在锁外执行,回调内可以再进入管理器。
func (m *Manager) route(msg *wire.Message) {
	if msg.ID == "" {
		m.met.IncDropped()
		m.log.Debug("dropping frame without stream id",
			zap.String("type", msg.Type))
		return
	}

	m.mu.RLock()
	s, ok := m.streams[msg.ID]
	m.mu.RUnlock()
	if !ok {
		// 刚注销的流仍可能有在途帧,属正常瞬态
		m.met.IncDropped()
		m.log.Debug("dropping frame for unknown stream",
			zap.String("stream_id", msg.ID),
			zap.String("type", msg.Type))
		return
	}

	m.met.IncRouted()
	s.deliver(msg)
}

// handleReconnect 重连恢复处理。对重连时刻的每条活跃流独立重启,
// 单条失败不阻断其余流,失败的流保持注册但数据已停,
// 由调用方根据日志或总线事件决定后续处理。
func (m *Manager) handleReconnect() {
	m.publishConnEvent(events.TopicConnectionReconnected)

	if m.cfg.DisableAutoRestart {
		m.log.Info("reconnected, auto restart disabled, streams stay idle")
		return
	}

	m.mu.RLock()
	snapshot := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	m.log.Info("reconnected, restarting streams", zap.Int("count", len(snapshot)))
	for _, s := range snapshot {
		if err := s.Restart(context.Background()); err != nil {
			m.log.Warn("stream restart failed after reconnect",
				zap.String("stream_id", s.id),
				zap.String("topic", s.template.Topic),
				zap.Error(err))
		}
	}
}

func (m *Manager) publishStreamEvent(topic string, s *Stream, err error) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, events.StreamEvent{
		StreamID: s.id,
		Topic:    s.template.Topic,
		ChainID:  s.template.ChainID,
		Position: s.ActiveMarker(),
		Err:      err,
		At:       time.Now(),
	})
}

func (m *Manager) publishConnEvent(topic string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, events.ConnectionEvent{
		Endpoint: m.cfg.Endpoint,
		At:       time.Now(),
	})
}
