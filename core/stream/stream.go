// Package stream 实现单连接之上的多路逻辑流。
//
// Manager 独占一条 transport.Connection,维护请求标识到 Stream 的
// 路由表:首个流注册时建立连接,最后一个流注销时断开;入站帧按
// 标识派发;断线重连后自动重发所有活跃流的注册帧,并以各流标记的
// 进度位置覆盖起始位置,实现断点续传。
package stream

import (
	"context"
	"sync"

	"github.com/weisyn/go-wesstream/core/events"
	"github.com/weisyn/go-wesstream/core/transport"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// MessageCallback 流的入站帧回调。按连接收到的顺序同步调用。
type MessageCallback func(msg *wire.Message)

// Stream 一条逻辑流的调用方句柄。
//
// 持有注册帧模板与进度标记。标记由调用方在消费数据后通过 Mark
// 显式推进,重启时按 显式参数 > 已存标记 > 模板原始位置 的优先级
// 决定续传起点。
type Stream struct {
	id  string
	mgr *Manager

	// template 注册帧模板,注册后不再修改;重启帧由它浅拷贝而来
	template wire.Message

	onMessage     MessageCallback
	onPostRestart func()
	autoMark      bool

	markerMu sync.Mutex
	marker   *uint64
}

// StreamOption 注册流时的可选配置
type StreamOption func(*Stream)

// WithPostRestart 设置重启成功后的回调,在重启帧发出后同步调用
func WithPostRestart(fn func()) StreamOption {
	return func(s *Stream) { s.onPostRestart = fn }
}

// WithAutoMark 数据帧回调返回后自动把标记推进到帧内最后一个事件的
// 位置。标记在回调之后推进,事件处理到一半断线时会从该帧重放。
func WithAutoMark() StreamOption {
	return func(s *Stream) { s.autoMark = true }
}

// ID 返回流标识
func (s *Stream) ID() string {
	return s.id
}

// Topic 返回注册帧的主题
func (s *Stream) Topic() string {
	return s.template.Topic
}

// ChainID 返回注册帧的链标识
func (s *Stream) ChainID() string {
	return s.template.ChainID
}

// Mark 记录进度标记,覆盖之前的值。不做单调性校验,最新标记生效。
// 无网络交互。
func (s *Stream) Mark(position uint64) {
	s.markerMu.Lock()
	defer s.markerMu.Unlock()
	p := position
	s.marker = &p
}

// ActiveMarker 返回最近一次 Mark 的位置,从未标记过时返回 nil
func (s *Stream) ActiveMarker() *uint64 {
	s.markerMu.Lock()
	defer s.markerMu.Unlock()
	if s.marker == nil {
		return nil
	}
	p := *s.marker
	return &p
}

// Restart 重发注册帧续传本流,起点取已存标记,无标记时沿用模板位置
func (s *Stream) Restart(ctx context.Context) error {
	return s.restart(ctx, nil)
}

// RestartFrom 从指定位置重发注册帧,忽略已存标记
func (s *Stream) RestartFrom(ctx context.Context, position uint64) error {
	return s.restart(ctx, &position)
}

// Close 注销本流。连接已断开时为空操作:
// 没有可达的对端,注销帧无从送达。
func (s *Stream) Close(ctx context.Context) error {
	if !s.mgr.conn.IsConnected() {
		return nil
	}
	return s.mgr.UnregisterStream(ctx, s.id)
}

// restart 构造并发送重启帧。流必须仍在注册表内;
// 重启复用现有注册表条目,不会重新注册。
func (s *Stream) restart(ctx context.Context, override *uint64) error {
	if !s.mgr.has(s.id) {
		return &StreamNotRegisteredError{ID: s.id}
	}

	msg := s.restartMessage(override)
	if err := s.mgr.conn.Send(ctx, msg); err != nil {
		err = transport.WrapError("restart", err)
		s.mgr.met.IncRestartFailure()
		s.mgr.publishStreamEvent(events.TopicStreamRestartFailed, s, err)
		return err
	}

	s.mgr.met.IncRestart()
	s.mgr.publishStreamEvent(events.TopicStreamRestarted, s, nil)
	if s.onPostRestart != nil {
		s.onPostRestart()
	}
	return nil
}

// restartMessage 模板的浅拷贝,起始位置按优先级覆盖:
// 显式参数 > 已存标记 > 模板原值
func (s *Stream) restartMessage(override *uint64) *wire.Message {
	msg := s.template
	if override != nil {
		p := *override
		msg.Position = &p
		return &msg
	}
	if marker := s.ActiveMarker(); marker != nil {
		msg.Position = marker
	}
	return &msg
}

// start 首次发送注册帧,仅在注册流程中调用一次
func (s *Stream) start(ctx context.Context) error {
	msg := s.template
	return s.mgr.conn.Send(ctx, &msg)
}

// deliver 派发一帧给流回调
func (s *Stream) deliver(msg *wire.Message) {
	s.onMessage(msg)
	if s.autoMark && msg.Type == wire.TypeData && len(msg.Events) > 0 {
		s.Mark(msg.Events[len(msg.Events)-1].Position)
	}
}
