// Package auth 提供流网关的令牌获取与轮换。
//
// WebSocket 握手使用短期会话令牌,由 REST 通道以 API Key 换取。
// TokenSource 抽象令牌来源:固定令牌用于测试与长期凭证,
// SessionSource 负责会话令牌的懒加载与到期前刷新。
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/weisyn/go-wesstream/core/transport"
)

// DefaultRefreshLeeway 会话到期前提前刷新的窗口
const DefaultRefreshLeeway = 30 * time.Second

// TokenSource 令牌提供方
type TokenSource interface {
	// Token 返回当前有效令牌,必要时先行刷新
	Token(ctx context.Context) (string, error)
}

// Static 固定令牌源
type Static string

// Token 实现 TokenSource 接口
func (s Static) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// SessionProvider 会话签发方,由 REST 客户端实现
type SessionProvider interface {
	CreateSession(ctx context.Context) (*transport.Session, error)
}

// SessionSource 基于会话的令牌源。
//
// 首次取用时签发会话,之后缓存令牌直到临近过期;
// 刷新失败时保留旧令牌,下次取用重试。并发取用串行化,
// 同一时刻至多一次签发请求在途。
type SessionSource struct {
	provider SessionProvider
	log      *zap.Logger
	clk      clock.Clock
	leeway   time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// SessionOption SessionSource 的可选配置
type SessionOption func(*SessionSource)

// WithSessionClock 注入时钟,测试中用于驱动过期
func WithSessionClock(clk clock.Clock) SessionOption {
	return func(s *SessionSource) { s.clk = clk }
}

// WithRefreshLeeway 设置提前刷新窗口
func WithRefreshLeeway(leeway time.Duration) SessionOption {
	return func(s *SessionSource) { s.leeway = leeway }
}

// NewSessionSource 创建会话令牌源
func NewSessionSource(provider SessionProvider, logger *zap.Logger, opts ...SessionOption) *SessionSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionSource{
		provider: provider,
		log:      logger,
		clk:      clock.New(),
		leeway:   DefaultRefreshLeeway,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Token 实现 TokenSource 接口
func (s *SessionSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clk.Now().Before(s.expiresAt.Add(-s.leeway)) {
		return s.token, nil
	}

	session, err := s.provider.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	s.token = session.Token
	s.expiresAt = time.Unix(session.ExpiresAt, 0)
	s.log.Info("session token refreshed",
		zap.Time("expires_at", s.expiresAt))
	return s.token, nil
}

// Invalidate 作废缓存的令牌,下次取用强制重新签发
func (s *SessionSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}
