package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultRefreshInterval 令牌检查间隔。取用本身带缓存,
// 间隔只决定发现到期的及时性。
const DefaultRefreshInterval = 30 * time.Second

// CredentialSink 令牌更新的接收方,由传输连接实现。
// 在线连接收到新令牌后立即重新鉴权。
type CredentialSink interface {
	SetCredential(token string)
}

// Refresher 周期性地从令牌源取用令牌并推送给连接。
// 令牌未变化时不打扰连接。
type Refresher struct {
	source   TokenSource
	sink     CredentialSink
	interval time.Duration
	log      *zap.Logger
	clk      clock.Clock

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// RefresherOption Refresher 的可选配置
type RefresherOption func(*Refresher)

// WithRefresherClock 注入时钟
func WithRefresherClock(clk clock.Clock) RefresherOption {
	return func(r *Refresher) { r.clk = clk }
}

// WithRefreshInterval 设置检查间隔
func WithRefreshInterval(interval time.Duration) RefresherOption {
	return func(r *Refresher) { r.interval = interval }
}

// NewRefresher 创建令牌轮换器
func NewRefresher(source TokenSource, sink CredentialSink, logger *zap.Logger, opts ...RefresherOption) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Refresher{
		source:   source,
		sink:     sink,
		interval: DefaultRefreshInterval,
		log:      logger,
		clk:      clock.New(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start 取用初始令牌推送给连接,随后启动后台轮换。
// 初始取用失败时不启动,错误返回给调用方。停止后可再次启动。
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("auth: refresher already started")
	}

	token, err := r.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("auth: initial token: %w", err)
	}
	r.sink.SetCredential(token)

	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(token, r.stop, r.done)
	return nil
}

// Stop 停止轮换并等待后台协程退出。未启动时为空操作。
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
}

func (r *Refresher) loop(last string, stop, done chan struct{}) {
	defer close(done)
	ticker := r.clk.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			token, err := r.source.Token(context.Background())
			if err != nil {
				r.log.Warn("token refresh failed", zap.Error(err))
				continue
			}
			if token == last {
				continue
			}
			last = token
			r.sink.SetCredential(token)
			r.log.Info("credential rotated")
		}
	}
}
