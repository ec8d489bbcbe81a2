package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weisyn/go-wesstream/core/metrics"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// ===== 默认参数 =====

const (
	// DefaultHandshakeTimeout 拨号与鉴权握手的超时
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultWriteTimeout 单帧写超时
	DefaultWriteTimeout = 5 * time.Second
	// DefaultPongWait 两次 pong 之间允许的最大间隔,超时视为连接失效
	DefaultPongWait = 60 * time.Second
	// DefaultPingInterval 保活 ping 的发送间隔,必须小于 PongWait
	DefaultPingInterval = 25 * time.Second
	// DefaultReconnectBaseWait 重连退避的起始等待
	DefaultReconnectBaseWait = 1 * time.Second
	// DefaultReconnectMaxWait 重连退避的等待上限
	DefaultReconnectMaxWait = 30 * time.Second
)

// WSConfig WebSocket 连接配置。零值字段取默认值。
type WSConfig struct {
	// Endpoint 网关流地址,如 wss://gateway.wes.network/stream
	Endpoint string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration

	// ReconnectBaseWait 断线后首次重试前的等待,之后按指数退避增长
	ReconnectBaseWait time.Duration
	// ReconnectMaxWait 退避等待的上限
	ReconnectMaxWait time.Duration
	// MaxReconnectAttempts 单次断线允许的最大重试次数,0 表示不限
	MaxReconnectAttempts int
	// DisableReconnect 禁用自动重连,断线后连接保持关闭
	DisableReconnect bool
}

func (c *WSConfig) normalize() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 20
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.ReconnectMaxWait < c.ReconnectBaseWait {
		c.ReconnectMaxWait = DefaultReconnectMaxWait
	}
}

// ===== WebSocket 连接实现 =====

// WSConnection 基于 gorilla/websocket 的 Connection 实现。
//
// 生命周期以 Connect/Disconnect 为界:Connect 打开一个连接周期,
// 周期内断线会自动重连(除非配置禁用),Disconnect 结束周期并停止重连。
// 同一实例可在断开后重新 Connect。
type WSConnection struct {
	cfg WSConfig
	log *zap.Logger
	clk clock.Clock
	met *metrics.ConnMetrics

	// mu 保护 conn 与 quit。quit 非 nil 表示连接周期打开,
	// conn 非 nil 表示当前在线。重连间隙 quit 非 nil 而 conn 为 nil。
	mu   sync.Mutex
	conn *websocket.Conn
	quit chan struct{}

	// writeMu 串行化所有出站写(数据帧、ping、关闭帧)
	writeMu sync.Mutex

	credMu sync.RWMutex
	token  string
}

var _ Connection = (*WSConnection)(nil)

// WSOption WSConnection 的可选配置
type WSOption func(*WSConnection)

// WithClock 注入时钟,测试中用于驱动退避与保活定时
func WithClock(clk clock.Clock) WSOption {
	return func(c *WSConnection) { c.clk = clk }
}

// WithConnMetrics 注入连接指标收集器
func WithConnMetrics(m *metrics.ConnMetrics) WSOption {
	return func(c *WSConnection) { c.met = m }
}

// NewWSConnection 创建 WebSocket 连接实例,不发起拨号
func NewWSConnection(cfg WSConfig, logger *zap.Logger, opts ...WSOption) *WSConnection {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &WSConnection{
		cfg: cfg,
		log: logger,
		clk: clock.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect 实现 Connection 接口
func (c *WSConnection) Connect(ctx context.Context, opts ConnectOptions) error {
	if opts.OnMessage == nil {
		return &TransportError{Op: "connect", Err: errors.New("OnMessage handler required")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quit != nil {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	quit := make(chan struct{})
	c.conn = conn
	c.quit = quit
	c.met.SetConnected(true)
	c.log.Info("websocket connected", zap.String("endpoint", c.cfg.Endpoint))

	go c.readLoop(conn, quit, opts)
	go c.pingLoop(conn, quit)
	return nil
}

// Send 实现 Connection 接口
func (c *WSConnection) Send(ctx context.Context, msg *wire.Message) error {
	if err := ctx.Err(); err != nil {
		return WrapError("send", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return WrapError("send", ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		c.met.IncSendFailure()
		return WrapError("send", err)
	}
	c.met.IncSent()
	return nil
}

// Disconnect 实现 Connection 接口
func (c *WSConnection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.quit == nil {
		c.mu.Unlock()
		return nil
	}
	close(c.quit)
	c.quit = nil
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.met.SetConnected(false)
	if conn == nil {
		// 断线重连间隙,没有底层连接可关
		c.log.Info("websocket disconnected during reconnect window")
		return nil
	}

	// 尽力通知对端,随后关闭底层连接
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		return WrapError("close", err)
	}
	c.log.Info("websocket disconnected")
	return nil
}

// IsConnected 实现 Connection 接口
func (c *WSConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetCredential 实现 Connection 接口
func (c *WSConnection) SetCredential(token string) {
	c.credMu.Lock()
	c.token = token
	c.credMu.Unlock()

	if token == "" || !c.IsConnected() {
		return
	}
	// 在线时立即重新鉴权,失败留给读循环的断线处理
	if err := c.Send(context.Background(), wire.NewAuth(token)); err != nil {
		c.log.Warn("re-auth frame send failed", zap.Error(err))
	}
}

// dial 拨号并完成鉴权握手,失败时返回包装后的错误
func (c *WSConnection) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// handshake 发送鉴权帧并等待网关确认;未配置令牌时跳过
func (c *WSConnection) handshake(conn *websocket.Conn) error {
	c.credMu.RLock()
	token := c.token
	c.credMu.RUnlock()
	if token == "" {
		return nil
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(wire.NewAuth(token)); err != nil {
		return &TransportError{Op: "handshake", Err: err}
	}

	_ = conn.SetReadDeadline(deadline)
	var ack wire.Message
	if err := conn.ReadJSON(&ack); err != nil {
		return &TransportError{Op: "handshake", Err: err}
	}
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})

	switch ack.Type {
	case wire.TypeAuthOK:
		return nil
	case wire.TypeError:
		msg := "authentication rejected"
		if ack.Error != nil {
			msg = fmt.Sprintf("authentication rejected: [%s] %s", ack.Error.Code, ack.Error.Message)
		}
		return &TransportError{Op: "handshake", Err: errors.New(msg)}
	default:
		return &TransportError{Op: "handshake", Err: fmt.Errorf("unexpected reply type %q", ack.Type)}
	}
}

// readLoop 单协程顺序读取入站帧并派发。连接失效后根据配置进入重连。
func (c *WSConnection) readLoop(conn *websocket.Conn, quit chan struct{}, opts ConnectOptions) {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	var readErr error
	for {
		var msg wire.Message
		if err := conn.ReadJSON(&msg); err != nil {
			readErr = err
			break
		}
		c.met.IncReceived()
		opts.OnMessage(&msg)
	}

	// 判定是否仍是当前连接:被 Disconnect 或重连替换后的旧循环直接退出
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	_ = conn.Close()
	c.met.SetConnected(false)

	select {
	case <-quit:
		return
	default:
	}

	if c.cfg.DisableReconnect {
		c.log.Warn("websocket connection lost, reconnect disabled", zap.Error(readErr))
		return
	}
	c.log.Warn("websocket connection lost, reconnecting", zap.Error(readErr))
	c.reconnectLoop(quit, opts)
}

// reconnectLoop 指数退避重连,成功后重启读写协程并回调 OnReconnect
func (c *WSConnection) reconnectLoop(quit chan struct{}, opts ConnectOptions) {
	wait := c.cfg.ReconnectBaseWait
	for attempt := 1; ; attempt++ {
		if c.cfg.MaxReconnectAttempts > 0 && attempt > c.cfg.MaxReconnectAttempts {
			c.log.Error("reconnect giving up",
				zap.Int("attempts", c.cfg.MaxReconnectAttempts))
			return
		}

		select {
		case <-quit:
			return
		case <-c.clk.After(wait):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			c.met.IncReconnectFailure()
			c.log.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
			wait *= 2
			if wait > c.cfg.ReconnectMaxWait {
				wait = c.cfg.ReconnectMaxWait
			}
			continue
		}

		c.mu.Lock()
		select {
		case <-quit:
			// 重连期间被主动断开,放弃新连接
			c.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		c.conn = conn
		c.mu.Unlock()

		c.met.SetConnected(true)
		c.met.IncReconnect()
		c.log.Info("websocket reconnected", zap.Int("attempt", attempt))

		go c.readLoop(conn, quit, opts)
		go c.pingLoop(conn, quit)

		if opts.OnReconnect != nil {
			opts.OnReconnect()
		}
		return
	}
}

// pingLoop 周期发送保活 ping。写失败说明连接已坏,交给读循环处理。
func (c *WSConnection) pingLoop(conn *websocket.Conn, quit chan struct{}) {
	ticker := c.clk.Ticker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
