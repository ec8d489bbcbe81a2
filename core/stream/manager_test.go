package stream

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weisyn/go-wesstream/core/events"
	"github.com/weisyn/go-wesstream/core/transport"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// fakeConn 测试用连接:记录收发与连接状态,可注入故障,
// 并能模拟网关入站帧与断线重连完成。
type fakeConn struct {
	mu              sync.Mutex
	connected       bool
	connectCalls    int
	disconnectCalls int
	sent            []wire.Message
	opts            transport.ConnectOptions
	token           string

	connectErr    error
	disconnectErr error
	sendErr       func(msg *wire.Message) error
}

var _ transport.Connection = (*fakeConn)(nil)

func (f *fakeConn) Connect(ctx context.Context, opts transport.ConnectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connected {
		return transport.ErrAlreadyConnected
	}
	f.connected = true
	f.opts = opts
	return nil
}

func (f *fakeConn) Send(ctx context.Context, msg *wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.WrapError("send", transport.ErrNotConnected)
	}
	if f.sendErr != nil {
		if err := f.sendErr(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, *msg)
	return nil
}

func (f *fakeConn) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.connected = false
	return nil
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) SetCredential(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// deliver 模拟一帧入站
func (f *fakeConn) deliver(msg *wire.Message) {
	f.mu.Lock()
	onMessage := f.opts.OnMessage
	f.mu.Unlock()
	if onMessage != nil {
		onMessage(msg)
	}
}

// triggerReconnect 模拟断线重连完成
func (f *fakeConn) triggerReconnect() {
	f.mu.Lock()
	onReconnect := f.opts.OnReconnect
	f.mu.Unlock()
	if onReconnect != nil {
		onReconnect()
	}
}

func (f *fakeConn) setSendErr(fn func(msg *wire.Message) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = fn
}

func (f *fakeConn) sentFrames() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) stats() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.disconnectCalls
}

// framesOf 按类型与标识筛选帧
func framesOf(frames []wire.Message, msgType, id string) []wire.Message {
	var out []wire.Message
	for _, fr := range frames {
		if fr.Type == msgType && (id == "" || fr.ID == id) {
			out = append(out, fr)
		}
	}
	return out
}

func newTestManager(cfg Config, opts ...Option) (*Manager, *fakeConn) {
	conn := &fakeConn{}
	return NewManager(conn, cfg, zap.NewNop(), opts...), conn
}

func discard(*wire.Message) {}

func TestManager_ConnectionLifecycle(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	t.Run("首个流注册时建立连接", func(t *testing.T) {
		_, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks"), discard)
		require.NoError(t, err)
		assert.True(t, mgr.Connected())
		assert.Equal(t, 1, mgr.Len())

		connects, _ := conn.stats()
		assert.Equal(t, 1, connects)
	})

	t.Run("后续注册复用连接", func(t *testing.T) {
		_, err := mgr.RegisterStream(ctx, wire.NewListen("b", "chain.txs"), discard)
		require.NoError(t, err)
		assert.Equal(t, 2, mgr.Len())
		assert.Equal(t, []string{"a", "b"}, mgr.ActiveStreams())

		connects, _ := conn.stats()
		assert.Equal(t, 1, connects)
	})

	t.Run("非末位注销保持连接", func(t *testing.T) {
		require.NoError(t, mgr.UnregisterStream(ctx, "a"))
		assert.Equal(t, 1, mgr.Len())
		assert.True(t, mgr.Connected())

		_, disconnects := conn.stats()
		assert.Equal(t, 0, disconnects)
	})

	t.Run("末位注销断开连接", func(t *testing.T) {
		require.NoError(t, mgr.UnregisterStream(ctx, "b"))
		assert.Equal(t, 0, mgr.Len())
		assert.False(t, mgr.Connected())

		_, disconnects := conn.stats()
		assert.Equal(t, 1, disconnects)

		// 两条流各发过一帧注销
		frames := conn.sentFrames()
		assert.Len(t, framesOf(frames, wire.TypeUnlisten, "a"), 1)
		assert.Len(t, framesOf(frames, wire.TypeUnlisten, "b"), 1)
	})

	t.Run("归零后再注册重新建连", func(t *testing.T) {
		_, err := mgr.RegisterStream(ctx, wire.NewListen("c", "chain.blocks"), discard)
		require.NoError(t, err)
		assert.True(t, mgr.Connected())

		connects, _ := conn.stats()
		assert.Equal(t, 2, connects)
	})
}

func TestManager_DuplicateID(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	var delivered []uint64
	_, err := mgr.RegisterStream(ctx, wire.NewListen("dup", "chain.blocks"), func(msg *wire.Message) {
		delivered = append(delivered, *msg.Position)
	})
	require.NoError(t, err)

	_, err = mgr.RegisterStream(ctx, wire.NewListen("dup", "chain.txs"), discard)
	require.Error(t, err)

	var dupErr *DuplicateStreamError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "dup", dupErr.ID)
	assert.Equal(t, 1, mgr.Len())

	// 原有流的路由不受影响
	conn.deliver(&wire.Message{ID: "dup", Type: wire.TypeData, Position: wire.Position(3)})
	assert.Equal(t, []uint64{3}, delivered)
}

func TestManager_RegistrationRollback(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()
	cause := errors.New("write timeout")

	conn.setSendErr(func(msg *wire.Message) error {
		if msg.Type == wire.TypeListen {
			return cause
		}
		return nil
	})

	_, err := mgr.RegisterStream(ctx, wire.NewListen("bad", "chain.blocks"), discard)
	require.Error(t, err)

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "bad", regErr.ID)
	assert.ErrorIs(t, err, cause)

	// 注册表无残留,刚建立的连接随回滚断开
	assert.Equal(t, 0, mgr.Len())
	assert.False(t, mgr.Connected())
	_, disconnects := conn.stats()
	assert.Equal(t, 1, disconnects)

	// 故障恢复后可以重新注册同一标识
	conn.setSendErr(nil)
	_, err = mgr.RegisterStream(ctx, wire.NewListen("bad", "chain.blocks"), discard)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())
}

func TestManager_ConnectFailure(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	conn.connectErr = errors.New("dial refused")

	_, err := mgr.RegisterStream(context.Background(), wire.NewListen("a", "chain.blocks"), discard)
	require.Error(t, err)

	var te *transport.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, mgr.Len())
	assert.Empty(t, conn.sentFrames())
}

func TestManager_UnregisterUnknown(t *testing.T) {
	mgr, conn := newTestManager(Config{})

	require.NoError(t, mgr.UnregisterStream(context.Background(), "ghost"))

	connects, disconnects := conn.stats()
	assert.Equal(t, 0, connects)
	assert.Equal(t, 0, disconnects)
	assert.Empty(t, conn.sentFrames())
}

func TestManager_Routing(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	var gotA, gotB []uint64
	_, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks"), func(msg *wire.Message) {
		gotA = append(gotA, *msg.Position)
	})
	require.NoError(t, err)
	_, err = mgr.RegisterStream(ctx, wire.NewListen("b", "chain.txs"), func(msg *wire.Message) {
		gotB = append(gotB, *msg.Position)
	})
	require.NoError(t, err)

	t.Run("按标识派发且保持帧序", func(t *testing.T) {
		conn.deliver(&wire.Message{ID: "a", Type: wire.TypeData, Position: wire.Position(1)})
		conn.deliver(&wire.Message{ID: "b", Type: wire.TypeData, Position: wire.Position(2)})
		conn.deliver(&wire.Message{ID: "a", Type: wire.TypeData, Position: wire.Position(3)})

		assert.Equal(t, []uint64{1, 3}, gotA)
		assert.Equal(t, []uint64{2}, gotB)
	})

	t.Run("未知标识静默丢弃", func(t *testing.T) {
		conn.deliver(&wire.Message{ID: "ghost", Type: wire.TypeData, Position: wire.Position(9)})
		assert.Equal(t, []uint64{1, 3}, gotA)
		assert.Equal(t, []uint64{2}, gotB)
	})

	t.Run("缺失标识静默丢弃", func(t *testing.T) {
		conn.deliver(&wire.Message{Type: wire.TypeData, Position: wire.Position(9)})
		assert.Equal(t, []uint64{1, 3}, gotA)
	})

	t.Run("注销后的迟到帧不再派发", func(t *testing.T) {
		require.NoError(t, mgr.UnregisterStream(ctx, "b"))
		conn.deliver(&wire.Message{ID: "b", Type: wire.TypeData, Position: wire.Position(4)})
		assert.Equal(t, []uint64{2}, gotB)
	})
}

func TestManager_ReconnectRestarts(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	a, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks").WithPosition(0), discard)
	require.NoError(t, err)
	_, err = mgr.RegisterStream(ctx, wire.NewListen("b", "chain.txs"), discard)
	require.NoError(t, err)

	a.Mark(5)
	before := len(conn.sentFrames())

	conn.triggerReconnect()

	restarts := conn.sentFrames()[before:]
	require.Len(t, restarts, 2)

	// 每条活跃流恰好重发一帧:有标记的带标记位置,无标记的沿用模板
	aFrames := framesOf(restarts, wire.TypeListen, "a")
	require.Len(t, aFrames, 1)
	require.NotNil(t, aFrames[0].Position)
	assert.Equal(t, uint64(5), *aFrames[0].Position)

	bFrames := framesOf(restarts, wire.TypeListen, "b")
	require.Len(t, bFrames, 1)
	assert.Nil(t, bFrames[0].Position)

	t.Run("后续重连使用最新标记", func(t *testing.T) {
		a.Mark(11)
		before := len(conn.sentFrames())
		conn.triggerReconnect()

		aFrames := framesOf(conn.sentFrames()[before:], wire.TypeListen, "a")
		require.Len(t, aFrames, 1)
		assert.Equal(t, uint64(11), *aFrames[0].Position)
	})
}

func TestManager_ReconnectDisabled(t *testing.T) {
	mgr, conn := newTestManager(Config{DisableAutoRestart: true})

	_, err := mgr.RegisterStream(context.Background(), wire.NewListen("a", "chain.blocks"), discard)
	require.NoError(t, err)

	before := len(conn.sentFrames())
	conn.triggerReconnect()
	assert.Len(t, conn.sentFrames(), before)
}

func TestManager_RestartFailureIsolation(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	a, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks"), discard)
	require.NoError(t, err)
	_, err = mgr.RegisterStream(ctx, wire.NewListen("b", "chain.txs"), discard)
	require.NoError(t, err)

	// 仅 a 的重启帧失败
	conn.setSendErr(func(msg *wire.Message) error {
		if msg.ID == "a" {
			return errors.New("broken pipe")
		}
		return nil
	})

	before := len(conn.sentFrames())
	conn.triggerReconnect()

	// b 照常重启,a 失败但保持注册
	restarts := conn.sentFrames()[before:]
	assert.Len(t, framesOf(restarts, wire.TypeListen, "b"), 1)
	assert.Empty(t, framesOf(restarts, wire.TypeListen, "a"))
	assert.Equal(t, 2, mgr.Len())

	// 故障恢复后可手动补救
	conn.setSendErr(nil)
	require.NoError(t, a.Restart(ctx))
	assert.Len(t, framesOf(conn.sentFrames(), wire.TypeListen, "a"), 2)
}

func TestManager_Release(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	_, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks"), discard)
	require.NoError(t, err)

	// 断开失败只记录不上抛
	conn.disconnectErr = errors.New("socket gone")
	mgr.Release(ctx)

	_, disconnects := conn.stats()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, mgr.Len())
}

func TestManager_AssignsStreamID(t *testing.T) {
	mgr, conn := newTestManager(Config{})

	s, err := mgr.RegisterStream(context.Background(), &wire.Message{Topic: "chain.blocks"}, discard)
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())

	frames := conn.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, s.ID(), frames[0].ID)
	assert.Equal(t, wire.TypeListen, frames[0].Type)
}

func TestManager_InvalidRegistration(t *testing.T) {
	mgr, _ := newTestManager(Config{})
	ctx := context.Background()

	_, err := mgr.RegisterStream(ctx, nil, discard)
	require.Error(t, err)

	_, err = mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks"), nil)
	require.Error(t, err)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_BusEvents(t *testing.T) {
	bus := events.New(zap.NewNop())
	mgr, conn := newTestManager(Config{Endpoint: "ws://gw/stream"}, WithBus(bus))
	ctx := context.Background()

	var registered, unregistered []events.StreamEvent
	var ups, reconnects int
	require.NoError(t, bus.Subscribe(events.TopicStreamRegistered, func(ev events.StreamEvent) {
		registered = append(registered, ev)
	}))
	require.NoError(t, bus.Subscribe(events.TopicStreamUnregistered, func(ev events.StreamEvent) {
		unregistered = append(unregistered, ev)
	}))
	require.NoError(t, bus.Subscribe(events.TopicConnectionUp, func(ev events.ConnectionEvent) {
		ups++
	}))
	require.NoError(t, bus.Subscribe(events.TopicConnectionReconnected, func(ev events.ConnectionEvent) {
		reconnects++
	}))

	_, err := mgr.RegisterStream(ctx, wire.NewListen("a", "chain.blocks").WithChain("chain.1"), discard)
	require.NoError(t, err)
	conn.triggerReconnect()
	require.NoError(t, mgr.UnregisterStream(ctx, "a"))

	require.Len(t, registered, 1)
	assert.Equal(t, "a", registered[0].StreamID)
	assert.Equal(t, "chain.blocks", registered[0].Topic)
	assert.Equal(t, "chain.1", registered[0].ChainID)
	require.Len(t, unregistered, 1)
	assert.Equal(t, 1, ups)
	assert.Equal(t, 1, reconnects)
}

// 覆盖完整生命周期:注册、收帧、标记、重连续传、注销、断开
func TestManager_ResumeScenario(t *testing.T) {
	mgr, conn := newTestManager(Config{})
	ctx := context.Background()

	var got []uint64
	s, err := mgr.RegisterStream(ctx,
		wire.NewListen("chain.1", "chain.blocks").WithPosition(0),
		func(msg *wire.Message) { got = append(got, *msg.Position) })
	require.NoError(t, err)
	require.True(t, mgr.Connected())

	// 注册帧携带起始位置 0
	frames := conn.sentFrames()
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Position)
	assert.Equal(t, uint64(0), *frames[0].Position)

	// 收到位置 5 的数据帧并标记
	conn.deliver(&wire.Message{ID: "chain.1", Type: wire.TypeData, Position: wire.Position(5)})
	require.Equal(t, []uint64{5}, got)
	s.Mark(5)

	// 重连后从标记位置续传
	before := len(conn.sentFrames())
	conn.triggerReconnect()
	restarts := framesOf(conn.sentFrames()[before:], wire.TypeListen, "chain.1")
	require.Len(t, restarts, 1)
	assert.Equal(t, uint64(5), *restarts[0].Position)

	// 注销:发出注销帧,末位流移除后断开连接
	require.NoError(t, mgr.UnregisterStream(ctx, "chain.1"))
	assert.Len(t, framesOf(conn.sentFrames(), wire.TypeUnlisten, "chain.1"), 1)
	assert.False(t, mgr.Connected())
	assert.Equal(t, 0, mgr.Len())
}
