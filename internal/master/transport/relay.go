package transport

import (
	"context"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Relay 一个 Agent 的命令中继：引擎内部地址上的 ROUTER 与 Agent 外部地址上的 DEALER 之间原样转发。
// 同一时刻 Agent 只被一个节点持有，所以请求逐个转发。
// replyTimeout > 0 时，Agent 超时未回复的请求被放弃，DEALER 重新连接，迟到的回复随旧连接丢弃。
type Relay struct {
	internal     string
	external     string
	replyTimeout time.Duration

	router zmq4.Socket
	mu     sync.Mutex // 保护 dealer (重连与关闭)
	dealer zmq4.Socket
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// StartRelay 绑定内部地址、连接外部地址并开始转发
func StartRelay(ctx context.Context, internal, external string, replyTimeout time.Duration, log *zap.Logger) (*Relay, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		internal:     internal,
		external:     external,
		replyTimeout: replyTimeout,
		router:       zmq4.NewRouter(ctx, SocketOptions()...),
		dealer:       zmq4.NewDealer(ctx, SocketOptions()...),
		cancel:       cancel,
		done:         make(chan struct{}),
		log:          log.With(zap.String("internal", internal), zap.String("external", external)),
	}

	if err := r.router.Listen(internal); err != nil {
		r.closeSockets()
		return nil, errors.Wrapf(err, "listening on %s", internal)
	}
	if err := r.dealer.Dial(external); err != nil {
		r.closeSockets()
		return nil, errors.Wrapf(err, "dialing agent at %s", external)
	}

	go r.forward(ctx)
	r.log.Info("Relay started")
	return r, nil
}

func (r *Relay) forward(ctx context.Context) {
	defer close(r.done)

	for {
		req, err := recv(ctx, r.router)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("Relay stopped receiving", zap.Error(err))
			}
			return
		}
		if len(req.Frames) < 2 {
			r.log.Warn("Dropping request without envelope")
			continue
		}
		identity := req.Frames[0]

		dealer := r.currentDealer()
		if err := dealer.Send(zmq4.NewMsgFrom(req.Frames[1:]...)); err != nil {
			r.log.Warn("Failed to forward request to agent", zap.Error(err))
			continue
		}

		rep, err := r.awaitReply(ctx, dealer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				r.log.Warn("Relay stopped waiting for agent", zap.Error(err))
				return
			}
			r.log.Warn("Agent did not reply in time, reconnecting", zap.Duration("timeout", r.replyTimeout))
			if err := r.redial(ctx); err != nil {
				r.log.Warn("Failed to reconnect to agent", zap.Error(err))
				return
			}
			continue
		}

		frames := append([][]byte{identity}, rep.Frames...)
		if err := r.router.Send(zmq4.NewMsgFrom(frames...)); err != nil {
			r.log.Warn("Failed to forward reply to engine", zap.Error(err))
		}
	}
}

func (r *Relay) awaitReply(ctx context.Context, dealer zmq4.Socket) (zmq4.Msg, error) {
	if r.replyTimeout <= 0 {
		return recv(ctx, dealer)
	}
	rctx, cancel := context.WithTimeout(ctx, r.replyTimeout)
	defer cancel()
	return recv(rctx, dealer)
}

func (r *Relay) currentDealer() zmq4.Socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dealer
}

// redial 关闭旧 DEALER (其上阻塞的 Recv 随之返回) 并重新连接 Agent
func (r *Relay) redial(ctx context.Context) error {
	dealer := zmq4.NewDealer(ctx, SocketOptions()...)
	if err := dealer.Dial(r.external); err != nil {
		_ = dealer.Close()
		return errors.Wrapf(err, "dialing agent at %s", r.external)
	}

	r.mu.Lock()
	old := r.dealer
	r.dealer = dealer
	r.mu.Unlock()

	_ = old.Close()
	return nil
}

func (r *Relay) closeSockets() {
	r.cancel()
	_ = r.router.Close()
	_ = r.currentDealer().Close()
}

// Close 停止转发并释放 Socket
func (r *Relay) Close() {
	r.closeSockets()
	<-r.done
	r.log.Info("Relay stopped")
}

// RelayManager 按资源 id 管理所有运行中的 Relay，与调度器的临界区相互独立
type RelayManager struct {
	ctx          context.Context
	replyTimeout time.Duration
	relays       cmap.ConcurrentMap[string, *Relay]
	mu           sync.Mutex // 串行化同一时刻的启动/停止
	log          *zap.Logger
}

// NewRelayManager replyTimeout 为 0 时 Relay 一直等待 Agent 回复
func NewRelayManager(ctx context.Context, replyTimeout time.Duration, log *zap.Logger) *RelayManager {
	return &RelayManager{
		ctx:          ctx,
		replyTimeout: replyTimeout,
		relays:       cmap.New[*Relay](),
		log:          log.Named("transport.relay"),
	}
}

// Start 为资源启动 Relay；已存在时是空操作
func (m *RelayManager) Start(id, internal, external string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.relays.Has(id) {
		return nil
	}
	r, err := StartRelay(m.ctx, internal, external, m.replyTimeout, m.log.With(zap.String("resource", id)))
	if err != nil {
		return err
	}
	m.relays.Set(id, r)
	return nil
}

// Stop 停止并移除资源的 Relay，返回它是否存在
func (m *RelayManager) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.relays.Pop(id)
	if !ok {
		return false
	}
	r.Close()
	return true
}

func (m *RelayManager) Has(id string) bool {
	return m.relays.Has(id)
}

func (m *RelayManager) Len() int {
	return m.relays.Count()
}

// Close 停止全部 Relay (引擎退出时)
func (m *RelayManager) Close() {
	for _, id := range m.relays.Keys() {
		m.Stop(id)
	}
}
