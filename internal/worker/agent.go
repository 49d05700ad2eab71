package worker

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/internal/master/transport"
	"simlab/pkg/model"
	"simlab/pkg/store"
)

// Handler 执行一条命令，返回值作为 SUCCESS 负载
type Handler interface {
	Handle(ctx context.Context, message []any) (any, error)
}

type HandlerFunc func(ctx context.Context, message []any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, message []any) (any, error) {
	return f(ctx, message)
}

// Registrar Agent 向引擎宣告自己 (transport.Announcer 满足)
type Registrar interface {
	Announce(res *model.Resource) error
	Depart(res *model.Resource) error
}

// StoreRegistrar 通过发现层宣告 (etcd 租约)
type StoreRegistrar struct {
	Store store.Store
	// 单次宣告的超时
	Timeout time.Duration
}

func (r StoreRegistrar) Announce(res *model.Resource) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	return r.Store.Announce(ctx, res)
}

func (r StoreRegistrar) Depart(res *model.Resource) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	return r.Store.Depart(ctx, res)
}

type Option func(*Agent)

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.log = l.Named("worker") }
}

// WithHeartbeats 每收到一次引擎心跳就重新宣告
func WithHeartbeats(ch <-chan struct{}) Option {
	return func(a *Agent) { a.heartbeats = ch }
}

// WithReannounce 周期重新宣告，0 表示只依赖心跳
func WithReannounce(d time.Duration) Option {
	return func(a *Agent) { a.reannounce = d }
}

// Agent 参考 Agent：在 listen 上应答引擎经 Relay 转发来的命令
type Agent struct {
	res       *model.Resource
	listen    string
	handler   Handler
	registrar Registrar

	heartbeats <-chan struct{}
	reannounce time.Duration
	log        *zap.Logger
}

func NewAgent(res *model.Resource, listen string, h Handler, r Registrar, opts ...Option) *Agent {
	a := &Agent{
		res:       res,
		listen:    listen,
		handler:   h,
		registrar: r,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(zap.String("agent", string(res.ID)))
	return a
}

// Run 阻塞直到 ctx 结束，退出前宣告离线
func (a *Agent) Run(ctx context.Context) error {
	sock := zmq4.NewRep(ctx, transport.SocketOptions()...)
	if err := sock.Listen(a.listen); err != nil {
		_ = sock.Close()
		return errors.Wrapf(err, "listening on %s", a.listen)
	}
	go func() {
		<-ctx.Done()
		_ = sock.Close()
	}()

	a.log.Info("Waiting for commands", zap.String("listen", a.listen), zap.String("advertise", a.res.AddrExternal()))

	a.announce("startup")
	go a.announceLoop(ctx)
	defer func() {
		if err := a.registrar.Depart(a.res); err != nil {
			a.log.Warn("Failed to depart", zap.Error(err))
		}
	}()

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receiving command")
		}
		if err := sock.Send(HandleCommand(ctx, a.handler, msg, a.log)); err != nil {
			a.log.Warn("Failed to reply to engine", zap.Error(err))
		}
	}
}

func (a *Agent) announceLoop(ctx context.Context) {
	var tick <-chan time.Time
	if a.reannounce > 0 {
		ticker := time.NewTicker(a.reannounce)
		defer ticker.Stop()
		tick = ticker.C
	}

	beats := a.heartbeats
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			a.announce("periodic")
		case _, ok := <-beats:
			if !ok {
				beats = nil
				continue
			}
			a.announce("heartbeat")
		}
	}
}

func (a *Agent) announce(reason string) {
	if err := a.registrar.Announce(a.res); err != nil {
		a.log.Warn("Failed to announce", zap.String("reason", reason), zap.Error(err))
		return
	}
	a.log.Debug("Announced", zap.String("reason", reason))
}

// HandleCommand 一条 AGENT_CMD 到 SUCCESS/FAILURE 回复；任何错误都作为 FAILURE 的原因返回
func HandleCommand(ctx context.Context, h Handler, msg zmq4.Msg, log *zap.Logger) zmq4.Msg {
	message, err := transport.DecodeCommand(msg)
	if err != nil {
		log.Warn("Received a bad command", zap.Error(err))
		return transport.EncodeFailure(err.Error())
	}

	result, err := h.Handle(ctx, message)
	if err != nil {
		log.Warn("Command failed", zap.Error(err))
		return transport.EncodeFailure(err.Error())
	}

	reply, err := transport.EncodeSuccess(result)
	if err != nil {
		return transport.EncodeFailure(err.Error())
	}
	log.Debug("Command done", zap.Int("elements", len(message)))
	return reply
}
