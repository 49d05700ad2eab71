// Package daemon 组装引擎进程：调度器、三个 ZeroMQ 端点、Agent Relay、可选的 etcd 发现与 HTTP 状态接口。
package daemon

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simlab/internal/config"
	"simlab/internal/master/metrics"
	"simlab/internal/master/scheduler"
	"simlab/internal/master/transport"
	"simlab/pkg/model"
	"simlab/pkg/store"
)

// 首次心跳前给订阅者留出的连接时间
const telemetrySettle = time.Second

var ErrDiscoveryClosed = errors.New("discovery watch closed")

type Option func(*Daemon)

// WithStore 启用 Agent 发现 (etcd 或内存实现)
func WithStore(s store.Store) Option {
	return func(d *Daemon) { d.discovery = s }
}

// Daemon 引擎进程
type Daemon struct {
	cfg       *config.Config
	sched     *scheduler.Scheduler
	relays    *transport.RelayManager
	recorder  *metrics.PrometheusRecorder
	discovery store.Store
	log       *zap.Logger

	cancelRelays context.CancelFunc
}

func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Daemon {
	relayCtx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		cfg:          cfg,
		relays:       transport.NewRelayManager(relayCtx, cfg.Engine.CommandTimeout, log),
		recorder:     metrics.NewPrometheusRecorder(),
		log:          log.Named("daemon"),
		cancelRelays: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.sched = scheduler.NewScheduler(
		transport.NewReqDispatcher(log),
		scheduler.Config{
			TickInterval:      cfg.Engine.TickInterval,
			LockRetryInterval: cfg.Engine.LockRetryInterval,
			CommandTimeout:    cfg.Engine.CommandTimeout,
			LockAttemptLimit:  cfg.Engine.LockAttemptLimit,
			RelayPrefix:       cfg.Transport.RelayPrefix,
		},
		scheduler.WithLogger(log),
		scheduler.WithRecorder(d.recorder),
	)
	return d
}

func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.sched
}

// Run 注册静态资源后启动全部组件，任何一个组件出错都会让其余组件退出
func (d *Daemon) Run(ctx context.Context) error {
	defer func() {
		d.relays.Close()
		d.cancelRelays()
	}()

	static, err := d.cfg.StaticResources()
	if err != nil {
		return err
	}
	for _, res := range static {
		if err := d.Arrive(res); err != nil {
			return errors.Wrapf(err, "registering static resource %s", res.ID)
		}
	}

	t := d.cfg.Transport
	submission := transport.NewSubmissionServer(t.Submission, d.sched, d.log)
	registration := transport.NewRegistrationServer(t.Registration, d, d.log)
	telemetry := transport.NewTelemetryPublisher(t.Telemetry, d.sched, transport.TelemetryConfig{
		Interval:          t.TelemetryInterval,
		HeartbeatInterval: t.HeartbeatInterval,
		SettleDelay:       telemetrySettle,
	}, d.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.sched.Run(gctx)
		return nil
	})
	g.Go(func() error { return submission.Serve(gctx) })
	g.Go(func() error { return registration.Serve(gctx) })
	g.Go(func() error { return telemetry.Serve(gctx) })

	if d.cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(d.cfg.Metrics.Listen, d.recorder, d.sched, d.log)
		g.Go(func() error { return srv.Serve(gctx) })
	}
	if d.discovery != nil {
		g.Go(func() error { return d.discover(gctx) })
	}

	d.log.Info("Engine started",
		zap.String("submission", t.Submission),
		zap.String("registration", t.Registration),
		zap.String("telemetry", t.Telemetry))

	err = g.Wait()
	d.log.Info("Engine stopped", zap.Error(err))
	return err
}

// discover 先订阅再补齐当前在线的 Agent，避免漏掉两者之间的事件
func (d *Daemon) discover(ctx context.Context) error {
	events := d.discovery.WatchAgents(ctx)

	agents, err := d.discovery.ListAgents(ctx)
	if err != nil {
		return errors.Wrap(err, "listing agents")
	}
	for _, res := range agents {
		if err := d.Arrive(res); err != nil {
			d.log.Warn("Skipped discovered agent", zap.String("resource", string(res.ID)), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDiscoveryClosed
			}
			d.handleEvent(ev)
		}
	}
}

func (d *Daemon) handleEvent(ev store.AgentEvent) {
	var err error
	switch ev.Type {
	case store.AgentUp:
		err = d.Arrive(ev.Resource)
	case store.AgentDown:
		err = d.Depart(ev.Resource.ID)
	}
	if err != nil {
		d.log.Warn("Discovery event failed",
			zap.Stringer("type", ev.Type),
			zap.String("resource", string(ev.Resource.ID)),
			zap.Error(err))
	}
}

// Arrive RESOURCE_UP。Agent 的 Relay 先于注册启动，注册一旦可见即可派发命令。
func (d *Daemon) Arrive(res *model.Resource) error {
	if err := res.Validate(); err != nil {
		return err
	}

	id := string(res.ID)
	startedRelay := false
	if res.IsAgent() && !d.relays.Has(id) {
		if err := d.relays.Start(id, d.cfg.Transport.RelayPrefix+id, res.AddrExternal()); err != nil {
			return errors.Wrapf(err, "starting relay for %s", id)
		}
		startedRelay = true
	}

	if _, _, err := d.sched.AddResource(res); err != nil {
		if startedRelay {
			d.relays.Stop(id)
		}
		return err
	}
	return nil
}

// Depart RESOURCE_DN。未知资源只记录告警。
func (d *Daemon) Depart(id model.ResourceID) error {
	d.sched.RemoveResource(id)
	if d.relays.Stop(string(id)) {
		d.log.Debug("Stopped relay", zap.String("resource", string(id)))
	}
	return nil
}
