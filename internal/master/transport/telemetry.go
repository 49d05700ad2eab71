package transport

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// Snapshotter 引擎状态快照来源 (scheduler.Scheduler 满足)
type Snapshotter interface {
	Snapshot() *model.Snapshot
}

type TelemetryConfig struct {
	Interval          time.Duration // 快照发布间隔
	HeartbeatInterval time.Duration // 心跳间隔，Agent 收到后重新宣告
	SettleDelay       time.Duration // 启动后首次心跳前的等待，给订阅者连接的时间
}

// TelemetryPublisher PUB Socket，周期广播快照和心跳，尽力而为
type TelemetryPublisher struct {
	addr   string
	source Snapshotter
	cfg    TelemetryConfig
	log    *zap.Logger
}

func NewTelemetryPublisher(addr string, source Snapshotter, cfg TelemetryConfig, log *zap.Logger) *TelemetryPublisher {
	return &TelemetryPublisher{
		addr:   addr,
		source: source,
		cfg:    cfg,
		log:    log.Named("transport.telemetry"),
	}
}

func (p *TelemetryPublisher) Serve(ctx context.Context) error {
	sock := zmq4.NewPub(ctx, SocketOptions()...)
	defer sock.Close()

	if err := sock.Listen(p.addr); err != nil {
		return errors.Wrapf(err, "listening on %s", p.addr)
	}
	p.log.Info("Telemetry publisher listening", zap.String("addr", p.addr))

	settle := time.NewTimer(p.cfg.SettleDelay)
	defer settle.Stop()
	snapshots := time.NewTicker(p.cfg.Interval)
	defer snapshots.Stop()
	beats := time.NewTicker(p.cfg.HeartbeatInterval)
	defer beats.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			p.heartbeat(sock)
		case <-beats.C:
			p.heartbeat(sock)
		case <-snapshots.C:
			p.publish(sock)
		}
	}
}

func (p *TelemetryPublisher) heartbeat(sock zmq4.Socket) {
	p.log.Debug("Heartbeating")
	if err := sock.Send(zmq4.NewMsgString(FlagEngineHeartbeat)); err != nil {
		p.log.Warn("Failed to publish heartbeat", zap.Error(err))
	}
}

func (p *TelemetryPublisher) publish(sock zmq4.Socket) {
	msg, err := encode(FlagDashDetails, p.source.Snapshot())
	if err != nil {
		p.log.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	if err := sock.Send(msg); err != nil {
		p.log.Warn("Failed to publish snapshot", zap.Error(err))
	}
}
