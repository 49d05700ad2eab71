package transport

import (
	"context"
	"encoding/json"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"simlab/pkg/model"
)

// SubmitJob 提交作业并返回引擎分配的 id；引擎拒绝时返回 ErrRejected
func SubmitJob(ctx context.Context, addr string, job *model.Job) (model.JobID, error) {
	req, err := EncodeSubmit(job)
	if err != nil {
		return "", err
	}
	reply, err := roundTrip(ctx, addr, req)
	if err != nil {
		return "", err
	}
	payload, err := DecodeReply(reply)
	if err != nil {
		return "", err
	}

	var id model.JobID
	if err := json.Unmarshal(payload, &id); err != nil {
		return "", errors.Wrapf(ErrMalformedMessage, "decoding job id: %v", err)
	}
	return id, nil
}

// Announcer Agent 一侧的 PUB，连接引擎的注册地址
type Announcer struct {
	sock zmq4.Socket
}

func NewAnnouncer(ctx context.Context, addr string) (*Announcer, error) {
	sock := zmq4.NewPub(ctx, SocketOptions()...)
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	return &Announcer{sock: sock}, nil
}

func (a *Announcer) Announce(res *model.Resource) error {
	return a.send(FlagResourceUp, res)
}

func (a *Announcer) Depart(res *model.Resource) error {
	return a.send(FlagResourceDown, res)
}

func (a *Announcer) send(flag string, res *model.Resource) error {
	msg, err := EncodeResource(flag, res)
	if err != nil {
		return err
	}
	return errors.Wrapf(a.sock.Send(msg), "publishing %s", flag)
}

func (a *Announcer) Close() error {
	return a.sock.Close()
}

// subscribe 连接遥测地址，只接收给定标志位的消息，直到 ctx 结束
func subscribe(ctx context.Context, addr, topic string, fn func(zmq4.Msg)) error {
	sock := zmq4.NewSub(ctx, SocketOptions()...)
	defer sock.Close()

	if err := sock.Dial(addr); err != nil {
		return errors.Wrapf(err, "dialing %s", addr)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return errors.Wrapf(err, "subscribing to %s", topic)
	}

	for {
		msg, err := recv(ctx, sock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receiving telemetry")
		}
		if len(msg.Frames) > 0 && string(msg.Frames[0]) == topic {
			fn(msg)
		}
	}
}

// WatchTelemetry 每收到一份快照调用一次 fn，阻塞直到 ctx 结束
func WatchTelemetry(ctx context.Context, addr string, fn func(*model.Snapshot)) error {
	return subscribe(ctx, addr, FlagDashDetails, func(msg zmq4.Msg) {
		if len(msg.Frames) != 2 {
			return
		}
		var snap model.Snapshot
		if err := json.Unmarshal(msg.Frames[1], &snap); err != nil {
			return
		}
		fn(&snap)
	})
}

// Heartbeats 引擎心跳，通道在 ctx 结束或连接出错时关闭
func Heartbeats(ctx context.Context, addr string) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		_ = subscribe(ctx, addr, FlagEngineHeartbeat, func(zmq4.Msg) {
			select {
			case out <- struct{}{}:
			default:
			}
		})
	}()
	return out
}
