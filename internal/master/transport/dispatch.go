package transport

import (
	"context"
	"encoding/json"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReqDispatcher 每条命令新建一个 REQ 连到 Agent 的内部 Relay 地址，
// ctx 取消时 Socket 随之关闭。实现 scheduler.Dispatcher。
type ReqDispatcher struct {
	log *zap.Logger
}

func NewReqDispatcher(log *zap.Logger) *ReqDispatcher {
	return &ReqDispatcher{log: log.Named("transport.dispatch")}
}

func (d *ReqDispatcher) Dispatch(ctx context.Context, addr string, message []any) (json.RawMessage, error) {
	req, err := EncodeCommand(message)
	if err != nil {
		return nil, err
	}

	reply, err := roundTrip(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	d.log.Debug("Agent replied", zap.String("addr", addr), zap.String("flag", string(reply.Frames[0])))
	return decodeCommandReply(reply)
}

// roundTrip 单次 REQ/REP 往返
func roundTrip(ctx context.Context, addr string, req zmq4.Msg) (zmq4.Msg, error) {
	sock := zmq4.NewReq(ctx, SocketOptions()...)
	defer sock.Close()

	if err := sock.Dial(addr); err != nil {
		return zmq4.Msg{}, errors.Wrapf(err, "dialing %s", addr)
	}
	if err := sock.Send(req); err != nil {
		return zmq4.Msg{}, errors.Wrapf(err, "sending to %s", addr)
	}
	reply, err := recv(ctx, sock)
	if err != nil {
		return zmq4.Msg{}, errors.Wrapf(err, "waiting for reply from %s", addr)
	}
	if len(reply.Frames) == 0 {
		return zmq4.Msg{}, errors.Wrapf(ErrMalformedMessage, "empty reply from %s", addr)
	}
	return reply, nil
}
