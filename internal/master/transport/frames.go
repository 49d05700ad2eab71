// Package transport 引擎对外的 ZeroMQ 通道：作业提交、资源注册、遥测广播，
// 以及每个 Agent 一条的命令中继。
//
// 所有消息都是多帧消息，第一帧是标志位，负载统一使用 JSON。
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"simlab/internal/master/scheduler"
	"simlab/pkg/model"
)

// 消息标志位
const (
	FlagFailure         = "FAILURE"
	FlagSuccess         = "SUCCESS"
	FlagSubmitJob       = "SUBMIT_JOB"
	FlagResourceUp      = "RESOURCE_UP"
	FlagResourceDown    = "RESOURCE_DN"
	FlagAgentCommand    = "AGENT_CMD"
	FlagDashDetails     = "DASH_DETS"
	FlagEngineHeartbeat = "ENGINE_HEARTBEAT"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrRejected         = errors.New("request rejected")
)

// SocketOptions 所有 Socket 共用的选项
func SocketOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithAutomaticReconnect(true),
		zmq4.WithDialerMaxRetries(20),
		zmq4.WithDialerRetry(250 * time.Millisecond),
		zmq4.WithDialerTimeout(5 * time.Second),
	}
}

// recv 可被 ctx 打断的 Recv。被打断后 Recv 协程在 Socket 关闭时退出。
func recv(ctx context.Context, sock zmq4.Socket) (zmq4.Msg, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := sock.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return zmq4.Msg{}, ctx.Err()
	}
}

func encode(flag string, payload any) (zmq4.Msg, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return zmq4.Msg{}, errors.Wrapf(err, "encoding %s payload", flag)
	}
	return zmq4.NewMsgFrom([]byte(flag), body), nil
}

// EncodeSuccess [SUCCESS, <payload json>]
func EncodeSuccess(payload any) (zmq4.Msg, error) {
	return encode(FlagSuccess, payload)
}

// EncodeFailure [FAILURE, <reason>]
func EncodeFailure(reason string) zmq4.Msg {
	return zmq4.NewMsgFrom([]byte(FlagFailure), []byte(reason))
}

// DecodeReply 解析 SUCCESS/FAILURE 回复；FAILURE 返回 ErrRejected，原因附在错误信息中
func DecodeReply(msg zmq4.Msg) (json.RawMessage, error) {
	if len(msg.Frames) == 0 {
		return nil, errors.Wrap(ErrMalformedMessage, "empty reply")
	}
	switch string(msg.Frames[0]) {
	case FlagSuccess:
		if len(msg.Frames) != 2 {
			return nil, errors.Wrapf(ErrMalformedMessage, "success reply with %d frames", len(msg.Frames))
		}
		if !json.Valid(msg.Frames[1]) {
			return nil, errors.Wrap(ErrMalformedMessage, "success payload is not json")
		}
		return json.RawMessage(msg.Frames[1]), nil
	case FlagFailure:
		return nil, errors.Wrap(ErrRejected, failureReason(msg))
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unexpected reply flag %q", msg.Frames[0])
	}
}

func EncodeSubmit(job *model.Job) (zmq4.Msg, error) {
	return encode(FlagSubmitJob, job)
}

// DecodeSubmit [SUBMIT_JOB, <job json>]
func DecodeSubmit(msg zmq4.Msg) (*model.Job, error) {
	if len(msg.Frames) != 2 || string(msg.Frames[0]) != FlagSubmitJob {
		return nil, errors.Wrap(ErrMalformedMessage, "expected [SUBMIT_JOB, job]")
	}
	var job model.Job
	if err := json.Unmarshal(msg.Frames[1], &job); err != nil {
		return nil, errors.Wrapf(ErrMalformedMessage, "decoding job: %v", err)
	}
	return &job, nil
}

func EncodeResource(flag string, res *model.Resource) (zmq4.Msg, error) {
	return encode(flag, res)
}

// DecodeResource [RESOURCE_UP|RESOURCE_DN, <resource json>]
func DecodeResource(msg zmq4.Msg) (string, *model.Resource, error) {
	if len(msg.Frames) != 2 {
		return "", nil, errors.Wrapf(ErrMalformedMessage, "registration with %d frames", len(msg.Frames))
	}
	flag := string(msg.Frames[0])
	if flag != FlagResourceUp && flag != FlagResourceDown {
		return "", nil, errors.Wrapf(ErrMalformedMessage, "unexpected registration flag %q", flag)
	}
	var res model.Resource
	if err := json.Unmarshal(msg.Frames[1], &res); err != nil {
		return "", nil, errors.Wrapf(ErrMalformedMessage, "decoding resource: %v", err)
	}
	if res.ID == "" {
		return "", nil, errors.Wrap(ErrMalformedMessage, "resource without id")
	}
	return flag, &res, nil
}

func EncodeCommand(message []any) (zmq4.Msg, error) {
	return encode(FlagAgentCommand, message)
}

// DecodeCommand [AGENT_CMD, <json array>]
func DecodeCommand(msg zmq4.Msg) ([]any, error) {
	if len(msg.Frames) != 2 || string(msg.Frames[0]) != FlagAgentCommand {
		return nil, errors.Wrap(ErrMalformedMessage, "expected [AGENT_CMD, message]")
	}
	var message []any
	if err := json.Unmarshal(msg.Frames[1], &message); err != nil {
		return nil, errors.Wrapf(ErrMalformedMessage, "decoding command: %v", err)
	}
	return message, nil
}

func failureReason(msg zmq4.Msg) string {
	if len(msg.Frames) > 1 && len(msg.Frames[1]) > 0 {
		return string(msg.Frames[1])
	}
	return "no reason given"
}

// decodeCommandReply Agent 的 FAILURE 回复映射成 scheduler.ErrCommandFailed
func decodeCommandReply(msg zmq4.Msg) (json.RawMessage, error) {
	result, err := DecodeReply(msg)
	if errors.Is(err, ErrRejected) {
		return nil, errors.Wrap(scheduler.ErrCommandFailed, failureReason(msg))
	}
	return result, err
}
