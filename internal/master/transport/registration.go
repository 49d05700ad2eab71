package transport

import (
	"context"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// Registrar 处理 Agent 的上线与离线 (daemon.Daemon 满足)
type Registrar interface {
	Arrive(res *model.Resource) error
	Depart(id model.ResourceID) error
}

// RegistrationServer SUB Socket，Agent 的 PUB 连接进来宣告自己
type RegistrationServer struct {
	addr      string
	registrar Registrar
	log       *zap.Logger
}

func NewRegistrationServer(addr string, registrar Registrar, log *zap.Logger) *RegistrationServer {
	return &RegistrationServer{
		addr:      addr,
		registrar: registrar,
		log:       log.Named("transport.registration"),
	}
}

func (s *RegistrationServer) Serve(ctx context.Context) error {
	sock := zmq4.NewSub(ctx, SocketOptions()...)
	defer sock.Close()

	if err := sock.Listen(s.addr); err != nil {
		return errors.Wrapf(err, "listening on %s", s.addr)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return errors.Wrap(err, "subscribing")
	}
	s.log.Info("Registration server listening", zap.String("addr", s.addr))

	for {
		msg, err := recv(ctx, sock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receiving registration")
		}
		s.handle(msg)
	}
}

// handle 发布/订阅没有回复通道，错误只记录日志
func (s *RegistrationServer) handle(msg zmq4.Msg) {
	flag, res, err := DecodeResource(msg)
	if err != nil {
		s.log.Warn("Received a bad registration", zap.Error(err))
		return
	}

	switch flag {
	case FlagResourceUp:
		err = s.registrar.Arrive(res)
	case FlagResourceDown:
		err = s.registrar.Depart(res.ID)
	}
	if err != nil {
		s.log.Warn("Registration failed",
			zap.String("flag", flag),
			zap.String("resource", string(res.ID)),
			zap.Error(err))
	}
}
