package transport

import (
	"context"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// JobAdmitter 作业准入 (scheduler.Scheduler 满足)
type JobAdmitter interface {
	AddJob(job *model.Job) (model.JobID, error)
}

// SubmissionServer REP Socket，处理客户端的作业提交
type SubmissionServer struct {
	addr     string
	admitter JobAdmitter
	log      *zap.Logger
}

func NewSubmissionServer(addr string, admitter JobAdmitter, log *zap.Logger) *SubmissionServer {
	return &SubmissionServer{
		addr:     addr,
		admitter: admitter,
		log:      log.Named("transport.submission"),
	}
}

// Serve 阻塞直到 ctx 结束
func (s *SubmissionServer) Serve(ctx context.Context) error {
	sock := zmq4.NewRep(ctx, SocketOptions()...)
	defer sock.Close()

	if err := sock.Listen(s.addr); err != nil {
		return errors.Wrapf(err, "listening on %s", s.addr)
	}
	s.log.Info("Submission server listening", zap.String("addr", s.addr))

	for {
		msg, err := recv(ctx, sock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receiving submission")
		}

		if err := sock.Send(s.handle(msg)); err != nil {
			s.log.Warn("Failed to reply to client", zap.Error(err))
		}
	}
}

func (s *SubmissionServer) handle(msg zmq4.Msg) zmq4.Msg {
	job, err := DecodeSubmit(msg)
	if err != nil {
		s.log.Warn("Received a bad submission", zap.Error(err))
		return EncodeFailure(err.Error())
	}

	id, err := s.admitter.AddJob(job)
	if err != nil {
		s.log.Warn("Rejected job", zap.Error(err))
		return EncodeFailure(err.Error())
	}

	reply, err := EncodeSuccess(id)
	if err != nil {
		return EncodeFailure(err.Error())
	}
	s.log.Debug("Accepted job", zap.String("job", string(id)))
	return reply
}
