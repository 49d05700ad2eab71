package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

var (
	ErrNodeVanished          = errors.New("node no longer in graph")
	ErrLockAttemptsExhausted = errors.New("lock attempts exhausted")
)

// runNode 节点 Worker: lock -> command -> sleep -> unlock。
// 任何一步失败，节点进入 Failed，不会被回收。
func (s *Scheduler) runNode(ctx context.Context, id model.NodeID) {
	defer s.wg.Done()

	log := s.log.With(zap.String("node", string(id)))
	log.Info("Node started")

	result, err := s.execute(ctx, id, log)
	s.finish(id, result, err)

	if err != nil {
		log.Warn("Node failed", zap.Error(err))
		return
	}
	log.Info("Node done")
}

func (s *Scheduler) execute(ctx context.Context, id model.NodeID, log *zap.Logger) ([]byte, error) {
	// 1. Lock
	if err := s.acquire(ctx, id, log); err != nil {
		return nil, err
	}

	// 2. Command
	var result []byte
	if s.hasCommand(id) {
		addr, msg, err := s.resolveCommand(id)
		if err != nil {
			return nil, errors.Wrap(err, "resolving command")
		}

		cctx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.CommandTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		}
		log.Debug("Dispatching command", zap.String("addr", addr), zap.Int("elements", len(msg)))
		result, err = s.dispatcher.Dispatch(cctx, addr, msg)
		cancel()
		if err != nil {
			return result, errors.Wrap(err, "dispatching command")
		}
	}

	// 3. Sleep
	if d := s.sleepFor(id); d > 0 {
		log.Debug("Sleeping", zap.Duration("duration", d))
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
	}

	// 4. Unlock
	if err := s.unlockNode(id); err != nil {
		return result, errors.Wrap(err, "unlocking")
	}
	return result, nil
}

// acquire 按固定间隔重试加锁直到成功
func (s *Scheduler) acquire(ctx context.Context, id model.NodeID, log *zap.Logger) error {
	ticker := time.NewTicker(s.cfg.LockRetryInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		ok, err := s.lockNode(id)
		s.metrics.LockAttempt(ok)
		if err != nil {
			return errors.Wrap(err, "locking")
		}
		if ok {
			return nil
		}
		if s.cfg.LockAttemptLimit > 0 && attempt >= s.cfg.LockAttemptLimit {
			return errors.Wrapf(ErrLockAttemptsExhausted, "after %d attempts", attempt)
		}
		log.Debug("Lock contention, retrying", zap.Int("attempt", attempt))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) hasCommand(id model.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.graph.Node(id)
	return ok && n.Command != nil
}

func (s *Scheduler) sleepFor(id model.NodeID) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.graph.Node(id); ok {
		return n.SleepDuration()
	}
	return 0
}

// finish 写回结果和终态
func (s *Scheduler) finish(id model.NodeID, result []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(id)
	if !ok {
		return
	}
	if result != nil {
		node.Result = append(node.Result[:0:0], result...)
	}
	if err != nil {
		node.State = model.NodeFailed
		node.Error = err.Error()
	} else {
		node.State = model.NodeDone
	}
	s.metrics.NodeFinished(node.State)
}
