package scheduler

import (
	"github.com/pkg/errors"

	"simlab/pkg/model"
)

// resolveCommand 把节点的命令解析成 (Agent 内部地址, 消息)。
// 目标别名必须已绑定且处于锁定状态，消息中的特征引用在这里替换成具体值。
func (s *Scheduler) resolveCommand(id model.NodeID) (string, []any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(id)
	if !ok {
		return "", nil, errors.Wrapf(ErrNodeVanished, "node %s", id)
	}
	job, ok := s.jobs.Get(node.Job)
	if !ok {
		return "", nil, errors.Errorf("node %s belongs to unknown job %s", id, node.Job)
	}

	cmd := node.Command
	alias := job.Aliases[cmd.Agent]
	if alias == nil || !alias.Bound() {
		return "", nil, errors.Errorf("command target %q is not assigned", cmd.Agent)
	}
	if !s.registry.IsLocked(alias.Assigned) {
		return "", nil, errors.Errorf("command target %s is not locked", alias.Assigned)
	}
	res, ok := s.registry.Get(alias.Assigned)
	if !ok {
		return "", nil, errors.Errorf("command target %s left", alias.Assigned)
	}
	if !res.IsAgent() || res.AddrInternal == "" {
		return "", nil, errors.Errorf("command target %s is not an agent", res.ID)
	}

	msg := make([]any, 0, len(cmd.Message))
	for _, v := range cmd.Message {
		if !v.IsRef() {
			msg = append(msg, v.Literal)
			continue
		}
		val, ok := resolveRef(*v.Ref, job.Aliases, s.registry)
		if !ok {
			return "", nil, errors.Errorf("cannot resolve %s.%s", v.Ref.Alias, v.Ref.Feature)
		}
		msg = append(msg, val)
	}
	return res.AddrInternal, msg, nil
}
