package scheduler

import "simlab/pkg/model"

var MaxMatching = maxMatching

func (s *Scheduler) LockNode(id model.NodeID) (bool, error) {
	return s.lockNode(id)
}

func (s *Scheduler) UnlockNode(id model.NodeID) error {
	return s.unlockNode(id)
}

func (s *Scheduler) LinkedNodes(id model.NodeID) []model.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(id)
	if !ok {
		return nil
	}
	var out []model.NodeID
	for _, n := range s.linkedNodes(node) {
		out = append(out, n.ID)
	}
	return out
}

func (s *Scheduler) ResolveCommand(id model.NodeID) (string, []any, error) {
	return s.resolveCommand(id)
}
