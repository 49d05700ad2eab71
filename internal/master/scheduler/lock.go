package scheduler

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// lockRequest 一条待加锁的请求以及声明它的节点
type lockRequest struct {
	lock   model.KeyedLock
	source *model.Node
}

// linkedNodes 必须与该节点一起加锁的节点，否则可能死锁:
// 先找下游中释放同一把锁的节点，再找这些节点上游仍有锁请求的节点。
// 调用方持有 s.mu。
func (s *Scheduler) linkedNodes(node *model.Node) []*model.Node {
	unlockers := make(map[model.NodeID]struct{})
	for _, d := range s.graph.Descendants(node.ID) {
		for _, lk := range node.Locks {
			if d.HasUnlock(lk) {
				unlockers[d.ID] = struct{}{}
				break
			}
		}
	}

	upstream := make(map[model.NodeID]struct{})
	for id := range unlockers {
		for aid, a := range s.graph.Ancestors(id) {
			if aid != node.ID && len(a.Locks) > 0 {
				upstream[aid] = struct{}{}
			}
		}
	}

	// 按图中的插入顺序输出，保证匹配结果可复现
	linked := make([]*model.Node, 0, len(upstream))
	for _, n := range s.graph.Nodes() {
		if _, ok := upstream[n.ID]; ok {
			linked = append(linked, n)
		}
	}
	return linked
}

// lockNode 原子地为节点 (以及关联节点) 锁定所有资源。
// 返回 false, nil 表示当前资源不足，调用方稍后重试；要么全部锁上，要么什么都不改。
func (s *Scheduler) lockNode(id model.NodeID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(id)
	if !ok {
		return false, errors.Wrapf(ErrNodeVanished, "node %s", id)
	}
	if len(node.Locks) == 0 {
		// 可能已经被上游节点抢先锁定
		return true, nil
	}
	job, ok := s.jobs.Get(node.Job)
	if !ok {
		return false, errors.Errorf("node %s belongs to unknown job %s", id, node.Job)
	}

	log := s.log.With(zap.String("node", node.Label()))

	// 1. 收集节点及其关联节点的全部锁请求
	var requests []lockRequest
	for _, n := range append([]*model.Node{node}, s.linkedNodes(node)...) {
		for _, lk := range n.Locks {
			requests = append(requests, lockRequest{lock: lk, source: n})
		}
	}
	log.Debug("Locking aliases", zap.Int("aliases", len(requests)))

	// 2. 同一个别名被请求多次 -> 本轮失败
	seen := make(map[string]struct{}, len(requests))
	for _, r := range requests {
		if _, dup := seen[r.lock.Alias]; dup {
			log.Debug("Needed an alias more than once", zap.String("alias", r.lock.Alias))
			return false, nil
		}
		seen[r.lock.Alias] = struct{}{}
	}

	// 3. 建二分图：请求 x 未锁定资源
	free := s.registry.Unlocked()
	index := make(map[model.ResourceID]int, len(free))
	for i, res := range free {
		index[res.ID] = i
	}

	adj := make([][]int, len(requests))
	for i, r := range requests {
		alias := job.Aliases[r.lock.Alias]
		if alias == nil {
			return false, errors.Errorf("node %s locks unknown alias %q", r.source.ID, r.lock.Alias)
		}
		matches := MatchAlias(alias, job.Aliases, free, s.registry)
		if alias.Bound() && len(matches) == 0 {
			log.Debug("Assigned resource is locked", zap.String("alias", r.lock.Alias), zap.String("resource", string(alias.Assigned)))
			return false, nil
		}
		for _, res := range matches {
			adj[i] = append(adj[i], index[res.ID])
		}
	}

	// 4. 最大匹配，有任何请求没匹配上就放弃
	match := maxMatching(adj, len(free))
	for i, j := range match {
		if j < 0 {
			log.Debug("No complete match for all aliases", zap.String("alias", requests[i].lock.Alias))
			return false, nil
		}
	}

	// 5. 提交：绑定别名、加锁、从声明节点上移除锁请求
	for i, r := range requests {
		res := free[match[i]]
		alias := job.Aliases[r.lock.Alias]
		if !alias.Bound() {
			alias.Assigned = res.ID
		}
		if err := s.registry.Lock(res.ID, node.Job); err != nil {
			// 匹配只使用未锁定资源，这里不应该发生
			return false, errors.Wrapf(err, "committing lock for alias %q", r.lock.Alias)
		}
		r.source.RemoveLock(r.lock)
		log.Debug("Locked resource", zap.String("alias", r.lock.Alias), zap.String("resource", string(res.ID)))
	}
	s.metrics.ResourcesChanged(s.registry.Len(), len(s.registry.Locked()))

	log.Debug("Locked node")
	return true, nil
}

// unlockNode 释放节点声明要释放的资源。
// 资源已经离开、不在锁定集合中或者已被其它作业持有时只记录告警，锁定集合保持不变。
func (s *Scheduler) unlockNode(id model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.graph.Node(id)
	if !ok {
		return errors.Wrapf(ErrNodeVanished, "node %s", id)
	}
	if len(node.Unlocks) == 0 {
		return nil
	}
	job, ok := s.jobs.Get(node.Job)
	if !ok {
		return errors.Errorf("node %s belongs to unknown job %s", id, node.Job)
	}

	log := s.log.With(zap.String("node", node.Label()))
	log.Debug("Unlocking aliases", zap.Int("aliases", len(node.Unlocks)))

	for _, lk := range node.Unlocks {
		alias := job.Aliases[lk.Alias]
		if alias == nil || !alias.Bound() {
			return errors.Errorf("unlock of unassigned alias %q", lk.Alias)
		}
		if err := s.registry.Unlock(alias.Assigned, node.Job); err != nil {
			log.Warn("Skipped unlock", zap.String("alias", lk.Alias), zap.String("resource", string(alias.Assigned)), zap.Error(err))
			continue
		}
		log.Debug("Unlocked resource", zap.String("resource", string(alias.Assigned)))
	}
	s.metrics.ResourcesChanged(s.registry.Len(), len(s.registry.Locked()))
	return nil
}
