package model

import (
	"github.com/pkg/errors"
)

type JobID string

// Alias 作业内的抽象资源需求，由锁协调器在首次加锁时绑定
type Alias struct {
	Template Template   `json:"template"`
	Assigned ResourceID `json:"assigned,omitempty"` // 一旦绑定，作业生命周期内不再改变
}

func (a *Alias) Bound() bool {
	return a.Assigned != ""
}

func (a *Alias) Copy() *Alias {
	tmpl := make(Template, len(a.Template))
	for k, v := range a.Template {
		tmpl[k] = v
	}
	return &Alias{Template: tmpl, Assigned: a.Assigned}
}

// Edge From 必须在 To 之前完成
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Job 客户端提交的工作流: 别名 + 节点 DAG
type Job struct {
	ID      JobID             `json:"id,omitempty"`
	Aliases map[string]*Alias `json:"aliases"`
	Nodes   []*Node           `json:"nodes"`
	Edges   []Edge            `json:"edges,omitempty"`
}

// Validate 准入校验，拒绝任何可能破坏引擎不变量的提交
func (j *Job) Validate() error {
	if len(j.Nodes) == 0 {
		return errors.Wrap(ErrInvalidJob, "job has no nodes")
	}

	// 1. 别名: 未绑定，引用的别名必须存在
	for name, alias := range j.Aliases {
		if alias == nil {
			return errors.Wrapf(ErrInvalidJob, "alias %q is empty", name)
		}
		if alias.Bound() {
			return errors.Wrapf(ErrInvalidJob, "alias %q is already assigned", name)
		}
		for _, ref := range alias.Template.Refs() {
			if _, ok := j.Aliases[ref.Alias]; !ok {
				return errors.Wrapf(ErrInvalidJob, "alias %q references unknown alias %q", name, ref.Alias)
			}
		}
	}

	// 2. 节点: id 唯一，状态干净，引用的别名存在
	ids := make(map[NodeID]struct{}, len(j.Nodes))
	for _, n := range j.Nodes {
		if n == nil || n.ID == "" {
			return errors.Wrap(ErrInvalidJob, "node without id")
		}
		if _, dup := ids[n.ID]; dup {
			return errors.Wrapf(ErrInvalidJob, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}

		if n.State != NodeReady || n.Result != nil {
			return errors.Wrapf(ErrInvalidJob, "node %q is not in a fresh Ready state", n.ID)
		}
		if n.Sleep < 0 {
			return errors.Wrapf(ErrInvalidJob, "node %q has negative sleep", n.ID)
		}
		if err := j.checkLocks(n); err != nil {
			return err
		}
		if n.Command != nil {
			if _, ok := j.Aliases[n.Command.Agent]; !ok {
				return errors.Wrapf(ErrInvalidJob, "node %q commands unknown alias %q", n.ID, n.Command.Agent)
			}
			for _, v := range n.Command.Message {
				if v.Ref == nil {
					continue
				}
				if _, ok := j.Aliases[v.Ref.Alias]; !ok {
					return errors.Wrapf(ErrInvalidJob, "node %q message references unknown alias %q", n.ID, v.Ref.Alias)
				}
			}
		}
	}

	// 3. 边: 端点存在，无自环，整体无环
	for _, e := range j.Edges {
		if _, ok := ids[e.From]; !ok {
			return errors.Wrapf(ErrInvalidJob, "edge from unknown node %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return errors.Wrapf(ErrInvalidJob, "edge to unknown node %q", e.To)
		}
		if e.From == e.To {
			return errors.Wrapf(ErrInvalidJob, "self-loop on node %q", e.From)
		}
	}
	if cyc, ok := findCycle(j.Nodes, j.Edges); ok {
		return errors.Wrapf(ErrInvalidJob, "cycle detected involving node %q", cyc)
	}

	return nil
}

func (j *Job) checkLocks(n *Node) error {
	for _, lk := range append(append([]KeyedLock(nil), n.Locks...), n.Unlocks...) {
		if _, ok := j.Aliases[lk.Alias]; !ok {
			return errors.Wrapf(ErrInvalidJob, "node %q locks unknown alias %q", n.ID, lk.Alias)
		}
	}
	return nil
}

// findCycle 三色 DFS，返回环上的一个节点
func findCycle(nodes []*Node, edges []Edge) (NodeID, bool) {
	out := make(map[NodeID][]NodeID, len(nodes))
	for _, e := range edges {
		out[e.From] = append(out[e.From], e.To)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int, len(nodes))

	var visit func(id NodeID) (NodeID, bool)
	visit = func(id NodeID) (NodeID, bool) {
		color[id] = grey
		for _, next := range out[id] {
			switch color[next] {
			case grey:
				return next, true
			case white:
				if cyc, ok := visit(next); ok {
					return cyc, true
				}
			}
		}
		color[id] = black
		return "", false
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if cyc, ok := visit(n.ID); ok {
				return cyc, true
			}
		}
	}
	return "", false
}

// Copy 深拷贝 (快照使用)
func (j *Job) Copy() *Job {
	cp := &Job{
		ID:      j.ID,
		Aliases: make(map[string]*Alias, len(j.Aliases)),
		Nodes:   make([]*Node, 0, len(j.Nodes)),
		Edges:   append([]Edge(nil), j.Edges...),
	}
	for name, a := range j.Aliases {
		cp.Aliases[name] = a.Copy()
	}
	for _, n := range j.Nodes {
		cp.Nodes = append(cp.Nodes, n.Copy())
	}
	return cp
}
