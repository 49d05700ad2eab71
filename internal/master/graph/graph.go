// Package graph 是所有在途作业共享的任务 DAG。
//
// 节点按稳定 id 保存在一个有序表中 (arena)，祖先/后继每次按需遍历计算，
// 不维护增量状态。Graph 不加锁，调用方必须持有调度器的全局锁。
package graph

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"simlab/pkg/model"
)

var (
	ErrDuplicateNode = errors.New("node already in graph")
	ErrUnknownNode   = errors.New("node not in graph")
	ErrCycle         = errors.New("edges would create a cycle")
)

type vertex struct {
	node *model.Node
	in   map[model.NodeID]struct{}
	out  map[model.NodeID]struct{}
}

type Graph struct {
	vertices *orderedmap.OrderedMap[model.NodeID, *vertex]
}

func New() *Graph {
	return &Graph{vertices: orderedmap.NewOrderedMap[model.NodeID, *vertex]()}
}

// Add 批量加入一个作业的节点和边。
// 边只能连接本批次内的节点，所以只要本批次无环，全局图就保持无环。
func (g *Graph) Add(nodes []*model.Node, edges []model.Edge) error {
	batch := make(map[model.NodeID]*vertex, len(nodes))
	for _, n := range nodes {
		if _, ok := g.vertices.Get(n.ID); ok {
			return errors.Wrapf(ErrDuplicateNode, "node %s", n.ID)
		}
		if _, ok := batch[n.ID]; ok {
			return errors.Wrapf(ErrDuplicateNode, "node %s", n.ID)
		}
		batch[n.ID] = &vertex{
			node: n,
			in:   make(map[model.NodeID]struct{}),
			out:  make(map[model.NodeID]struct{}),
		}
	}

	for _, e := range edges {
		from, ok := batch[e.From]
		if !ok {
			return errors.Wrapf(ErrUnknownNode, "edge source %s", e.From)
		}
		to, ok := batch[e.To]
		if !ok {
			return errors.Wrapf(ErrUnknownNode, "edge target %s", e.To)
		}
		if e.From == e.To {
			return errors.Wrapf(ErrCycle, "self-loop on %s", e.From)
		}
		from.out[e.To] = struct{}{}
		to.in[e.From] = struct{}{}
	}

	if hasCycle(nodes, batch) {
		return ErrCycle
	}

	for _, n := range nodes {
		g.vertices.Set(n.ID, batch[n.ID])
	}
	return nil
}

// hasCycle Kahn 拓扑排序，剩余节点即在环上
func hasCycle(nodes []*model.Node, batch map[model.NodeID]*vertex) bool {
	indeg := make(map[model.NodeID]int, len(batch))
	queue := make([]model.NodeID, 0, len(batch))
	for _, n := range nodes {
		indeg[n.ID] = len(batch[n.ID].in)
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for next := range batch[id].out {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return seen != len(batch)
}

// Remove 删除节点以及它的出边 (后继的入度随之减少)
func (g *Graph) Remove(id model.NodeID) error {
	v, ok := g.vertices.Get(id)
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", id)
	}
	for child := range v.out {
		if cv, ok := g.vertices.Get(child); ok {
			delete(cv.in, id)
		}
	}
	for parent := range v.in {
		if pv, ok := g.vertices.Get(parent); ok {
			delete(pv.out, id)
		}
	}
	g.vertices.Delete(id)
	return nil
}

func (g *Graph) Node(id model.NodeID) (*model.Node, bool) {
	v, ok := g.vertices.Get(id)
	if !ok {
		return nil, false
	}
	return v.node, true
}

func (g *Graph) Contains(id model.NodeID) bool {
	_, ok := g.vertices.Get(id)
	return ok
}

// InDegree 不存在的节点返回 -1
func (g *Graph) InDegree(id model.NodeID) int {
	v, ok := g.vertices.Get(id)
	if !ok {
		return -1
	}
	return len(v.in)
}

func (g *Graph) Len() int {
	return g.vertices.Len()
}

// Roots 入度为 0 的节点 (插入顺序)
func (g *Graph) Roots() []*model.Node {
	var out []*model.Node
	for el := g.vertices.Front(); el != nil; el = el.Next() {
		if len(el.Value.in) == 0 {
			out = append(out, el.Value.node)
		}
	}
	return out
}

func (g *Graph) Nodes() []*model.Node {
	out := make([]*model.Node, 0, g.vertices.Len())
	for el := g.vertices.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.node)
	}
	return out
}

func (g *Graph) Edges() []model.Edge {
	var out []model.Edge
	for el := g.vertices.Front(); el != nil; el = el.Next() {
		for child := range el.Value.out {
			out = append(out, model.Edge{From: el.Key, To: child})
		}
	}
	return out
}

// Descendants 所有可达的后继 (不含自身)
func (g *Graph) Descendants(id model.NodeID) map[model.NodeID]*model.Node {
	return g.walk(id, func(v *vertex) map[model.NodeID]struct{} { return v.out })
}

// Ancestors 所有能到达该节点的祖先 (不含自身)
func (g *Graph) Ancestors(id model.NodeID) map[model.NodeID]*model.Node {
	return g.walk(id, func(v *vertex) map[model.NodeID]struct{} { return v.in })
}

func (g *Graph) walk(id model.NodeID, next func(*vertex) map[model.NodeID]struct{}) map[model.NodeID]*model.Node {
	found := make(map[model.NodeID]*model.Node)
	start, ok := g.vertices.Get(id)
	if !ok {
		return found
	}

	stack := []*vertex{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for nid := range next(v) {
			if _, seen := found[nid]; seen {
				continue
			}
			nv, ok := g.vertices.Get(nid)
			if !ok {
				continue
			}
			found[nid] = nv.node
			stack = append(stack, nv)
		}
	}
	return found
}
