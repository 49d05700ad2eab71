package graph_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/internal/master/graph"
	"simlab/pkg/model"
)

func nodes(ids ...string) []*model.Node {
	out := make([]*model.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, &model.Node{ID: model.NodeID(id)})
	}
	return out
}

func ids(m map[model.NodeID]*model.Node) []model.NodeID {
	out := make([]model.NodeID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

var _ = Describe("Graph", func() {
	var g *graph.Graph

	// a -> b -> d
	// a -> c -> d
	BeforeEach(func() {
		g = graph.New()
		Expect(g.Add(nodes("a", "b", "c", "d"), []model.Edge{
			{From: "a", To: "b"}, {From: "a", To: "c"},
			{From: "b", To: "d"}, {From: "c", To: "d"},
		})).To(Succeed())
	})

	It("tracks in-degree and roots", func() {
		Expect(g.Len()).To(Equal(4))
		Expect(g.InDegree("a")).To(Equal(0))
		Expect(g.InDegree("d")).To(Equal(2))
		Expect(g.InDegree("zzz")).To(Equal(-1))

		roots := g.Roots()
		Expect(roots).To(HaveLen(1))
		Expect(roots[0].ID).To(Equal(model.NodeID("a")))
	})

	It("drops descendant in-degree when a node is removed", func() {
		Expect(g.Remove("a")).To(Succeed())
		Expect(g.Contains("a")).To(BeFalse())
		Expect(g.InDegree("b")).To(Equal(0))
		Expect(g.InDegree("c")).To(Equal(0))
		Expect(g.Roots()).To(HaveLen(2))

		Expect(g.Remove("b")).To(Succeed())
		Expect(g.InDegree("d")).To(Equal(1))
		Expect(g.Remove("b")).To(MatchError(graph.ErrUnknownNode))
	})

	It("computes ancestors and descendants", func() {
		Expect(ids(g.Descendants("a"))).To(ConsistOf(model.NodeID("b"), model.NodeID("c"), model.NodeID("d")))
		Expect(ids(g.Descendants("b"))).To(ConsistOf(model.NodeID("d")))
		Expect(ids(g.Ancestors("d"))).To(ConsistOf(model.NodeID("a"), model.NodeID("b"), model.NodeID("c")))
		Expect(g.Ancestors("a")).To(BeEmpty())
		Expect(g.Descendants("zzz")).To(BeEmpty())
	})

	It("lists every edge", func() {
		Expect(g.Edges()).To(ConsistOf(
			model.Edge{From: "a", To: "b"}, model.Edge{From: "a", To: "c"},
			model.Edge{From: "b", To: "d"}, model.Edge{From: "c", To: "d"},
		))
	})

	It("rejects a batch with a cycle and leaves the graph untouched", func() {
		err := g.Add(nodes("x", "y"), []model.Edge{{From: "x", To: "y"}, {From: "y", To: "x"}})
		Expect(err).To(MatchError(graph.ErrCycle))
		Expect(g.Len()).To(Equal(4))
		Expect(g.Contains("x")).To(BeFalse())
	})

	It("rejects reused ids and edges leaving the batch", func() {
		Expect(g.Add(nodes("a"), nil)).To(MatchError(graph.ErrDuplicateNode))
		Expect(g.Add(nodes("x"), []model.Edge{{From: "a", To: "x"}})).To(MatchError(graph.ErrUnknownNode))
		Expect(g.Len()).To(Equal(4))
	})

	It("keeps independent batches disconnected", func() {
		Expect(g.Add(nodes("x", "y"), []model.Edge{{From: "x", To: "y"}})).To(Succeed())
		Expect(g.Roots()).To(HaveLen(2))
		Expect(ids(g.Descendants("a"))).ToNot(ContainElement(model.NodeID("y")))
	})
})
