package scheduler_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/internal/master/registry"
	"simlab/internal/master/scheduler"
	"simlab/pkg/model"
)

func ids(resources []*model.Resource) []model.ResourceID {
	out := make([]model.ResourceID, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID)
	}
	return out
}

var _ = Describe("MatchAlias", func() {
	var (
		reg     *registry.Registry
		aliases map[string]*model.Alias
	)

	BeforeEach(func() {
		reg = registry.New()
		reg.Add(agent("sci-1", "sci", model.Features{"position": "p1"}))
		reg.Add(agent("sci-2", "sci", model.Features{"position": "p2"}))
		reg.Add(agent("arm-1", "arm", model.Features{"reach": "p1"}))
		reg.Add(agent("arm-2", "arm", model.Features{"reach": "p2"}))
		reg.Add(&model.Resource{ID: "bare", Features: model.Features{"variant": "group"}})

		aliases = map[string]*model.Alias{
			"sci": {Template: model.Template{"model": model.Literal("sci")}},
			"arm": {Template: model.Template{
				"model": model.Literal("arm"),
				"reach": model.Ref("sci", "position"),
			}},
		}
	})

	It("matches literal templates", func() {
		matches := scheduler.MatchAlias(aliases["sci"], aliases, reg.Unlocked(), reg)
		Expect(ids(matches)).To(Equal([]model.ResourceID{"sci-1", "sci-2"}))
	})

	It("requires every template feature to exist", func() {
		alias := &model.Alias{Template: model.Template{"color": model.Literal("red")}}
		Expect(scheduler.MatchAlias(alias, aliases, reg.Unlocked(), reg)).To(BeEmpty())
	})

	It("resolves cross-alias references only after the referenced alias is bound", func() {
		Expect(scheduler.MatchAlias(aliases["arm"], aliases, reg.Unlocked(), reg)).To(BeEmpty())

		aliases["sci"].Assigned = "sci-2"
		matches := scheduler.MatchAlias(aliases["arm"], aliases, reg.Unlocked(), reg)
		Expect(ids(matches)).To(Equal([]model.ResourceID{"arm-2"}))
	})

	It("does not match when the referenced resource left", func() {
		aliases["sci"].Assigned = "sci-1"
		reg.Remove("sci-1")
		Expect(scheduler.MatchAlias(aliases["arm"], aliases, reg.Unlocked(), reg)).To(BeEmpty())
	})

	It("reduces a bound alias to its own resource while it is unlocked", func() {
		aliases["sci"].Assigned = "sci-1"
		Expect(ids(scheduler.MatchAlias(aliases["sci"], aliases, reg.Unlocked(), reg))).To(Equal([]model.ResourceID{"sci-1"}))

		Expect(reg.Lock("sci-1", "job-1")).To(Succeed())
		Expect(scheduler.MatchAlias(aliases["sci"], aliases, reg.Unlocked(), reg)).To(BeEmpty())
	})
})
