package registry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/internal/master/registry"
	"simlab/pkg/model"
)

func resource(id string) *model.Resource {
	return &model.Resource{ID: model.ResourceID(id), Features: model.Features{"variant": "group"}}
}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New()
		Expect(reg.Add(resource("a"))).To(BeTrue())
		Expect(reg.Add(resource("b"))).To(BeTrue())
		Expect(reg.Add(resource("c"))).To(BeTrue())
	})

	It("treats duplicate registration as a no-op", func() {
		dup := resource("a")
		dup.Features["extra"] = "x"
		Expect(reg.Add(dup)).To(BeFalse())

		res, ok := reg.Get("a")
		Expect(ok).To(BeTrue())
		Expect(res.Features).ToNot(HaveKey("extra"))
		Expect(reg.Len()).To(Equal(3))
	})

	It("keeps registration order", func() {
		var ids []model.ResourceID
		for _, r := range reg.Resources() {
			ids = append(ids, r.ID)
		}
		Expect(ids).To(Equal([]model.ResourceID{"a", "b", "c"}))
	})

	It("enforces mutual exclusion", func() {
		Expect(reg.Lock("b", "job-1")).To(Succeed())
		Expect(reg.Lock("b", "job-2")).To(MatchError(registry.ErrAlreadyLocked))
		Expect(reg.IsLocked("b")).To(BeTrue())
		Expect(reg.Locked()).To(Equal([]model.ResourceID{"b"}))

		var unlocked []model.ResourceID
		for _, r := range reg.Unlocked() {
			unlocked = append(unlocked, r.ID)
		}
		Expect(unlocked).To(Equal([]model.ResourceID{"a", "c"}))

		Expect(reg.Unlock("b", "job-1")).To(Succeed())
		Expect(reg.Unlock("b", "job-1")).To(MatchError(registry.ErrNotLocked))
		Expect(reg.Locked()).To(BeEmpty())
	})

	It("rejects locks on unknown resources", func() {
		Expect(reg.Lock("zzz", "job-1")).To(MatchError(registry.ErrUnknownResource))
		Expect(reg.Unlock("zzz", "job-1")).To(MatchError(registry.ErrUnknownResource))
	})

	It("only lets the owner release a lock", func() {
		Expect(reg.Lock("c", "job-1")).To(Succeed())
		Expect(reg.Unlock("c", "job-2")).To(MatchError(registry.ErrNotOwner))

		owner, ok := reg.Owner("c")
		Expect(ok).To(BeTrue())
		Expect(owner).To(Equal(model.JobID("job-1")))
		Expect(reg.Locked()).To(Equal([]model.ResourceID{"c"}))
	})

	It("drops the lock entry together with a removed resource", func() {
		Expect(reg.Lock("a", "job-1")).To(Succeed())

		res, wasLocked, ok := reg.Remove("a")
		Expect(ok).To(BeTrue())
		Expect(wasLocked).To(BeTrue())
		Expect(res.ID).To(Equal(model.ResourceID("a")))
		Expect(reg.Locked()).To(BeEmpty())
		Expect(reg.Unlock("a", "job-1")).To(MatchError(registry.ErrUnknownResource))

		_, _, ok = reg.Remove("a")
		Expect(ok).To(BeFalse())
	})
})
