package scheduler_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/internal/master/scheduler"
)

var _ = Describe("MaxMatching", func() {
	It("reassigns along augmenting paths", func() {
		// 贪心会把 0 配给 0，导致请求 1 无解
		match := scheduler.MaxMatching([][]int{{0, 1}, {0}}, 2)
		Expect(match).To(Equal([]int{1, 0}))
	})

	It("leaves requests unmatched when resources run out", func() {
		match := scheduler.MaxMatching([][]int{{0}, {0}}, 1)
		Expect(match).To(ContainElement(-1))
		Expect(match).To(ContainElement(0))
	})

	It("handles requests with no candidates", func() {
		Expect(scheduler.MaxMatching([][]int{{}}, 0)).To(Equal([]int{-1}))
	})
})
