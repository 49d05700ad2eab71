package model_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/pkg/model"
)

var _ = Describe("Node", func() {
	It("removes a lock entry without touching copies", func() {
		n := &model.Node{ID: "n", Locks: []model.KeyedLock{{Alias: "a", Key: "k"}, {Alias: "b", Key: "k"}}}
		cp := n.Copy()

		Expect(n.RemoveLock(model.KeyedLock{Alias: "a", Key: "k"})).To(BeTrue())
		Expect(n.RemoveLock(model.KeyedLock{Alias: "a", Key: "k"})).To(BeFalse())
		Expect(n.Locks).To(Equal([]model.KeyedLock{{Alias: "b", Key: "k"}}))
		Expect(cp.Locks).To(HaveLen(2))
	})

	It("serializes state by name", func() {
		data, err := json.Marshal(&model.Node{ID: "n", State: model.NodeFailed})
		Expect(err).To(BeNil())
		Expect(string(data)).To(ContainSubstring(`"state":"Failed"`))

		var n model.Node
		Expect(json.Unmarshal(data, &n)).To(Succeed())
		Expect(n.State).To(Equal(model.NodeFailed))
		Expect(n.State.Terminal()).To(BeTrue())
	})
})
