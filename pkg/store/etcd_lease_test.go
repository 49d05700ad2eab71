package store

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

var _ = Describe("EtcdManager leases", func() {
	ended := func() <-chan *clientv3.LeaseKeepAliveResponse {
		ch := make(chan *clientv3.LeaseKeepAliveResponse)
		close(ch)
		return ch
	}

	It("forgets a lease once its keepalive ends", func() {
		e := &EtcdManager{
			log:    zap.NewNop(),
			leases: map[model.ResourceID]clientv3.LeaseID{"arm-1": 7, "arm-2": 9},
		}

		e.drainKeepAlive("arm-1", 7, ended())

		Expect(e.leases).To(Equal(map[model.ResourceID]clientv3.LeaseID{"arm-2": 9}))
	})

	It("keeps a newer lease granted for the same agent", func() {
		e := &EtcdManager{
			log:    zap.NewNop(),
			leases: map[model.ResourceID]clientv3.LeaseID{"arm-1": 8},
		}

		e.drainKeepAlive("arm-1", 7, ended())

		Expect(e.leases).To(HaveKeyWithValue(model.ResourceID("arm-1"), clientv3.LeaseID(8)))
	})
})
