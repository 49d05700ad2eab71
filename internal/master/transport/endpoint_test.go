package transport_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"simlab/internal/master/transport"
)

var _ = DescribeTable("DialAddr",
	func(bind, want string) {
		Expect(transport.DialAddr(bind, "10.0.0.5")).To(Equal(want))
	},
	Entry("wildcard ipv4", "tcp://0.0.0.0:5560", "tcp://10.0.0.5:5560"),
	Entry("zmq wildcard", "tcp://*:5561", "tcp://10.0.0.5:5561"),
	Entry("concrete host", "tcp://192.168.1.2:5562", "tcp://192.168.1.2:5562"),
	Entry("inproc", "inproc://agents/arm-1", "inproc://agents/arm-1"),
)
