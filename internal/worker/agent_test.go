package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"simlab/internal/master/transport"
	"simlab/internal/worker"
	"simlab/internal/worker/executor"
	"simlab/pkg/model"
)

type countingRegistrar struct {
	mu        sync.Mutex
	announced int
	departed  int
}

func (r *countingRegistrar) Announce(*model.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced++
	return nil
}

func (r *countingRegistrar) Depart(*model.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.departed++
	return nil
}

func (r *countingRegistrar) Counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.announced, r.departed
}

var _ = Describe("HandleCommand", func() {
	ctx := context.Background()
	log := zap.NewNop()

	It("replies SUCCESS with the handler result", func() {
		req, err := transport.EncodeCommand([]any{"move", 3.0})
		Expect(err).ToNot(HaveOccurred())

		payload, err := transport.DecodeReply(worker.HandleCommand(ctx, executor.Echo{}, req, log))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(payload)).To(MatchJSON(`["move", 3]`))
	})

	It("replies FAILURE to malformed commands", func() {
		rep := worker.HandleCommand(ctx, executor.Echo{}, zmq4.NewMsgString("hello"), log)
		_, err := transport.DecodeReply(rep)
		Expect(err).To(MatchError(transport.ErrRejected))
	})

	It("replies FAILURE with the handler error", func() {
		jammed := worker.HandlerFunc(func(context.Context, []any) (any, error) {
			return nil, errors.New("gripper jammed")
		})
		req, _ := transport.EncodeCommand([]any{"grip"})

		_, err := transport.DecodeReply(worker.HandleCommand(ctx, jammed, req, log))
		Expect(err).To(MatchError(transport.ErrRejected))
		Expect(err.Error()).To(ContainSubstring("gripper jammed"))
	})
})

var _ = Describe("CommandArgs", func() {
	It("formats JSON elements as arguments", func() {
		args, err := executor.CommandArgs([]any{"echo", 1.5, 2.0, true, map[string]any{"x": 1.0}})
		Expect(err).ToNot(HaveOccurred())
		Expect(args).To(Equal([]string{"echo", "1.5", "2", "true", `{"x":1}`}))
	})

	It("rejects empty commands", func() {
		_, err := executor.CommandArgs(nil)
		Expect(err).To(MatchError(executor.ErrEmptyCommand))
	})
})

var _ = Describe("Agent", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		listen    string
		registrar *countingRegistrar
		beats     chan struct{}
		done      chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		listen = endpoint("cmd")
		registrar = &countingRegistrar{}
		beats = make(chan struct{})

		res := &model.Resource{ID: "arm-1", Features: model.Features{
			"variant":       "agent",
			"addr_external": listen,
		}}
		agent := worker.NewAgent(res, listen, executor.Echo{}, registrar,
			worker.WithHeartbeats(beats),
			worker.WithLogger(zap.NewNop()))

		done = make(chan error, 1)
		runDone, runCtx := done, ctx
		go func() {
			defer GinkgoRecover()
			runDone <- agent.Run(runCtx)
		}()
		DeferCleanup(cancel)
	})

	It("answers commands and re-announces on heartbeats", func() {
		Eventually(func() int { n, _ := registrar.Counts(); return n }).Should(Equal(1))

		sock := zmq4.NewReq(ctx, transport.SocketOptions()...)
		defer sock.Close()
		Expect(sock.Dial(listen)).To(Succeed())

		req, _ := transport.EncodeCommand([]any{"home"})
		Expect(sock.Send(req)).To(Succeed())
		rep, err := sock.Recv()
		Expect(err).ToNot(HaveOccurred())

		payload, err := transport.DecodeReply(rep)
		Expect(err).ToNot(HaveOccurred())
		var echoed []string
		Expect(json.Unmarshal(payload, &echoed)).To(Succeed())
		Expect(echoed).To(Equal([]string{"home"}))

		beats <- struct{}{}
		Eventually(func() int { n, _ := registrar.Counts(); return n }).Should(Equal(2))
	})

	It("departs when stopped", func() {
		Eventually(func() int { n, _ := registrar.Counts(); return n }).Should(Equal(1))
		cancel()
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		_, departed := registrar.Counts()
		Expect(departed).To(Equal(1))
	})
})
