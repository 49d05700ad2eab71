package scheduler_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"simlab/internal/master/scheduler"
	"simlab/internal/master/scheduler/mock_scheduler"
	"simlab/pkg/model"
)

// commandJob lock -> command -> unlock，命令发给 arm 别名
func commandJob(message ...model.Value) *model.Job {
	return &model.Job{
		Aliases: map[string]*model.Alias{
			"arm": {Template: model.Template{"model": model.Literal("armA")}},
		},
		Nodes: []*model.Node{
			{ID: "lock", Locks: []model.KeyedLock{lock("arm", "k")}},
			{ID: "cmd", Command: &model.Command{Agent: "arm", Message: message}},
			{ID: "unlock", Unlocks: []model.KeyedLock{lock("arm", "k")}},
		},
		Edges: []model.Edge{{From: "lock", To: "cmd"}, {From: "cmd", To: "unlock"}},
	}
}

var _ = Describe("Scheduler", func() {
	var (
		ctrl       *gomock.Controller
		dispatcher *mock_scheduler.MockDispatcher
		s          *scheduler.Scheduler
		cfg        scheduler.Config
		cancel     context.CancelFunc
		stopped    chan struct{}
	)

	start := func() {
		s = scheduler.NewScheduler(dispatcher, cfg)
	}
	run := func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		stopped = make(chan struct{})
		sched, done := s, stopped
		go func() {
			defer GinkgoRecover()
			defer close(done)
			sched.Run(ctx)
		}()
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		dispatcher = mock_scheduler.NewMockDispatcher(ctrl)
		cfg = scheduler.DefaultConfig()
		cfg.TickInterval = 5 * time.Millisecond
		cfg.LockRetryInterval = 5 * time.Millisecond
		cancel = nil
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(stopped).Should(BeClosed())
		}
	})

	Describe("admission", func() {
		BeforeEach(start)

		It("namespaces node ids and leaves the submission untouched", func() {
			submitted := commandJob(model.Literal("home"))
			jobID, err := s.AddJob(submitted)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobID).ToNot(BeEmpty())

			Expect(submitted.ID).To(BeEmpty())
			Expect(submitted.Nodes[0].ID).To(Equal(model.NodeID("lock")))

			state, ok := s.NodeState(nodeID(jobID, "lock"))
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(model.NodeReady))

			job, ok := s.Job(jobID)
			Expect(ok).To(BeTrue())
			Expect(job.Edges).To(ContainElement(model.Edge{From: nodeID(jobID, "lock"), To: nodeID(jobID, "cmd")}))
			Expect(job.Nodes[1].Job).To(Equal(jobID))
		})

		It("gives resubmissions their own id and aliases", func() {
			submitted := commandJob()
			first, err := s.AddJob(submitted)
			Expect(err).ToNot(HaveOccurred())
			second, err := s.AddJob(submitted)
			Expect(err).ToNot(HaveOccurred())
			Expect(second).ToNot(Equal(first))

			_, _, err = s.AddResource(agent("arm-1", "armA", nil))
			Expect(err).ToNot(HaveOccurred())
			ok, err := s.LockNode(nodeID(first, "lock"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			a, _ := s.Job(first)
			b, _ := s.Job(second)
			Expect(a.Aliases["arm"].Bound()).To(BeTrue())
			Expect(b.Aliases["arm"].Bound()).To(BeFalse())
		})

		It("rejects invalid jobs without touching the graph", func() {
			job := commandJob()
			job.Edges = append(job.Edges, model.Edge{From: "unlock", To: "lock"})
			_, err := s.AddJob(job)
			Expect(err).To(MatchError(model.ErrInvalidJob))
			Expect(s.Snapshot().Nodes).To(BeEmpty())
			Expect(s.Snapshot().Jobs).To(BeEmpty())
		})
	})

	Describe("resources", func() {
		BeforeEach(start)

		It("assigns agents an internal relay address", func() {
			res, added, err := s.AddResource(agent("arm-1", "armA", nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(added).To(BeTrue())
			Expect(res.AddrInternal).To(Equal("inproc://agents/arm-1"))
		})

		It("treats duplicate arrivals as a no-op", func() {
			_, _, err := s.AddResource(agent("arm-1", "armA", nil))
			Expect(err).ToNot(HaveOccurred())
			res, added, err := s.AddResource(agent("arm-1", "other", nil))
			Expect(err).ToNot(HaveOccurred())
			Expect(added).To(BeFalse())
			Expect(res.Features["model"]).To(Equal("armA"))
			Expect(s.Snapshot().Resources).To(HaveLen(1))
		})

		It("rejects malformed resources", func() {
			_, _, err := s.AddResource(&model.Resource{ID: "x", Features: model.Features{"variant": "agent"}})
			Expect(err).To(MatchError(model.ErrInvalidResource))
		})

		It("does not relay plain resources", func() {
			res, added, err := s.AddResource(&model.Resource{ID: "group", Features: model.Features{"variant": "group"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(added).To(BeTrue())
			Expect(res.AddrInternal).To(BeEmpty())
		})
	})

	Describe("execution", func() {
		BeforeEach(start)

		It("drains a job whose nodes need no resources", func() {
			jobID, err := s.AddJob(&model.Job{
				Nodes: []*model.Node{{ID: "a"}, {ID: "b", Sleep: 0.01}, {ID: "c"}},
				Edges: []model.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
			})
			Expect(err).ToNot(HaveOccurred())
			run()

			Eventually(func() bool {
				_, ok := s.Job(jobID)
				return ok
			}).Should(BeFalse())
			Expect(s.Snapshot().Nodes).To(BeEmpty())
		})

		It("serializes two jobs on a single matching agent", func() {
			_, _, err := s.AddResource(agent("arm-1", "armA", nil))
			Expect(err).ToNot(HaveOccurred())

			var inFlight, maxInFlight atomic.Int32
			dispatcher.EXPECT().
				Dispatch(gomock.Any(), "inproc://agents/arm-1", []any{"go"}).
				DoAndReturn(func(ctx context.Context, addr string, msg []any) (json.RawMessage, error) {
					n := inFlight.Add(1)
					for {
						m := maxInFlight.Load()
						if n <= m || maxInFlight.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(20 * time.Millisecond)
					inFlight.Add(-1)
					return json.RawMessage(`"ok"`), nil
				}).
				Times(2)

			_, err = s.AddJob(commandJob(model.Literal("go")))
			Expect(err).ToNot(HaveOccurred())
			_, err = s.AddJob(commandJob(model.Literal("go")))
			Expect(err).ToNot(HaveOccurred())
			run()

			Eventually(func() []model.JobSummary { return s.Snapshot().Jobs }).Should(BeEmpty())
			Expect(maxInFlight.Load()).To(Equal(int32(1)))
			Expect(s.Snapshot().Locked).To(BeEmpty())
		})

		It("strands the rest of a job after a failed command", func() {
			_, _, err := s.AddResource(agent("arm-1", "armA", nil))
			Expect(err).ToNot(HaveOccurred())
			dispatcher.EXPECT().
				Dispatch(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(json.RawMessage(`"jammed"`), scheduler.ErrCommandFailed)

			jobID, err := s.AddJob(commandJob(model.Literal("go")))
			Expect(err).ToNot(HaveOccurred())
			run()

			Eventually(func() model.NodeState {
				state, _ := s.NodeState(nodeID(jobID, "cmd"))
				return state
			}).Should(Equal(model.NodeFailed))

			Consistently(func() model.NodeState {
				state, _ := s.NodeState(nodeID(jobID, "unlock"))
				return state
			}, 50*time.Millisecond).Should(Equal(model.NodeReady))

			Expect(s.Snapshot().Locked).To(Equal([]model.ResourceID{"arm-1"}))
			job, ok := s.Job(jobID)
			Expect(ok).To(BeTrue())
			Expect(job.Nodes[1].Error).To(ContainSubstring("agent reported command failure"))
			Expect(string(job.Nodes[1].Result)).To(Equal(`"jammed"`))
		})

		It("resolves references and keeps aliases on one agent", func() {
			_, _, err := s.AddResource(agent("arm-1", "armA", model.Features{"slot": 3.0}))
			Expect(err).ToNot(HaveOccurred())
			_, _, err = s.AddResource(agent("arm-2", "armA", model.Features{"slot": 4.0}))
			Expect(err).ToNot(HaveOccurred())

			var (
				mu    sync.Mutex
				addrs []string
			)
			dispatcher.EXPECT().
				Dispatch(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(ctx context.Context, addr string, msg []any) (json.RawMessage, error) {
					mu.Lock()
					defer mu.Unlock()
					addrs = append(addrs, addr)
					Expect(msg).To(HaveLen(2))
					Expect(msg[0]).To(Equal("move"))
					if addr == "inproc://agents/arm-1" {
						Expect(msg[1]).To(Equal(3.0))
					}
					return json.RawMessage(`null`), nil
				}).
				Times(2)

			job := &model.Job{
				Aliases: map[string]*model.Alias{
					"arm": {Template: model.Template{"model": model.Literal("armA")}},
				},
				Nodes: []*model.Node{
					{ID: "lock", Locks: []model.KeyedLock{lock("arm", "k")}},
					{ID: "first", Command: &model.Command{Agent: "arm", Message: []model.Value{model.Literal("move"), model.Ref("arm", "slot")}}},
					{ID: "second", Command: &model.Command{Agent: "arm", Message: []model.Value{model.Literal("move"), model.Ref("arm", "slot")}}},
					{ID: "unlock", Unlocks: []model.KeyedLock{lock("arm", "k")}},
				},
				Edges: []model.Edge{
					{From: "lock", To: "first"}, {From: "first", To: "second"}, {From: "second", To: "unlock"},
				},
			}
			_, err = s.AddJob(job)
			Expect(err).ToNot(HaveOccurred())
			run()

			Eventually(func() []model.JobSummary { return s.Snapshot().Jobs }).Should(BeEmpty())
			mu.Lock()
			defer mu.Unlock()
			Expect(addrs).To(HaveLen(2))
			Expect(addrs[1]).To(Equal(addrs[0]))
		})
	})

	Describe("lock attempt limit", func() {
		BeforeEach(func() {
			cfg.LockAttemptLimit = 2
			start()
		})

		It("fails a node whose demand cannot be met", func() {
			jobID, err := s.AddJob(commandJob())
			Expect(err).ToNot(HaveOccurred())
			run()

			Eventually(func() model.NodeState {
				state, _ := s.NodeState(nodeID(jobID, "lock"))
				return state
			}).Should(Equal(model.NodeFailed))

			job, _ := s.Job(jobID)
			Expect(job.Nodes[0].Error).To(ContainSubstring("lock attempts exhausted"))
		})
	})
})
