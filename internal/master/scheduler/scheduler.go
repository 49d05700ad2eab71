package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simlab/internal/master/graph"
	"simlab/internal/master/registry"
	"simlab/pkg/model"
)

type Config struct {
	TickInterval      time.Duration // 多久检查一次图
	LockRetryInterval time.Duration // 加锁失败后的重试间隔
	CommandTimeout    time.Duration // 0 表示不限时
	LockAttemptLimit  int           // 0 表示无限重试
	RelayPrefix       string        // Agent 内部 Relay 地址前缀
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      250 * time.Millisecond,
		LockRetryInterval: time.Second,
		RelayPrefix:       "inproc://agents/",
	}
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l.Named("scheduler") }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// Scheduler 核心调度器。
//
// 规则：引擎的所有可变状态 (graph / jobs / registry) 只能在持有 mu 时读写；
// 持有 mu 期间不做网络调用，也不 sleep。
type Scheduler struct {
	mu       sync.Mutex
	graph    *graph.Graph
	jobs     *orderedmap.OrderedMap[model.JobID, *model.Job]
	registry *registry.Registry

	dispatcher Dispatcher
	cfg        Config
	log        *zap.Logger
	metrics    Recorder

	wg sync.WaitGroup // 正在运行的节点 Worker
}

// NewScheduler 构造函数
func NewScheduler(d Dispatcher, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:      graph.New(),
		jobs:       orderedmap.NewOrderedMap[model.JobID, *model.Job](),
		registry:   registry.New(),
		dispatcher: d,
		cfg:        cfg,
		log:        zap.NewNop(),
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 调度主循环 (后台常驻 Goroutine)，ctx 结束后等待所有节点 Worker 退出
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("Graph ticker started", zap.Duration("interval", s.cfg.TickInterval))

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.log.Info("Graph ticker stopping, waiting for node workers")
			s.wg.Wait()
			return
		}
	}
}

// Tick 单次检查：启动就绪节点、回收完成节点、删除已清空的作业
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range s.graph.Roots() {
		switch node.State {
		case model.NodeReady:
			s.log.Debug("Starting node", zap.String("node", node.Label()))
			node.State = model.NodeRunning
			s.metrics.NodeStarted()
			s.wg.Add(1)
			go s.runNode(ctx, node.ID)

		case model.NodeDone:
			s.log.Debug("Deleting node", zap.String("node", node.Label()))
			if err := s.graph.Remove(node.ID); err != nil {
				s.log.Error("Failed to delete node", zap.String("node", node.Label()), zap.Error(err))
			}
		}
	}

	for el := s.jobs.Front(); el != nil; {
		next := el.Next()
		if s.drained(el.Value) {
			s.log.Info("Job completed", zap.String("job", string(el.Key)))
			s.jobs.Delete(el.Key)
			s.metrics.JobDrained()
		}
		el = next
	}
}

func (s *Scheduler) drained(job *model.Job) bool {
	for _, n := range job.Nodes {
		if s.graph.Contains(n.ID) {
			return false
		}
	}
	return true
}

// Wait 等待当前所有节点 Worker 结束
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// AddJob 准入作业：校验、分配 id、把节点 id 加上作业前缀后并入全局图。
// 入参不会被修改，同一个作业可以重复提交，每次得到独立的别名。
func (s *Scheduler) AddJob(submitted *model.Job) (model.JobID, error) {
	if err := submitted.Validate(); err != nil {
		return "", err
	}

	job := submitted.Copy()
	job.ID = model.JobID(uuid.NewString())

	rename := make(map[model.NodeID]model.NodeID, len(job.Nodes))
	for _, n := range job.Nodes {
		global := model.NodeID(string(job.ID) + "/" + string(n.ID))
		rename[n.ID] = global
		n.ID = global
		n.Job = job.ID
	}
	for i, e := range job.Edges {
		job.Edges[i] = model.Edge{From: rename[e.From], To: rename[e.To]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.graph.Add(job.Nodes, job.Edges); err != nil {
		return "", errors.Wrap(model.ErrInvalidJob, err.Error())
	}
	s.jobs.Set(job.ID, job)
	s.metrics.JobAdmitted()

	s.log.Info("Added job", zap.String("job", string(job.ID)), zap.Int("nodes", len(job.Nodes)))
	return job.ID, nil
}

// AddResource 注册资源，返回登记后的拷贝。Agent 会被分配内部 Relay 地址。
// added=false 表示该 id 已存在 (重复宣告是幂等的)。
func (s *Scheduler) AddResource(res *model.Resource) (registered *model.Resource, added bool, err error) {
	if err := res.Validate(); err != nil {
		return nil, false, err
	}

	res = res.Copy()
	if res.IsAgent() {
		res.AddrInternal = s.cfg.RelayPrefix + string(res.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Add(res) {
		s.log.Debug("Already had resource", zap.String("resource", string(res.ID)))
		existing, _ := s.registry.Get(res.ID)
		return existing.Copy(), false, nil
	}
	s.metrics.ResourcesChanged(s.registry.Len(), len(s.registry.Locked()))

	s.log.Info("Added resource",
		zap.String("resource", string(res.ID)),
		zap.String("variant", res.Variant()),
		zap.String("name", res.Name()))
	return res.Copy(), true, nil
}

// RemoveResource 删除资源 (无论是否被锁定)，锁记录随之删除
func (s *Scheduler) RemoveResource(id model.ResourceID) (*model.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, wasLocked, ok := s.registry.Remove(id)
	if !ok {
		s.log.Warn("Tried to remove nonexistent resource", zap.String("resource", string(id)))
		return nil, false
	}
	if wasLocked {
		s.log.Warn("Removed a locked resource, its lock is dropped", zap.String("resource", string(id)))
	}
	s.metrics.ResourcesChanged(s.registry.Len(), len(s.registry.Locked()))

	s.log.Info("Removed resource", zap.String("resource", string(id)))
	return res.Copy(), true
}

// NodeState 仍在图中的节点状态
func (s *Scheduler) NodeState(id model.NodeID) (model.NodeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.graph.Node(id)
	if !ok {
		return 0, false
	}
	return n.State, true
}

// Job 在途作业的拷贝 (含已回收的节点及别名绑定)
func (s *Scheduler) Job(id model.JobID) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs.Get(id)
	if !ok {
		return nil, false
	}
	return job.Copy(), true
}

// Snapshot 整体状态拷贝，供遥测发布
func (s *Scheduler) Snapshot() *model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &model.Snapshot{
		Taken:     time.Now(),
		Nodes:     make([]*model.Node, 0, s.graph.Len()),
		Edges:     s.graph.Edges(),
		Jobs:      make([]model.JobSummary, 0, s.jobs.Len()),
		Resources: make([]*model.Resource, 0, s.registry.Len()),
		Locked:    s.registry.Locked(),
	}
	for _, n := range s.graph.Nodes() {
		snap.Nodes = append(snap.Nodes, n.Copy())
	}
	for el := s.jobs.Front(); el != nil; el = el.Next() {
		summary := model.JobSummary{
			ID:      el.Key,
			Aliases: make(map[string]*model.Alias, len(el.Value.Aliases)),
		}
		for name, a := range el.Value.Aliases {
			summary.Aliases[name] = a.Copy()
		}
		for _, n := range el.Value.Nodes {
			if s.graph.Contains(n.ID) {
				summary.Nodes = append(summary.Nodes, n.ID)
			}
		}
		snap.Jobs = append(snap.Jobs, summary)
	}
	for _, r := range s.registry.Resources() {
		snap.Resources = append(snap.Resources, r.Copy())
	}
	return snap
}
