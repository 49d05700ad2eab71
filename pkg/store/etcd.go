package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// 定义 Key 的前缀 (Schema Design)
const AgentKeyPrefix = "/simlab/agents/"

func agentKey(id model.ResourceID) string {
	return AgentKeyPrefix + string(id)
}

func idFromKey(key []byte) model.ResourceID {
	return model.ResourceID(strings.TrimPrefix(string(key), AgentKeyPrefix))
}

// EtcdManager Agent 记录绑定在租约上，Agent 进程消失后租约过期，记录自动删除，
// 引擎通过 Watch 把删除事件当作离线处理。
type EtcdManager struct {
	client   *clientv3.Client
	leaseTTL time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	leases map[model.ResourceID]clientv3.LeaseID

	ctx    context.Context // 续约的生命周期
	cancel context.CancelFunc
}

// NewEtcdManager 初始化 Etcd 连接
func NewEtcdManager(endpoints []string, dialTimeout, leaseTTL time.Duration, log *zap.Logger) (*EtcdManager, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to etcd")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdManager{
		client:   cli,
		leaseTTL: leaseTTL,
		log:      log.Named("store.etcd"),
		leases:   make(map[model.ResourceID]clientv3.LeaseID),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ---------------------------------------------------------
// Agent 相关实现
// ---------------------------------------------------------

func (e *EtcdManager) Announce(ctx context.Context, res *model.Resource) error {
	lease, err := e.lease(ctx, res.ID)
	if err != nil {
		return err
	}
	return e.putValue(ctx, agentKey(res.ID), res, clientv3.WithLease(lease))
}

// lease 每个 Agent 一个租约，首次宣告时创建并在后台续约
func (e *EtcdManager) lease(ctx context.Context, id model.ResourceID) (clientv3.LeaseID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lease, ok := e.leases[id]; ok {
		return lease, nil
	}

	grant, err := e.client.Grant(ctx, int64(e.leaseTTL/time.Second))
	if err != nil {
		return 0, errors.Wrap(err, "granting lease")
	}
	keepAlive, err := e.client.KeepAlive(e.ctx, grant.ID)
	if err != nil {
		return 0, errors.Wrap(err, "keeping lease alive")
	}
	go e.drainKeepAlive(id, grant.ID, keepAlive)

	e.leases[id] = grant.ID
	return grant.ID, nil
}

// drainKeepAlive 必须消费续约应答，否则通道写满后 etcd 客户端会告警。
// 通道关闭说明租约已过期或被撤销，忘掉它，下次宣告重新申请。
func (e *EtcdManager) drainKeepAlive(id model.ResourceID, lease clientv3.LeaseID, keepAlive <-chan *clientv3.LeaseKeepAliveResponse) {
	for range keepAlive {
	}

	e.mu.Lock()
	if current, ok := e.leases[id]; ok && current == lease {
		delete(e.leases, id)
	}
	e.mu.Unlock()

	e.log.Debug("Lease keepalive ended", zap.String("agent", string(id)))
}

// Depart 撤销租约，记录随之删除
func (e *EtcdManager) Depart(ctx context.Context, res *model.Resource) error {
	e.mu.Lock()
	lease, ok := e.leases[res.ID]
	delete(e.leases, res.ID)
	e.mu.Unlock()

	if ok {
		_, err := e.client.Revoke(ctx, lease)
		return errors.Wrap(err, "revoking lease")
	}
	_, err := e.client.Delete(ctx, agentKey(res.ID))
	return errors.Wrap(err, "deleting agent")
}

func (e *EtcdManager) ListAgents(ctx context.Context) ([]*model.Resource, error) {
	// 获取 /simlab/agents/ 下的所有 Key
	resp, err := e.client.Get(ctx, AgentKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "listing agents")
	}

	agents := make([]*model.Resource, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var res model.Resource
		if err := json.Unmarshal(kv.Value, &res); err != nil {
			e.log.Warn("Failed to unmarshal agent", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		agents = append(agents, &res)
	}
	return agents, nil
}

// WatchAgents 核心难点：将 Etcd 的 Watch 转换为业务 Channel
func (e *EtcdManager) WatchAgents(ctx context.Context) <-chan AgentEvent {
	eventChan := make(chan AgentEvent)

	// 启动一个协程在后台一直监听
	go func() {
		defer close(eventChan)

		// 监听 /simlab/agents/ 前缀下的所有变化，删除事件需要旧值
		watchChan := e.client.Watch(ctx, AgentKeyPrefix, clientv3.WithPrefix(), clientv3.WithPrevKV())

		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				e.log.Warn("Watch interrupted", zap.Error(err))
				continue
			}
			for _, ev := range watchResp.Events {
				event, ok := e.decodeEvent(ev)
				if !ok {
					continue
				}
				select {
				case eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

func (e *EtcdManager) decodeEvent(ev *clientv3.Event) (AgentEvent, bool) {
	switch ev.Type {
	case clientv3.EventTypePut:
		var res model.Resource
		if err := json.Unmarshal(ev.Kv.Value, &res); err != nil {
			e.log.Warn("Failed to unmarshal agent", zap.String("key", string(ev.Kv.Key)), zap.Error(err))
			return AgentEvent{}, false
		}
		return AgentEvent{Type: AgentUp, Resource: &res}, true

	case clientv3.EventTypeDelete:
		res := &model.Resource{ID: idFromKey(ev.Kv.Key)}
		if ev.PrevKv != nil {
			var prev model.Resource
			if err := json.Unmarshal(ev.PrevKv.Value, &prev); err == nil {
				res = &prev
			}
		}
		return AgentEvent{Type: AgentDown, Resource: res}, true
	}
	return AgentEvent{}, false
}

func (e *EtcdManager) Close() error {
	e.cancel()
	return e.client.Close()
}

// ---------------------------------------------------------
// 辅助方法 (Helpers)
// ---------------------------------------------------------

// putValue 封装通用的 JSON 序列化 + Put 操作
func (e *EtcdManager) putValue(ctx context.Context, key string, val any, opts ...clientv3.OpOption) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	_, err = e.client.Put(ctx, key, string(bytes), opts...)
	return errors.Wrapf(err, "putting %s", key)
}
