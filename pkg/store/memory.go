package store

import (
	"context"
	"sync"

	"github.com/elliotchance/orderedmap/v2"

	"simlab/pkg/model"
)

// MemoryStore 进程内实现，单机运行和测试使用
type MemoryStore struct {
	mu       sync.Mutex
	agents   *orderedmap.OrderedMap[model.ResourceID, *model.Resource]
	watchers map[chan AgentEvent]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   orderedmap.NewOrderedMap[model.ResourceID, *model.Resource](),
		watchers: make(map[chan AgentEvent]struct{}),
	}
}

func (m *MemoryStore) Announce(_ context.Context, res *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agents.Set(res.ID, res.Copy())
	m.notify(AgentEvent{Type: AgentUp, Resource: res.Copy()})
	return nil
}

func (m *MemoryStore) Depart(_ context.Context, res *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.agents.Get(res.ID); ok {
		m.agents.Delete(res.ID)
		m.notify(AgentEvent{Type: AgentDown, Resource: prev.Copy()})
	}
	return nil
}

func (m *MemoryStore) ListAgents(_ context.Context) ([]*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Resource, 0, m.agents.Len())
	for el := m.agents.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.Copy())
	}
	return out, nil
}

// WatchAgents 通道带缓冲，消费过慢时事件会被丢弃
func (m *MemoryStore) WatchAgents(ctx context.Context) <-chan AgentEvent {
	ch := make(chan AgentEvent, 64)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}

// notify 调用方持有 m.mu
func (m *MemoryStore) notify(ev AgentEvent) {
	for ch := range m.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *MemoryStore) Close() error {
	return nil
}
