package store

import (
	"context"

	"simlab/pkg/model"
)

// AgentEventType 定义监听事件类型
type AgentEventType int

const (
	AgentUp AgentEventType = iota
	AgentDown
)

func (t AgentEventType) String() string {
	if t == AgentDown {
		return "down"
	}
	return "up"
}

// AgentEvent 包装了发现层中发生的事件
// 引擎通过这个结构体得知 Agent 上线/离线，等价于 RESOURCE_UP / RESOURCE_DN
type AgentEvent struct {
	Type     AgentEventType
	Resource *model.Resource // AgentDown 时至少带有 ID
}

// Store 接口定义了 Agent 发现层的全部需求
// 任何实现了这个接口的 Struct (比如 EtcdManager) 都可以被注入到引擎和 Worker 中
type Store interface {
	// Announce Agent 上线 (重复宣告只刷新内容)
	Announce(ctx context.Context, res *model.Resource) error

	// Depart Agent 主动离线
	Depart(ctx context.Context, res *model.Resource) error

	// ListAgents 当前在线的全部 Agent (引擎启动时补齐)
	ListAgents(ctx context.Context) ([]*model.Resource, error)

	// WatchAgents 监听上线/离线 (返回一个只读通道，ctx 结束时关闭)
	WatchAgents(ctx context.Context) <-chan AgentEvent

	Close() error
}
