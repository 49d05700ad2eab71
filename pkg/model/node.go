package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type NodeID string

// NodeState 节点生命周期: Ready -> Running -> Done / Failed
type NodeState int

const (
	NodeReady   NodeState = iota // 等待入度归零
	NodeRunning                  // 已分配 Worker
	NodeFailed                   // 终态，不会被回收
	NodeDone                     // 终态，入度为 0 时被回收
)

var nodeStateNames = map[NodeState]string{
	NodeReady:   "Ready",
	NodeRunning: "Running",
	NodeFailed:  "Failed",
	NodeDone:    "Done",
}

func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

func (s NodeState) Terminal() bool {
	return s == NodeFailed || s == NodeDone
}

func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *NodeState) UnmarshalText(text []byte) error {
	for state, name := range nodeStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown node state %q", text)
}

// KeyedLock 一个 (别名, key) 锁请求; Lock 和 Unlock 通过 key 配对
type KeyedLock struct {
	Alias string `json:"alias"`
	Key   string `json:"key"`
}

func (k KeyedLock) String() string {
	return k.Alias + ":" + k.Key
}

// Command 发给 Agent 的不透明消息，引用元素在派发时解析
type Command struct {
	Agent   string  `json:"agent"`
	Message []Value `json:"message"`
}

// Node DAG 中的一个步骤，执行顺序固定: lock -> command -> sleep -> unlock
type Node struct {
	ID   NodeID `json:"id"`
	Name string `json:"name,omitempty"`
	Job  JobID  `json:"job,omitempty"` // 准入时由引擎填写

	Locks   []KeyedLock `json:"locks,omitempty"`
	Unlocks []KeyedLock `json:"unlocks,omitempty"`
	Command *Command    `json:"command,omitempty"`
	Sleep   float64     `json:"sleep,omitempty"` // 秒

	State  NodeState       `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (n *Node) SleepDuration() time.Duration {
	return time.Duration(n.Sleep * float64(time.Second))
}

// Label 日志里使用 "name|id"
func (n *Node) Label() string {
	if n.Name == "" {
		return string(n.ID)
	}
	return n.Name + "|" + string(n.ID)
}

// HasLock 节点是否仍持有该锁请求 (可能已被关联节点抢先锁定并移除)
func (n *Node) HasLock(lk KeyedLock) bool {
	for _, l := range n.Locks {
		if l == lk {
			return true
		}
	}
	return false
}

func (n *Node) HasUnlock(lk KeyedLock) bool {
	for _, l := range n.Unlocks {
		if l == lk {
			return true
		}
	}
	return false
}

// RemoveLock 删除一条锁请求，返回是否存在
func (n *Node) RemoveLock(lk KeyedLock) bool {
	for i, l := range n.Locks {
		if l == lk {
			n.Locks = append(n.Locks[:i:i], n.Locks[i+1:]...)
			return true
		}
	}
	return false
}

func (n *Node) Copy() *Node {
	cp := *n
	cp.Locks = append([]KeyedLock(nil), n.Locks...)
	cp.Unlocks = append([]KeyedLock(nil), n.Unlocks...)
	if n.Command != nil {
		cmd := *n.Command
		cmd.Message = append([]Value(nil), n.Command.Message...)
		cp.Command = &cmd
	}
	if n.Result != nil {
		cp.Result = append(json.RawMessage(nil), n.Result...)
	}
	return &cp
}
