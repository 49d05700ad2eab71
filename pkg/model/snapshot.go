package model

import "time"

// JobSummary 遥测中的作业信息 (节点本身在 Nodes 里)
type JobSummary struct {
	ID      JobID             `json:"id"`
	Aliases map[string]*Alias `json:"aliases"`
	Nodes   []NodeID          `json:"nodes"`
}

// Snapshot 引擎状态的完整快照，每次发布整体替换上一次
type Snapshot struct {
	Taken     time.Time    `json:"taken"`
	Nodes     []*Node      `json:"nodes"`
	Edges     []Edge       `json:"edges"`
	Jobs      []JobSummary `json:"jobs"`
	Resources []*Resource  `json:"resources"`
	Locked    []ResourceID `json:"locked"`
}
