package scheduler

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrCommandFailed Agent 明确回复了失败
var ErrCommandFailed = errors.New("agent reported command failure")

//go:generate mockgen -destination=mock_scheduler/mock_dispatcher.go -package=mock_scheduler simlab/internal/master/scheduler Dispatcher

// Dispatcher 把解析后的命令发到 Agent 的内部 Relay 地址并等待回复。
// 实现必须遵守 ctx 的取消/超时。
type Dispatcher interface {
	Dispatch(ctx context.Context, addr string, message []any) (json.RawMessage, error)
}
