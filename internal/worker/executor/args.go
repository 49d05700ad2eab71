// Package executor 参考 Agent 的命令执行方式。
package executor

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

var ErrEmptyCommand = errors.New("empty command")

// CommandArgs 把 JSON 消息元素转成命令行参数；对象和数组按 JSON 文本传入
func CommandArgs(message []any) ([]string, error) {
	if len(message) == 0 {
		return nil, ErrEmptyCommand
	}

	args := make([]string, 0, len(message))
	for i, v := range message {
		switch val := v.(type) {
		case string:
			args = append(args, val)
		case float64:
			args = append(args, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			args = append(args, strconv.FormatBool(val))
		case nil:
			args = append(args, "")
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				return nil, errors.Wrapf(err, "encoding element %d", i)
			}
			args = append(args, string(raw))
		}
	}
	return args, nil
}

// Echo 原样返回消息，用于联调和测试
type Echo struct{}

func (Echo) Handle(_ context.Context, message []any) (any, error) {
	return message, nil
}
