package model

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DecodeJob 解析作业描述，JSON 优先，否则按 YAML 解析 (YAML 先转成 JSON 复用同一套解码)
func DecodeJob(data []byte) (*Job, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var job Job
		if err := json.Unmarshal(trimmed, &job); err != nil {
			return nil, errors.Wrap(err, "parsing job json")
		}
		return &job, nil
	}

	var doc any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing job yaml")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "converting job yaml")
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, errors.Wrap(err, "decoding job")
	}
	return &job, nil
}
