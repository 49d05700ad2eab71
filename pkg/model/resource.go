package model

import (
	"github.com/pkg/errors"
)

// 资源特征中约定的 Key
const (
	FeatureVariant      = "variant"
	FeatureName         = "name"
	FeatureAddrExternal = "addr_external"

	VariantAgent = "agent"
	VariantGroup = "group"
)

type ResourceID string

// Features 资源特征表 (JSON 值: string / float64 / bool / 嵌套 map / slice)
type Features map[string]any

// Resource 一个设备实例 (机械臂、仪器、或者纯描述性的分组)
type Resource struct {
	ID       ResourceID `json:"id"`
	Features Features   `json:"features"`

	// 仅 Agent 有效：引擎内部的 Relay 地址，由引擎在注册时分配
	AddrInternal string `json:"addr_internal,omitempty"`
}

func (r *Resource) Variant() string {
	v, _ := r.Features[FeatureVariant].(string)
	return v
}

func (r *Resource) IsAgent() bool {
	return r.Variant() == VariantAgent
}

// AddrExternal Agent 对外暴露的真实网络地址
func (r *Resource) AddrExternal() string {
	v, _ := r.Features[FeatureAddrExternal].(string)
	return v
}

// Name 仅用于日志展示
func (r *Resource) Name() string {
	if v, ok := r.Features[FeatureName].(string); ok {
		return v
	}
	return ""
}

// Validate 注册入口处的格式校验
func (r *Resource) Validate() error {
	if r.ID == "" {
		return errors.Wrap(ErrInvalidResource, "missing id")
	}
	if r.Features == nil {
		return errors.Wrapf(ErrInvalidResource, "resource %s has no features", r.ID)
	}
	if r.IsAgent() && r.AddrExternal() == "" {
		return errors.Wrapf(ErrInvalidResource, "agent %s has no %s", r.ID, FeatureAddrExternal)
	}
	return nil
}

// Copy 深拷贝特征表，快照和跨锁传递时使用
func (r *Resource) Copy() *Resource {
	return &Resource{
		ID:           r.ID,
		Features:     copyFeatures(r.Features),
		AddrInternal: r.AddrInternal,
	}
}

func copyFeatures(f Features) Features {
	if f == nil {
		return nil
	}
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = copyAny(v)
	}
	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = copyAny(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = copyAny(vv)
		}
		return s
	default:
		return v
	}
}
