package model

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// refKey 引用值在 JSON 中的标记: {"$ref": {"alias": "...", "feature": "..."}}
const refKey = "$ref"

// FeatureRef 指向另一个别名所绑定资源的某个特征，绑定之后才能解析
type FeatureRef struct {
	Alias   string `json:"alias"`
	Feature string `json:"feature"`
}

// Value 模板/命令中的元素：字面量 或 特征引用 (二选一)
type Value struct {
	Literal any
	Ref     *FeatureRef
}

func Literal(v any) Value {
	return Value{Literal: v}
}

func Ref(alias, feature string) Value {
	return Value{Ref: &FeatureRef{Alias: alias, Feature: feature}}
}

func (v Value) IsRef() bool {
	return v.Ref != nil
}

// Equal 字面量比较 (JSON 解码后的类型是统一的)
func (v Value) Equal(other any) bool {
	return reflect.DeepEqual(v.Literal, other)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Ref != nil {
		return json.Marshal(map[string]*FeatureRef{refKey: v.Ref})
	}
	return json.Marshal(v.Literal)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if raw, ok := probe[refKey]; ok && len(probe) == 1 {
			var ref FeatureRef
			if err := json.Unmarshal(raw, &ref); err != nil {
				return errors.Wrap(err, "decoding feature reference")
			}
			if ref.Alias == "" || ref.Feature == "" {
				return errors.New("feature reference needs both alias and feature")
			}
			*v = Value{Ref: &ref}
			return nil
		}
	}

	var lit any
	if err := json.Unmarshal(trimmed, &lit); err != nil {
		return err
	}
	*v = Value{Literal: lit}
	return nil
}

// Template 别名的特征模板
type Template map[string]Value

// Refs 模板里引用到的其它别名
func (t Template) Refs() []FeatureRef {
	var refs []FeatureRef
	for _, v := range t {
		if v.Ref != nil {
			refs = append(refs, *v.Ref)
		}
	}
	return refs
}
