package scheduler

import (
	"simlab/pkg/model"
)

// ResourceTable 按 id 查资源 (registry.Registry 满足)
type ResourceTable interface {
	Get(id model.ResourceID) (*model.Resource, bool)
}

// MatchAlias 遍历候选资源，返回满足别名模板的那些。
// candidates 通常是当前未锁定的资源；table 用于解析跨别名的特征引用。
func MatchAlias(alias *model.Alias, aliases map[string]*model.Alias, candidates []*model.Resource, table ResourceTable) []*model.Resource {
	// 已绑定：只需确认绑定的资源仍在候选集中 (未被锁定)
	if alias.Bound() {
		for _, res := range candidates {
			if res.ID == alias.Assigned {
				return []*model.Resource{res}
			}
		}
		return nil
	}

	matches := make([]*model.Resource, 0)
	for _, res := range candidates {
		if checkResource(alias.Template, aliases, res, table) {
			matches = append(matches, res)
		}
	}
	return matches
}

// checkResource 模板中每一项都必须满足
func checkResource(tmpl model.Template, aliases map[string]*model.Alias, res *model.Resource, table ResourceTable) bool {
	for name, want := range tmpl {
		have, ok := res.Features[name]
		if !ok {
			return false
		}

		if want.IsRef() {
			// 被引用的别名还没绑定 -> 暂时无法匹配
			val, ok := resolveRef(*want.Ref, aliases, table)
			if !ok {
				return false
			}
			want = model.Literal(val)
		}

		if !want.Equal(have) {
			return false
		}
	}
	return true
}

// resolveRef 查找被引用别名所绑定资源的特征值
func resolveRef(ref model.FeatureRef, aliases map[string]*model.Alias, table ResourceTable) (any, bool) {
	other, ok := aliases[ref.Alias]
	if !ok || !other.Bound() {
		return nil, false
	}
	res, ok := table.Get(other.Assigned)
	if !ok {
		return nil, false
	}
	val, ok := res.Features[ref.Feature]
	return val, ok
}
