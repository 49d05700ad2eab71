// Package registry 保存已知资源以及当前被锁定的资源集合。
//
// Registry 本身不加锁，所有调用都必须在调度器的全局临界区内进行。
package registry

import (
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"simlab/pkg/model"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrAlreadyLocked   = errors.New("resource already locked")
	ErrNotLocked       = errors.New("resource not locked")
	ErrNotOwner        = errors.New("resource locked by another job")
)

type Registry struct {
	// 按注册顺序保存，保证匹配结果稳定
	resources *orderedmap.OrderedMap[model.ResourceID, *model.Resource]
	// 锁记录持有者，同一 id 离开后重新注册时旧作业的 Unlock 不会释放新作业的锁
	locked map[model.ResourceID]model.JobID
}

func New() *Registry {
	return &Registry{
		resources: orderedmap.NewOrderedMap[model.ResourceID, *model.Resource](),
		locked:    make(map[model.ResourceID]model.JobID),
	}
}

// Add 注册资源；重复的 id 是幂等的空操作，返回 false
func (r *Registry) Add(res *model.Resource) bool {
	if _, ok := r.resources.Get(res.ID); ok {
		return false
	}
	r.resources.Set(res.ID, res)
	return true
}

// Remove 删除资源，同时清掉它的锁记录。返回被删除的资源以及它是否处于锁定状态
func (r *Registry) Remove(id model.ResourceID) (res *model.Resource, wasLocked bool, ok bool) {
	res, ok = r.resources.Get(id)
	if !ok {
		return nil, false, false
	}
	r.resources.Delete(id)
	_, wasLocked = r.locked[id]
	delete(r.locked, id)
	return res, wasLocked, true
}

func (r *Registry) Get(id model.ResourceID) (*model.Resource, bool) {
	return r.resources.Get(id)
}

func (r *Registry) Len() int {
	return r.resources.Len()
}

// Resources 全部资源 (注册顺序)
func (r *Registry) Resources() []*model.Resource {
	out := make([]*model.Resource, 0, r.resources.Len())
	for el := r.resources.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// Unlocked 当前未被锁定的资源 (注册顺序)
func (r *Registry) Unlocked() []*model.Resource {
	out := make([]*model.Resource, 0, r.resources.Len()-len(r.locked))
	for el := r.resources.Front(); el != nil; el = el.Next() {
		if _, locked := r.locked[el.Key]; !locked {
			out = append(out, el.Value)
		}
	}
	return out
}

func (r *Registry) IsLocked(id model.ResourceID) bool {
	_, ok := r.locked[id]
	return ok
}

// Owner 持有锁的作业
func (r *Registry) Owner(id model.ResourceID) (model.JobID, bool) {
	owner, ok := r.locked[id]
	return owner, ok
}

// Lock 互斥：同一个 id 最多出现一次
func (r *Registry) Lock(id model.ResourceID, owner model.JobID) error {
	if _, ok := r.resources.Get(id); !ok {
		return errors.Wrapf(ErrUnknownResource, "resource %s", id)
	}
	if holder, ok := r.locked[id]; ok {
		return errors.Wrapf(ErrAlreadyLocked, "resource %s held by %s", id, holder)
	}
	r.locked[id] = owner
	return nil
}

// Unlock 只有持有者能释放
func (r *Registry) Unlock(id model.ResourceID, owner model.JobID) error {
	if _, ok := r.resources.Get(id); !ok {
		return errors.Wrapf(ErrUnknownResource, "resource %s", id)
	}
	holder, ok := r.locked[id]
	if !ok {
		return errors.Wrapf(ErrNotLocked, "resource %s", id)
	}
	if holder != owner {
		return errors.Wrapf(ErrNotOwner, "resource %s held by %s, not %s", id, holder, owner)
	}
	delete(r.locked, id)
	return nil
}

// Locked 已锁定的 id (排序后，便于快照比较)
func (r *Registry) Locked() []model.ResourceID {
	out := make([]model.ResourceID, 0, len(r.locked))
	for id := range r.locked {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
