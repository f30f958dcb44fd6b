// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state 状态视图: 写时复制快照与多版本内存
package state

import (
	"sort"
	"sync"

	dbm "github.com/mizarchain/mizar/common/db"
	"github.com/mizarchain/mizar/types"
)

//Reader 只读状态访问
type Reader interface {
	Get(key string) ([]byte, error)
}

//View 写时复制的状态快照
//读沿 parent 链回溯到底层 db, 写只落在本层
//规范状态只能由提交器推进, View 永远不直接写底层
type View struct {
	base   dbm.DB
	parent *View
	lock   sync.RWMutex
	writes map[string]*[]byte // nil 指向的值表示删除
}

//NewView 基于底层 db 创建根视图, base 可以为 nil
func NewView(base dbm.DB) *View {
	return &View{
		base:   base,
		writes: make(map[string]*[]byte),
	}
}

//Snapshot 创建子视图, 父视图内容对子视图可见
func (v *View) Snapshot() *View {
	return &View{
		base:   v.base,
		parent: v,
		writes: make(map[string]*[]byte),
	}
}

//Get 本层 -> 父链 -> 底层 db
func (v *View) Get(key string) ([]byte, error) {
	v.lock.RLock()
	val, ok := v.writes[key]
	v.lock.RUnlock()
	if ok {
		if val == nil {
			return nil, types.ErrNotFound
		}
		return *val, nil
	}
	if v.parent != nil {
		return v.parent.Get(key)
	}
	if v.base == nil {
		return nil, types.ErrNotFound
	}
	raw, err := v.base.Get([]byte(key))
	if err != nil {
		if err == dbm.ErrNotFoundInDb {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

//Set 写入本层
func (v *View) Set(key string, value []byte) {
	v.lock.Lock()
	v.writes[key] = &value
	v.lock.Unlock()
}

//Delete 在本层标记删除
func (v *View) Delete(key string) {
	v.lock.Lock()
	v.writes[key] = nil
	v.lock.Unlock()
}

//ApplyDelta 把一段状态增量并入本层
func (v *View) ApplyDelta(delta []types.KeyValue) {
	v.lock.Lock()
	for i := range delta {
		kv := delta[i]
		if kv.Value == nil {
			v.writes[kv.Key] = nil
		} else {
			val := kv.Value
			v.writes[kv.Key] = &val
		}
	}
	v.lock.Unlock()
}

//Delta 导出本层写集, 按键排序保证确定性
func (v *View) Delta() []types.KeyValue {
	v.lock.RLock()
	defer v.lock.RUnlock()
	keys := make([]string, 0, len(v.writes))
	for k := range v.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	delta := make([]types.KeyValue, 0, len(keys))
	for _, k := range keys {
		val := v.writes[k]
		if val == nil {
			delta = append(delta, types.KeyValue{Key: k})
		} else {
			delta = append(delta, types.KeyValue{Key: k, Value: *val})
		}
	}
	return delta
}

//Len 本层写集大小
func (v *View) Len() int {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return len(v.writes)
}
