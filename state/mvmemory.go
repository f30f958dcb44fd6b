// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

//Version 某个键的一次写入版本, 以提交序号标识
type Version struct {
	// Index 写入者在批次内的提交序号
	Index int
	// Incarnation 写入者第几次执行产生的值
	Incarnation int
}

//ReadDesc 一次推测读: 读到的键以及观察到的版本
//Ver 为 nil 表示读穿到批次之前的基础状态
type ReadDesc struct {
	Key string
	Ver *Version
}

//WriteDesc 一次推测写
type WriteDesc struct {
	Key   string
	Value []byte
}

//ReadStatus 多版本读的结果状态
type ReadStatus int

const (
	//ReadOK 命中某个较低序号交易的写
	ReadOK ReadStatus = iota
	//ReadBase 没有更低序号的写, 应读基础状态
	ReadBase
)

// 每个键一条按提交序号排序的版本链
// 按 arena 方式集中管理, 避免指针图, 回收边界显式可控
type versionChain struct {
	lock sync.RWMutex
	tm   *treemap.Map // int(提交序号) -> *versionCell
}

type versionCell struct {
	incarnation int
	value       []byte
}

//MVMemory 批次内的多版本内存
//推测执行的写全部落在这里, 规范状态不被触碰
type MVMemory struct {
	data       sync.Map // key string -> *versionChain
	lock       sync.RWMutex
	lastReads  [][]ReadDesc
	lastWrites [][]string
}

//NewMVMemory 创建容纳 size 笔交易的多版本内存
func NewMVMemory(size int) *MVMemory {
	return &MVMemory{
		lastReads:  make([][]ReadDesc, size),
		lastWrites: make([][]string, size),
	}
}

func (m *MVMemory) chain(key string, create bool) *versionChain {
	val, ok := m.data.Load(key)
	if ok {
		return val.(*versionChain)
	}
	if !create {
		return nil
	}
	n := &versionChain{tm: treemap.NewWith(utils.IntComparator)}
	actual, _ := m.data.LoadOrStore(key, n)
	return actual.(*versionChain)
}

//Read 返回提交序号小于 idx 的最近写
func (m *MVMemory) Read(key string, idx int) (val []byte, ver Version, status ReadStatus) {
	c := m.chain(key, false)
	if c == nil {
		return nil, Version{}, ReadBase
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	fk, fv := c.tm.Floor(idx - 1)
	if fk == nil {
		return nil, Version{}, ReadBase
	}
	cell := fv.(*versionCell)
	return cell.value, Version{Index: fk.(int), Incarnation: cell.incarnation}, ReadOK
}

//Record 记录一笔交易一次执行的读写集, 替换旧写集
func (m *MVMemory) Record(ver Version, reads []ReadDesc, writes []WriteDesc) {
	newKeys := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		m.write(ver, w.Key, w.Value)
		newKeys[w.Key] = struct{}{}
	}

	m.lock.Lock()
	prev := m.lastWrites[ver.Index]
	keys := make([]string, 0, len(newKeys))
	for k := range newKeys {
		keys = append(keys, k)
	}
	m.lastWrites[ver.Index] = keys
	m.lastReads[ver.Index] = reads
	m.lock.Unlock()

	// 上一轮写过而这一轮没写的键要清掉
	for _, k := range prev {
		if _, ok := newKeys[k]; !ok {
			m.remove(k, ver.Index)
		}
	}
}

//Abort 丢弃某笔交易的全部写, 供重试前调用
func (m *MVMemory) Abort(idx int) {
	m.lock.Lock()
	keys := m.lastWrites[idx]
	m.lastWrites[idx] = nil
	m.lock.Unlock()
	for _, k := range keys {
		m.remove(k, idx)
	}
}

//ReadSet 某笔交易最近一次执行记录的读集
func (m *MVMemory) ReadSet(idx int) []ReadDesc {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.lastReads[idx]
}

//WriteSet 某笔交易当前生效的写集
func (m *MVMemory) WriteSet(idx int) []WriteDesc {
	m.lock.RLock()
	keys := m.lastWrites[idx]
	m.lock.RUnlock()
	writes := make([]WriteDesc, 0, len(keys))
	for _, k := range keys {
		c := m.chain(k, false)
		if c == nil {
			continue
		}
		c.lock.RLock()
		if cv, ok := c.tm.Get(idx); ok {
			writes = append(writes, WriteDesc{Key: k, Value: cv.(*versionCell).value})
		}
		c.lock.RUnlock()
	}
	return writes
}

//Validate 重放读集: 观察到的版本必须仍然是当前可见版本
func (m *MVMemory) Validate(idx int) bool {
	for _, rd := range m.ReadSet(idx) {
		_, ver, status := m.Read(rd.Key, idx)
		if status == ReadBase {
			if rd.Ver != nil {
				return false
			}
			continue
		}
		if rd.Ver == nil || *rd.Ver != ver {
			return false
		}
	}
	return true
}

//Compact 回收低版本: minReader 之前不再有在途读者时,
//每条链只保留 minReader 的可见版本及其之后的版本
func (m *MVMemory) Compact(minReader int) {
	m.data.Range(func(_, v any) bool {
		c := v.(*versionChain)
		c.lock.Lock()
		fk, _ := c.tm.Floor(minReader - 1)
		if fk != nil {
			floor := fk.(int)
			var drop []int
			it := c.tm.Iterator()
			for it.Next() {
				if it.Key().(int) < floor {
					drop = append(drop, it.Key().(int))
				}
			}
			for _, k := range drop {
				c.tm.Remove(k)
			}
		}
		c.lock.Unlock()
		return true
	})
}

func (m *MVMemory) write(ver Version, key string, value []byte) {
	c := m.chain(key, true)
	c.lock.Lock()
	c.tm.Put(ver.Index, &versionCell{incarnation: ver.Incarnation, value: value})
	c.lock.Unlock()
}

func (m *MVMemory) remove(key string, idx int) {
	c := m.chain(key, false)
	if c == nil {
		return
	}
	c.lock.Lock()
	c.tm.Remove(idx)
	c.lock.Unlock()
}
