// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package db

import (
	"bytes"
	"sort"
	"sync"

	log "github.com/inconshreveable/log15"
)

var mlog = log.New("module", "db.memdb")

// memdb 无需区分同步与异步操作

func init() {
	dbCreator := func(name string, dir string, cache int) (DB, error) {
		return NewGoMemDB(name, dir, cache)
	}
	registerDBCreator(MemDBBackendStr, dbCreator, false)
}

//GoMemDB 内存数据库, 仅用于测试和单机运行
type GoMemDB struct {
	db   map[string][]byte
	lock sync.RWMutex
}

//NewGoMemDB create memdb
func NewGoMemDB(name string, dir string, cache int) (*GoMemDB, error) {
	// memdb 不需要创建文件
	return &GoMemDB{
		db: make(map[string][]byte),
	}, nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

//Get get value
func (db *GoMemDB) Get(key []byte) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if entry, ok := db.db[string(key)]; ok {
		return copyBytes(entry), nil
	}
	return nil, ErrNotFoundInDb
}

//Set set kv
func (db *GoMemDB) Set(key []byte, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.db[string(key)] = copyBytes(value)
	return nil
}

//Delete del key
func (db *GoMemDB) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	delete(db.db, string(key))
	return nil
}

//Close close
func (db *GoMemDB) Close() {
	mlog.Info("memdb closed")
}

//Stats debug only
func (db *GoMemDB) Stats() map[string]string {
	db.lock.RLock()
	defer db.lock.RUnlock()

	stats := make(map[string]string)
	stats["database.type"] = "memdb"
	return stats
}

//Iterator 排序后返回, 保证遍历顺序稳定
func (db *GoMemDB) Iterator(prefix []byte) Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()

	var keys []string
	for k := range db.db {
		if prefix == nil || bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	it := &goMemDBIter{index: -1}
	for _, k := range keys {
		it.keys = append(it.keys, []byte(k))
		it.values = append(it.values, copyBytes(db.db[k]))
	}
	return it
}

type goMemDBIter struct {
	keys   [][]byte
	values [][]byte
	index  int
}

func (it *goMemDBIter) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *goMemDBIter) Key() []byte   { return it.keys[it.index] }
func (it *goMemDBIter) Value() []byte { return it.values[it.index] }
func (it *goMemDBIter) Close()        {}

//NewBatch new batch
func (db *GoMemDB) NewBatch(sync bool) Batch {
	return &goMemDBBatch{db: db}
}

type goMemDBBatch struct {
	db      *GoMemDB
	sets    []kvpair
	deletes [][]byte
}

type kvpair struct {
	key   []byte
	value []byte
}

func (b *goMemDBBatch) Set(key, value []byte) {
	b.sets = append(b.sets, kvpair{copyBytes(key), copyBytes(value)})
}

func (b *goMemDBBatch) Delete(key []byte) {
	b.deletes = append(b.deletes, copyBytes(key))
}

func (b *goMemDBBatch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	for _, kv := range b.sets {
		b.db.db[string(kv.key)] = kv.value
	}
	for _, k := range b.deletes {
		delete(b.db.db, string(k))
	}
	return nil
}
