// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package db 封装.持久化存储的 kv 接口, 注册多种后端实现
package db

import (
	"errors"
	"fmt"
)

//ErrNotFoundInDb 数据库中没有该键
var ErrNotFoundInDb = errors.New("ErrNotFoundInDb")

//DB 统一的 kv 存储接口
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error
	Close()
	NewBatch(sync bool) Batch
	// Iterator 遍历指定前缀下的所有键值, prefix 为 nil 遍历全部
	Iterator(prefix []byte) Iterator
	Stats() map[string]string
}

//Batch 批量写
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Write() error
}

//Iterator 迭代器, 用完必须 Close
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close()
}

const (
	//MemDBBackendStr 内存后端, 测试用
	MemDBBackendStr = "memdb"
	//GoLevelDBBackendStr goleveldb 后端
	GoLevelDBBackendStr = "goleveldb"
	//GoBadgerDBBackendStr badger 后端
	GoBadgerDBBackendStr = "gobadgerdb"
)

type dbCreator func(name string, dir string, cache int) (DB, error)

var backends = map[string]dbCreator{}

func registerDBCreator(backend string, creator dbCreator, force bool) {
	_, ok := backends[backend]
	if !force && ok {
		return
	}
	backends[backend] = creator
}

//NewDB 创建指定后端的数据库, 配置错误直接 panic
func NewDB(name string, backend string, dir string, cache int) DB {
	dbCreator, ok := backends[backend]
	if !ok {
		fmt.Printf("Error initializing DB: %v\n", backend)
		panic("initializing DB error")
	}
	db, err := dbCreator(name, dir, cache)
	if err != nil {
		fmt.Printf("Error initializing DB: %v\n", err)
		panic("initializing DB error")
	}
	return db
}
