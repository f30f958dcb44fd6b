// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package db

import (
	"path"

	"github.com/dgraph-io/badger"
	log "github.com/inconshreveable/log15"
)

var blog = log.New("module", "db.gobadgerdb")

func init() {
	dbCreator := func(name string, dir string, cache int) (DB, error) {
		return NewGoBadgerDB(name, dir, cache)
	}
	registerDBCreator(GoBadgerDBBackendStr, dbCreator, false)
}

//GoBadgerDB badger 后端
type GoBadgerDB struct {
	db *badger.DB
}

//NewGoBadgerDB new
func NewGoBadgerDB(name string, dir string, cache int) (*GoBadgerDB, error) {
	dbPath := path.Join(dir, name+".db")
	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &GoBadgerDB{db: db}, nil
}

//Get get value
func (db *GoBadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFoundInDb
	}
	if err != nil {
		blog.Error("Get", "error", err)
		return nil, err
	}
	return val, nil
}

//Set set kv
func (db *GoBadgerDB) Set(key []byte, value []byte) error {
	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		blog.Error("Set", "error", err)
	}
	return err
}

//Delete del key
func (db *GoBadgerDB) Delete(key []byte) error {
	err := db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		blog.Error("Delete", "error", err)
	}
	return err
}

//Close close
func (db *GoBadgerDB) Close() {
	err := db.db.Close()
	if err != nil {
		blog.Error("Close", "error", err)
	}
}

//Stats debug only
func (db *GoBadgerDB) Stats() map[string]string {
	stats := make(map[string]string)
	stats["database.type"] = "gobadgerdb"
	return stats
}

//Iterator 前缀迭代, 底层保持只读事务直到 Close
func (db *GoBadgerDB) Iterator(prefix []byte) Iterator {
	txn := db.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := txn.NewIterator(opts)
	iter.Rewind()
	return &goBadgerDBIter{txn: txn, iter: iter, first: true}
}

type goBadgerDBIter struct {
	txn   *badger.Txn
	iter  *badger.Iterator
	first bool
}

func (it *goBadgerDBIter) Next() bool {
	if it.first {
		it.first = false
	} else {
		it.iter.Next()
	}
	return it.iter.Valid()
}

func (it *goBadgerDBIter) Key() []byte {
	return it.iter.Item().KeyCopy(nil)
}

func (it *goBadgerDBIter) Value() []byte {
	val, err := it.iter.Item().ValueCopy(nil)
	if err != nil {
		blog.Error("Iterator value", "error", err)
		return nil
	}
	return val
}

func (it *goBadgerDBIter) Close() {
	it.iter.Close()
	it.txn.Discard()
}

//NewBatch new batch
func (db *GoBadgerDB) NewBatch(sync bool) Batch {
	return &goBadgerDBBatch{wb: db.db.NewWriteBatch()}
}

type goBadgerDBBatch struct {
	wb *badger.WriteBatch
}

func (mBatch *goBadgerDBBatch) Set(key, value []byte) {
	if err := mBatch.wb.Set(key, value); err != nil {
		blog.Error("batch Set", "error", err)
	}
}

func (mBatch *goBadgerDBBatch) Delete(key []byte) {
	if err := mBatch.wb.Delete(key); err != nil {
		blog.Error("batch Delete", "error", err)
	}
}

func (mBatch *goBadgerDBBatch) Write() error {
	err := mBatch.wb.Flush()
	if err != nil {
		blog.Error("batch Write", "error", err)
	}
	return err
}
