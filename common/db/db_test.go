// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// 基本读写测试
func testDBGetSet(t *testing.T, db DB) {
	t.Log("test Set")
	require.NoError(t, db.Set([]byte("my_key/1"), []byte("v1")))
	require.NoError(t, db.Set([]byte("my_key/2"), []byte("v2")))
	require.NoError(t, db.Set([]byte("other/1"), []byte("o1")))

	t.Log("test Get")
	v, err := db.Get([]byte("my_key/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	_, err = db.Get([]byte("nokey"))
	require.Equal(t, ErrNotFoundInDb, err)

	t.Log("test Delete")
	require.NoError(t, db.Delete([]byte("my_key/1")))
	_, err = db.Get([]byte("my_key/1"))
	require.Equal(t, ErrNotFoundInDb, err)
}

func testDBIterator(t *testing.T, db DB) {
	require.NoError(t, db.Set([]byte("it/1"), []byte("1")))
	require.NoError(t, db.Set([]byte("it/2"), []byte("2")))
	require.NoError(t, db.Set([]byte("it/3"), []byte("3")))
	require.NoError(t, db.Set([]byte("zz/1"), []byte("z")))

	it := db.Iterator([]byte("it/"))
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"it/1", "it/2", "it/3"}, keys)
}

func testDBBatch(t *testing.T, db DB) {
	batch := db.NewBatch(true)
	batch.Set([]byte("batch/1"), []byte("1"))
	batch.Set([]byte("batch/2"), []byte("2"))
	batch.Delete([]byte("batch/1"))
	require.NoError(t, batch.Write())

	_, err := db.Get([]byte("batch/1"))
	require.Equal(t, ErrNotFoundInDb, err)
	v, err := db.Get([]byte("batch/2"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestGoMemDB(t *testing.T) {
	db, err := NewGoMemDB("memdb", "", 0)
	require.NoError(t, err)
	defer db.Close()

	testDBGetSet(t, db)
	testDBIterator(t, db)
	testDBBatch(t, db)
}

func TestGoLevelDB(t *testing.T) {
	db, err := NewGoLevelDB("leveldb", t.TempDir(), 16)
	require.NoError(t, err)
	defer db.Close()

	testDBGetSet(t, db)
	testDBIterator(t, db)
	testDBBatch(t, db)
}

func TestGoBadgerDB(t *testing.T) {
	db, err := NewGoBadgerDB("badgerdb", t.TempDir(), 16)
	require.NoError(t, err)
	defer db.Close()

	testDBGetSet(t, db)
	testDBIterator(t, db)
	testDBBatch(t, db)
}

func TestNewDB(t *testing.T) {
	db := NewDB("mizar", MemDBBackendStr, "", 0)
	defer db.Close()
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
