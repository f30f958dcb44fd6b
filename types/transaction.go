// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package types

import (
	"github.com/mizarchain/mizar/common"
)

//Transaction 批次内的一笔交易, 进入批次后不可变
type Transaction struct {
	// ID unique transaction id, normally the hex of the payload hash
	ID string
	// Index submission order inside the batch, assigned at ingestion
	Index int
	// ReadKeys declared state keys read by the transaction
	ReadKeys []string
	// WriteKeys declared state keys written by the transaction
	WriteKeys []string
	// Declared true if the access set above is authoritative,
	// false if it is only a hint inferred upstream
	Declared bool
	// Payload raw bytecode executed by the sandbox
	Payload []byte
	// CompilerVersion selects the compiler for Payload
	CompilerVersion string
	// StepBudget hard per-transaction execution step limit, 0 means default
	StepBudget int64
}

//NewTransaction create transaction, id 为空时取 payload 哈希
func NewTransaction(index int, payload []byte) *Transaction {
	return &Transaction{
		ID:      common.ToHex(common.Sha256(payload)),
		Index:   index,
		Payload: payload,
	}
}

//AccessSet 交易声明或推断的读写集
type AccessSet struct {
	Reads  []string
	Writes []string
}

//GetAccessSet returns the declared access set of the transaction
func (tx *Transaction) GetAccessSet() AccessSet {
	return AccessSet{Reads: tx.ReadKeys, Writes: tx.WriteKeys}
}

//Touches true if the transaction reads or writes the key
func (tx *Transaction) Touches(key string) bool {
	for _, k := range tx.WriteKeys {
		if k == key {
			return true
		}
	}
	for _, k := range tx.ReadKeys {
		if k == key {
			return true
		}
	}
	return false
}

//Conflicts 两笔交易冲突: 一方的写集与另一方的读写集相交
func Conflicts(a, b *Transaction) bool {
	if intersects(a.WriteKeys, b.WriteKeys) {
		return true
	}
	if intersects(a.WriteKeys, b.ReadKeys) {
		return true
	}
	return intersects(b.WriteKeys, a.ReadKeys)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
