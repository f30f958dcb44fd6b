// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package types

import "time"

//Strategy 并行执行策略
type Strategy int32

const (
	//StrategyPartition static partition over declared access sets
	StrategyPartition Strategy = iota
	//StrategyOptimistic optimistic multiversion execution
	StrategyOptimistic
	//StrategyDAG ownership dependency dag execution
	StrategyDAG
	//StrategySequential serial fallback, also the reference semantics
	StrategySequential
)

func (s Strategy) String() string {
	switch s {
	case StrategyPartition:
		return "partition"
	case StrategyOptimistic:
		return "optimistic"
	case StrategyDAG:
		return "dag"
	case StrategySequential:
		return "sequential"
	}
	return "unknown"
}

//ExecStatus 单笔交易执行状态
type ExecStatus int32

const (
	//StatusCommitted transaction effects are part of the canonical state
	StatusCommitted ExecStatus = iota
	//StatusAborted transaction aborted, effects discarded
	StatusAborted
	//StatusFailed transaction failed on its own, order independent
	StatusFailed
)

func (s ExecStatus) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

//KeyValue 状态增量中的一项, Value 为 nil 表示删除
type KeyValue struct {
	Key   string
	Value []byte
}

//ExecutionResult 单笔交易的执行结果
type ExecutionResult struct {
	TxID   string
	Index  int
	Status ExecStatus
	// Delta state writes produced by the transaction, empty unless committed
	Delta []KeyValue
	// StepsUsed execution steps consumed inside the sandbox
	StepsUsed int64
	// Retries times the optimistic executor re-ran the transaction
	Retries int
	// Err failure or abort reason, empty when committed
	Err string
}

//ExecutionStats 批次级统计
type ExecutionStats struct {
	TotalTxs     int
	Committed    int
	Failed       int
	TotalSteps   int64
	Conflicts    int
	Retries      int
	Duration     time.Duration
	// Efficiency committed transactions per worker second relative to the
	// sequential baseline, 1.0 when nothing ran in parallel
	Efficiency float64
}

//BatchReport 批次报告, 结果严格按提交序排列
type BatchReport struct {
	BatchID  string
	Strategy Strategy
	Results  []*ExecutionResult
	// Delta merged committed state delta in submission order
	Delta []KeyValue
	Stats  ExecutionStats
}

//CommittedCount returns the number of committed transactions
func (r *BatchReport) CommittedCount() (n int) {
	for _, res := range r.Results {
		if res.Status == StatusCommitted {
			n++
		}
	}
	return n
}
