// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizarchain/mizar/analyzer"
	dbm "github.com/mizarchain/mizar/common/db"
	"github.com/mizarchain/mizar/types"
	"github.com/mizarchain/mizar/vm"
)

func mustGraph(txs []*types.Transaction) *analyzer.ConflictGraph {
	return analyzer.BuildGraph(txs)
}

func newTestScheduler(t *testing.T, tune func(cfg *types.Config)) (*Scheduler, dbm.DB) {
	cfg := types.DefaultConfig()
	cfg.Exec.Workers = 4
	if tune != nil {
		tune(cfg)
	}
	db, err := dbm.NewGoMemDB("exec", "", 16)
	require.NoError(t, err)
	s, err := New(cfg, db, &vm.InterpRuntime{})
	require.NoError(t, err)
	s.RegisterCompiler("v1", &vm.InterpCompiler{})
	return s, db
}

func progTx(src string, reads, writes []string) *types.Transaction {
	tx := types.NewTransaction(0, []byte(src))
	tx.ReadKeys = reads
	tx.WriteKeys = writes
	tx.Declared = reads != nil || writes != nil
	return tx
}

func dbValue(t *testing.T, db dbm.DB, key string) []byte {
	val, err := db.Get([]byte(key))
	if err == dbm.ErrNotFoundInDb {
		return nil
	}
	require.NoError(t, err)
	return val
}

// 所有策略的终态都必须和串行参考语义一致
func TestStrategyEquivalence(t *testing.T) {
	build := func() []*types.Transaction {
		return []*types.Transaction{
			progTx("WRITE k base\nADD a 1\n", nil, []string{"k", "a"}),
			progTx("READ k\nADD a 10\n", []string{"k"}, []string{"a"}),
			progTx("ADD a 100\nWRITE b x\n", []string{"a"}, []string{"a", "b"}),
			progTx("READ b\nADD c 7\n", []string{"b"}, []string{"c"}),
			progTx("ADD a -11\n", []string{"a"}, []string{"a"}),
		}
	}

	var want map[string]string
	for _, strat := range []types.Strategy{
		types.StrategySequential,
		types.StrategyPartition,
		types.StrategyOptimistic,
		types.StrategyDAG,
	} {
		s, db := newTestScheduler(t, nil)
		report, err := s.SubmitBatchStrategy(context.Background(), build(), strat)
		require.NoError(t, err, strat.String())
		assert.Equal(t, 5, report.CommittedCount(), strat.String())

		got := map[string]string{
			"k": string(dbValue(t, db, "k")),
			"a": string(dbValue(t, db, "a")),
			"b": string(dbValue(t, db, "b")),
			"c": string(dbValue(t, db, "c")),
		}
		if want == nil {
			want = got
			assert.Equal(t, "100", want["a"])
			continue
		}
		assert.Equal(t, want, got, strat.String())
	}
}

// tx0 写 K, tx1 读 K, tx2-tx4 互不相交
func TestDisjointTailScenario(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	txs := []*types.Transaction{
		progTx("WRITE K v1\n", nil, []string{"K"}),
		progTx("READ K\nWRITE r seen\n", []string{"K"}, []string{"r"}),
		progTx("WRITE x2 1\n", nil, []string{"x2"}),
		progTx("WRITE x3 1\n", nil, []string{"x3"}),
		progTx("WRITE x4 1\n", nil, []string{"x4"}),
	}
	report, err := s.SubmitBatch(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)
	assert.Equal(t, 5, report.CommittedCount())

	// 报告严格按提交序
	for i, res := range report.Results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, types.StatusCommitted, res.Status)
	}
	assert.Equal(t, []byte("v1"), dbValue(t, db, "K"))
	assert.Equal(t, []byte("seen"), dbValue(t, db, "r"))
	assert.Equal(t, []byte("1"), dbValue(t, db, "x4"))
}

func TestOptimisticConflictRetry(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	// 全部累加同一个键, 推测执行必然互相失效
	txs := make([]*types.Transaction, 8)
	for i := range txs {
		txs[i] = progTx(fmt.Sprintf("ADD hot 1\nWRITE pad%d x\n", i), nil, nil)
		txs[i].ReadKeys = []string{"hot"}
		txs[i].WriteKeys = []string{"hot", fmt.Sprintf("pad%d", i)}
		txs[i].Declared = false
	}
	report, err := s.SubmitBatchStrategy(context.Background(), txs, types.StrategyOptimistic)
	require.NoError(t, err)
	assert.Equal(t, 8, report.CommittedCount())
	assert.Equal(t, []byte("8"), dbValue(t, db, "hot"))
}

// 单笔交易的重执行次数有界: 重试波次用尽后就地按串行语义落位
func TestOptimisticRetryBound(t *testing.T) {
	s, db := newTestScheduler(t, func(cfg *types.Config) {
		cfg.Exec.Workers = 8
		cfg.Exec.RetryLimit = 2
	})
	txs := make([]*types.Transaction, 16)
	for i := range txs {
		txs[i] = progTx("ADD hot 1\n", []string{"hot"}, []string{"hot"})
	}
	report, err := s.SubmitBatchStrategy(context.Background(), txs, types.StrategyOptimistic)
	require.NoError(t, err)
	assert.Equal(t, 16, report.CommittedCount())
	assert.Equal(t, []byte("16"), dbValue(t, db, "hot"))
	for _, res := range report.Results {
		// 重试波最多 RetryLimit 次, 收尾落位最多再加一次
		assert.LessOrEqual(t, res.Retries, s.cfg.Exec.RetryLimit+1, "tx %d", res.Index)
	}
}

func TestFailedTxIsolated(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	txs := []*types.Transaction{
		progTx("WRITE a 1\n", nil, []string{"a"}),
		progTx("WRITE ghost 1\nTRAP\n", nil, []string{"ghost"}),
		progTx("WRITE b 2\n", nil, []string{"b"}),
	}
	report, err := s.SubmitBatch(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CommittedCount())
	assert.Equal(t, types.StatusFailed, report.Results[1].Status)
	assert.NotEmpty(t, report.Results[1].Err)

	// 失败交易的写一滴都不能落盘
	assert.Nil(t, dbValue(t, db, "ghost"))
	assert.Equal(t, []byte("1"), dbValue(t, db, "a"))
	assert.Equal(t, []byte("2"), dbValue(t, db, "b"))
}

func TestBudgetAbort(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	txs := []*types.Transaction{
		progTx("SPIN 1000000\nWRITE x 1\n", nil, []string{"x"}),
		progTx("WRITE y 1\n", nil, []string{"y"}),
	}
	txs[0].StepBudget = 10
	report, err := s.SubmitBatch(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAborted, report.Results[0].Status)
	assert.Equal(t, types.StatusCommitted, report.Results[1].Status)
	assert.Nil(t, dbValue(t, db, "x"))
}

func TestEmptyAndOversizeBatch(t *testing.T) {
	s, _ := newTestScheduler(t, func(cfg *types.Config) {
		cfg.Exec.MaxBatchSize = 2
	})
	_, err := s.SubmitBatch(context.Background(), nil)
	assert.Equal(t, types.ErrEmptyBatch, err)

	txs := []*types.Transaction{
		progTx("WRITE a 1\n", nil, nil),
		progTx("WRITE b 1\n", nil, nil),
		progTx("WRITE c 1\n", nil, nil),
	}
	_, err = s.SubmitBatch(context.Background(), txs)
	assert.Equal(t, types.ErrBatchTooLarge, err)
}

func TestInferAccessSet(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	txs := []*types.Transaction{
		progTx("READ a\nWRITE b 1\n", nil, nil),
		progTx("WRITE c 1\n", nil, nil),
	}
	_, err := s.SubmitBatch(context.Background(), txs)
	require.NoError(t, err)

	// 访问集从编译产物静态提取, 但仍然只是提示
	assert.Equal(t, []string{"a"}, txs[0].ReadKeys)
	assert.Equal(t, []string{"b"}, txs[0].WriteKeys)
	assert.False(t, txs[0].Declared)
}

func TestDAGDowngrade(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	// 两个写者破坏单属主前提, DAG 必须降级而不是报错
	txs := []*types.Transaction{
		progTx("ADD k 1\n", []string{"k"}, []string{"k"}),
		progTx("ADD k 1\n", []string{"k"}, []string{"k"}),
	}
	report, err := s.SubmitBatchStrategy(context.Background(), txs, types.StrategyDAG)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyOptimistic, report.Strategy)
	assert.Equal(t, 2, report.CommittedCount())
	assert.Equal(t, []byte("2"), dbValue(t, db, "k"))
}

func TestDAGLayers(t *testing.T) {
	txs := []*types.Transaction{
		progTx("WRITE k 1\n", nil, []string{"k"}),
		progTx("READ k\nWRITE a 1\n", []string{"k"}, []string{"a"}),
		progTx("READ k\nWRITE b 1\n", []string{"k"}, []string{"b"}),
		progTx("WRITE z 1\n", nil, []string{"z"}),
	}
	for i, tx := range txs {
		tx.Index = i
	}
	g := mustGraph(txs)
	layers, err := buildLayers(txs, g)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, []int{0, 3}, layers[0])
	assert.Equal(t, []int{1, 2}, layers[1])
}

func TestDAGRejectsBackwardRead(t *testing.T) {
	txs := []*types.Transaction{
		progTx("READ k\n", []string{"k"}, nil),
		progTx("WRITE k 1\n", nil, []string{"k"}),
	}
	for i, tx := range txs {
		tx.Index = i
	}
	_, err := buildLayers(txs, mustGraph(txs))
	require.Error(t, err)
	assert.Equal(t, types.ErrDAGCycle, errCause(err))
}

func TestBatchCancelled(t *testing.T) {
	s, db := newTestScheduler(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	txs := []*types.Transaction{
		progTx("WRITE t0 1\n", nil, []string{"t0"}),
		progTx("WRITE t1 1\n", nil, []string{"t1"}),
	}
	report, err := s.SubmitBatchStrategy(ctx, txs, types.StrategySequential)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CommittedCount())
	for _, res := range report.Results {
		assert.Equal(t, types.StatusFailed, res.Status)
	}
	assert.Nil(t, dbValue(t, db, "t0"))
	assert.Nil(t, dbValue(t, db, "t1"))
}

func TestPartitionGroups(t *testing.T) {
	txs := []*types.Transaction{
		progTx("", nil, []string{"a"}),
		progTx("", []string{"a"}, []string{"b"}),
		progTx("", nil, []string{"c"}),
		progTx("", []string{"c"}, nil),
		progTx("", nil, []string{"d"}),
	}
	for i, tx := range txs {
		tx.Index = i
	}
	groups := partitions(mustGraph(txs))
	require.Len(t, groups, 3)
	assert.Equal(t, []int{0, 1}, groups[0])
	assert.Equal(t, []int{2, 3}, groups[1])
	assert.Equal(t, []int{4}, groups[2])
}

func TestStatsFilled(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	txs := []*types.Transaction{
		progTx("ADD a 1\nSPIN 5\n", []string{"a"}, []string{"a"}),
		progTx("WRITE b 1\n", nil, []string{"b"}),
	}
	report, err := s.SubmitBatch(context.Background(), txs)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.TotalTxs)
	assert.Equal(t, 2, report.Stats.Committed)
	assert.Equal(t, 0, report.Stats.Failed)
	assert.Equal(t, int64(7), report.Stats.TotalSteps)
	assert.Greater(t, report.Stats.Duration.Nanoseconds(), int64(0))
	assert.NotEmpty(t, report.BatchID)
}
