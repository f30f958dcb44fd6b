// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/types"
)

// commit 按提交序归并各交易写集并原子落盘
// 同键后写覆盖先写, 和串行执行的终态一致
func (s *Scheduler) commit(txs []*types.Transaction, results []*types.ExecutionResult, strat types.Strategy) *types.BatchReport {
	ordered := make([]*types.ExecutionResult, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	merged := make(map[string][]byte)
	var order []string
	stats := types.ExecutionStats{TotalTxs: len(txs)}

	for _, res := range ordered {
		stats.TotalSteps += res.StepsUsed
		stats.Retries += res.Retries
		if res.Retries > 0 {
			stats.Conflicts++
		}
		if res.Status != types.StatusCommitted {
			stats.Failed++
			metrics.TxFailed.Inc(1)
			continue
		}
		stats.Committed++
		metrics.TxCommitted.Inc(1)
		for _, kv := range res.Delta {
			if _, ok := merged[kv.Key]; !ok {
				order = append(order, kv.Key)
			}
			merged[kv.Key] = kv.Value
		}
	}

	delta := make([]types.KeyValue, 0, len(order))
	batch := s.base.NewBatch(true)
	for _, key := range order {
		val := merged[key]
		delta = append(delta, types.KeyValue{Key: key, Value: val})
		if val == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Set([]byte(key), val)
	}
	if err := batch.Write(); err != nil {
		// 落盘失败整批作废, 状态保持在批次开始之前
		elog.Error("commit batch write", "err", err)
		for _, res := range ordered {
			if res.Status == types.StatusCommitted {
				res.Status = types.StatusFailed
				res.Err = err.Error()
				res.Delta = nil
			}
		}
		stats.Failed += stats.Committed
		stats.Committed = 0
		delta = nil
	}

	return &types.BatchReport{
		BatchID:  uuid.NewString(),
		Strategy: strat,
		Results:  ordered,
		Delta:    delta,
		Stats:    stats,
	}
}
