// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"

	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

// 串行执行器: 回退路径, 同时也是其他策略必须等价于的参照语义
func (s *Scheduler) runSequential(ctx context.Context, txs []*types.Transaction) []*types.ExecutionResult {
	view := state.NewView(s.base)
	results := make([]*types.ExecutionResult, len(txs))
	for i, tx := range txs {
		if ctx.Err() != nil {
			results[i] = timeoutResult(tx)
			continue
		}
		out, err := s.executeTx(ctx, tx, view.Snapshot())
		res := resultFor(tx, out, err)
		if res.Status == types.StatusCommitted {
			view.ApplyDelta(res.Delta)
		}
		results[i] = res
	}
	return results
}

func timeoutResult(tx *types.Transaction) *types.ExecutionResult {
	return &types.ExecutionResult{
		TxID:   tx.ID,
		Index:  tx.Index,
		Status: types.StatusFailed,
		Err:    types.ErrBatchTimeout.Error(),
	}
}
