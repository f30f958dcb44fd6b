// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"

	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

// 乐观多版本执行器
// 第一波全量并行推测执行, 写进多版本内存而不是规范状态,
// 读记录观察到的版本; 之后按提交序做顺序校验,
// 失效交易中止后带新视图重试, 次数有界;
// 重试波次用尽后剩余的失效交易在收尾扫描里按串行语义重执行
// 提交顺序永远是提交序, 与完成顺序无关

// mvView 单笔交易的推测读视图
// 命中多版本内存时记录观察版本, 读穿时记录基线读
type mvView struct {
	mv    *state.MVMemory
	base  *state.View
	idx   int
	reads []state.ReadDesc
}

func (v *mvView) Get(key string) ([]byte, error) {
	val, ver, status := v.mv.Read(key, v.idx)
	if status == state.ReadOK {
		observed := ver
		v.reads = append(v.reads, state.ReadDesc{Key: key, Ver: &observed})
		if val == nil {
			return nil, types.ErrNotFound
		}
		return val, nil
	}
	v.reads = append(v.reads, state.ReadDesc{Key: key, Ver: nil})
	return v.base.Get(key)
}

func (s *Scheduler) runOptimistic(ctx context.Context, txs []*types.Transaction) []*types.ExecutionResult {
	n := len(txs)
	mv := state.NewMVMemory(n)
	base := state.NewView(s.base)
	results := make([]*types.ExecutionResult, n)
	retries := make([]int, n)

	exec := func(gctx context.Context, i int) {
		tx := txs[i]
		view := &mvView{mv: mv, base: base, idx: i}
		out, err := s.executeTx(gctx, tx, view)
		res := resultFor(tx, out, err)
		res.Retries = retries[i]
		var writes []state.WriteDesc
		if res.Status == types.StatusCommitted {
			writes = make([]state.WriteDesc, 0, len(out.Delta))
			for _, kv := range out.Delta {
				writes = append(writes, state.WriteDesc{Key: kv.Key, Value: kv.Value})
			}
		}
		// 失败交易也要记录读集, 他们的失败可能只是读到了脏值
		mv.Record(state.Version{Index: i, Incarnation: retries[i]}, view.reads, writes)
		results[i] = res
	}

	// 推测波
	s.workers.forEach(ctx, n, func(i int) { exec(ctx, i) })

	// 重试波: 顺序校验挑出失效集合, 并行重执行
	for wave := 0; wave < s.cfg.Exec.RetryLimit; wave++ {
		if ctx.Err() != nil {
			break
		}
		var invalid []int
		for i := 0; i < n; i++ {
			if !mv.Validate(i) {
				mv.Abort(i)
				invalid = append(invalid, i)
			}
		}
		if len(invalid) == 0 {
			break
		}
		metrics.TxAborted.Inc(int64(len(invalid)))
		metrics.TxRetries.Inc(int64(len(invalid)))
		for _, i := range invalid {
			retries[i]++
		}
		s.workers.forEach(ctx, len(invalid), func(k int) { exec(ctx, invalid[k]) })
	}

	// 收尾扫描: 升序最终校验
	// 此时 i 之前的交易都已定型, 就地重执行等价于追加在推测批之后的串行执行
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			mv.Abort(i)
			results[i] = timeoutResult(txs[i])
			continue
		}
		if mv.Validate(i) {
			continue
		}
		mv.Abort(i)
		retries[i]++
		metrics.TxRetries.Inc(1)
		if retries[i] > s.cfg.Exec.RetryLimit {
			metrics.RetryExhausted.Inc(1)
			elog.Warn("optimistic retries exhausted, sequential placement",
				"tx", txs[i].ID, "retries", retries[i], "err", types.ErrConflictRetries)
		}
		exec(ctx, i)
		// 低版本不再有在途读者, 可以安全回收
		if i > 0 && i%64 == 0 {
			mv.Compact(i)
		}
	}

	return results
}
