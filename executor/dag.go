// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mizarchain/mizar/analyzer"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

// 依赖 DAG 执行器
// 前提是每个键恰好一个写者, 且读者都排在写者之后,
// 数据流方向和提交序一致; 违背任何一条就返回 ErrDAGCycle,
// 调度器据此降级到乐观策略
// 满足前提时把交易按 Kahn 拓扑分层, 层内并行, 层间串行,
// 每层读到的是之前所有层按下标序落定的状态

// buildLayers 依赖边由键属主指向后续触达者, 返回拓扑层
func buildLayers(txs []*types.Transaction, g *analyzer.ConflictGraph) ([][]int, error) {
	n := len(txs)
	indeg := make([]int, n)
	succ := make([][]int, n)
	seen := make([]map[int]bool, n)

	for key, writers := range g.Writers {
		if len(writers) > 1 {
			return nil, errors.Wrapf(types.ErrDAGCycle, "key %q has %d owners", key, len(writers))
		}
		owner := writers[0]
		for _, t := range g.Touch[key] {
			if t == owner {
				continue
			}
			if t < owner {
				return nil, errors.Wrapf(types.ErrDAGCycle, "key %q consumed before owner", key)
			}
			if seen[owner] == nil {
				seen[owner] = make(map[int]bool)
			}
			if seen[owner][t] {
				continue
			}
			seen[owner][t] = true
			succ[owner] = append(succ[owner], t)
			indeg[t]++
		}
	}

	var layers [][]int
	frontier := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			frontier = append(frontier, i)
		}
	}
	done := 0
	for len(frontier) > 0 {
		sort.Ints(frontier)
		layers = append(layers, frontier)
		done += len(frontier)
		var next []int
		for _, i := range frontier {
			for _, j := range succ[i] {
				indeg[j]--
				if indeg[j] == 0 {
					next = append(next, j)
				}
			}
		}
		frontier = next
	}
	if done != n {
		return nil, errors.Wrap(types.ErrDAGCycle, "topological sort stalled")
	}
	return layers, nil
}

func (s *Scheduler) runDAG(ctx context.Context, txs []*types.Transaction, g *analyzer.ConflictGraph) ([]*types.ExecutionResult, error) {
	layers, err := buildLayers(txs, g)
	if err != nil {
		return nil, err
	}

	// view 累积已落定各层的写集
	view := state.NewView(s.base)
	results := make([]*types.ExecutionResult, len(txs))
	var mu sync.Mutex

	for _, layer := range layers {
		if ctx.Err() != nil {
			for _, i := range layer {
				results[i] = timeoutResult(txs[i])
			}
			continue
		}
		// 层内交易互不冲突, 共读同一快照
		snap := view.Snapshot()
		s.workers.forEach(ctx, len(layer), func(k int) {
			i := layer[k]
			out, err := s.executeTx(ctx, txs[i], snap)
			res := resultFor(txs[i], out, err)
			mu.Lock()
			results[i] = res
			mu.Unlock()
		})
		// 失败交易不落写集, 后继照常执行并观察到它的缺席
		for _, i := range layer {
			if results[i] == nil {
				results[i] = timeoutResult(txs[i])
				continue
			}
			if results[i].Status == types.StatusCommitted {
				view.ApplyDelta(results[i].Delta)
			}
		}
	}
	return results, nil
}
