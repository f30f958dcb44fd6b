// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"
	"sort"

	"github.com/mizarchain/mizar/analyzer"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

// 静态分区执行器
// 对声明的读写集做并查集, 冲突图的每个连通分量是一个串行组,
// 组间并行, 组内严格按提交序执行
// 全连通的批次退化成整体串行, 这是正确的最坏情况而不是故障

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// partitions 连通分量, 每组内部按提交序升序
// 空读写集的交易自成单例分区
func partitions(g *analyzer.ConflictGraph) [][]int {
	u := newUnionFind(g.N)
	for i := 0; i < g.N; i++ {
		for _, j := range g.Adj[i] {
			u.union(i, j)
		}
	}
	byRoot := make(map[int][]int)
	for i := 0; i < g.N; i++ {
		root := u.find(i)
		byRoot[root] = append(byRoot[root], i)
	}
	groups := make([][]int, 0, len(byRoot))
	for _, group := range byRoot {
		sort.Ints(group)
		groups = append(groups, group)
	}
	// 组按首笔交易排序, 保证调度顺序可复现
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })
	return groups
}

func (s *Scheduler) runPartition(ctx context.Context, txs []*types.Transaction, g *analyzer.ConflictGraph) []*types.ExecutionResult {
	groups := partitions(g)
	results := make([]*types.ExecutionResult, len(txs))

	eg, gctx := s.workers.group(ctx)
	for _, group := range groups {
		group := group
		eg.Go(func() error {
			// 一个组内的故障不影响其他组
			view := state.NewView(s.base)
			for _, idx := range group {
				tx := txs[idx]
				if gctx.Err() != nil {
					results[idx] = timeoutResult(tx)
					continue
				}
				out, err := s.executeTx(gctx, tx, view.Snapshot())
				res := resultFor(tx, out, err)
				// 故障交易的效果视为不存在, 后续交易看到故障前的状态
				if res.Status == types.StatusCommitted {
					view.ApplyDelta(res.Delta)
				}
				results[idx] = res
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
