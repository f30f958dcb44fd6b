// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analyzer 冲突分析与策略选择
// 给定一个批次, 构建一次性的冲突图并计算负载特征,
// 之后由确定性规则选出执行策略
package analyzer

import (
	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/inconshreveable/log15"
	"github.com/mizarchain/mizar/types"
)

var alog = log.New("module", "analyzer")

//ConflictGraph 批次冲突图, 构建后只读
type ConflictGraph struct {
	N int
	// Adj 邻接表, 对称
	Adj [][]int
	// EdgeCount 去重后的无向边数
	EdgeCount int
	// Touch key -> 触碰该键的交易序号(升序)
	Touch map[string][]int
	// Writers key -> 写该键的交易序号(升序)
	Writers map[string][]int
}

// 按 key 建倒排索引, 两笔交易至少在一个键上相交且其中一方是写则有边
// 复杂度 O(n*k), k 为平均读写集大小
func BuildGraph(txs []*types.Transaction) *ConflictGraph {
	n := len(txs)
	g := &ConflictGraph{
		N:       n,
		Adj:     make([][]int, n),
		Touch:   make(map[string][]int),
		Writers: make(map[string][]int),
	}
	readers := make(map[string][]int)
	for _, tx := range txs {
		seen := mapset.NewThreadUnsafeSet[string]()
		as := tx.GetAccessSet()
		for _, k := range as.Writes {
			if seen.Contains(k) {
				continue
			}
			seen.Add(k)
			g.Writers[k] = append(g.Writers[k], tx.Index)
			g.Touch[k] = append(g.Touch[k], tx.Index)
		}
		for _, k := range as.Reads {
			if seen.Contains(k) {
				continue
			}
			seen.Add(k)
			readers[k] = append(readers[k], tx.Index)
			g.Touch[k] = append(g.Touch[k], tx.Index)
		}
	}

	type edge struct{ a, b int }
	edges := make(map[edge]struct{})
	addEdge := func(i, j int) {
		if i == j {
			return
		}
		if i > j {
			i, j = j, i
		}
		e := edge{i, j}
		if _, ok := edges[e]; ok {
			return
		}
		edges[e] = struct{}{}
		g.Adj[i] = append(g.Adj[i], j)
		g.Adj[j] = append(g.Adj[j], i)
	}

	for k, writers := range g.Writers {
		for i := 0; i < len(writers); i++ {
			for j := i + 1; j < len(writers); j++ {
				addEdge(writers[i], writers[j])
			}
		}
		for _, w := range writers {
			for _, r := range readers[k] {
				addEdge(w, r)
			}
		}
	}
	g.EdgeCount = len(edges)
	return g
}

//Conflicting 两笔交易在图中是否相邻
func (g *ConflictGraph) Conflicting(i, j int) bool {
	for _, v := range g.Adj[i] {
		if v == j {
			return true
		}
	}
	return false
}

//Features 负载特征, 全部由输入决定, 不依赖时间或外部状态
type Features struct {
	// Density 冲突密度 = 边数 / 可能的边数
	Density float64
	// AvgAccessSize 平均读写集大小
	AvgAccessSize float64
	// HotKeyRatio 触碰最热键的交易占比
	HotKeyRatio float64
	// DeclaredRatio 读写集为权威声明的交易占比
	DeclaredRatio float64
	// SingleOwner 每个键最多只有一个写者
	SingleOwner bool
	// OrderedOwnership 所有读者的提交序号都在写者之后,
	// 满足时所有权 DAG 必然无环
	OrderedOwnership bool
}

//ComputeFeatures 计算负载特征
func ComputeFeatures(txs []*types.Transaction, g *ConflictGraph) Features {
	n := len(txs)
	if n == 0 {
		return Features{}
	}
	var f Features
	possible := n * (n - 1) / 2
	if possible > 0 {
		f.Density = float64(g.EdgeCount) / float64(possible)
	}

	var totalKeys, declared int
	for _, tx := range txs {
		totalKeys += len(tx.ReadKeys) + len(tx.WriteKeys)
		if tx.Declared {
			declared++
		}
	}
	f.AvgAccessSize = float64(totalKeys) / float64(n)
	f.DeclaredRatio = float64(declared) / float64(n)

	hot := 0
	for _, touch := range g.Touch {
		if len(touch) > hot {
			hot = len(touch)
		}
	}
	f.HotKeyRatio = float64(hot) / float64(n)

	f.SingleOwner = true
	f.OrderedOwnership = true
	for k, writers := range g.Writers {
		if len(writers) > 1 {
			f.SingleOwner = false
			f.OrderedOwnership = false
			break
		}
		w := writers[0]
		for _, t := range g.Touch[k] {
			if t != w && t < w {
				f.OrderedOwnership = false
			}
		}
	}
	if len(g.Writers) == 0 {
		// 纯读批次没有所有权层级可言
		f.SingleOwner = false
		f.OrderedOwnership = false
	}
	return f
}
