// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyzer

import (
	"github.com/mizarchain/mizar/types"
)

//SelectStrategy 确定性选择执行策略
//规则只依赖特征与配置阈值, 相同输入永远得到相同策略
func SelectStrategy(f Features, cfg *types.ExecConfig) types.Strategy {
	// 读写集完整声明且冲突稀疏, 静态分区收益最大
	if f.DeclaredRatio >= 1.0 && f.Density < cfg.LowDensity {
		return types.StrategyPartition
	}
	// 严格所有权层级且访问顺序与提交序一致
	if f.SingleOwner && f.OrderedOwnership {
		return types.StrategyDAG
	}
	// 热点键主导且冲突真实存在, 推测执行只会围着热点反复重试
	if f.HotKeyRatio >= cfg.HotKeyRatio && f.Density >= cfg.LowDensity {
		return types.StrategySequential
	}
	// 冲突过密时推测执行只会空转, 直接串行
	if f.Density >= cfg.HighDensity {
		return types.StrategySequential
	}
	return types.StrategyOptimistic
}

//Analyze 一次完成建图, 特征计算和策略选择
func Analyze(txs []*types.Transaction, cfg *types.ExecConfig) (*ConflictGraph, Features, types.Strategy) {
	g := BuildGraph(txs)
	f := ComputeFeatures(txs, g)
	s := SelectStrategy(f, cfg)
	alog.Debug("batch analyzed", "txs", len(txs), "edges", g.EdgeCount,
		"density", f.Density, "hotkey", f.HotKeyRatio, "strategy", s.String())
	return g, f, s
}
