// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm 沙箱运行时契约与执行实例池
// 核心只依赖这里定义的窄接口, 不绑定具体执行技术
package vm

import (
	"context"

	"github.com/mizarchain/mizar/loader"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

//Outcome 沙箱内一次执行的产出
//写全部缓存在 Delta 里, 沙箱永远不直接落状态
type Outcome struct {
	// Delta 缓存的写集
	Delta []types.KeyValue
	// Reads 实际读过的键, 供访问集推断
	Reads []string
	// StepsUsed 消耗的执行步数
	StepsUsed int64
}

//Sandbox 单租户执行上下文, 同一时刻至多绑定一笔交易
type Sandbox interface {
	// Run 在 view 之上执行, budget 为硬步数预算
	// trap 返回 ErrExecutionFault, 超预算返回 ErrResourceExhausted
	Run(ctx context.Context, view state.Reader, budget int64) (*Outcome, error)
	// Reset 清除交易局部状态, 保留已加载的产物等热状态
	Reset() error
	// ArtifactKey 当前绑定的编译产物
	ArtifactKey() string
}

//Runtime 外部 VM 能力契约
type Runtime interface {
	Name() string
	Instantiate(art *loader.Artifact) (Sandbox, error)
}
