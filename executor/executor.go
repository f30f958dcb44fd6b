// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package executor 并行执行调度器
// 一个批次经过冲突分析和策略选择后, 交给三种执行器之一,
// 最终由提交器按提交序合成规范状态转移
package executor

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/mizarchain/mizar/analyzer"
	dbm "github.com/mizarchain/mizar/common/db"
	"github.com/mizarchain/mizar/loader"
	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
	"github.com/mizarchain/mizar/vm"
)

var elog = log.New("module", "executor")

//Scheduler 执行核心对外的唯一入口
type Scheduler struct {
	cfg     *types.Config
	base    dbm.DB
	loader  *loader.Loader
	pool    *vm.Pool
	workers *workerPool

	// sandboxNanos 批内沙箱累计耗时, 用于并行效率统计
	sandboxNanos int64
}

//New 创建调度器
func New(cfg *types.Config, base dbm.DB, rt vm.Runtime) (*Scheduler, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	if err := cfg.CheckConfig(); err != nil {
		return nil, err
	}
	ld, err := loader.New(cfg.Loader, base)
	if err != nil {
		return nil, err
	}
	pool, err := vm.NewPool(cfg.VM, rt)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:     cfg,
		base:    base,
		loader:  ld,
		pool:    pool,
		workers: newWorkerPool(cfg.Exec.Workers),
	}, nil
}

//RegisterCompiler 注册编译器版本
func (s *Scheduler) RegisterCompiler(version string, c loader.Compiler) {
	s.loader.Register(version, c)
}

//Loader 编译缓存, 供预热和统计
func (s *Scheduler) Loader() *loader.Loader {
	return s.loader
}

//Pool 实例池
func (s *Scheduler) Pool() *vm.Pool {
	return s.pool
}

//SubmitBatch 执行一个批次, 策略自动选择
//单笔交易的失败只体现在各自的结果里, 整体错误只保留给配置与超时
func (s *Scheduler) SubmitBatch(ctx context.Context, txs []*types.Transaction) (*types.BatchReport, error) {
	if err := s.checkBatch(txs); err != nil {
		return nil, err
	}
	s.normalize(ctx, txs)
	g, _, strat := analyzer.Analyze(txs, s.cfg.Exec)
	return s.run(ctx, txs, g, strat)
}

//SubmitBatchStrategy 指定策略执行, 供回放和对照测试
func (s *Scheduler) SubmitBatchStrategy(ctx context.Context, txs []*types.Transaction, strat types.Strategy) (*types.BatchReport, error) {
	if err := s.checkBatch(txs); err != nil {
		return nil, err
	}
	s.normalize(ctx, txs)
	return s.run(ctx, txs, analyzer.BuildGraph(txs), strat)
}

func (s *Scheduler) checkBatch(txs []*types.Transaction) error {
	if len(txs) == 0 {
		return types.ErrEmptyBatch
	}
	if len(txs) > s.cfg.Exec.MaxBatchSize {
		return types.ErrBatchTooLarge
	}
	return nil
}

// 进批整理: 固定提交序号, 补默认预算, 推断缺失的读写集
func (s *Scheduler) normalize(ctx context.Context, txs []*types.Transaction) {
	for i, tx := range txs {
		tx.Index = i
		if tx.StepBudget <= 0 {
			tx.StepBudget = s.cfg.VM.DefaultStepBudget
		}
		if len(tx.ReadKeys) == 0 && len(tx.WriteKeys) == 0 && !tx.Declared {
			s.inferAccessSet(ctx, tx)
		}
	}
}

// 访问集缺失时尽力从编译产物静态提取, 失败留空
// 推断出的访问集只是提示, Declared 保持 false
func (s *Scheduler) inferAccessSet(ctx context.Context, tx *types.Transaction) {
	art, err := s.loader.GetOrCompile(ctx, tx.Payload, tx.CompilerVersion)
	if err != nil {
		return
	}
	type accessSetter interface {
		AccessSet() (reads, writes []string)
	}
	if prog, ok := art.Code.(accessSetter); ok {
		tx.ReadKeys, tx.WriteKeys = prog.AccessSet()
	}
}

// 冲突图由调用方构建一次, 分析和执行共用同一份
func (s *Scheduler) run(ctx context.Context, txs []*types.Transaction, g *analyzer.ConflictGraph, strat types.Strategy) (*types.BatchReport, error) {
	start := time.Now()
	atomic.StoreInt64(&s.sandboxNanos, 0)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Exec.GetBatchTimeout())
	defer cancel()

	var results []*types.ExecutionResult
	switch strat {
	case types.StrategyPartition:
		results = s.runPartition(ctx, txs, g)
	case types.StrategyOptimistic:
		results = s.runOptimistic(ctx, txs)
	case types.StrategyDAG:
		var err error
		results, err = s.runDAG(ctx, txs, g)
		if err != nil {
			// DAG 假设被破坏是结构错误, 自动降级而不是报错
			elog.Warn("dag downgrade", "err", err)
			metrics.DAGFallback.Inc(1)
			strat = types.StrategyOptimistic
			results = s.runOptimistic(ctx, txs)
		}
	case types.StrategySequential:
		results = s.runSequential(ctx, txs)
	default:
		results = s.runSequential(ctx, txs)
	}

	metrics.StrategyChosen(strat.String())
	report := s.commit(txs, results, strat)
	report.Stats.Duration = time.Since(start)
	s.fillEfficiency(report)
	metrics.BatchTimer.Update(report.Stats.Duration)
	elog.Info("batch done", "batch", report.BatchID, "strategy", strat.String(),
		"txs", len(txs), "committed", report.CommittedCount(), "cost", report.Stats.Duration)
	return report, nil
}

// 并行效率 = 沙箱累计耗时 / (墙钟 * 工作线程数), 串行时趋近 1/workers
func (s *Scheduler) fillEfficiency(report *types.BatchReport) {
	wall := report.Stats.Duration.Nanoseconds()
	if wall <= 0 {
		return
	}
	eff := float64(atomic.LoadInt64(&s.sandboxNanos)) / float64(wall*int64(s.cfg.Exec.Workers))
	if eff > 1 {
		eff = 1
	}
	report.Stats.Efficiency = eff
}

// executeTx 单笔交易的完整沙箱通道: 取产物 -> 检出实例 -> 执行 -> 归还
// 所有策略共用, 失败原因折叠进返回错误
func (s *Scheduler) executeTx(ctx context.Context, tx *types.Transaction, view state.Reader) (*vm.Outcome, error) {
	art, err := s.loader.GetOrCompile(ctx, tx.Payload, tx.CompilerVersion)
	if err != nil {
		return nil, err
	}
	inst, err := s.pool.Checkout(ctx, art)
	if err != nil {
		return nil, err
	}
	begin := time.Now()
	out, err := inst.Run(ctx, view, tx.StepBudget)
	atomic.AddInt64(&s.sandboxNanos, time.Since(begin).Nanoseconds())
	s.pool.Checkin(inst, isFault(err))
	return out, err
}

// 实例故障才销毁, 预算超限和超时的实例可以复用
func isFault(err error) bool {
	switch errCause(err) {
	case types.ErrExecutionFault, types.ErrInstanceDestroyed:
		return true
	}
	return false
}

func errCause(err error) error {
	type causer interface {
		Cause() error
	}
	for err != nil {
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return err
}

// 错误到结果状态的映射
// 预算超限属于确定性中止, 其余一律标记失败
func resultFor(tx *types.Transaction, out *vm.Outcome, err error) *types.ExecutionResult {
	res := &types.ExecutionResult{TxID: tx.ID, Index: tx.Index}
	if out != nil {
		res.StepsUsed = out.StepsUsed
	}
	if err == nil {
		res.Status = types.StatusCommitted
		res.Delta = out.Delta
		return res
	}
	res.Err = err.Error()
	if errCause(err) == types.ErrResourceExhausted {
		res.Status = types.StatusAborted
	} else {
		res.Status = types.StatusFailed
	}
	return res
}
