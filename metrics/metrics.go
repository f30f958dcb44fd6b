// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics 执行核心的计数器
// 只维护注册表, 上报与导出由外部观测组件消费
package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	//BatchTimer 批次执行耗时
	BatchTimer = gometrics.GetOrRegisterTimer("mizar/exec/batch", nil)
	//TxCommitted 提交成功的交易数
	TxCommitted = gometrics.GetOrRegisterCounter("mizar/exec/committed", nil)
	//TxFailed 失败的交易数
	TxFailed = gometrics.GetOrRegisterCounter("mizar/exec/failed", nil)
	//TxAborted 中止后重试的次数
	TxAborted = gometrics.GetOrRegisterCounter("mizar/exec/aborted", nil)
	//TxRetries 乐观执行的重试总数
	TxRetries = gometrics.GetOrRegisterCounter("mizar/exec/retries", nil)
	//RetryExhausted 重试波次用尽后转串行落位的交易数
	RetryExhausted = gometrics.GetOrRegisterCounter("mizar/exec/retryexhausted", nil)
	//DAGFallback DAG 构建失败降级的次数
	DAGFallback = gometrics.GetOrRegisterCounter("mizar/exec/dagfallback", nil)

	//CacheHit 编译缓存命中
	CacheHit = gometrics.GetOrRegisterCounter("mizar/loader/hit", nil)
	//CacheMiss 编译缓存未命中
	CacheMiss = gometrics.GetOrRegisterCounter("mizar/loader/miss", nil)
	//CacheCompile 实际发生的编译次数
	CacheCompile = gometrics.GetOrRegisterCounter("mizar/loader/compile", nil)
	//CacheNegative 负缓存命中
	CacheNegative = gometrics.GetOrRegisterCounter("mizar/loader/negative", nil)

	//PoolCheckout 实例检出次数
	PoolCheckout = gometrics.GetOrRegisterCounter("mizar/vm/checkout", nil)
	//PoolRecycle 空闲实例复用次数
	PoolRecycle = gometrics.GetOrRegisterCounter("mizar/vm/recycle", nil)
	//PoolDestroyed 销毁的实例数, 含故障销毁与容量淘汰
	PoolDestroyed = gometrics.GetOrRegisterCounter("mizar/vm/destroyed", nil)
	//PoolTimeout 检出超时次数
	PoolTimeout = gometrics.GetOrRegisterCounter("mizar/vm/timeout", nil)
)

// 每个策略一个计数器
var strategyCounters = map[string]gometrics.Counter{}

func init() {
	for _, name := range []string{"partition", "optimistic", "dag", "sequential"} {
		strategyCounters[name] = gometrics.GetOrRegisterCounter("mizar/strategy/"+name, nil)
	}
}

//StrategyChosen 记录一次策略选择
func StrategyChosen(name string) {
	if c, ok := strategyCounters[name]; ok {
		c.Inc(1)
	}
}

//Snapshot 当前所有计数器的值, 供观测方拉取
func Snapshot() map[string]int64 {
	out := make(map[string]int64)
	gometrics.DefaultRegistry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Counter:
			out[name] = m.Count()
		case gometrics.Timer:
			out[name] = m.Count()
		}
	})
	return out
}
