// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"context"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/mizarchain/mizar/loader"
	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/types"
)

var plog = log.New("module", "vm.pool")

//Pool 有界的沙箱实例池
//checkout 阻塞, checkin 释放, 信号量给出天然的背压
type Pool struct {
	cfg     *types.VMConfig
	runtime Runtime
	// tokens 容量即实例上限, 持有 token 才能持有实例
	tokens chan struct{}

	lock sync.Mutex
	// idle 按产物 key 分组的空闲实例
	idle map[string][]Sandbox
	// live 存活实例总数, 包括空闲的
	live int
}

//NewPool 创建实例池, 容量必须为正
func NewPool(cfg *types.VMConfig, rt Runtime) (*Pool, error) {
	if cfg == nil || cfg.MaxInstances <= 0 {
		return nil, types.ErrBadPoolConfig
	}
	return &Pool{
		cfg:     cfg,
		runtime: rt,
		tokens:  make(chan struct{}, cfg.MaxInstances),
		idle:    make(map[string][]Sandbox),
	}, nil
}

//Checkout 取一个绑定到该产物的实例
//优先复用空闲的同产物实例, 不足则新建, 池满则阻塞直到超时
func (p *Pool) Checkout(ctx context.Context, art *loader.Artifact) (Sandbox, error) {
	timer := time.NewTimer(p.cfg.GetCheckoutTimeout())
	defer timer.Stop()

	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		metrics.PoolTimeout.Inc(1)
		return nil, types.ErrPoolTimeout
	case <-timer.C:
		metrics.PoolTimeout.Inc(1)
		return nil, types.ErrPoolTimeout
	}

	metrics.PoolCheckout.Inc(1)

	p.lock.Lock()
	if list := p.idle[art.Key]; len(list) > 0 {
		inst := list[len(list)-1]
		p.idle[art.Key] = list[:len(list)-1]
		p.lock.Unlock()
		metrics.PoolRecycle.Inc(1)
		return inst, nil
	}
	// 没有匹配的空闲实例: 总数已到上限时淘汰一个别的空闲实例
	if p.live >= p.cfg.MaxInstances {
		p.evictIdleLocked()
	}
	p.live++
	p.lock.Unlock()

	inst, err := p.runtime.Instantiate(art)
	if err != nil {
		p.lock.Lock()
		p.live--
		p.lock.Unlock()
		<-p.tokens
		return nil, err
	}
	return inst, nil
}

//Checkin 归还实例
//faulted 为真时销毁而不是回收, 替换推迟到下次需要时
func (p *Pool) Checkin(inst Sandbox, faulted bool) {
	defer func() { <-p.tokens }()

	if faulted {
		p.destroy(inst)
		return
	}
	if err := inst.Reset(); err != nil {
		plog.Warn("reset failed, destroying instance", "artifact", inst.ArtifactKey(), "err", err)
		p.destroy(inst)
		return
	}
	p.lock.Lock()
	p.idle[inst.ArtifactKey()] = append(p.idle[inst.ArtifactKey()], inst)
	p.lock.Unlock()
}

func (p *Pool) destroy(inst Sandbox) {
	metrics.PoolDestroyed.Inc(1)
	p.lock.Lock()
	p.live--
	p.lock.Unlock()
}

// 调用方持锁
func (p *Pool) evictIdleLocked() {
	for key, list := range p.idle {
		if len(list) > 0 {
			p.idle[key] = list[:len(list)-1]
			p.live--
			metrics.PoolDestroyed.Inc(1)
			return
		}
	}
}

//Live 存活实例数
func (p *Pool) Live() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.live
}

//IdleCount 空闲实例数
func (p *Pool) IdleCount() (n int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, list := range p.idle {
		n += len(list)
	}
	return
}

//Close 丢弃全部空闲实例
func (p *Pool) Close() {
	p.lock.Lock()
	for key, list := range p.idle {
		p.live -= len(list)
		metrics.PoolDestroyed.Inc(int64(len(list)))
		delete(p.idle, key)
	}
	p.lock.Unlock()
}
