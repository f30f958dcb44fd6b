// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/types"
)

func newTestPool(t *testing.T, max int) *Pool {
	cfg := types.DefaultConfig().VM
	cfg.MaxInstances = max
	cfg.CheckoutTimeoutMs = 50
	p, err := NewPool(cfg, &InterpRuntime{})
	require.NoError(t, err)
	return p
}

func TestPoolBadConfig(t *testing.T) {
	cfg := types.DefaultConfig().VM
	cfg.MaxInstances = 0
	_, err := NewPool(cfg, &InterpRuntime{})
	assert.Equal(t, types.ErrBadPoolConfig, err)

	_, err = NewPool(nil, &InterpRuntime{})
	assert.Equal(t, types.ErrBadPoolConfig, err)
}

func TestPoolBound(t *testing.T) {
	p := newTestPool(t, 2)
	art := compileProg(t, "WRITE k v\n")

	a, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	b, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	// 池满, 第三次检出等待到超时
	_, err = p.Checkout(context.Background(), art)
	assert.Equal(t, types.ErrPoolTimeout, err)

	// 归还后立刻可用
	p.Checkin(a, false)
	c, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())

	p.Checkin(b, false)
	p.Checkin(c, false)
}

func TestPoolRecycle(t *testing.T) {
	p := newTestPool(t, 4)
	art := compileProg(t, "WRITE k v\n")

	inst, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	p.Checkin(inst, false)
	assert.Equal(t, 1, p.IdleCount())

	// 同产物的检出复用空闲实例
	again, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	assert.Same(t, inst, again)
	assert.Equal(t, 1, p.Live())
	assert.Equal(t, 0, p.IdleCount())
	p.Checkin(again, false)
}

func TestPoolFaultDestroy(t *testing.T) {
	p := newTestPool(t, 4)
	art := compileProg(t, "TRAP\n")

	inst, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	_, runErr := inst.Run(context.Background(), nil, 100)
	require.Error(t, runErr)

	// 故障实例销毁, 不回到空闲队列
	p.Checkin(inst, true)
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, 0, p.IdleCount())

	// 下一次检出得到新实例
	fresh, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	assert.NotSame(t, inst, fresh)
	p.Checkin(fresh, false)
}

func TestPoolEvictOtherIdle(t *testing.T) {
	p := newTestPool(t, 2)
	artA := compileProg(t, "WRITE a 1\n")
	artB := compileProg(t, "WRITE b 1\n")

	a, err := p.Checkout(context.Background(), artA)
	require.NoError(t, err)
	b, err := p.Checkout(context.Background(), artB)
	require.NoError(t, err)
	p.Checkin(a, false)
	p.Checkin(b, false)
	assert.Equal(t, 2, p.Live())

	// 没有匹配 C 的空闲实例, 总数到顶时淘汰一个别的空闲实例
	destroyed := metrics.PoolDestroyed.Count()
	artC := compileProg(t, "WRITE c 1\n")
	c, err := p.Checkout(context.Background(), artC)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Live())
	assert.Equal(t, destroyed+1, metrics.PoolDestroyed.Count())
	p.Checkin(c, false)
}

func TestPoolCanceledCheckout(t *testing.T) {
	p := newTestPool(t, 1)
	art := compileProg(t, "WRITE k v\n")

	inst, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Checkout(ctx, art)
	assert.Equal(t, types.ErrPoolTimeout, err)
	p.Checkin(inst, false)
}

func TestPoolClose(t *testing.T) {
	p := newTestPool(t, 4)
	art := compileProg(t, "WRITE k v\n")
	inst, err := p.Checkout(context.Background(), art)
	require.NoError(t, err)
	p.Checkin(inst, false)

	destroyed := metrics.PoolDestroyed.Count()
	p.Close()
	assert.Equal(t, 0, p.Live())
	assert.Equal(t, 0, p.IdleCount())
	assert.Equal(t, destroyed+1, metrics.PoolDestroyed.Count())
}
