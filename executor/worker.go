// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// 所有策略共用一个有界工作池, 避免批次内并发叠加失控
type workerPool struct {
	size int
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{size: size}
}

//group 返回受工作池约束的 errgroup
func (w *workerPool) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.size)
	return g, ctx
}

//forEach 把 n 个下标分发给工作池并行处理, fn 自己负责记录错误
func (w *workerPool) forEach(ctx context.Context, n int, fn func(i int)) {
	g, gctx := w.group(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			fn(i)
			return nil
		})
	}
	// 错误都落在每笔交易的结果里, 这里只等待
	_ = g.Wait()
}
