// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package types

import "errors"

var (
	//ErrNotFound 键不存在
	ErrNotFound = errors.New("ErrNotFound")
	//ErrCompile 字节码非法, 编译失败
	ErrCompile = errors.New("ErrCompile")
	//ErrExecutionFault 沙箱内部陷入 trap
	ErrExecutionFault = errors.New("ErrExecutionFault")
	//ErrResourceExhausted 超出执行步数预算
	ErrResourceExhausted = errors.New("ErrResourceExhausted")
	//ErrConflictRetries 乐观执行重试次数用尽
	ErrConflictRetries = errors.New("ErrConflictRetries")
	//ErrPoolTimeout 实例检出超时
	ErrPoolTimeout = errors.New("ErrPoolTimeout")
	//ErrBatchTimeout 批次整体超时
	ErrBatchTimeout = errors.New("ErrBatchTimeout")
	//ErrEmptyBatch 空批次
	ErrEmptyBatch = errors.New("ErrEmptyBatch")
	//ErrBadPoolConfig 实例池配置非法
	ErrBadPoolConfig = errors.New("ErrBadPoolConfig")
	//ErrDAGCycle 所有权 DAG 中出现环
	ErrDAGCycle = errors.New("ErrDAGCycle")
	//ErrBatchTooLarge 批次超出配置的最大交易数
	ErrBatchTooLarge = errors.New("ErrBatchTooLarge")
	//ErrInstanceDestroyed 实例已销毁, 不能再使用
	ErrInstanceDestroyed = errors.New("ErrInstanceDestroyed")
)
