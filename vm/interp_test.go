// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizarchain/mizar/loader"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
)

func compileProg(t *testing.T, src string) *loader.Artifact {
	c := &InterpCompiler{}
	code, err := c.Compile([]byte(src))
	require.NoError(t, err)
	return &loader.Artifact{
		Key:  loader.ArtifactKey([]byte(src), "v1"),
		Raw:  []byte(src),
		Code: code,
	}
}

func newSandbox(t *testing.T, src string) Sandbox {
	rt := &InterpRuntime{}
	inst, err := rt.Instantiate(compileProg(t, src))
	require.NoError(t, err)
	return inst
}

func TestInterpRun(t *testing.T) {
	view := state.NewView(nil)
	view.Set("balance", []byte("10"))

	inst := newSandbox(t, "READ balance\nADD balance 5\nWRITE flag ok\n")
	out, err := inst.Run(context.Background(), view, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.StepsUsed)
	require.Len(t, out.Delta, 2)
	// 写集保持程序内的写入顺序
	assert.Equal(t, types.KeyValue{Key: "balance", Value: []byte("15")}, out.Delta[0])
	assert.Equal(t, types.KeyValue{Key: "flag", Value: []byte("ok")}, out.Delta[1])
	assert.Contains(t, out.Reads, "balance")

	// 视图不被沙箱触碰
	val, err := view.Get("balance")
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), val)
}

func TestInterpBudget(t *testing.T) {
	inst := newSandbox(t, "SPIN 50\nWRITE k v\n")
	out, err := inst.Run(context.Background(), state.NewView(nil), 10)
	assert.Equal(t, types.ErrResourceExhausted, err)
	assert.Empty(t, out.Delta)
}

func TestInterpTrap(t *testing.T) {
	inst := newSandbox(t, "WRITE k v\nTRAP\n")
	_, err := inst.Run(context.Background(), state.NewView(nil), 100)
	assert.Equal(t, types.ErrExecutionFault, err)

	// trap 后实例报废
	assert.Equal(t, types.ErrInstanceDestroyed, inst.Reset())
	_, err = inst.Run(context.Background(), state.NewView(nil), 100)
	assert.Equal(t, types.ErrInstanceDestroyed, err)
}

func TestInterpReset(t *testing.T) {
	view := state.NewView(nil)
	inst := newSandbox(t, "ADD counter 1\n")

	out, err := inst.Run(context.Background(), view, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), out.Delta[0].Value)

	// Reset 后重复执行得到同样的结果, 没有状态泄漏
	require.NoError(t, inst.Reset())
	out, err = inst.Run(context.Background(), view, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), out.Delta[0].Value)
}

func TestInterpCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inst := newSandbox(t, "WRITE k v\n")
	_, err := inst.Run(ctx, state.NewView(nil), 100)
	require.Error(t, err)
}

func TestInterpCompileErrors(t *testing.T) {
	c := &InterpCompiler{}
	for _, src := range []string{
		"JUMP k",
		"READ",
		"WRITE k",
		"ADD k abc",
		"SPIN x",
	} {
		_, err := c.Compile([]byte(src))
		assert.Error(t, err, src)
	}

	// 空行和注释被忽略
	prog, err := c.Compile([]byte("# comment\n\nWRITE k v\n"))
	require.NoError(t, err)
	reads, writes := prog.(*Program).AccessSet()
	assert.Empty(t, reads)
	assert.Equal(t, []string{"k"}, writes)
}

func TestProgramEncodeDecode(t *testing.T) {
	c := &InterpCompiler{}
	src := "READ a\nADD b 2\nWRITE c v\nSPIN 3\n"
	prog, err := c.Compile([]byte(src))
	require.NoError(t, err)

	data, err := prog.Encode()
	require.NoError(t, err)
	back, err := c.Decode(data)
	require.NoError(t, err)

	r1, w1 := prog.(*Program).AccessSet()
	r2, w2 := back.(*Program).AccessSet()
	assert.Equal(t, r1, r2)
	assert.Equal(t, w1, w2)
}
