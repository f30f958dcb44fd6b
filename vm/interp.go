// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mizarchain/mizar/loader"
	"github.com/mizarchain/mizar/state"
	"github.com/mizarchain/mizar/types"
	"github.com/pkg/errors"
)

// 内置的参考运行时: 一个确定性的小解释器
// 指令按行排列, 每行一条:
//   READ <key>
//   WRITE <key> <value>
//   ADD <key> <int64>
//   SPIN <n>
//   TRAP
// READ/WRITE/ADD 记 1 步, SPIN 记 n 步

type opCode int

const (
	opRead opCode = iota
	opWrite
	opAdd
	opSpin
	opTrap
)

type instruction struct {
	op  opCode
	key string
	arg string
}

//Program 编译后的指令序列
type Program struct {
	ins []instruction
}

//Encode 规范化文本形式, 供落盘层使用
func (p *Program) Encode() ([]byte, error) {
	var b strings.Builder
	for _, in := range p.ins {
		switch in.op {
		case opRead:
			fmt.Fprintf(&b, "READ %s\n", in.key)
		case opWrite:
			fmt.Fprintf(&b, "WRITE %s %s\n", in.key, in.arg)
		case opAdd:
			fmt.Fprintf(&b, "ADD %s %s\n", in.key, in.arg)
		case opSpin:
			fmt.Fprintf(&b, "SPIN %s\n", in.arg)
		case opTrap:
			fmt.Fprintln(&b, "TRAP")
		}
	}
	return []byte(b.String()), nil
}

//AccessSet 静态提取的读写集
func (p *Program) AccessSet() (reads, writes []string) {
	seenR := map[string]bool{}
	seenW := map[string]bool{}
	for _, in := range p.ins {
		switch in.op {
		case opRead:
			if !seenR[in.key] {
				seenR[in.key] = true
				reads = append(reads, in.key)
			}
		case opWrite:
			if !seenW[in.key] {
				seenW[in.key] = true
				writes = append(writes, in.key)
			}
		case opAdd:
			if !seenR[in.key] {
				seenR[in.key] = true
				reads = append(reads, in.key)
			}
			if !seenW[in.key] {
				seenW[in.key] = true
				writes = append(writes, in.key)
			}
		}
	}
	return
}

//InterpCompiler 参考运行时的编译器
type InterpCompiler struct{}

//Compile 逐行解析并校验指令
func (c *InterpCompiler) Compile(bytecode []byte) (loader.Executable, error) {
	p := &Program{}
	lines := bytes.Split(bytecode, []byte("\n"))
	for ln, raw := range lines {
		line := strings.TrimSpace(string(raw))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "READ":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: READ wants 1 arg", ln+1)
			}
			p.ins = append(p.ins, instruction{op: opRead, key: fields[1]})
		case "WRITE":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: WRITE wants 2 args", ln+1)
			}
			p.ins = append(p.ins, instruction{op: opWrite, key: fields[1], arg: fields[2]})
		case "ADD":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: ADD wants 2 args", ln+1)
			}
			if _, err := strconv.ParseInt(fields[2], 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: ADD wants integer delta", ln+1)
			}
			p.ins = append(p.ins, instruction{op: opAdd, key: fields[1], arg: fields[2]})
		case "SPIN":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: SPIN wants 1 arg", ln+1)
			}
			if _, err := strconv.ParseInt(fields[1], 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: SPIN wants integer count", ln+1)
			}
			p.ins = append(p.ins, instruction{op: opSpin, arg: fields[1]})
		case "TRAP":
			p.ins = append(p.ins, instruction{op: opTrap})
		default:
			return nil, fmt.Errorf("line %d: unknown op %s", ln+1, fields[0])
		}
	}
	return p, nil
}

//Decode 落盘层反序列化, 格式即规范化文本
func (c *InterpCompiler) Decode(data []byte) (loader.Executable, error) {
	return c.Compile(data)
}

//InterpRuntime 内置参考运行时
type InterpRuntime struct{}

//Name runtime name
func (r *InterpRuntime) Name() string { return "interp" }

//Instantiate 绑定编译产物, 返回冷实例
func (r *InterpRuntime) Instantiate(art *loader.Artifact) (Sandbox, error) {
	prog, ok := art.Code.(*Program)
	if !ok {
		return nil, errors.Wrap(types.ErrCompile, "artifact is not an interp program")
	}
	return &interpInstance{art: art, prog: prog}, nil
}

type interpInstance struct {
	art  *loader.Artifact
	prog *Program
	// scratch 交易局部写缓存, Reset 时清除
	scratch map[string][]byte
	reads   []string
	dead    bool
}

func (in *interpInstance) ArtifactKey() string { return in.art.Key }

//Reset 清除交易局部状态, 保留已加载的程序
func (in *interpInstance) Reset() error {
	if in.dead {
		return types.ErrInstanceDestroyed
	}
	in.scratch = nil
	in.reads = nil
	return nil
}

func (in *interpInstance) get(view state.Reader, key string) ([]byte, error) {
	if v, ok := in.scratch[key]; ok {
		return v, nil
	}
	in.reads = append(in.reads, key)
	return view.Get(key)
}

//Run 解释执行
func (in *interpInstance) Run(ctx context.Context, view state.Reader, budget int64) (*Outcome, error) {
	if in.dead {
		return nil, types.ErrInstanceDestroyed
	}
	in.scratch = make(map[string][]byte)
	in.reads = nil
	var steps int64
	var order []string

	charge := func(n int64) bool {
		steps += n
		return steps <= budget
	}

	for _, ins := range in.prog.ins {
		select {
		case <-ctx.Done():
			return &Outcome{StepsUsed: steps}, errors.Wrap(types.ErrBatchTimeout, "run cancelled")
		default:
		}
		switch ins.op {
		case opRead:
			if !charge(1) {
				return &Outcome{StepsUsed: steps}, types.ErrResourceExhausted
			}
			_, err := in.get(view, ins.key)
			if err != nil && err != types.ErrNotFound {
				return &Outcome{StepsUsed: steps}, err
			}
		case opWrite:
			if !charge(1) {
				return &Outcome{StepsUsed: steps}, types.ErrResourceExhausted
			}
			if _, ok := in.scratch[ins.key]; !ok {
				order = append(order, ins.key)
			}
			in.scratch[ins.key] = []byte(ins.arg)
		case opAdd:
			if !charge(1) {
				return &Outcome{StepsUsed: steps}, types.ErrResourceExhausted
			}
			cur, err := in.get(view, ins.key)
			if err != nil && err != types.ErrNotFound {
				return &Outcome{StepsUsed: steps}, err
			}
			var val int64
			if len(cur) > 0 {
				val, err = strconv.ParseInt(string(cur), 10, 64)
				if err != nil {
					in.dead = true
					return &Outcome{StepsUsed: steps}, errors.Wrapf(types.ErrExecutionFault, "ADD on non integer key %s", ins.key)
				}
			}
			delta, _ := strconv.ParseInt(ins.arg, 10, 64)
			if _, ok := in.scratch[ins.key]; !ok {
				order = append(order, ins.key)
			}
			in.scratch[ins.key] = []byte(strconv.FormatInt(val+delta, 10))
		case opSpin:
			n, _ := strconv.ParseInt(ins.arg, 10, 64)
			if !charge(n) {
				return &Outcome{StepsUsed: steps}, types.ErrResourceExhausted
			}
		case opTrap:
			in.dead = true
			return &Outcome{StepsUsed: steps}, types.ErrExecutionFault
		}
	}

	out := &Outcome{StepsUsed: steps, Reads: in.reads}
	for _, k := range order {
		out.Delta = append(out.Delta, types.KeyValue{Key: k, Value: in.scratch[k]})
	}
	return out, nil
}
