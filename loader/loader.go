// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loader 编译产物缓存
// 同一份字节码在每个进程里最多编译一次: 内存层 LRU 之上
// 用 singleflight 合并并发编译, 可选落盘层在重启后避免重新编译
package loader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"github.com/mizarchain/mizar/common"
	dbm "github.com/mizarchain/mizar/common/db"
	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var llog = log.New("module", "loader")

var artifactPrefix = []byte("loader-artifact-")

//Executable 可实例化的编译产物
type Executable interface {
	// Encode 序列化, 用于落盘层
	Encode() ([]byte, error)
}

//Compiler 把原始字节码编译成可执行形式
type Compiler interface {
	Compile(bytecode []byte) (Executable, error)
	// Decode 反序列化落盘层中的编译产物
	Decode(data []byte) (Executable, error)
}

//Artifact 内容寻址的编译产物, 创建后只读共享
type Artifact struct {
	// Key sha256(compilerVersion || bytecode) 的 hex
	Key             string
	CompilerVersion string
	Raw             []byte
	Code            Executable
	CompiledAt      time.Time
}

//Stats 缓存统计
type Stats struct {
	MemEntries  int
	MemCapacity int
	Hits        int64
	Misses      int64
	Compiles    int64
}

type negEntry struct {
	err   error
	until time.Time
}

//Loader 编译产物缓存/加载器
type Loader struct {
	cfg       *types.LoaderConfig
	compilers map[string]Compiler
	clock     sync.RWMutex
	mem       *lru.Cache
	durable   dbm.DB
	sf        singleflight.Group
	negative  sync.Map // key -> *negEntry

	hits     int64
	misses   int64
	compiles int64
}

//New 创建 loader, durable 为 nil 时关闭落盘层
func New(cfg *types.LoaderConfig, durable dbm.DB) (*Loader, error) {
	if cfg == nil {
		cfg = types.DefaultConfig().Loader
	}
	mem, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		cfg:       cfg,
		compilers: make(map[string]Compiler),
		mem:       mem,
	}
	if cfg.EnableDurable {
		l.durable = durable
	}
	return l, nil
}

//Register 注册某个版本的编译器
func (l *Loader) Register(version string, c Compiler) {
	l.clock.Lock()
	l.compilers[version] = c
	l.clock.Unlock()
}

func (l *Loader) compiler(version string) (Compiler, error) {
	l.clock.RLock()
	defer l.clock.RUnlock()
	c, ok := l.compilers[version]
	if !ok {
		return nil, errors.Wrapf(types.ErrCompile, "no compiler for version %s", version)
	}
	return c, nil
}

//ArtifactKey 内容哈希: 字节码与编译器版本共同决定产物
func ArtifactKey(bytecode []byte, compilerVersion string) string {
	buf := make([]byte, 0, len(compilerVersion)+1+len(bytecode))
	buf = append(buf, compilerVersion...)
	buf = append(buf, 0)
	buf = append(buf, bytecode...)
	return common.ToHex(common.Sha256(buf))
}

//GetOrCompile 取产物, 没有则编译
//同一个 key 的并发请求合并为一次编译, 所有等待者得到同一个结果
func (l *Loader) GetOrCompile(ctx context.Context, bytecode []byte, compilerVersion string) (*Artifact, error) {
	if compilerVersion == "" {
		compilerVersion = l.cfg.CompilerVersion
	}
	key := ArtifactKey(bytecode, compilerVersion)

	if art, ok := l.memGet(key); ok {
		return art, nil
	}

	// 编译错误短时间内不再重试
	if v, ok := l.negative.Load(key); ok {
		ne := v.(*negEntry)
		if time.Now().Before(ne.until) {
			metrics.CacheNegative.Inc(1)
			return nil, ne.err
		}
		l.negative.Delete(key)
	}

	ch := l.sf.DoChan(key, func() (interface{}, error) {
		return l.load(key, bytecode, compilerVersion)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	case <-ctx.Done():
		// 等待编译也要受超时约束, 编译本身继续留给其他等待者
		return nil, errors.Wrap(types.ErrBatchTimeout, "join compile")
	}
}

func (l *Loader) load(key string, bytecode []byte, compilerVersion string) (*Artifact, error) {
	// doChan 合并窗口之外的请求可能已经把产物放进内存层
	if art, ok := l.memGet(key); ok {
		return art, nil
	}
	metrics.CacheMiss.Inc(1)
	atomic.AddInt64(&l.misses, 1)

	c, err := l.compiler(compilerVersion)
	if err != nil {
		return nil, err
	}

	if art := l.durableGet(key, bytecode, compilerVersion, c); art != nil {
		l.mem.Add(key, art)
		return art, nil
	}

	atomic.AddInt64(&l.compiles, 1)
	metrics.CacheCompile.Inc(1)
	code, err := c.Compile(bytecode)
	if err != nil {
		err = errors.Wrapf(types.ErrCompile, "%v", err)
		l.negative.Store(key, &negEntry{err: err, until: time.Now().Add(l.cfg.GetNegativeTTL())})
		llog.Warn("compile failed", "key", key, "err", err)
		return nil, err
	}
	art := &Artifact{
		Key:             key,
		CompilerVersion: compilerVersion,
		Raw:             common.CopyBytes(bytecode),
		Code:            code,
		CompiledAt:      time.Now(),
	}
	l.mem.Add(key, art)
	l.durablePut(art)
	return art, nil
}

func (l *Loader) memGet(key string) (*Artifact, bool) {
	if v, ok := l.mem.Get(key); ok {
		metrics.CacheHit.Inc(1)
		atomic.AddInt64(&l.hits, 1)
		return v.(*Artifact), true
	}
	return nil, false
}

func (l *Loader) durableGet(key string, bytecode []byte, compilerVersion string, c Compiler) *Artifact {
	if l.durable == nil {
		return nil
	}
	raw, err := l.durable.Get(append(artifactPrefix, key...))
	if err != nil {
		if err != dbm.ErrNotFoundInDb {
			llog.Error("durable get", "key", key, "err", err)
		}
		return nil
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		llog.Error("durable decode", "key", key, "err", err)
		return nil
	}
	code, err := c.Decode(data)
	if err != nil {
		llog.Error("durable artifact decode", "key", key, "err", err)
		return nil
	}
	return &Artifact{
		Key:             key,
		CompilerVersion: compilerVersion,
		Raw:             common.CopyBytes(bytecode),
		Code:            code,
		CompiledAt:      time.Now(),
	}
}

func (l *Loader) durablePut(art *Artifact) {
	if l.durable == nil {
		return
	}
	data, err := art.Code.Encode()
	if err != nil {
		llog.Error("durable encode", "key", art.Key, "err", err)
		return
	}
	err = l.durable.Set(append(artifactPrefix, art.Key...), snappy.Encode(nil, data))
	if err != nil {
		llog.Error("durable put", "key", art.Key, "err", err)
	}
}

//Warmup 预热: 把给定字节码提前编译进缓存
func (l *Loader) Warmup(ctx context.Context, payloads [][]byte, compilerVersion string) {
	for _, p := range payloads {
		if _, err := l.GetOrCompile(ctx, p, compilerVersion); err != nil {
			llog.Warn("warmup", "err", err)
		}
	}
}

//CompileCount 实际编译次数, 测试探针
func (l *Loader) CompileCount() int64 {
	return atomic.LoadInt64(&l.compiles)
}

//GetStats 缓存统计
func (l *Loader) GetStats() Stats {
	return Stats{
		MemEntries:  l.mem.Len(),
		MemCapacity: l.cfg.CacheSize,
		Hits:        atomic.LoadInt64(&l.hits),
		Misses:      atomic.LoadInt64(&l.misses),
		Compiles:    atomic.LoadInt64(&l.compiles),
	}
}
