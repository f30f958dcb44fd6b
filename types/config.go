// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package types

import (
	"runtime"
	"time"

	tml "github.com/BurntSushi/toml"
)

//Config 执行核心配置, 对应 toml 配置文件
type Config struct {
	Title  string
	Log    *Log
	Exec   *ExecConfig
	VM     *VMConfig
	Loader *LoaderConfig
	Store  *StoreConfig
}

//Log 日志配置
type Log struct {
	Loglevel        string
	LogConsoleLevel string
	// LogFile 日志文件, 为空时只输出到控制台
	LogFile     string
	MaxFileSize uint32
	MaxBackups  uint32
	MaxAge      uint32
	LocalTime   bool
	Compress    bool
}

//ExecConfig 调度与策略选择参数
//阈值是策略参数而不是不变量, 全部可配置
type ExecConfig struct {
	// MaxBatchSize 单批次最大交易数
	MaxBatchSize int
	// Workers 工作线程数, 0 取 CPU 数
	Workers int
	// RetryLimit 乐观执行单笔交易的最大重试次数
	RetryLimit int
	// LowDensity 冲突密度低于该值且读写集完整声明时选 partition
	LowDensity float64
	// HighDensity 冲突密度高于该值时直接串行
	HighDensity float64
	// HotKeyRatio 单一热点键占比超过该值且存在冲突时直接串行
	HotKeyRatio float64
	// BatchTimeoutMs 批次整体超时, 毫秒
	BatchTimeoutMs int64
}

//VMConfig 实例池配置
type VMConfig struct {
	// MaxInstances 沙箱实例上限
	MaxInstances int
	// CheckoutTimeoutMs 实例检出阻塞上限, 毫秒
	CheckoutTimeoutMs int64
	// DefaultStepBudget 交易未声明预算时的默认步数
	DefaultStepBudget int64
}

//LoaderConfig 编译缓存配置
type LoaderConfig struct {
	// CacheSize 内存层 LRU 容量
	CacheSize int
	// EnableDurable 开启落盘层
	EnableDurable bool
	// NegativeTTLMs 编译失败负缓存的存活时间, 毫秒
	NegativeTTLMs int64
	// CompilerVersion 默认编译器版本
	CompilerVersion string
}

//StoreConfig 持久化存储配置
type StoreConfig struct {
	Name string
	// Driver 取值 memdb goleveldb gobadgerdb
	Driver  string
	DbPath  string
	DbCache int32
}

//DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Title: "mizar",
		Log: &Log{
			Loglevel:        "info",
			LogConsoleLevel: "info",
		},
		Exec: &ExecConfig{
			MaxBatchSize:   10000,
			Workers:        0,
			RetryLimit:     4,
			LowDensity:     0.15,
			HighDensity:    0.6,
			HotKeyRatio:    0.5,
			BatchTimeoutMs: 30000,
		},
		VM: &VMConfig{
			MaxInstances:      64,
			CheckoutTimeoutMs: 2000,
			DefaultStepBudget: 1000000,
		},
		Loader: &LoaderConfig{
			CacheSize:       1024,
			EnableDurable:   false,
			NegativeTTLMs:   2000,
			CompilerVersion: "v1",
		},
		Store: &StoreConfig{
			Name:    "mizar",
			Driver:  "memdb",
			DbPath:  "datadir",
			DbCache: 64,
		},
	}
}

//InitCfg 从文件加载配置, 缺失的小节用默认值补齐
func InitCfg(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := tml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.FillDefault()
	return cfg, nil
}

//FillDefault 补齐缺失小节
func (cfg *Config) FillDefault() {
	def := DefaultConfig()
	if cfg.Log == nil {
		cfg.Log = def.Log
	}
	if cfg.Exec == nil {
		cfg.Exec = def.Exec
	}
	if cfg.VM == nil {
		cfg.VM = def.VM
	}
	if cfg.Loader == nil {
		cfg.Loader = def.Loader
	}
	if cfg.Store == nil {
		cfg.Store = def.Store
	}
}

//CheckConfig 配置合法性检查
func (cfg *Config) CheckConfig() error {
	cfg.FillDefault()
	if cfg.VM.MaxInstances <= 0 {
		return ErrBadPoolConfig
	}
	if cfg.Exec.MaxBatchSize <= 0 {
		return ErrBadPoolConfig
	}
	if cfg.Exec.RetryLimit < 1 {
		cfg.Exec.RetryLimit = 1
	}
	if cfg.Exec.Workers <= 0 {
		cfg.Exec.Workers = runtime.NumCPU()
	}
	return nil
}

//GetBatchTimeout duration helpers
func (cfg *ExecConfig) GetBatchTimeout() time.Duration {
	return time.Duration(cfg.BatchTimeoutMs) * time.Millisecond
}

//GetCheckoutTimeout checkout 阻塞上限
func (cfg *VMConfig) GetCheckoutTimeout() time.Duration {
	return time.Duration(cfg.CheckoutTimeoutMs) * time.Millisecond
}

//GetNegativeTTL 负缓存存活时间
func (cfg *LoaderConfig) GetNegativeTTL() time.Duration {
	return time.Duration(cfg.NegativeTTLMs) * time.Millisecond
}
