// Copyright Fuzamei Corp. 2018 All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mizar 并行执行核心的命令行入口
// run 子命令加载配置, 生成一批合成交易并执行, 打印批次报告
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	dbm "github.com/mizarchain/mizar/common/db"
	clog "github.com/mizarchain/mizar/common/log"
	"github.com/mizarchain/mizar/executor"
	"github.com/mizarchain/mizar/metrics"
	"github.com/mizarchain/mizar/types"
	"github.com/mizarchain/mizar/vm"
)

const version = "0.1.0"

var (
	configPath string
	batchFile  string
	batchSize  int
	workload   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mizar",
		Short: "parallel smart contract execution core",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to mizar.toml")
	rootCmd.AddCommand(versionCmd(), runCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute a synthetic batch and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.Flags().StringVarP(&batchFile, "file", "f", "", "batch file, programs separated by a line of ---")
	cmd.Flags().IntVarP(&batchSize, "txs", "n", 64, "number of transactions in the batch")
	cmd.Flags().StringVarP(&workload, "workload", "w", "disjoint", "workload shape: disjoint|hot|chain")
	return cmd
}

func loadConfig() (*types.Config, error) {
	if configPath == "" {
		cfg := types.DefaultConfig()
		return cfg, cfg.CheckConfig()
	}
	cfg, err := types.InitCfg(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.CheckConfig()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Log.LogFile == "" {
		clog.SetLogLevel(cfg.Log.Loglevel)
	} else {
		clog.SetFileLog(cfg.Log)
	}

	db := dbm.NewDB(cfg.Store.Name, cfg.Store.Driver, cfg.Store.DbPath, int(cfg.Store.DbCache))
	defer db.Close()

	sched, err := executor.New(cfg, db, &vm.InterpRuntime{})
	if err != nil {
		return err
	}
	sched.RegisterCompiler("v1", &vm.InterpCompiler{})
	defer sched.Pool().Close()

	var txs []*types.Transaction
	if batchFile != "" {
		txs, err = loadBatchFile(batchFile)
		if err != nil {
			return err
		}
	} else {
		txs = buildWorkload(workload, batchSize)
	}

	// 先把编译做完, 批次耗时里只剩执行本身
	payloads := make([][]byte, len(txs))
	for i, tx := range txs {
		payloads[i] = tx.Payload
	}
	sched.Loader().Warmup(context.Background(), payloads, "v1")

	report, err := sched.SubmitBatch(context.Background(), txs)
	if err != nil {
		return err
	}

	fmt.Printf("batch    %s\n", report.BatchID)
	fmt.Printf("strategy %s\n", report.Strategy)
	fmt.Printf("txs      %d committed %d failed %d\n",
		report.Stats.TotalTxs, report.Stats.Committed, report.Stats.Failed)
	fmt.Printf("steps    %d retries %d conflicts %d\n",
		report.Stats.TotalSteps, report.Stats.Retries, report.Stats.Conflicts)
	fmt.Printf("cost     %v efficiency %.2f\n", report.Stats.Duration, report.Stats.Efficiency)

	snap := metrics.Snapshot()
	fmt.Printf("compiles %d cache hits %d pool recycles %d\n",
		snap["mizar/loader/compile"], snap["mizar/loader/hit"], snap["mizar/vm/recycle"])
	return nil
}

// loadBatchFile 从文件读批次, 程序之间用单独一行 --- 分隔
// 读写集不声明, 由调度器从编译产物推断
func loadBatchFile(path string) ([]*types.Transaction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var txs []*types.Transaction
	for _, prog := range strings.Split(string(raw), "\n---\n") {
		prog = strings.TrimSpace(prog)
		if prog == "" {
			continue
		}
		txs = append(txs, types.NewTransaction(len(txs), []byte(prog+"\n")))
	}
	if len(txs) == 0 {
		return nil, types.ErrEmptyBatch
	}
	return txs, nil
}

// 合成负载
// disjoint: 全部互不相交, 走静态分区
// hot: 全部累加同一个热点键, 走乐观或串行
// chain: 单属主所有权链, 走依赖 DAG
func buildWorkload(shape string, n int) []*types.Transaction {
	txs := make([]*types.Transaction, n)
	for i := 0; i < n; i++ {
		var src string
		var reads, writes []string
		switch shape {
		case "hot":
			src = fmt.Sprintf("ADD hot 1\nWRITE pad%d x\n", i)
			reads = []string{"hot"}
			writes = []string{"hot", fmt.Sprintf("pad%d", i)}
		case "chain":
			key := fmt.Sprintf("own%d", i)
			src = fmt.Sprintf("WRITE %s v\n", key)
			writes = []string{key}
			if i > 0 {
				prev := fmt.Sprintf("own%d", i-1)
				src = fmt.Sprintf("READ %s\n", prev) + src
				reads = []string{prev}
			}
		default:
			src = fmt.Sprintf("ADD acct%d 10\nSPIN 20\n", i)
			key := fmt.Sprintf("acct%d", i)
			reads = []string{key}
			writes = []string{key}
		}
		tx := types.NewTransaction(i, []byte(src))
		tx.ReadKeys = reads
		tx.WriteKeys = writes
		tx.Declared = true
		txs[i] = tx
	}
	return txs
}
