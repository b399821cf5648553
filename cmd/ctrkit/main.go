// Package main 是 ctrkit 命令行入口。
//
// ctrkit 把 Outbrain 点击预测流程拆成几个可以单独执行的阶段：
//
//	ctrkit [-config ctrkit.yaml] preprocess   合并 CSV、切分、特征工程，写出 Parquet 与统计量
//	ctrkit [-config ctrkit.yaml] train        读取预处理输出，训练 Wide&Deep 并写出 checkpoint
//	ctrkit [-config ctrkit.yaml] run          preprocess + train
//	ctrkit [-config ctrkit.yaml] export       把编码统计量推送到 Redis
//
// # 配置
//
// 配置按优先级从低到高合并（koanf）：
//   - 内置默认值
//   - 配置文件（-config、CONFIG_PATH 或 ./ctrkit.yaml）
//   - 环境变量：INPUT_DATA_DIR、OUTPUT_DATA_DIR、STATS_DIR、MODEL_DIR、
//     LOG_LEVEL、LOG_FORMAT、REDIS_ADDR，以及任意 CTRKIT_<SECTION>_<KEY>
//
// # 信号处理
//
// SIGINT / SIGTERM 会取消当前阶段的 context，DuckDB 查询与数据加载随之停止，
// 进程以非零状态退出，已写出的文件不会被清理。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/job"
	"github.com/rushteam/ctrkit/metrics"
	"github.com/rushteam/ctrkit/pkg/logging"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] preprocess|train|run|export\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to settings file (default: CONFIG_PATH or ./ctrkit.yaml)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	logging.Init(settings.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, job.NewRunner(settings), flag.Arg(0))
	stop()

	if path := settings.Metrics.Textfile; path != "" {
		if werr := metrics.WriteTextfile(path); werr != nil {
			logging.Warn().Err(werr).Str("path", path).Msg("write metrics textfile")
		}
	}
	if err != nil {
		logging.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, r *job.Runner, command string) error {
	logging.Info().Str("command", command).Str("run_id", r.RunID).Msg("starting")
	switch command {
	case "preprocess":
		_, err := r.Preprocess(ctx)
		return err
	case "train":
		_, err := r.Train(ctx)
		return err
	case "run":
		return r.Run(ctx)
	case "export":
		_, err := r.Export(ctx)
		return err
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
