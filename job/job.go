// Package job 把各阶段串成命令行可执行的任务：preprocess、train、run、export。
//
// 每个任务只依赖 config.Settings，输入输出全部落在 Settings.Paths 指定的目录中，
// 因此 preprocess 与 train 可以在不同进程（甚至不同机器）上分别执行。
package job

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/ingest"
	"github.com/rushteam/ctrkit/pkg/logging"

	// 注册内置算子
	_ "github.com/rushteam/ctrkit/config/builders"
)

// 输出目录下的子目录。
const (
	DirTrainRaw = "train_raw"
	DirValidRaw = "valid_raw"
	DirTrain    = "train"
	DirValid    = "valid"
)

// 工作流输出在 DuckDB 中的临时表名。
const (
	tableTrainOut = "train_out"
	tableValidOut = "valid_out"
)

// Runner 持有一次命令执行的配置与运行 ID。
type Runner struct {
	Settings *config.Settings
	RunID    string

	log zerolog.Logger
}

// NewRunner 创建 Runner，并生成新的运行 ID。
func NewRunner(s *config.Settings) *Runner {
	id := uuid.NewString()
	return &Runner{
		Settings: s,
		RunID:    id,
		log:      logging.Component("job").With().Str("run_id", id).Logger(),
	}
}

func (r *Runner) outDir(name string) string {
	return filepath.Join(r.Settings.Paths.OutputDir, name)
}

func (r *Runner) openDB(ctx context.Context) (*ingest.DB, error) {
	d := r.Settings.DuckDB
	return ingest.Open(ctx, ingest.Options{
		Path:      d.Path,
		Threads:   d.Threads,
		MaxMemory: d.MaxMemory,
		TempDir:   d.TempDir,
	})
}

// Run 依次执行 preprocess 与 train。
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.Preprocess(ctx); err != nil {
		return err
	}
	_, err := r.Train(ctx)
	return err
}
