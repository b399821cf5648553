package job

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/ingest"
	"github.com/rushteam/ctrkit/metrics"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/store"
)

// Preprocess 执行 合并 → 切分 → 侧表矩阵 → 特征工作流 → Parquet 输出，
// 并把拟合出的统计量与 schema.json 写入 Paths.StatsDir。
func (r *Runner) Preprocess(ctx context.Context) (*pipeline.Metadata, error) {
	start := time.Now()
	defer metrics.ObserveStage("preprocess", start)
	s := r.Settings

	db, err := r.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := db.LoadTables(ctx, s.Paths.InputDir); err != nil {
		return nil, err
	}
	if _, err := db.Merge(ctx); err != nil {
		return nil, err
	}
	trainRows, validRows, err := db.Split(ctx, ingest.SplitOptions{
		ValidDayCutoff: s.Split.ValidDayCutoff,
		ValidFraction:  s.Split.ValidFraction,
		Seed:           s.Split.Seed,
	})
	if err != nil {
		return nil, err
	}
	raw := ingest.PersistOptions{Files: s.Workflow.OutFiles}
	if _, err := db.Persist(ctx, ingest.TableTrainRaw, r.outDir(DirTrainRaw), raw); err != nil {
		return nil, err
	}
	if _, err := db.Persist(ctx, ingest.TableValidRaw, r.outDir(DirValidRaw), raw); err != nil {
		return nil, err
	}

	matrices, err := db.LoadSideMatrices(ctx)
	if err != nil {
		return nil, err
	}
	w, err := config.BuildWorkflow(s.Workflow.Path)
	if err != nil {
		return nil, err
	}
	if err := w.Bind(matrices); err != nil {
		return nil, err
	}

	// 训练集拟合统计量并打乱写出；验证集只做变换，保持原有顺序
	if err := r.transform(ctx, db, w, ingest.TableTrainRaw, tableTrainOut, DirTrain, true); err != nil {
		return nil, fmt.Errorf("train set: %w", err)
	}
	if err := r.transform(ctx, db, w, ingest.TableValidRaw, tableValidOut, DirValid, false); err != nil {
		return nil, fmt.Errorf("valid set: %w", err)
	}

	stats := store.NewFileStore(s.Paths.StatsDir)
	if err := w.SaveStats(ctx, stats); err != nil {
		return nil, err
	}
	meta := w.NewMetadata(r.RunID)
	meta.TrainRows = trainRows
	meta.ValidRows = validRows
	spec, err := model.SpecFromMetadata(meta, s.Model.EmbeddingMin, s.Model.EmbeddingMax)
	if err != nil {
		return nil, err
	}
	meta.EmbeddingSizes = spec.EmbeddingSizes()
	if err := pipeline.SaveMetadata(ctx, stats, meta); err != nil {
		return nil, err
	}

	r.log.Info().Int64("train_rows", trainRows).Int64("valid_rows", validRows).
		Int("categorical", len(meta.Categorical)).Int("continuous", len(meta.Continuous)).
		Dur("took", time.Since(start)).Msg("preprocess done")
	return meta, nil
}

// transform 读入 source 表，执行工作流（fit 时拟合统计量），把输出列写到 dir。
func (r *Runner) transform(ctx context.Context, db *ingest.DB, w *pipeline.Workflow, source, table, dir string, fit bool) error {
	f, err := db.ReadFrame(ctx, source)
	if err != nil {
		return err
	}
	if fit {
		err = w.FitTransform(ctx, f)
	} else {
		err = w.Transform(ctx, f)
	}
	if err != nil {
		return err
	}
	out, err := w.Output(f)
	if err != nil {
		return err
	}
	if err := db.WriteFrame(ctx, table, out); err != nil {
		return err
	}
	_, err = db.Persist(ctx, table, r.outDir(dir), ingest.PersistOptions{
		Files:   r.Settings.Workflow.OutFiles,
		Shuffle: fit && r.Settings.Workflow.Shuffle,
	})
	if err != nil {
		return err
	}
	return db.Exec(ctx, "DROP TABLE IF EXISTS "+table)
}
