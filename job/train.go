package job

import (
	"context"
	"fmt"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/store"
	"github.com/rushteam/ctrkit/train"
)

// ModelConfig 把配置转换为模型超参数。
func (r *Runner) ModelConfig() model.Config {
	m := r.Settings.Model
	return model.Config{
		HiddenUnits: m.HiddenUnits,
		Dropout:     m.Dropout,
		DeepLR:      m.DeepLR,
		WideAlpha:   m.WideAlpha,
		WideBeta:    m.WideBeta,
		WideL1:      m.WideL1,
		WideL2:      m.WideL2,
		Seed:        m.Seed,
	}
}

// Train 读取 schema.json 构造（或从 checkpoint 恢复）模型，在 Paths.OutputDir/train
// 上训练，每个 epoch 结束在 valid 上验证，最后把 checkpoint 写入 Paths.ModelDir。
func (r *Runner) Train(ctx context.Context) (*train.Result, error) {
	s := r.Settings
	meta, err := pipeline.LoadMetadata(ctx, store.NewFileStore(s.Paths.StatsDir))
	if err != nil {
		return nil, err
	}
	spec, err := model.SpecFromMetadata(meta, s.Model.EmbeddingMin, s.Model.EmbeddingMax)
	if err != nil {
		return nil, err
	}

	models := store.NewFileStore(s.Paths.ModelDir)
	m, err := r.loadOrCreate(ctx, models, spec)
	if err != nil {
		return nil, err
	}

	db, err := r.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cols := pipeline.Columns{
		Label:       meta.Label,
		Group:       meta.Group,
		Categorical: meta.Categorical,
		Continuous:  meta.Continuous,
	}
	trainLoader := &train.Loader{
		Source: &train.ParquetSource{
			DB: db, Dir: r.outDir(DirTrain), Columns: cols, Shuffle: true, Seed: s.Train.Seed,
		},
		BatchSize:     s.Train.BatchSize,
		ShuffleBuffer: s.Train.ShuffleBuffer,
		Seed:          s.Train.Seed,
	}
	validLoader := &train.Loader{
		Source:    &train.ParquetSource{DB: db, Dir: r.outDir(DirValid), Columns: cols},
		BatchSize: s.Train.BatchSize,
	}

	t := train.NewTrainer(m, trainLoader, validLoader)
	t.Epochs = s.Train.Epochs
	t.ValidEvery = s.Train.ValidEvery
	t.LogEvery = s.Train.LogEvery

	res, err := t.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx, models); err != nil {
		return nil, err
	}

	ev := r.log.Info().Int("epochs", res.Epochs).Int64("steps", res.Steps).
		Float64("train_loss", res.TrainLoss).Dur("took", res.Duration)
	if res.Valid != nil {
		ev = ev.Float64("logloss", res.Valid.LogLoss).Float64("auc", res.Valid.AUC).Float64("map12", res.Valid.MAP12)
	}
	ev.Msg("train done")
	return res, nil
}

// loadOrCreate 优先从 checkpoint 继续训练；checkpoint 的列结构必须与 schema.json 一致，
// 隐藏层必须与配置一致，其余超参以当前配置为准。
func (r *Runner) loadOrCreate(ctx context.Context, s core.Store, spec model.Spec) (*model.WideDeepModel, error) {
	m, err := model.Load(ctx, s)
	switch {
	case core.IsStoreNotFound(err):
		return model.NewWideDeepModel(spec, r.ModelConfig())
	case err != nil:
		return nil, err
	}
	if err := sameColumns(m.Spec, spec); err != nil {
		return nil, err
	}
	prev, cfg := m.Config, r.ModelConfig()
	if err := m.Reconfigure(cfg); err != nil {
		return nil, err
	}
	if prev.DeepLR != cfg.DeepLR || prev.Dropout != cfg.Dropout || prev.WideAlpha != cfg.WideAlpha ||
		prev.WideBeta != cfg.WideBeta || prev.WideL1 != cfg.WideL1 || prev.WideL2 != cfg.WideL2 {
		r.log.Warn().Interface("checkpoint_config", prev).Interface("config", m.Config).
			Msg("model settings differ from checkpoint, using settings")
	}
	r.log.Info().Int64("steps", m.Steps()).Msg("resuming from checkpoint")
	return m, nil
}

func sameColumns(got, want model.Spec) error {
	mismatch := func(msg string) error {
		return core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "checkpoint does not match schema: "+msg)
	}
	if len(got.Categorical) != len(want.Categorical) || len(got.Continuous) != len(want.Continuous) {
		return mismatch("column count")
	}
	for i, c := range want.Categorical {
		g := got.Categorical[i]
		if g.Name != c.Name || g.Cardinality != c.Cardinality {
			return mismatch(fmt.Sprintf("categorical column %d: %s/%d vs %s/%d", i, g.Name, g.Cardinality, c.Name, c.Cardinality))
		}
	}
	for i, c := range want.Continuous {
		if got.Continuous[i] != c {
			return mismatch(fmt.Sprintf("continuous column %d: %s vs %s", i, got.Continuous[i], c))
		}
	}
	return nil
}
