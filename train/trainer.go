package train

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/ctrkit/metrics"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pkg/logging"
)

// MAPCutoff 是验证 MAP 的截断位置（每个 display 最多 12 个广告）。
const MAPCutoff = 12

// Eval 是一次验证的结果。
type Eval struct {
	Rows    int     `json:"rows"`
	LogLoss float64 `json:"logloss"`
	AUC     float64 `json:"auc"`
	MAP12   float64 `json:"map12"`
}

// Result 是一次训练的汇总。
type Result struct {
	Epochs    int           `json:"epochs"`
	Steps     int64         `json:"steps"`
	TrainLoss float64       `json:"train_loss"` // 最后一个 epoch 的平均 loss
	Valid     *Eval         `json:"valid,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Trainer 是 Wide&Deep 的训练循环。
//
// 每个 epoch 遍历一次 Train；每 ValidEvery 步（0 表示不按步验证）及每个 epoch 结束时
// 在 Valid 上计算 log-loss / AUC / MAP@12。Valid 为 nil 时跳过验证。
type Trainer struct {
	Model      *model.WideDeepModel
	Train      *Loader
	Valid      *Loader
	Epochs     int
	ValidEvery int
	LogEvery   int

	log zerolog.Logger
}

// NewTrainer 创建训练器。
func NewTrainer(m *model.WideDeepModel, trainLoader, validLoader *Loader) *Trainer {
	return &Trainer{
		Model:    m,
		Train:    trainLoader,
		Valid:    validLoader,
		Epochs:   1,
		LogEvery: 50,
		log:      logging.Component("train"),
	}
}

// Run 执行全部 epoch。
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer metrics.ObserveStage("train", start)

	res := &Result{}
	for epoch := 0; epoch < max(t.Epochs, 1); epoch++ {
		epochStart := time.Now()
		var sum float64
		var batches int
		var ema float64

		err := t.Train.Run(ctx, epoch, func(b *model.Batch) error {
			loss, err := t.Model.TrainStep(b)
			if err != nil {
				return err
			}
			batches++
			sum += loss
			if batches == 1 {
				ema = loss
			} else {
				ema = 0.98*ema + 0.02*loss
			}
			metrics.TrainSteps.Inc()
			metrics.TrainLoss.Set(ema)
			metrics.AddRows("train", b.Len())

			step := t.Model.Steps()
			if t.LogEvery > 0 && step%int64(t.LogEvery) == 0 {
				t.log.Info().Int("epoch", epoch).Int64("step", step).Float64("loss", ema).Msg("training")
			}
			if t.ValidEvery > 0 && step%int64(t.ValidEvery) == 0 {
				if _, err := t.validate(ctx, epoch); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		res.Epochs = epoch + 1
		res.Steps = t.Model.Steps()
		if batches > 0 {
			res.TrainLoss = sum / float64(batches)
		}
		t.log.Info().Int("epoch", epoch).Int("batches", batches).Float64("loss", res.TrainLoss).
			Dur("took", time.Since(epochStart)).Msg("epoch done")

		ev, err := t.validate(ctx, epoch)
		if err != nil {
			return nil, err
		}
		res.Valid = ev
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (t *Trainer) validate(ctx context.Context, epoch int) (*Eval, error) {
	if t.Valid == nil {
		return nil, nil
	}
	ev, err := Evaluate(ctx, t.Model, t.Valid)
	if err != nil {
		return nil, err
	}
	t.log.Info().Int("epoch", epoch).Int64("step", t.Model.Steps()).Int("rows", ev.Rows).
		Float64("logloss", ev.LogLoss).Float64("auc", ev.AUC).Float64("map12", ev.MAP12).Msg("validation")
	return ev, nil
}

// Evaluate 在一个 Loader 上做推理并计算验证指标。
func Evaluate(ctx context.Context, m *model.WideDeepModel, l *Loader) (*Eval, error) {
	start := time.Now()
	defer metrics.ObserveStage("validate", start)

	var probs, labels []float64
	var groups []int64
	err := l.Run(ctx, 0, func(b *model.Batch) error {
		p, err := m.PredictBatch(b)
		if err != nil {
			return err
		}
		probs = append(probs, p...)
		labels = append(labels, b.Label...)
		groups = append(groups, b.Group...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := &Eval{
		Rows:    len(probs),
		LogLoss: LogLoss(probs, labels),
		AUC:     AUC(probs, labels),
		MAP12:   MAPAtK(probs, labels, groups, MAPCutoff),
	}
	metrics.ValidMetric.WithLabelValues("logloss").Set(ev.LogLoss)
	metrics.ValidMetric.WithLabelValues("auc").Set(ev.AUC)
	metrics.ValidMetric.WithLabelValues("map12").Set(ev.MAP12)
	return ev, nil
}
