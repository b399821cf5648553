package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/metrics"
	"github.com/rushteam/ctrkit/pkg/logging"
	"github.com/rushteam/ctrkit/sparse"
)

// Columns 是工作流输出的列配置，仅用于路由列值。
type Columns struct {
	Label       string   `yaml:"label" json:"label"`
	Group       string   `yaml:"group" json:"group"`
	Categorical []string `yaml:"categorical" json:"categorical"`
	Continuous  []string `yaml:"continuous" json:"continuous"`
}

// Names 返回输出列的顺序：label、group、categorical、continuous。
func (c Columns) Names() []string {
	out := make([]string, 0, 2+len(c.Categorical)+len(c.Continuous))
	if c.Label != "" {
		out = append(out, c.Label)
	}
	if c.Group != "" {
		out = append(out, c.Group)
	}
	out = append(out, c.Categorical...)
	return append(out, c.Continuous...)
}

// Workflow 是特征工程的核心抽象：把列变换拆成按顺序执行的 Op 链。
// 后面的算子可以使用前面算子产出的列。
type Workflow struct {
	Name    string
	Ops     []Op
	Columns Columns
}

// Bind 把辅助稀疏矩阵注入需要它们的算子。
func (w *Workflow) Bind(matrices map[string]*sparse.Matrix) error {
	for _, op := range w.Ops {
		mc, ok := op.(MatrixConsumer)
		if !ok {
			continue
		}
		if err := mc.BindMatrices(matrices); err != nil {
			return fmt.Errorf("bind %s: %w", op.Name(), err)
		}
	}
	return nil
}

// FitTransform 在训练集上按顺序拟合并变换每个算子。
func (w *Workflow) FitTransform(ctx context.Context, f *frame.Frame) error {
	return w.run(ctx, f, true)
}

// Transform 使用已拟合（或已加载）的统计量变换 Frame。
func (w *Workflow) Transform(ctx context.Context, f *frame.Frame) error {
	return w.run(ctx, f, false)
}

func (w *Workflow) run(ctx context.Context, f *frame.Frame, fit bool) error {
	log := logging.Component("pipeline")
	for i, op := range w.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		var err error
		switch {
		case fit:
			if ft, ok := op.(FitTransformer); ok {
				err = ft.FitTransform(ctx, f)
				break
			}
			if err = op.Fit(ctx, f); err == nil {
				err = op.Transform(ctx, f)
			}
		default:
			err = op.Transform(ctx, f)
		}
		if err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Name(), err)
		}
		metrics.ObserveStage(string(op.Kind())+":"+op.Name(), start)
		log.Debug().
			Str("workflow", w.Name).
			Str("op", op.Name()).
			Bool("fit", fit).
			Int("rows", f.Len()).
			Dur("took", time.Since(start)).
			Msg("op done")
	}
	return nil
}

// Output 按 Columns 选出最终列：分类列必须为 int，连续列统一为 float。
func (w *Workflow) Output(f *frame.Frame) (*frame.Frame, error) {
	out, err := f.Select(w.Columns.Names()...)
	if err != nil {
		return nil, err
	}
	for _, name := range w.Columns.Categorical {
		c, _ := out.Col(name)
		if c.Kind != frame.KindInt {
			return nil, core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput,
				fmt.Sprintf("categorical column %q is %s, want int (missing categorify?)", name, c.Kind))
		}
	}
	for _, name := range w.Columns.Continuous {
		c, _ := out.Col(name)
		if c.Kind != frame.KindFloat {
			if err := out.Set(c.ToFloat()); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// StatsKey 返回第 i 个算子在统计目录中的 key。
func (w *Workflow) StatsKey(i int) string {
	return fmt.Sprintf("%s/%02d_%s.json", w.Name, i, w.Ops[i].Name())
}

// SaveStats 把所有带状态算子的统计量写入 store。
func (w *Workflow) SaveStats(ctx context.Context, s core.Store) error {
	kvs := make(map[string][]byte)
	for i, op := range w.Ops {
		so, ok := op.(StatefulOp)
		if !ok {
			continue
		}
		data, err := so.MarshalStats()
		if err != nil {
			return fmt.Errorf("marshal stats of %s: %w", op.Name(), err)
		}
		kvs[w.StatsKey(i)] = data
	}
	return s.BatchSet(ctx, kvs)
}

// LoadStats 从 store 恢复统计量；缺失任意一个都视为错误。
func (w *Workflow) LoadStats(ctx context.Context, s core.Store) error {
	for i, op := range w.Ops {
		so, ok := op.(StatefulOp)
		if !ok {
			continue
		}
		data, err := s.Get(ctx, w.StatsKey(i))
		if err != nil {
			return fmt.Errorf("load stats %s: %w", w.StatsKey(i), err)
		}
		if err := so.UnmarshalStats(data); err != nil {
			return core.WrapDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput,
				"decode stats "+w.StatsKey(i), err)
		}
	}
	return nil
}

// Cardinalities 汇总所有编码算子报告的列基数。
func (w *Workflow) Cardinalities() map[string]int {
	out := make(map[string]int)
	for _, op := range w.Ops {
		co, ok := op.(CategoricalOp)
		if !ok {
			continue
		}
		for k, v := range co.Cardinalities() {
			out[k] = v
		}
	}
	return out
}
