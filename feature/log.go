package feature

import (
	"context"
	"math"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

// Log 对数变换
// 公式: x' = log(x + 1)
// 特点: 处理长尾分布，压缩大值；负数按 0 处理，空值保持为空。
type Log struct {
	Columns []string
}

func (l *Log) Name() string        { return "log" }
func (l *Log) Kind() pipeline.Kind { return pipeline.KindTransform }

func (l *Log) Fit(context.Context, *frame.Frame) error { return nil }

func (l *Log) Transform(_ context.Context, f *frame.Frame) error {
	for _, name := range l.Columns {
		c, err := numericColumn(f, name)
		if err != nil {
			return err
		}
		fc := c.ToFloat()
		out := make([]float64, len(fc.Float))
		for i, v := range fc.Float {
			out[i] = log1p(v)
		}
		if err := f.Set(frame.NewFloatColumn(name, out, fc.Valid)); err != nil {
			return err
		}
	}
	return nil
}

func log1p(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Log1p(v)
}
