package feature

import (
	"context"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

// Clip 把数值列截断到 [Min, Max]，nil 表示该侧不截断。
type Clip struct {
	Columns []string
	Min     *float64
	Max     *float64
}

func (c *Clip) Name() string        { return "clip" }
func (c *Clip) Kind() pipeline.Kind { return pipeline.KindTransform }

func (c *Clip) Fit(context.Context, *frame.Frame) error { return nil }

func (c *Clip) Transform(_ context.Context, f *frame.Frame) error {
	for _, name := range c.Columns {
		col, err := numericColumn(f, name)
		if err != nil {
			return err
		}
		fc := col.ToFloat()
		out := make([]float64, len(fc.Float))
		for i, v := range fc.Float {
			if c.Min != nil && v < *c.Min {
				v = *c.Min
			}
			if c.Max != nil && v > *c.Max {
				v = *c.Max
			}
			out[i] = v
		}
		if err := f.Set(frame.NewFloatColumn(name, out, fc.Valid)); err != nil {
			return err
		}
	}
	return nil
}
