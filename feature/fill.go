package feature

import (
	"context"
	"sort"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

// FillMedian 用训练集中位数填充缺失值，输出 float 列。
// 整列为空时中位数按 0 处理。
type FillMedian struct {
	Columns []string

	medians map[string]float64
}

func (m *FillMedian) Name() string        { return "fill_median" }
func (m *FillMedian) Kind() pipeline.Kind { return pipeline.KindFill }

func (m *FillMedian) Fit(ctx context.Context, f *frame.Frame) error {
	result := make([]float64, len(m.Columns))
	err := forEachColumn(ctx, m.Columns, func(_ context.Context, i int, name string) error {
		c, err := numericColumn(f, name)
		if err != nil {
			return err
		}
		result[i] = median(c)
		return nil
	})
	if err != nil {
		return err
	}
	m.medians = make(map[string]float64, len(m.Columns))
	for i, name := range m.Columns {
		m.medians[name] = result[i]
	}
	return nil
}

func median(c *frame.Column) float64 {
	values := make([]float64, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		if v, ok := c.FloatAt(i); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		// 偶数个取中间两个值的均值
		return stat.Mean(values[n/2-1:n/2+1], nil)
	}
	return values[n/2]
}

func (m *FillMedian) Transform(_ context.Context, f *frame.Frame) error {
	for _, name := range m.Columns {
		fill, ok := m.medians[name]
		if !ok {
			return invalidConfig("fill_median", "column "+name+" was not fitted")
		}
		c, err := numericColumn(f, name)
		if err != nil {
			return err
		}
		fc := c.ToFloat()
		out := make([]float64, len(fc.Float))
		for i, v := range fc.Float {
			if fc.IsNull(i) {
				v = fill
			}
			out[i] = v
		}
		if err := f.Set(frame.NewFloatColumn(name, out, nil)); err != nil {
			return err
		}
	}
	return nil
}

// Medians 返回拟合得到的中位数。
func (m *FillMedian) Medians() map[string]float64 { return m.medians }

func (m *FillMedian) MarshalStats() ([]byte, error) {
	return json.Marshal(m.medians)
}

func (m *FillMedian) UnmarshalStats(data []byte) error {
	return json.Unmarshal(data, &m.medians)
}
