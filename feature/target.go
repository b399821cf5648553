package feature

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

const (
	DefaultKFold   = 5
	DefaultPSmooth = 20.0
)

// TargetEncode 目标编码（平滑的类别目标均值）
// 公式: TE = (sum + PSmooth * mean) / (count + PSmooth)
//
// 训练集上每行只使用其他折的统计量（out-of-fold），避免标签泄漏；
// 其他数据集使用全量统计量。空值与未出现的类别编码为全局均值。
// 输出列名为 TE_<col>_<target>。
type TargetEncode struct {
	Columns []string
	Target  string
	KFold   int
	PSmooth float64
	Seed    int64

	stats targetStats
}

type targetStats struct {
	Mean    float64                        `json:"mean"`
	Columns map[string]map[string]*teCount `json:"columns"`
}

type teCount struct {
	Sum   float64 `json:"s"`
	Count float64 `json:"n"`
}

func (t *TargetEncode) Name() string        { return "target_encode" }
func (t *TargetEncode) Kind() pipeline.Kind { return pipeline.KindEncode }

// OutputName 返回某列的输出列名。
func (t *TargetEncode) OutputName(col string) string {
	return fmt.Sprintf("TE_%s_%s", col, t.Target)
}

func (t *TargetEncode) fold(row int) int {
	return int(splitmix64(uint64(t.Seed)^uint64(row)) % uint64(t.kfold()))
}

func (t *TargetEncode) kfold() int {
	if t.KFold < 2 {
		return 1
	}
	return t.KFold
}

func (t *TargetEncode) target(f *frame.Frame) (*frame.Column, float64, error) {
	y, err := numericColumn(f, t.Target)
	if err != nil {
		return nil, 0, err
	}
	var sum, n float64
	for i := 0; i < y.Len(); i++ {
		if v, ok := y.FloatAt(i); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return y, 0, nil
	}
	return y, sum / n, nil
}

// aggregate 统计每个类别值的 (sum, count)；folds 非 nil 时按折分别统计。
func aggregate(col, y *frame.Column, folds []int, k int) []map[string]*teCount {
	out := make([]map[string]*teCount, k)
	for i := range out {
		out[i] = make(map[string]*teCount)
	}
	for i := 0; i < col.Len(); i++ {
		target, ok := y.FloatAt(i)
		if !ok {
			continue
		}
		v, ok := col.StringAt(i)
		if !ok {
			continue
		}
		slot := 0
		if folds != nil {
			slot = folds[i]
		}
		c := out[slot][v]
		if c == nil {
			c = &teCount{}
			out[slot][v] = c
		}
		c.Sum += target
		c.Count++
	}
	return out
}

func total(parts []map[string]*teCount) map[string]*teCount {
	if len(parts) == 1 {
		return parts[0]
	}
	out := make(map[string]*teCount)
	for _, p := range parts {
		for v, c := range p {
			acc := out[v]
			if acc == nil {
				acc = &teCount{}
				out[v] = acc
			}
			acc.Sum += c.Sum
			acc.Count += c.Count
		}
	}
	return out
}

func (t *TargetEncode) smooth(sum, count float64) float64 {
	return smoothMean(sum, count, t.PSmooth, t.stats.Mean)
}

func smoothMean(sum, count, p, mean float64) float64 {
	if count+p <= 0 {
		return mean
	}
	return (sum + p*mean) / (count + p)
}

func (t *TargetEncode) Fit(ctx context.Context, f *frame.Frame) error {
	y, mean, err := t.target(f)
	if err != nil {
		return err
	}
	full := make([]map[string]*teCount, len(t.Columns))
	err = forEachColumn(ctx, t.Columns, func(_ context.Context, i int, name string) error {
		col, err := f.Col(name)
		if err != nil {
			return err
		}
		full[i] = aggregate(col, y, nil, 1)[0]
		return nil
	})
	if err != nil {
		return err
	}
	t.setStats(mean, full)
	return nil
}

func (t *TargetEncode) setStats(mean float64, per []map[string]*teCount) {
	t.stats = targetStats{Mean: mean, Columns: make(map[string]map[string]*teCount, len(t.Columns))}
	for i, name := range t.Columns {
		t.stats.Columns[name] = per[i]
	}
}

// FitTransform 拟合全量统计量，并对训练集写入 out-of-fold 编码。
func (t *TargetEncode) FitTransform(ctx context.Context, f *frame.Frame) error {
	y, mean, err := t.target(f)
	if err != nil {
		return err
	}
	k := t.kfold()
	folds := make([]int, f.Len())
	for i := range folds {
		folds[i] = t.fold(i)
	}

	full := make([]map[string]*teCount, len(t.Columns))
	encoded := make([][]float64, len(t.Columns))
	err = forEachColumn(ctx, t.Columns, func(_ context.Context, i int, name string) error {
		col, err := f.Col(name)
		if err != nil {
			return err
		}
		parts := aggregate(col, y, folds, k)
		all := total(parts)
		full[i] = all

		out := make([]float64, col.Len())
		for r := range out {
			v, ok := col.StringAt(r)
			if !ok {
				out[r] = mean
				continue
			}
			var sum, count float64
			if c := all[v]; c != nil {
				sum, count = c.Sum, c.Count
			}
			if k > 1 {
				if c := parts[folds[r]][v]; c != nil {
					sum -= c.Sum
					count -= c.Count
				}
			}
			out[r] = smoothMean(sum, count, t.PSmooth, mean)
		}
		encoded[i] = out
		return nil
	})
	if err != nil {
		return err
	}
	t.setStats(mean, full)
	for i, name := range t.Columns {
		if err := f.Set(frame.NewFloatColumn(t.OutputName(name), encoded[i], nil)); err != nil {
			return err
		}
	}
	return nil
}

func (t *TargetEncode) Transform(_ context.Context, f *frame.Frame) error {
	for _, name := range t.Columns {
		counts, ok := t.stats.Columns[name]
		if !ok {
			return invalidConfig("target_encode", "column "+name+" was not fitted")
		}
		col, err := f.Col(name)
		if err != nil {
			return err
		}
		out := make([]float64, col.Len())
		for i := range out {
			v, ok := col.StringAt(i)
			if !ok {
				out[i] = t.stats.Mean
				continue
			}
			if c := counts[v]; c != nil {
				out[i] = t.smooth(c.Sum, c.Count)
			} else {
				out[i] = t.smooth(0, 0)
			}
		}
		if err := f.Set(frame.NewFloatColumn(t.OutputName(name), out, nil)); err != nil {
			return err
		}
	}
	return nil
}

// Mean 返回训练集目标均值。
func (t *TargetEncode) Mean() float64 { return t.stats.Mean }

// Encode 返回某列某个值的全量编码，未出现的值返回全局均值。
func (t *TargetEncode) Encode(column, value string) float64 {
	if c := t.stats.Columns[column][value]; c != nil {
		return t.smooth(c.Sum, c.Count)
	}
	return t.stats.Mean
}

func (t *TargetEncode) MarshalStats() ([]byte, error) {
	return json.Marshal(t.stats)
}

func (t *TargetEncode) UnmarshalStats(data []byte) error {
	return json.Unmarshal(data, &t.stats)
}
