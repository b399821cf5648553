package feature

import (
	"context"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

// Slice 截取字符串列的 [Start, End) 字节区间，写入 Output。
// End <= 0 表示截到末尾；空值保持为空。
//
// 例：geo_location "US>CA>807" 取 [0,2) 得到国家 "US"，取 [0,5) 得到 "US>CA"。
type Slice struct {
	Column string
	Output string
	Start  int
	End    int
}

func (s *Slice) Name() string        { return "slice" }
func (s *Slice) Kind() pipeline.Kind { return pipeline.KindTransform }

func (s *Slice) Fit(context.Context, *frame.Frame) error { return nil }

func (s *Slice) Transform(_ context.Context, f *frame.Frame) error {
	c, err := f.Col(s.Column)
	if err != nil {
		return err
	}
	n := c.Len()
	out := make([]string, n)
	var valid []bool
	if c.Valid != nil {
		valid = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		v, ok := c.StringAt(i)
		if !ok {
			continue
		}
		if valid != nil {
			valid[i] = true
		}
		out[i] = s.cut(v)
	}
	name := s.Output
	if name == "" {
		name = s.Column
	}
	return f.Set(frame.NewStringColumn(name, out, valid))
}

func (s *Slice) cut(v string) string {
	start, end := s.Start, s.End
	if end <= 0 || end > len(v) {
		end = len(v)
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return ""
	}
	return v[start:end]
}
