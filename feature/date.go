package feature

import (
	"context"
	"strings"
	"time"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

const (
	// DefaultOffsetMillis 是事件时间戳的起点（2016-06-14 03:59:59.998 UTC），
	// events.timestamp 记录的是相对它的毫秒数。
	DefaultOffsetMillis int64 = 1465876799998
	// DefaultMaxDays 超出 [0, MaxDays] 的天数视为异常，置 0。
	DefaultMaxDays = 3650

	millisPerDay = 86400000
)

var publishTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// DateDelta 计算文档发布时间到事件发生时间的天数。
type DateDelta struct {
	Column          string // 发布时间列（字符串）
	TimestampColumn string // 事件时间戳列（相对 OffsetMillis 的毫秒数）
	OffsetMillis    int64
	MaxDays         int
	Output          string // 默认 <Column>_days_since_published
}

func (d *DateDelta) Name() string        { return "date_delta" }
func (d *DateDelta) Kind() pipeline.Kind { return pipeline.KindTransform }

func (d *DateDelta) Fit(context.Context, *frame.Frame) error { return nil }

// OutputName 返回输出列名。
func (d *DateDelta) OutputName() string {
	if d.Output != "" {
		return d.Output
	}
	return d.Column + "_days_since_published"
}

func (d *DateDelta) Transform(_ context.Context, f *frame.Frame) error {
	pub, err := f.Col(d.Column)
	if err != nil {
		return err
	}
	if pub.Kind != frame.KindString {
		return core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput,
			"date_delta: column "+d.Column+" must be a string column")
	}
	ts, err := numericColumn(f, d.TimestampColumn)
	if err != nil {
		return err
	}

	n := pub.Len()
	out := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		s, ok := pub.StringAt(i)
		if !ok {
			continue
		}
		t, ok := ParsePublishTime(s)
		if !ok {
			continue
		}
		event, ok := ts.FloatAt(i)
		if !ok {
			continue
		}
		valid[i] = true
		out[i] = d.days(int64(event)+d.OffsetMillis, t.UnixMilli())
	}
	return f.Set(frame.NewFloatColumn(d.OutputName(), out, valid))
}

func (d *DateDelta) days(eventMillis, publishMillis int64) float64 {
	delta := (eventMillis - publishMillis) / millisPerDay
	if delta < 0 || delta > int64(d.MaxDays) {
		return 0
	}
	return float64(delta)
}

// ParsePublishTime 解析 documents_meta.publish_time，忽略秒以下精度。
func ParsePublishTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == `\N` {
		return time.Time{}, false
	}
	if len(s) > 19 {
		s = s[:19]
	}
	for _, layout := range publishTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
