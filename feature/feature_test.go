package feature

import (
	"context"
	"math"
	"reflect"
	"strconv"
	"testing"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/sparse"
)

func mustFrame(t *testing.T, cols ...*frame.Column) *frame.Frame {
	t.Helper()
	f, err := frame.New(cols...)
	if err != nil {
		t.Fatalf("frame.New() error = %v", err)
	}
	return f
}

func col(t *testing.T, f *frame.Frame, name string) *frame.Column {
	t.Helper()
	c, err := f.Col(name)
	if err != nil {
		t.Fatalf("column %s: %v", name, err)
	}
	return c
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSlice(t *testing.T) {
	tests := []struct {
		name      string
		op        Slice
		want      []string
		wantValid []bool
	}{
		{
			name:      "country",
			op:        Slice{Column: "geo_location", Output: "geo_location_country", End: 2},
			want:      []string{"US", "", "GB", "X"},
			wantValid: []bool{true, false, true, true},
		},
		{
			name:      "state",
			op:        Slice{Column: "geo_location", Output: "geo_location_state", End: 5},
			want:      []string{"US>CA", "", "GB", "X"},
			wantValid: []bool{true, false, true, true},
		},
		{
			name:      "tail",
			op:        Slice{Column: "geo_location", Output: "tail", Start: 3},
			want:      []string{"CA>807", "", "", ""},
			wantValid: []bool{true, false, true, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFrame(t, frame.NewStringColumn("geo_location",
				[]string{"US>CA>807", "", "GB", "X"}, []bool{true, false, true, true}))
			if err := tt.op.Transform(context.Background(), f); err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			c := col(t, f, tt.op.Output)
			if !reflect.DeepEqual(c.Str, tt.want) || !reflect.DeepEqual(c.Valid, tt.wantValid) {
				t.Errorf("got %q %v, want %q %v", c.Str, c.Valid, tt.want, tt.wantValid)
			}
		})
	}
}

func TestDateDelta(t *testing.T) {
	// 事件时间 = timestamp + offset；offset 取 2016-06-14 00:00:00 UTC 便于计算
	offset := int64(1465862400000)
	day := int64(millisPerDay)
	f := mustFrame(t,
		frame.NewStringColumn("publish_time", []string{
			"2016-06-04 00:00:00",   // 10 天前
			"2016-06-20 00:00:00",   // 晚于事件，负数置 0
			"1990-01-01 00:00:00",   // 超过 3650 天置 0
			"not a date",            // 无法解析
			"",                      // 空值
			"2016-06-13 12:00:00.0", // 带小数秒，半天前向下取整为 0
		}, []bool{true, true, true, true, false, true}),
		frame.NewIntColumn("timestamp", []int64{0, day, 0, 0, 0, 0}, nil),
	)
	op := &DateDelta{Column: "publish_time", TimestampColumn: "timestamp", OffsetMillis: offset, MaxDays: DefaultMaxDays}
	if err := op.Transform(context.Background(), f); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	c := col(t, f, "publish_time_days_since_published")
	wantValues := []float64{10, 0, 0, 0, 0, 0}
	wantValid := []bool{true, true, true, false, false, true}
	if !reflect.DeepEqual(c.Float, wantValues) || !reflect.DeepEqual(c.Valid, wantValid) {
		t.Errorf("got %v %v, want %v %v", c.Float, c.Valid, wantValues, wantValid)
	}

	bad := mustFrame(t, frame.NewIntColumn("publish_time", []int64{1}, nil), frame.NewIntColumn("timestamp", []int64{1}, nil))
	if err := op.Transform(context.Background(), bad); !core.IsInvalidInput(err) {
		t.Errorf("non-string publish_time error = %v, want INVALID_INPUT", err)
	}
}

func TestFillMedian(t *testing.T) {
	ctx := context.Background()
	train := mustFrame(t,
		frame.NewFloatColumn("a", []float64{1, 5, 3, 0}, []bool{true, true, true, false}),
		frame.NewIntColumn("b", []int64{0, 0, 0, 0}, []bool{false, false, false, false}),
	)
	op := &FillMedian{Columns: []string{"a", "b"}}
	if err := op.Fit(ctx, train); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if got := op.Medians(); got["a"] != 3 || got["b"] != 0 {
		t.Fatalf("Medians() = %v", got)
	}

	data, err := op.MarshalStats()
	if err != nil {
		t.Fatal(err)
	}
	loaded := &FillMedian{Columns: op.Columns}
	if err := loaded.UnmarshalStats(data); err != nil {
		t.Fatal(err)
	}
	valid := mustFrame(t,
		frame.NewFloatColumn("a", []float64{0, 7}, []bool{false, true}),
		frame.NewIntColumn("b", []int64{2, 0}, []bool{true, false}),
	)
	if err := loaded.Transform(ctx, valid); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if a := col(t, valid, "a"); !reflect.DeepEqual(a.Float, []float64{3, 7}) || a.Valid != nil {
		t.Errorf("a = %v valid=%v", a.Float, a.Valid)
	}
	if b := col(t, valid, "b"); b.Kind != frame.KindFloat || !reflect.DeepEqual(b.Float, []float64{2, 0}) {
		t.Errorf("b = %+v", b)
	}

	tests := []struct {
		name   string
		values []float64
		valid  []bool
		want   float64
	}{
		{"even count", []float64{4, 1, 3, 2}, nil, 2.5},
		{"even after nulls", []float64{10, 1, 99, 2}, []bool{true, true, false, true}, 2},
		{"odd count", []float64{7, 1, 3}, nil, 3},
		{"two values", []float64{1, 2}, nil, 1.5},
		{"single", []float64{5}, nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &FillMedian{Columns: []string{"a"}}
			f := mustFrame(t, frame.NewFloatColumn("a", tt.values, tt.valid))
			if err := op.Fit(ctx, f); err != nil {
				t.Fatal(err)
			}
			if got := op.Medians()["a"]; got != tt.want {
				t.Errorf("median of %v = %v, want %v", tt.values, got, tt.want)
			}
		})
	}

	unfitted := &FillMedian{Columns: []string{"a"}}
	if err := unfitted.Transform(ctx, valid); !core.IsInvalidInput(err) {
		t.Errorf("unfitted Transform() error = %v, want INVALID_INPUT", err)
	}
}

func TestCategorify(t *testing.T) {
	ctx := context.Background()
	// "a" x3, "b" x2, "c" x1, 空值 x1；阈值 2
	values := []string{"a", "b", "a", "c", "", "b", "a"}
	valid := []bool{true, true, true, true, false, true, true}
	train := mustFrame(t,
		frame.NewStringColumn("platform", values, valid),
		frame.NewIntColumn("ad_id", []int64{7, 7, 9, 9, 8, 8, 1}, nil),
	)
	op := &Categorify{Columns: []string{"platform", "ad_id"}, FreqThreshold: 2}
	if err := op.Fit(ctx, train); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if got := op.Vocab("platform"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("platform vocab = %v", got)
	}
	// 计数相同按值升序
	if got := op.Vocab("ad_id"); !reflect.DeepEqual(got, []string{"7", "8", "9"}) {
		t.Errorf("ad_id vocab = %v", got)
	}
	wantCard := map[string]int{"platform": 4, "ad_id": 5}
	if got := op.Cardinalities(); !reflect.DeepEqual(got, wantCard) {
		t.Errorf("Cardinalities() = %v, want %v", got, wantCard)
	}

	if err := op.Transform(ctx, train); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	p := col(t, train, "platform")
	if want := []int64{2, 3, 2, OOVIndex, NullIndex, 3, 2}; !reflect.DeepEqual(p.Int, want) {
		t.Errorf("platform codes = %v, want %v", p.Int, want)
	}
	if a := col(t, train, "ad_id"); !reflect.DeepEqual(a.Int, []int64{2, 2, 4, 4, 3, 3, OOVIndex}) {
		t.Errorf("ad_id codes = %v", a.Int)
	}

	data, _ := op.MarshalStats()
	loaded := &Categorify{Columns: op.Columns}
	if err := loaded.UnmarshalStats(data); err != nil {
		t.Fatal(err)
	}
	unseen := mustFrame(t,
		frame.NewStringColumn("platform", []string{"b", "zzz"}, nil),
		frame.NewIntColumn("ad_id", []int64{9, 100}, nil),
	)
	if err := loaded.Transform(ctx, unseen); err != nil {
		t.Fatal(err)
	}
	if p := col(t, unseen, "platform"); !reflect.DeepEqual(p.Int, []int64{3, OOVIndex}) {
		t.Errorf("loaded platform codes = %v", p.Int)
	}
}

func TestTargetEncode(t *testing.T) {
	ctx := context.Background()
	n := 200
	ads := make([]int64, n)
	clicked := make([]int64, n)
	for i := range ads {
		ads[i] = int64(i % 4)
		if ads[i] == 0 {
			clicked[i] = 1
		}
	}
	newTrain := func() *frame.Frame {
		return mustFrame(t,
			frame.NewIntColumn("ad_id", append([]int64(nil), ads...), nil),
			frame.NewIntColumn("clicked", append([]int64(nil), clicked...), nil),
		)
	}

	op := &TargetEncode{Columns: []string{"ad_id"}, Target: "clicked", KFold: DefaultKFold, PSmooth: DefaultPSmooth, Seed: 42}
	train := newTrain()
	if err := op.FitTransform(ctx, train); err != nil {
		t.Fatalf("FitTransform() error = %v", err)
	}
	if !almostEqual(op.Mean(), 0.25) {
		t.Fatalf("Mean() = %v, want 0.25", op.Mean())
	}

	// 全量统计：ad 0 有 50 次展示 50 次点击
	wantFull0 := (50 + 20*0.25) / (50 + 20)
	if got := op.Encode("ad_id", "0"); !almostEqual(got, wantFull0) {
		t.Errorf("Encode(0) = %v, want %v", got, wantFull0)
	}
	if got := op.Encode("ad_id", "unknown"); !almostEqual(got, 0.25) {
		t.Errorf("Encode(unknown) = %v, want global mean", got)
	}

	// out-of-fold：每行的编码排除本折内同值样本，因此与全量编码不同且仍偏高
	te := col(t, train, "TE_ad_id_clicked")
	oofDiffers := false
	for i, v := range te.Float {
		if ads[i] == 0 {
			if v <= 0.25 {
				t.Fatalf("row %d: out-of-fold encoding %v should stay above the mean", i, v)
			}
			if !almostEqual(v, wantFull0) {
				oofDiffers = true
			}
		}
	}
	if !oofDiffers {
		t.Error("training encodings equal the full statistics; expected out-of-fold values")
	}

	// 非训练集使用全量统计
	valid := mustFrame(t,
		frame.NewIntColumn("ad_id", []int64{0, 1, 99, 0}, []bool{true, true, true, false}),
		frame.NewIntColumn("clicked", []int64{0, 0, 0, 0}, nil),
	)
	if err := op.Transform(ctx, valid); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	got := col(t, valid, "TE_ad_id_clicked").Float
	want := []float64{wantFull0, (0 + 20*0.25) / (50 + 20), 0.25, 0.25}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("row %d: TE = %v, want %v", i, got[i], want[i])
		}
	}

	// 相同 seed 的折划分可复现
	again := &TargetEncode{Columns: []string{"ad_id"}, Target: "clicked", KFold: DefaultKFold, PSmooth: DefaultPSmooth, Seed: 42}
	train2 := newTrain()
	if err := again.FitTransform(ctx, train2); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(col(t, train2, "TE_ad_id_clicked").Float, te.Float) {
		t.Error("out-of-fold encodings differ between runs with the same seed")
	}

	data, _ := op.MarshalStats()
	loaded := &TargetEncode{Columns: []string{"ad_id"}, Target: "clicked", PSmooth: DefaultPSmooth}
	if err := loaded.UnmarshalStats(data); err != nil {
		t.Fatal(err)
	}
	if !almostEqual(loaded.Encode("ad_id", "0"), wantFull0) {
		t.Error("loaded stats do not reproduce the full encoding")
	}
}

func TestLogAndClip(t *testing.T) {
	ctx := context.Background()
	f := mustFrame(t, frame.NewFloatColumn("x", []float64{0, math.E - 1, -3, 0}, []bool{true, true, true, false}))
	if err := (&Log{Columns: []string{"x"}}).Transform(ctx, f); err != nil {
		t.Fatal(err)
	}
	x := col(t, f, "x")
	if !almostEqual(x.Float[0], 0) || !almostEqual(x.Float[1], 1) || x.Float[2] != 0 || !x.IsNull(3) {
		t.Errorf("log = %v valid=%v", x.Float, x.Valid)
	}

	lo, hi := 0.1, 0.5
	if err := (&Clip{Columns: []string{"x"}, Min: &lo, Max: &hi}).Transform(ctx, f); err != nil {
		t.Fatal(err)
	}
	x = col(t, f, "x")
	if x.Float[0] != 0.1 || x.Float[1] != 0.5 || !x.IsNull(3) {
		t.Errorf("clip = %v", x.Float)
	}

	s := mustFrame(t, frame.NewStringColumn("x", []string{"a"}, nil))
	if err := (&Log{Columns: []string{"x"}}).Transform(ctx, s); !core.IsInvalidInput(err) {
		t.Errorf("Log on string column error = %v, want INVALID_INPUT", err)
	}
}

func TestCosineSim(t *testing.T) {
	b := sparse.NewBuilder()
	b.Add(1, 0, 1)
	b.Add(1, 1, 1)
	b.Add(2, 0, 1)
	b.Add(2, 1, 1)
	b.Add(3, 2, 1)
	m := b.Build().TFIDF()

	op := &CosineSim{Left: "document_id", Right: "document_id_promo", Matrix: "topics", Output: "sim"}
	if err := op.BindMatrices(map[string]*sparse.Matrix{}); !core.IsNotFound(err) {
		t.Errorf("BindMatrices() without matrix error = %v, want NOT_FOUND", err)
	}
	f := mustFrame(t,
		frame.NewIntColumn("document_id", []int64{1, 1, 1, 5}, []bool{true, true, false, true}),
		frame.NewIntColumn("document_id_promo", []int64{2, 3, 2, 1}, nil),
	)
	if err := op.Transform(context.Background(), f); !core.IsInvalidInput(err) {
		t.Errorf("unbound Transform() error = %v, want INVALID_INPUT", err)
	}
	if err := op.BindMatrices(map[string]*sparse.Matrix{"topics": m}); err != nil {
		t.Fatal(err)
	}
	if err := op.Transform(context.Background(), f); err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	got := col(t, f, "sim").Float
	want := []float64{1, 0, 0, 0}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("row %d: sim = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLambda(t *testing.T) {
	ctx := context.Background()
	newFrame := func() *frame.Frame {
		return mustFrame(t,
			frame.NewStringColumn("geo_location", []string{"US>CA>807", "GB", ""}, []bool{true, true, false}),
			frame.NewIntColumn("timestamp", []int64{86400000 * 3, 5, 86400000}, nil),
		)
	}
	tests := []struct {
		name   string
		column string
		inputs []string
		expr   string
		kind   string
		check  func(t *testing.T, c *frame.Column)
	}{
		{
			name: "split first segment", column: "geo_location",
			expr: `value == null ? dyn(null) : value.split(">")[0]`, kind: "string",
			check: func(t *testing.T, c *frame.Column) {
				if c.Str[0] != "US" || c.Str[1] != "GB" || !c.IsNull(2) {
					t.Errorf("got %q valid=%v", c.Str, c.Valid)
				}
			},
		},
		{
			name: "day from row", inputs: []string{"timestamp"},
			expr: `row.timestamp / 86400000`, kind: "int",
			check: func(t *testing.T, c *frame.Column) {
				if !reflect.DeepEqual(c.Int, []int64{3, 0, 1}) {
					t.Errorf("got %v", c.Int)
				}
			},
		},
		{
			name: "boolean flag", column: "geo_location",
			expr: `value != null && value.startsWith("US")`, kind: "bool",
			check: func(t *testing.T, c *frame.Column) {
				if !reflect.DeepEqual(c.Int, []int64{1, 0, 0}) {
					t.Errorf("got %v", c.Int)
				}
			},
		},
		{
			name: "float result", inputs: []string{"timestamp"},
			expr: `double(row.timestamp) / 2.0`, kind: "float",
			check: func(t *testing.T, c *frame.Column) {
				if c.Float[1] != 2.5 {
					t.Errorf("got %v", c.Float)
				}
			},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := "out_" + strconv.Itoa(i)
			op, err := NewLambda(tt.column, out, tt.expr, tt.kind, tt.inputs)
			if err != nil {
				t.Fatalf("NewLambda() error = %v", err)
			}
			var _ pipeline.Op = op
			f := newFrame()
			if err := op.Transform(ctx, f); err != nil {
				t.Fatalf("Transform() error = %v", err)
			}
			tt.check(t, col(t, f, out))
		})
	}

	if _, err := NewLambda("x", "", "value +", "string", nil); !core.IsInvalidInput(err) {
		t.Errorf("bad expression error = %v, want INVALID_INPUT", err)
	}
	if _, err := NewLambda("x", "", "value", "decimal", nil); !core.IsInvalidInput(err) {
		t.Errorf("bad kind error = %v, want INVALID_INPUT", err)
	}
}

// 编译期检查各算子实现的接口
var (
	_ pipeline.StatefulOp     = (*FillMedian)(nil)
	_ pipeline.StatefulOp     = (*Categorify)(nil)
	_ pipeline.CategoricalOp  = (*Categorify)(nil)
	_ pipeline.StatefulOp     = (*TargetEncode)(nil)
	_ pipeline.FitTransformer = (*TargetEncode)(nil)
	_ pipeline.MatrixConsumer = (*CosineSim)(nil)
	_ pipeline.Op             = (*Slice)(nil)
	_ pipeline.Op             = (*DateDelta)(nil)
	_ pipeline.Op             = (*Log)(nil)
	_ pipeline.Op             = (*Clip)(nil)
)
