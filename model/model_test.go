package model

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/store"
)

func TestEmbeddingSize(t *testing.T) {
	tests := []struct {
		card int
		want int
	}{
		{2, 16},
		{100, 21},
		{1000, 77},
		{5000, 189},
		{1000000, 512},
	}
	for _, tt := range tests {
		if got := EmbeddingSize(tt.card, DefaultEmbeddingMin, DefaultEmbeddingMax); got != tt.want {
			t.Errorf("EmbeddingSize(%d) = %d, want %d", tt.card, got, tt.want)
		}
	}
	if got := EmbeddingSize(1000, 4, 8); got != 8 {
		t.Errorf("clamped size = %d, want 8", got)
	}
}

func TestSpecFromMetadata(t *testing.T) {
	meta := &pipeline.Metadata{
		Categorical:    []string{"ad_id", "platform"},
		Continuous:     []string{"TE_ad_id_clicked"},
		Cardinalities:  map[string]int{"ad_id": 1000, "platform": 5},
		EmbeddingSizes: map[string]int{"platform": 3},
	}
	spec, err := SpecFromMetadata(meta, DefaultEmbeddingMin, DefaultEmbeddingMax)
	if err != nil {
		t.Fatalf("SpecFromMetadata() error = %v", err)
	}
	if spec.Categorical[0] != (CatSpec{Name: "ad_id", Cardinality: 1000, Dim: 77}) {
		t.Errorf("ad_id spec = %+v", spec.Categorical[0])
	}
	if spec.Categorical[1].Dim != 3 {
		t.Errorf("platform dim = %d, want explicit 3", spec.Categorical[1].Dim)
	}
	if got := spec.InputDim(); got != 77+3+1 {
		t.Errorf("InputDim() = %d", got)
	}
	if got := spec.EmbeddingSizes(); got["ad_id"] != 77 || got["platform"] != 3 {
		t.Errorf("EmbeddingSizes() = %v", got)
	}

	delete(meta.Cardinalities, "platform")
	if _, err := SpecFromMetadata(meta, 16, 512); !core.IsInvalidInput(err) {
		t.Errorf("missing cardinality error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	spec := toySpec()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dropout", func(c *Config) { c.Dropout = 1 }},
		{"lr", func(c *Config) { c.DeepLR = 0 }},
		{"alpha", func(c *Config) { c.WideAlpha = -1 }},
		{"l1", func(c *Config) { c.WideL1 = -0.1 }},
		{"hidden", func(c *Config) { c.HiddenUnits = []int{4, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := toyConfig()
			tt.mutate(&cfg)
			if _, err := NewWideDeepModel(spec, cfg); !core.IsInvalidInput(err) {
				t.Errorf("NewWideDeepModel() error = %v, want INVALID_INPUT", err)
			}
		})
	}
	if _, err := NewWideDeepModel(Spec{}, toyConfig()); !core.IsInvalidInput(err) {
		t.Errorf("empty spec error = %v", err)
	}
}

func toySpec() Spec {
	return Spec{
		Categorical: []CatSpec{{Name: "a", Cardinality: 8, Dim: 4}, {Name: "b", Cardinality: 5, Dim: 3}},
		Continuous:  []string{"x", "y"},
	}
}

func toyConfig() Config {
	cfg := DefaultConfig()
	cfg.HiddenUnits = []int{16, 8}
	cfg.DeepLR = 0.01
	cfg.WideAlpha = 0.5
	cfg.Dropout = 0.1
	cfg.Seed = 7
	return cfg
}

// toyBatches 生成线性可分数据：a >= 5 贡献 +2，x 贡献 3*(x-0.5)，得分 > 0 为正例。
func toyBatches(rows, size int, seed uint64) []*Batch {
	rng := rand.New(rand.NewPCG(seed, 1))
	var out []*Batch
	b := &Batch{}
	for i := 0; i < rows; i++ {
		a := int32(2 + rng.IntN(6))
		c := int32(2 + rng.IntN(3))
		x, y := rng.Float64(), rng.Float64()
		score := 3 * (x - 0.5)
		if a >= 5 {
			score += 2
		} else {
			score -= 1
		}
		label := 0.0
		if score > 0 {
			label = 1
		}
		b.Append([]int32{a, c}, []float64{x, y}, label, int64(i/6))
		if b.Len() == size {
			out = append(out, b)
			b = &Batch{}
		}
	}
	if b.Len() > 0 {
		out = append(out, b)
	}
	return out
}

// pairAUC 是 O(n^2) 的参考 AUC，平局计 0.5。
func pairAUC(scores, labels []float64) float64 {
	var num, den float64
	for i := range scores {
		if labels[i] != 1 {
			continue
		}
		for j := range scores {
			if labels[j] != 0 {
				continue
			}
			den++
			switch {
			case scores[i] > scores[j]:
				num++
			case scores[i] == scores[j]:
				num += 0.5
			}
		}
	}
	return num / den
}

func TestWideDeep_LearnsSeparable(t *testing.T) {
	m, err := NewWideDeepModel(toySpec(), toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	train := toyBatches(1500, 50, 1)
	valid := toyBatches(600, 600, 2)[0]

	epochLoss := func() float64 {
		var sum float64
		for _, b := range train {
			loss, err := m.TrainStep(b)
			if err != nil {
				t.Fatalf("TrainStep() error = %v", err)
			}
			sum += loss
		}
		return sum / float64(len(train))
	}
	first := epochLoss()
	var last float64
	for epoch := 0; epoch < 7; epoch++ {
		last = epochLoss()
	}
	if last >= first {
		t.Errorf("loss did not decrease: first epoch %.4f, last %.4f", first, last)
	}
	if m.Steps() != int64(8*len(train)) {
		t.Errorf("Steps() = %d", m.Steps())
	}

	probs, err := m.PredictBatch(valid)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range probs {
		if p <= 0 || p >= 1 || math.IsNaN(p) {
			t.Fatalf("probability %v out of (0,1)", p)
		}
	}
	if auc := pairAUC(probs, valid.Label); auc <= 0.9 {
		t.Errorf("validation AUC = %.4f, want > 0.9", auc)
	}

	p, err := m.Predict(valid.Cat[0], valid.Cont[0])
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p-probs[0]) > 1e-12 {
		t.Errorf("Predict() = %v, PredictBatch()[0] = %v", p, probs[0])
	}
	var _ RankModel = m
}

func TestWideDeep_Prepare(t *testing.T) {
	m, err := NewWideDeepModel(toySpec(), toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	bad := []*Batch{
		{Cat: [][]int32{{2}}, Cont: [][]float64{{0, 0}}, Label: []float64{1}},
		{Cat: [][]int32{{2, 2}}, Cont: [][]float64{{0}}, Label: []float64{1}},
		{Cat: [][]int32{{2, 2}}, Cont: nil, Label: []float64{1}},
	}
	for i, b := range bad {
		if _, err := m.TrainStep(b); !core.IsInvalidInput(err) {
			t.Errorf("batch %d: TrainStep() error = %v, want INVALID_INPUT", i, err)
		}
	}

	// 越界编码按 OOV 处理，且不改写调用方的批次
	b := &Batch{Cat: [][]int32{{99, -3}}, Cont: [][]float64{{0.5, 0.5}}, Label: []float64{0}}
	got, err := m.PredictBatch(b)
	if err != nil {
		t.Fatalf("PredictBatch() error = %v", err)
	}
	want, _ := m.Predict([]int32{1, 1}, []float64{0.5, 0.5})
	if math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("out-of-range prediction %v, want OOV prediction %v", got[0], want)
	}
	if b.Cat[0][0] != 99 || b.Cat[0][1] != -3 {
		t.Errorf("batch was modified: %v", b.Cat[0])
	}

	if loss, err := m.TrainStep(&Batch{}); err != nil || loss != 0 {
		t.Errorf("empty batch: loss=%v err=%v", loss, err)
	}
}

func TestLRModel_L1Sparsity(t *testing.T) {
	cfg := toyConfig()
	cfg.WideL1 = 1e6
	m, err := NewWideDeepModel(toySpec(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range toyBatches(300, 50, 3) {
		if _, err := m.TrainStep(b); err != nil {
			t.Fatal(err)
		}
	}
	if n := m.Wide.NonZero(); n != 0 {
		t.Errorf("NonZero() = %d with huge L1, want 0", n)
	}

	cfg.WideL1 = 0
	m, _ = NewWideDeepModel(toySpec(), cfg)
	for _, b := range toyBatches(300, 50, 3) {
		_, _ = m.TrainStep(b)
	}
	if m.Wide.NonZero() == 0 {
		t.Error("NonZero() = 0 without L1")
	}
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()

	if _, err := Load(ctx, s); !core.IsNotFound(err) {
		t.Errorf("Load(empty) error = %v, want NOT_FOUND", err)
	}

	m, err := NewWideDeepModel(toySpec(), toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range toyBatches(200, 50, 4) {
		if _, err := m.TrainStep(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(ctx, s)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Steps() != m.Steps() {
		t.Errorf("steps = %d, want %d", loaded.Steps(), m.Steps())
	}

	valid := toyBatches(100, 100, 5)[0]
	want, _ := m.PredictBatch(valid)
	got, err := loaded.PredictBatch(valid)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("row %d: loaded prediction %v, want %v", i, got[i], want[i])
		}
	}

	// 加载后可以继续训练
	if _, err := loaded.TrainStep(valid); err != nil {
		t.Errorf("TrainStep() after Load error = %v", err)
	}

	tests := map[string][]byte{
		"not json":    []byte("{"),
		"bad version": []byte(`{"version": 9}`),
		"no wide": []byte(`{"version":1,"spec":{"categorical":[{"name":"a","cardinality":2,"dim":2}]},` +
			`"config":{"hidden_units":[2],"deep_lr":0.1,"wide_alpha":0.1}}`),
	}
	for name, data := range tests {
		if _, err := Unmarshal(data); !core.IsInvalidInput(err) {
			t.Errorf("%s: Unmarshal() error = %v, want INVALID_INPUT", name, err)
		}
	}
}

func TestReconfigure(t *testing.T) {
	m, err := NewWideDeepModel(toySpec(), toyConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := toyConfig()
	cfg.DeepLR = 0.002
	cfg.WideAlpha = 0.1
	cfg.WideL1 = 0.5
	cfg.Dropout = 0
	cfg.Seed = 99
	if err := m.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if m.Deep.opt.LR != 0.002 || m.Deep.dropout != 0 {
		t.Errorf("deep lr=%v dropout=%v", m.Deep.opt.LR, m.Deep.dropout)
	}
	if m.Wide.opt.Alpha != 0.1 || m.Wide.opt.L1 != 0.5 {
		t.Errorf("wide opt = %+v", m.Wide.opt)
	}
	if m.Config.Seed != toyConfig().Seed {
		t.Errorf("seed changed to %d", m.Config.Seed)
	}
	if _, err := m.TrainStep(toyBatches(50, 50, 1)[0]); err != nil {
		t.Errorf("TrainStep() after Reconfigure error = %v", err)
	}

	for name, mutate := range map[string]func(c *Config){
		"hidden units": func(c *Config) { c.HiddenUnits = []int{32} },
		"bad lr":       func(c *Config) { c.DeepLR = 0 },
	} {
		c := toyConfig()
		mutate(&c)
		if err := m.Reconfigure(c); !core.IsInvalidInput(err) {
			t.Errorf("%s: Reconfigure() error = %v, want INVALID_INPUT", name, err)
		}
	}
	if m.Deep.opt.LR != 0.002 {
		t.Errorf("rejected Reconfigure changed lr to %v", m.Deep.opt.LR)
	}
}
