package job

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/ingest"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/store"
)

const msPerDay = 86400000

// writeInputs 生成七表 CSV：每个 display 三个广告，第一个广告的 id 为偶数时点击。
func writeInputs(t *testing.T, displays int) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]string{
		"clicks_train.csv":         {"display_id,ad_id,clicked"},
		"events.csv":               {"display_id,uuid,document_id,timestamp,platform,geo_location"},
		"promoted_content.csv":     {"ad_id,document_id,campaign_id,advertiser_id"},
		"documents_meta.csv":       {"document_id,source_id,publisher_id,publish_time"},
		"documents_categories.csv": {"document_id,category_id,confidence_level"},
		"documents_topics.csv":     {"document_id,topic_id,confidence_level"},
		"documents_entities.csv":   {"document_id,entity_id,confidence_level"},
	}
	add := func(name, format string, args ...any) {
		files[name] = append(files[name], fmt.Sprintf(format, args...))
	}

	for d := 1; d <= displays; d++ {
		add("events.csv", "%d,u%d,%d,%d,%d,US>CA>807", d, d%50, 100+d%4, (d%14)*msPerDay+5000, d%3+1)
		for k := 0; k < 3; k++ {
			ad := (d*3 + k) % 40
			clicked := 0
			if ad%2 == 0 && k == 0 {
				clicked = 1
			}
			add("clicks_train.csv", "%d,%d,%d", d, ad, clicked)
		}
	}
	for ad := 0; ad < 40; ad++ {
		add("promoted_content.csv", "%d,%d,%d,%d", ad, 200+ad%4, ad%10, ad%5)
	}
	for doc := 100; doc < 104; doc++ {
		add("documents_meta.csv", "%d,%d,%d,2016-06-01 00:00:00.0", doc, doc%2, doc%3)
		add("documents_categories.csv", "%d,%d,0.9", doc, doc%3)
		add("documents_topics.csv", "%d,%d,0.5", doc, doc%2)
		add("documents_entities.csv", "%d,e%d,0.4", doc, doc%2)
	}
	for doc := 200; doc < 204; doc++ {
		add("documents_meta.csv", "%d,%d,%d,2016-05-%02d 00:00:00.0", doc, 10+doc%2, 20, doc-190)
		add("documents_categories.csv", "%d,%d,0.8", doc, doc%3)
		add("documents_topics.csv", "%d,%d,0.5", doc, doc%2)
	}

	for name, lines := range files {
		data := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testSettings(t *testing.T, displays int) *config.Settings {
	t.Helper()
	s := config.DefaultSettings()
	root := t.TempDir()
	s.Paths.InputDir = writeInputs(t, displays)
	s.Paths.OutputDir = filepath.Join(root, "output")
	s.Paths.StatsDir = filepath.Join(root, "stats")
	s.Paths.ModelDir = filepath.Join(root, "model")
	s.DuckDB.Threads = 2
	s.Workflow.OutFiles = 2
	s.Model.HiddenUnits = []int{8}
	s.Model.DeepLR = 0.01
	s.Model.EmbeddingMax = 16
	s.Train.BatchSize = 64
	s.Train.ShuffleBuffer = 256
	s.Train.Epochs = 2
	s.Train.LogEvery = 0
	return s
}

func TestPreprocess(t *testing.T) {
	ctx := context.Background()
	const displays = 300
	s := testSettings(t, displays)
	r := NewRunner(s)

	meta, err := r.Preprocess(ctx)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	if meta.RunID != r.RunID {
		t.Errorf("RunID = %q, want %q", meta.RunID, r.RunID)
	}
	if got := meta.TrainRows + meta.ValidRows; got != 3*displays {
		t.Errorf("train+valid = %d, want %d", got, 3*displays)
	}
	if meta.TrainRows == 0 || meta.ValidRows == 0 {
		t.Errorf("empty split: train=%d valid=%d", meta.TrainRows, meta.ValidRows)
	}
	for _, c := range meta.Categorical {
		if meta.EmbeddingSizes[c] != model.EmbeddingSize(meta.Cardinalities[c], s.Model.EmbeddingMin, s.Model.EmbeddingMax) {
			t.Errorf("embedding size of %s = %d", c, meta.EmbeddingSizes[c])
		}
	}

	db, err := ingest.Open(ctx, ingest.Options{Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	counts := map[string]int64{
		DirTrainRaw: meta.TrainRows, DirValidRaw: meta.ValidRows,
		DirTrain: meta.TrainRows, DirValid: meta.ValidRows,
	}
	for dir, want := range counts {
		n, err := db.CountRows(ctx, "SELECT * FROM "+ingest.ParquetDirRelation(filepath.Join(s.Paths.OutputDir, dir)))
		if err != nil {
			t.Fatalf("count %s: %v", dir, err)
		}
		if n != want {
			t.Errorf("%s rows = %d, want %d", dir, n, want)
		}
	}

	// 统计量可以恢复到一个新的工作流中
	w, err := config.BuildWorkflow("")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.LoadStats(ctx, store.NewFileStore(s.Paths.StatsDir)); err != nil {
		t.Errorf("LoadStats() error = %v", err)
	}
	loaded, err := pipeline.LoadMetadata(ctx, store.NewFileStore(s.Paths.StatsDir))
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	if loaded.TrainRows != meta.TrainRows || len(loaded.Continuous) != len(meta.Continuous) {
		t.Errorf("LoadMetadata() = %+v", loaded)
	}
}

func TestTrain(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t, 300)
	r := NewRunner(s)

	if _, err := r.Train(ctx); !core.IsStoreNotFound(err) {
		t.Fatalf("Train() before preprocess error = %v, want NOT_FOUND", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	m, err := model.Load(ctx, store.NewFileStore(s.Paths.ModelDir))
	if err != nil {
		t.Fatalf("model.Load() error = %v", err)
	}
	first := m.Steps()
	if first == 0 {
		t.Fatal("no training steps recorded")
	}

	// 第二次训练从 checkpoint 继续
	res, err := r.Train(ctx)
	if err != nil {
		t.Fatalf("Train() resume error = %v", err)
	}
	if res.Steps != 2*first {
		t.Errorf("resumed steps = %d, want %d", res.Steps, 2*first)
	}
	if res.Valid == nil || res.Valid.Rows == 0 {
		t.Errorf("Valid = %+v", res.Valid)
	}

	// 优化器参数的修改在恢复时生效，隐藏层不同则拒绝
	s.Train.Epochs = 1
	s.Model.DeepLR = 0.005
	s.Model.WideL1 = 0.1
	if _, err := r.Train(ctx); err != nil {
		t.Fatalf("Train() with new lr error = %v", err)
	}
	m, err = model.Load(ctx, store.NewFileStore(s.Paths.ModelDir))
	if err != nil {
		t.Fatal(err)
	}
	if m.Config.DeepLR != 0.005 || m.Config.WideL1 != 0.1 {
		t.Errorf("checkpoint config = %+v", m.Config)
	}
	s.Model.HiddenUnits = []int{4, 4}
	if _, err := r.Train(ctx); !core.IsInvalidInput(err) {
		t.Errorf("Train() with new hidden units error = %v, want INVALID_INPUT", err)
	}
}

func TestSameColumns(t *testing.T) {
	base := model.Spec{
		Categorical: []model.CatSpec{{Name: "ad_id", Cardinality: 10, Dim: 16}},
		Continuous:  []string{"x"},
	}
	tests := []struct {
		name    string
		mutate  func(s *model.Spec)
		wantErr bool
	}{
		{"identical", func(*model.Spec) {}, false},
		{"dim differs", func(s *model.Spec) { s.Categorical[0].Dim = 32 }, false},
		{"cardinality differs", func(s *model.Spec) { s.Categorical[0].Cardinality = 11 }, true},
		{"renamed", func(s *model.Spec) { s.Continuous[0] = "y" }, true},
		{"extra column", func(s *model.Spec) { s.Continuous = append(s.Continuous, "y") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.Spec{
				Categorical: append([]model.CatSpec(nil), base.Categorical...),
				Continuous:  append([]string(nil), base.Continuous...),
			}
			tt.mutate(&got)
			err := sameColumns(got, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("sameColumns() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !core.IsInvalidInput(err) {
				t.Errorf("error code = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestExportTo(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t, 200)
	s.Redis.TTLSeconds = 60
	r := NewRunner(s)

	dst := store.NewMemoryStore()
	defer dst.Close()
	if _, err := r.ExportTo(ctx, dst); err == nil {
		t.Fatal("ExportTo() without stats should fail")
	}
	if _, err := r.Preprocess(ctx); err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	n, err := r.ExportTo(ctx, dst)
	if err != nil {
		t.Fatalf("ExportTo() error = %v", err)
	}
	if n != dst.Len() {
		t.Errorf("exported %d keys, store has %d", n, dst.Len())
	}

	src := store.NewFileStore(s.Paths.StatsDir)
	keys, err := src.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if n != len(keys) {
		t.Errorf("exported %d keys, stats dir has %d (%v)", n, len(keys), keys)
	}
	for _, k := range keys {
		want, _ := src.Get(ctx, k)
		got, err := dst.Get(ctx, k)
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("key %s not exported: %v", k, err)
		}
	}
}

// TestExport 需要真实的 Redis，通过 REDIS_ADDR 指定。
func TestExport(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("需要设置 REDIS_ADDR 才能运行")
	}
	ctx := context.Background()
	s := testSettings(t, 100)
	s.Redis.Addr = addr
	s.Redis.Prefix = "ctrkit-test:"
	s.Redis.TTLSeconds = 60
	r := NewRunner(s)
	if _, err := r.Preprocess(ctx); err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	n, err := r.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n < 2 {
		t.Errorf("Export() = %d keys", n)
	}
}
