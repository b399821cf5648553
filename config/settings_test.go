package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pipeline"
)

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"INPUT_DATA_DIR", "paths.input_dir"},
		{"OUTPUT_DATA_DIR", "paths.output_dir"},
		{"LOG_LEVEL", "logging.level"},
		{"CTRKIT_TRAIN_BATCH_SIZE", "train.batch_size"},
		{"CTRKIT_MODEL_HIDDEN_UNITS", "model.hidden_units"},
		{"CTRKIT_UNKNOWN_KEY", ""},
		{"CTRKIT_TRAIN_", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := envTransformFunc(tt.key); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctrkit.yaml")
	content := `
paths:
  input_dir: /data/in
split:
  valid_fraction: 0.1
train:
  epochs: 3
model:
  hidden_units: [64, 32]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTPUT_DATA_DIR", "/data/out")
	t.Setenv("CTRKIT_TRAIN_BATCH_SIZE", "256")
	t.Setenv("CTRKIT_MODEL_DROPOUT", "0.25")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Paths.InputDir != "/data/in" || s.Paths.OutputDir != "/data/out" {
		t.Errorf("paths = %+v", s.Paths)
	}
	if s.Split.ValidFraction != 0.1 || s.Split.ValidDayCutoff != 11 || s.Split.Seed != 1234 {
		t.Errorf("split = %+v", s.Split)
	}
	if s.Train.Epochs != 3 || s.Train.BatchSize != 256 {
		t.Errorf("train = %+v", s.Train)
	}
	if !reflect.DeepEqual(s.Model.HiddenUnits, []int{64, 32}) || s.Model.Dropout != 0.25 {
		t.Errorf("model = %+v", s.Model)
	}
	if s.Logging.Level != "info" {
		t.Errorf("logging level = %q", s.Logging.Level)
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"fraction out of range", func(s *Settings) { s.Split.ValidFraction = 1 }},
		{"no out files", func(s *Settings) { s.Workflow.OutFiles = 0 }},
		{"embedding bounds", func(s *Settings) { s.Model.EmbeddingMax = 8 }},
		{"zero hidden unit", func(s *Settings) { s.Model.HiddenUnits = []int{8, 0} }},
		{"empty paths", func(s *Settings) { s.Paths.StatsDir = "" }},
		{"batch size", func(s *Settings) { s.Train.BatchSize = 0 }},
	}
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadWorkflowConfig(t *testing.T) {
	cfg, err := LoadWorkflowConfig("")
	if err != nil {
		t.Fatalf("LoadWorkflowConfig() error = %v", err)
	}
	wc := cfg.Workflow
	if wc.Name != "outbrain" || wc.Label != "clicked" || wc.Group != "display_id" {
		t.Errorf("workflow header = %+v", wc)
	}
	if len(wc.Categorical) != 13 || len(wc.Continuous) != 9 || len(wc.Ops) != 11 {
		t.Errorf("categorical=%d continuous=%d ops=%d", len(wc.Categorical), len(wc.Continuous), len(wc.Ops))
	}
	// config 包自身的测试不会注册内置算子
	if err := ValidateWorkflowConfig(cfg); !core.IsNotSupported(err) {
		t.Errorf("ValidateWorkflowConfig() error = %v, want NOT_SUPPORTED", err)
	}
}

func TestValidateWorkflowConfig(t *testing.T) {
	Register("test.noop", func(map[string]any) (pipeline.Op, error) { return nil, nil })

	valid := func() *pipeline.Config {
		return &pipeline.Config{Workflow: pipeline.WorkflowConfig{
			Name: "t",
			Columns: pipeline.Columns{
				Label: "clicked", Group: "display_id",
				Categorical: []string{"ad_id"}, Continuous: []string{"x"},
			},
			Ops: []pipeline.OpConfig{{Type: "test.noop"}},
		}}
	}
	tests := []struct {
		name   string
		mutate func(c *pipeline.Config)
		check  func(error) bool
	}{
		{"valid", func(*pipeline.Config) {}, func(err error) bool { return err == nil }},
		{"no label", func(c *pipeline.Config) { c.Workflow.Label = "" }, core.IsInvalidInput},
		{"no columns", func(c *pipeline.Config) {
			c.Workflow.Categorical, c.Workflow.Continuous = nil, nil
		}, core.IsInvalidInput},
		{"duplicate column", func(c *pipeline.Config) {
			c.Workflow.Continuous = append(c.Workflow.Continuous, "ad_id")
		}, core.IsInvalidInput},
		{"label reused", func(c *pipeline.Config) { c.Workflow.Group = "clicked" }, core.IsInvalidInput},
		{"missing type", func(c *pipeline.Config) {
			c.Workflow.Ops = append(c.Workflow.Ops, pipeline.OpConfig{})
		}, core.IsNotSupported},
		{"unknown type", func(c *pipeline.Config) { c.Workflow.Ops[0].Type = "feature.nope" }, core.IsNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := ValidateWorkflowConfig(cfg); !tt.check(err) {
				t.Errorf("ValidateWorkflowConfig() error = %v", err)
			}
		})
	}
	if err := ValidateWorkflowConfig(nil); !core.IsInvalidInput(err) {
		t.Errorf("ValidateWorkflowConfig(nil) error = %v", err)
	}
}
