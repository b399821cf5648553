package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/ctrkit/core"
)

// Config 是 Workflow 的配置结构（支持 YAML/JSON）。
type Config struct {
	Workflow WorkflowConfig `yaml:"workflow" json:"workflow"`
}

// WorkflowConfig 描述输出列与按顺序执行的算子。
type WorkflowConfig struct {
	Name    string `yaml:"name" json:"name"`
	Columns `yaml:",inline" json:",inline"`
	Ops     []OpConfig `yaml:"ops" json:"ops"`
}

// OpConfig 是单个算子的配置。
type OpConfig struct {
	Type   string         `yaml:"type" json:"type"`     // feature.categorify / feature.target_encode 等
	Config map[string]any `yaml:"config" json:"config"` // 算子特定配置
}

// OpBuilder 根据 config 构建算子。
type OpBuilder func(config map[string]any) (Op, error)

// LoadFromYAML 从 YAML 文件加载 Workflow 配置。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseYAML(data)
}

// LoadFromJSON 从 JSON 文件加载 Workflow 配置。
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &cfg, nil
}

// Load 按扩展名选择 YAML 或 JSON。
func Load(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadFromJSON(path)
	}
	return LoadFromYAML(path)
}

// ParseYAML 解析内存中的 YAML 配置（内置配置使用）。
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

// Build 根据配置构建 Workflow（需要 OpFactory 注册算子构建器）。
// 注意：factory 应该在独立的 config 包中，避免循环依赖。
func (c *Config) Build(factory *OpFactory) (*Workflow, error) {
	wc := c.Workflow
	if wc.Name == "" {
		wc.Name = "default"
	}
	if len(wc.Categorical)+len(wc.Continuous) == 0 {
		return nil, core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput,
			"workflow has no categorical or continuous output columns")
	}
	seen := make(map[string]bool)
	for _, name := range wc.Columns.Names() {
		if seen[name] {
			return nil, core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput,
				fmt.Sprintf("output column %q listed twice", name))
		}
		seen[name] = true
	}

	ops := make([]Op, 0, len(wc.Ops))
	for i, oc := range wc.Ops {
		op, err := factory.Build(oc.Type, oc.Config)
		if err != nil {
			return nil, fmt.Errorf("build op %d (%s): %w", i, oc.Type, err)
		}
		ops = append(ops, op)
	}
	return &Workflow{Name: wc.Name, Ops: ops, Columns: wc.Columns}, nil
}

// OpFactory 用于根据配置构建算子实例。
type OpFactory struct {
	builders map[string]OpBuilder
}

func NewOpFactory() *OpFactory {
	return &OpFactory{builders: make(map[string]OpBuilder)}
}

// Register 注册算子构建器。
func (f *OpFactory) Register(opType string, builder OpBuilder) {
	f.builders[opType] = builder
}

// Build 根据类型和配置构建算子。
func (f *OpFactory) Build(opType string, config map[string]any) (Op, error) {
	builder, ok := f.builders[opType]
	if !ok {
		return nil, core.NewDomainError(core.ModulePipeline, core.ErrorCodeNotSupported,
			fmt.Sprintf("unknown op type: %s", opType))
	}
	if config == nil {
		config = map[string]any{}
	}
	return builder(config)
}
