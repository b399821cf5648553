package config

import (
	_ "embed"
	"fmt"

	"github.com/rushteam/ctrkit/pipeline"
)

// DefaultWorkflowYAML 是内置的 Outbrain 特征工作流。
//
//go:embed workflow.yaml
var DefaultWorkflowYAML []byte

// LoadWorkflowConfig 读取工作流配置；path 为空时使用内置配置。
func LoadWorkflowConfig(path string) (*pipeline.Config, error) {
	if path == "" {
		return pipeline.ParseYAML(DefaultWorkflowYAML)
	}
	return pipeline.Load(path)
}

// BuildWorkflow 读取、校验并构建工作流。
func BuildWorkflow(path string) (*pipeline.Workflow, error) {
	cfg, err := LoadWorkflowConfig(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkflowConfig(cfg); err != nil {
		return nil, fmt.Errorf("workflow config: %w", err)
	}
	return cfg.Build(DefaultFactory())
}
