package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pipeline"
)

// 内置算子在 config/builders 的 init 中注册，入口处需要
// import _ "github.com/rushteam/ctrkit/config/builders"。

// OpBuilder 与 pipeline.OpBuilder 一致。
type OpBuilder = pipeline.OpBuilder

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OpBuilder)
)

// Register 注册一种算子，例如 config.Register("feature.log", BuildLogOp)。
// 同名注册覆盖之前的 builder。
func Register(typeName string, builder OpBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	registryMu.Lock()
	registry[typeName] = builder
	registryMu.Unlock()
}

// SupportedTypes 返回已注册的算子类型（排序）。
func SupportedTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

func registered(typeName string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[typeName]
	return ok
}

// DefaultFactory 用当前注册表构建 OpFactory。
func DefaultFactory() *pipeline.OpFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f := pipeline.NewOpFactory()
	for typeName, builder := range registry {
		f.Register(typeName, builder)
	}
	return f
}

// ValidateWorkflowConfig 在构建前检查工作流配置：
//   - label 必填，分类列与连续列至少有一个
//   - 输出列不能重复（包括与 label/group 重复）
//   - 每个算子类型都已注册
func ValidateWorkflowConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return invalidConfig("empty workflow config")
	}
	wc := cfg.Workflow
	if wc.Label == "" {
		return invalidConfig("label is required")
	}
	if len(wc.Categorical)+len(wc.Continuous) == 0 {
		return invalidConfig("no categorical or continuous columns")
	}
	seen := make(map[string]bool)
	for _, c := range wc.Columns.Names() {
		if seen[c] {
			return invalidConfig(fmt.Sprintf("column %q listed twice", c))
		}
		seen[c] = true
	}

	var unknown []string
	for i, oc := range wc.Ops {
		switch {
		case oc.Type == "":
			unknown = append(unknown, fmt.Sprintf("op %d: missing type", i))
		case !registered(oc.Type):
			unknown = append(unknown, fmt.Sprintf("op %d: unsupported type %q", i, oc.Type))
		}
	}
	if len(unknown) > 0 {
		return core.NewDomainError(core.ModulePipeline, core.ErrorCodeNotSupported,
			fmt.Sprintf("%s (supported: %v)", strings.Join(unknown, "; "), SupportedTypes()))
	}
	return nil
}

func invalidConfig(msg string) error {
	return core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput, "workflow config: "+msg)
}
