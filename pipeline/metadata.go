package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/core"
)

// MetadataKey 是元数据在输出目录中的文件名。
const MetadataKey = "schema.json"

// Metadata 描述预处理输出，对应 schema.json，训练阶段据此构造模型。
type Metadata struct {
	// Workflow 工作流名称
	Workflow string `json:"workflow"`
	// RunID 预处理任务 ID
	RunID string `json:"run_id"`
	// Label 标签列
	Label string `json:"label"`
	// Group 分组列（验证时按 display_id 计算 MAP@12）
	Group string `json:"group"`
	// Categorical 分类列（按顺序）
	Categorical []string `json:"categorical"`
	// Continuous 连续列（按顺序）
	Continuous []string `json:"continuous"`
	// Cardinalities 分类列基数（含 null 与 OOV 两个保留值）
	Cardinalities map[string]int `json:"cardinalities"`
	// EmbeddingSizes 由基数推导的 embedding 维度
	EmbeddingSizes map[string]int `json:"embedding_sizes,omitempty"`
	TrainRows      int64          `json:"train_rows"`
	ValidRows      int64          `json:"valid_rows"`
	CreatedAt      string         `json:"created_at"`
}

// NewMetadata 根据已拟合的工作流生成元数据。
func (w *Workflow) NewMetadata(runID string) *Metadata {
	return &Metadata{
		Workflow:      w.Name,
		RunID:         runID,
		Label:         w.Columns.Label,
		Group:         w.Columns.Group,
		Categorical:   append([]string(nil), w.Columns.Categorical...),
		Continuous:    append([]string(nil), w.Columns.Continuous...),
		Cardinalities: w.Cardinalities(),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// Validate 检查每个分类列都有基数。
func (m *Metadata) Validate() error {
	for _, c := range m.Categorical {
		if m.Cardinalities[c] <= 0 {
			return core.NewDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput,
				fmt.Sprintf("metadata: categorical column %q has no cardinality", c))
		}
	}
	return nil
}

// SaveMetadata 写入 schema.json。
func SaveMetadata(ctx context.Context, s core.Store, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.Set(ctx, MetadataKey, data)
}

// LoadMetadata 读取并校验 schema.json。
func LoadMetadata(ctx context.Context, s core.Store) (*Metadata, error) {
	data, err := s.Get(ctx, MetadataKey)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.WrapDomainError(core.ModulePipeline, core.ErrorCodeInvalidInput, "decode metadata", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
