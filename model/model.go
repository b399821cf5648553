// Package model 实现点击率预估使用的 Wide&Deep 模型及其训练。
//
// 输入是预处理输出的一行：分类列（Categorify 后的 int 编码）与连续列（float）。
// Wide 部分是每个分类值一个权重的线性模型，用 FTRL-Proximal 训练；
// Deep 部分是 embedding + 全连接 ReLU 网络，用 Adam 训练（embedding 行稀疏更新）。
// 两部分的 logit 相加后过 sigmoid，损失为二元交叉熵。
package model

import (
	"fmt"

	"github.com/rushteam/ctrkit/core"
)

// RankModel 是排序阶段的最小抽象：输入一行特征，输出点击概率。
type RankModel interface {
	Name() string
	Predict(cat []int32, cont []float64) (float64, error)
}

// Batch 是一个训练 / 验证批次，按行存储。
type Batch struct {
	Cat   [][]int32   // [rows][len(Spec.Categorical)]
	Cont  [][]float64 // [rows][len(Spec.Continuous)]
	Label []float64
	Group []int64 // display_id，验证时按组计算 MAP@12
}

// Len 返回行数。
func (b *Batch) Len() int { return len(b.Label) }

// Reset 清空批次并保留底层容量。
func (b *Batch) Reset() {
	b.Cat = b.Cat[:0]
	b.Cont = b.Cont[:0]
	b.Label = b.Label[:0]
	b.Group = b.Group[:0]
}

// Append 追加一行。
func (b *Batch) Append(cat []int32, cont []float64, label float64, group int64) {
	b.Cat = append(b.Cat, cat)
	b.Cont = append(b.Cont, cont)
	b.Label = append(b.Label, label)
	b.Group = append(b.Group, group)
}

// Config 是模型超参。
type Config struct {
	HiddenUnits []int   `json:"hidden_units"`
	Dropout     float64 `json:"dropout"`
	DeepLR      float64 `json:"deep_lr"`
	WideAlpha   float64 `json:"wide_alpha"`
	WideBeta    float64 `json:"wide_beta"`
	WideL1      float64 `json:"wide_l1"`
	WideL2      float64 `json:"wide_l2"`
	Seed        int64   `json:"seed"`
}

// DefaultConfig 返回默认超参。
func DefaultConfig() Config {
	return Config{
		HiddenUnits: []int{1024, 512, 256},
		DeepLR:      0.00048,
		WideAlpha:   0.05,
		WideBeta:    1,
		Seed:        1234,
	}
}

func (c Config) validate() error {
	if c.Dropout < 0 || c.Dropout >= 1 {
		return invalid(fmt.Sprintf("dropout %v out of [0,1)", c.Dropout))
	}
	if c.DeepLR <= 0 || c.WideAlpha <= 0 {
		return invalid("learning rates must be positive")
	}
	if c.WideBeta < 0 || c.WideL1 < 0 || c.WideL2 < 0 {
		return invalid("ftrl beta / l1 / l2 must be non-negative")
	}
	for _, h := range c.HiddenUnits {
		if h <= 0 {
			return invalid(fmt.Sprintf("hidden unit %d must be positive", h))
		}
	}
	return nil
}

func invalid(msg string) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: "+msg)
}
