package pipeline

import (
	"context"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/sparse"
)

// Kind 用于标记算子类型，方便观测（按阶段打点）与日志。
type Kind string

const (
	KindTransform  Kind = "transform"  // 无状态列变换：切片、日期差、对数、Lambda
	KindFill       Kind = "fill"       // 缺失值填充：需要在训练集上拟合统计量
	KindEncode     Kind = "encode"     // 编码：Categorify、目标编码
	KindSimilarity Kind = "similarity" // 稀疏矩阵相似度
)

// Op 是工作流的最小可扩展单元。
// 统一采用“Frame 输入 -> 原地新增/替换列”的形态：
//   - Fit 在训练集上学习统计量（无状态算子为空实现）
//   - Transform 使用已学到的统计量变换任意 Frame
type Op interface {
	Name() string
	Kind() Kind

	Fit(ctx context.Context, f *frame.Frame) error
	Transform(ctx context.Context, f *frame.Frame) error
}

// StatefulOp 是带统计量的算子，统计量随工作流一起持久化到统计目录。
type StatefulOp interface {
	Op
	MarshalStats() ([]byte, error)
	UnmarshalStats(data []byte) error
}

// FitTransformer 用于训练集与其他数据集变换方式不同的算子（如 k 折目标编码）。
// Workflow.FitTransform 优先调用 FitTransform，而不是 Fit + Transform。
type FitTransformer interface {
	FitTransform(ctx context.Context, f *frame.Frame) error
}

// MatrixConsumer 是需要辅助稀疏矩阵的算子，由 Workflow.Bind 注入。
type MatrixConsumer interface {
	BindMatrices(matrices map[string]*sparse.Matrix) error
}

// CategoricalOp 由编码算子实现，报告各输出列的基数（用于确定 embedding 维度）。
type CategoricalOp interface {
	Cardinalities() map[string]int
}
