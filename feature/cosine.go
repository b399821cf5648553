package feature

import (
	"context"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/sparse"
)

// CosineSim 计算两列文档 id 在指定 TF-IDF 矩阵中的余弦相似度。
// 任一文档 id 为空或不在矩阵中时输出 0。
type CosineSim struct {
	Left   string // 事件文档列，如 document_id
	Right  string // 广告落地文档列，如 document_id_promo
	Matrix string // categories / topics / entities
	Output string

	m *sparse.Matrix
}

func (c *CosineSim) Name() string        { return "cosine_sim" }
func (c *CosineSim) Kind() pipeline.Kind { return pipeline.KindSimilarity }

func (c *CosineSim) BindMatrices(matrices map[string]*sparse.Matrix) error {
	m, ok := matrices[c.Matrix]
	if !ok {
		return core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound,
			"cosine_sim: matrix "+c.Matrix+" not loaded")
	}
	c.m = m
	return nil
}

func (c *CosineSim) Fit(context.Context, *frame.Frame) error { return nil }

func (c *CosineSim) Transform(ctx context.Context, f *frame.Frame) error {
	if c.m == nil {
		return invalidConfig("cosine_sim", "matrix "+c.Matrix+" is not bound")
	}
	left, err := numericColumn(f, c.Left)
	if err != nil {
		return err
	}
	right, err := numericColumn(f, c.Right)
	if err != nil {
		return err
	}
	out := make([]float64, f.Len())
	for i := range out {
		if i&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		a, ok := left.FloatAt(i)
		if !ok {
			continue
		}
		b, ok := right.FloatAt(i)
		if !ok {
			continue
		}
		out[i] = c.m.Cosine(int64(a), int64(b))
	}
	return f.Set(frame.NewFloatColumn(c.Output, out, nil))
}
