package model

import (
	"fmt"
	"math"

	"github.com/rushteam/ctrkit/pipeline"
)

// 默认 embedding 维度上下界。
const (
	DefaultEmbeddingMin = 16
	DefaultEmbeddingMax = 512
)

// EmbeddingSize 由基数推导 embedding 维度：clamp(round(1.6 * n^0.56), min, max)。
func EmbeddingSize(cardinality, minDim, maxDim int) int {
	d := int(math.Round(1.6 * math.Pow(float64(cardinality), 0.56)))
	return max(minDim, min(d, maxDim))
}

// CatSpec 是一个分类输入。
type CatSpec struct {
	Name        string `json:"name"`
	Cardinality int    `json:"cardinality"`
	Dim         int    `json:"dim"`
}

// Spec 描述模型输入，列顺序与 Batch 中的列顺序一致。
type Spec struct {
	Categorical []CatSpec `json:"categorical"`
	Continuous  []string  `json:"continuous"`
}

// SpecFromMetadata 根据预处理元数据构造输入描述。
// 元数据中已有 embedding 维度时直接使用，否则按基数推导。
func SpecFromMetadata(m *pipeline.Metadata, minDim, maxDim int) (Spec, error) {
	if err := m.Validate(); err != nil {
		return Spec{}, err
	}
	s := Spec{Continuous: append([]string(nil), m.Continuous...)}
	for _, c := range m.Categorical {
		card := m.Cardinalities[c]
		dim := m.EmbeddingSizes[c]
		if dim <= 0 {
			dim = EmbeddingSize(card, minDim, maxDim)
		}
		s.Categorical = append(s.Categorical, CatSpec{Name: c, Cardinality: card, Dim: dim})
	}
	return s, s.validate()
}

// EmbeddingSizes 返回每个分类列的 embedding 维度，写回元数据。
func (s Spec) EmbeddingSizes() map[string]int {
	out := make(map[string]int, len(s.Categorical))
	for _, c := range s.Categorical {
		out[c.Name] = c.Dim
	}
	return out
}

// InputDim 是 Deep 部分第一层的输入维度。
func (s Spec) InputDim() int {
	n := len(s.Continuous)
	for _, c := range s.Categorical {
		n += c.Dim
	}
	return n
}

func (s Spec) validate() error {
	if len(s.Categorical)+len(s.Continuous) == 0 {
		return invalid("spec has no inputs")
	}
	for _, c := range s.Categorical {
		if c.Cardinality <= 0 || c.Dim <= 0 {
			return invalid(fmt.Sprintf("categorical %q: cardinality %d dim %d", c.Name, c.Cardinality, c.Dim))
		}
	}
	return nil
}
