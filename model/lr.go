package model

import (
	"math"
)

// LRModel 是 Wide&Deep 的 Wide 部分：逻辑回归。
//
// 预测原理：
// 1. 线性加权求和: z = Bias + sum(W[f][cat_f]) + sum(V_j * cont_j)
// 2. Sigmoid 变换: P = 1 / (1 + exp(-z))
//
// 每个分类列的每个取值一个权重（相当于 one-hot 输入），连续列一个权重。
// 训练使用 FTRL-Proximal（McMahan et al., 2013），按坐标保存 z / n 两组状态，
// 权重由状态惰性计算，L1 使大量低频取值的权重恰好为 0。
type LRModel struct {
	Cat  []ftrlVec `json:"cat"`
	Cont ftrlVec   `json:"cont"`
	Bias ftrlVec   `json:"bias"`

	opt  ftrl
	grad []map[int32]float64
}

type ftrlVec struct {
	Z []float64 `json:"z"`
	N []float64 `json:"n"`
}

func newFTRLVec(n int) ftrlVec {
	return ftrlVec{Z: make([]float64, n), N: make([]float64, n)}
}

// ftrl 是 FTRL-Proximal 超参。
type ftrl struct {
	Alpha, Beta, L1, L2 float64
}

func (p ftrl) weight(z, n float64, l1 float64) float64 {
	if math.Abs(z) <= l1 {
		return 0
	}
	sign := 1.0
	if z < 0 {
		sign = -1
	}
	return -(z - sign*l1) / ((p.Beta+math.Sqrt(n))/p.Alpha + p.L2)
}

func (p ftrl) update(v *ftrlVec, i int, g, l1 float64) {
	w := p.weight(v.Z[i], v.N[i], l1)
	n := v.N[i] + g*g
	sigma := (math.Sqrt(n) - math.Sqrt(v.N[i])) / p.Alpha
	v.Z[i] += g - sigma*w
	v.N[i] = n
}

// NewLRModel 按输入描述创建 Wide 部分，权重全部为 0。
func NewLRModel(spec Spec, cfg Config) *LRModel {
	m := &LRModel{
		Cat:  make([]ftrlVec, len(spec.Categorical)),
		Cont: newFTRLVec(len(spec.Continuous)),
		Bias: newFTRLVec(1),
	}
	for f, c := range spec.Categorical {
		m.Cat[f] = newFTRLVec(c.Cardinality)
	}
	m.setConfig(cfg)
	return m
}

func (m *LRModel) setConfig(cfg Config) {
	m.opt = ftrl{Alpha: cfg.WideAlpha, Beta: cfg.WideBeta, L1: cfg.WideL1, L2: cfg.WideL2}
	m.grad = make([]map[int32]float64, len(m.Cat))
	for f := range m.grad {
		m.grad[f] = make(map[int32]float64)
	}
}

func (m *LRModel) Name() string { return "lr" }

// Logit 返回一行的线性得分；cat 已经过 clampIndex。
func (m *LRModel) Logit(cat []int32, cont []float64) float64 {
	// bias 不做 L1
	z := m.opt.weight(m.Bias.Z[0], m.Bias.N[0], 0)
	for f, idx := range cat {
		v := &m.Cat[f]
		z += m.opt.weight(v.Z[idx], v.N[idx], m.opt.L1)
	}
	for j, x := range cont {
		z += m.opt.weight(m.Cont.Z[j], m.Cont.N[j], m.opt.L1) * x
	}
	return z
}

func (m *LRModel) Predict(cat []int32, cont []float64) (float64, error) {
	return sigmoid(m.Logit(cat, cont)), nil
}

// Update 以一个批次的 dLoss/dlogit 更新权重。
// 同一批次内对同一坐标的梯度先求和，每个坐标只做一次 FTRL 更新。
func (m *LRModel) Update(cats [][]int32, conts [][]float64, dlogit []float64) {
	var gBias float64
	gCont := make([]float64, len(m.Cont.Z))
	for i, g := range dlogit {
		gBias += g
		for f, idx := range cats[i] {
			m.grad[f][idx] += g
		}
		for j, x := range conts[i] {
			gCont[j] += g * x
		}
	}

	m.opt.update(&m.Bias, 0, gBias, 0)
	for j, g := range gCont {
		m.opt.update(&m.Cont, j, g, m.opt.L1)
	}
	for f, grads := range m.grad {
		for idx, g := range grads {
			m.opt.update(&m.Cat[f], int(idx), g, m.opt.L1)
		}
		clear(grads)
	}
}

// NonZero 返回非零权重个数。
func (m *LRModel) NonZero() int {
	n := 0
	for f := range m.Cat {
		v := &m.Cat[f]
		for i := range v.Z {
			if m.opt.weight(v.Z[i], v.N[i], m.opt.L1) != 0 {
				n++
			}
		}
	}
	for j := range m.Cont.Z {
		if m.opt.weight(m.Cont.Z[j], m.Cont.N[j], m.opt.L1) != 0 {
			n++
		}
	}
	return n
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
