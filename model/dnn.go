package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DNNModel 是 Wide&Deep 的 Deep 部分。
//
// 结构：每个分类列查 embedding 表，与连续列拼接成输入向量，
// 经过若干 ReLU 全连接层（可选 dropout）后输出一个 logit。
// 全连接层按批次在 gonum mat 上做矩阵乘。
//
// 训练使用 Adam；embedding 表只更新本批次出现过的行（lazy Adam），
// 偏差修正使用全局步数。
type DNNModel struct {
	spec    Spec
	emb     []*mat.Dense // [field] cardinality x dim
	weights []*mat.Dense // [layer] in x out
	biases  [][]float64  // [layer] out
	dropout float64
	rng     *rand.Rand

	opt        adam
	embM, embV []*mat.Dense
	wM, wV     []*mat.Dense
	bM, bV     [][]float64

	acts []*mat.Dense // 前向缓存：每层的输入
}

// NewDNNModel 按输入描述创建 Deep 部分并随机初始化。
// hidden 为隐藏层宽度，输出层固定为 1。
func NewDNNModel(spec Spec, cfg Config) *DNNModel {
	m := &DNNModel{
		spec:    spec,
		dropout: cfg.Dropout,
		rng:     rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15)),
	}
	for _, c := range spec.Categorical {
		e := mat.NewDense(c.Cardinality, c.Dim, nil)
		data := e.RawMatrix().Data
		for i := range data {
			data[i] = (m.rng.Float64()*2 - 1) * 0.05
		}
		m.emb = append(m.emb, e)
	}

	sizes := append([]int{spec.InputDim()}, cfg.HiddenUnits...)
	sizes = append(sizes, 1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		// 隐藏层 He 初始化，输出层缩小方差
		std := math.Sqrt(2 / float64(in))
		if l == len(sizes)-2 {
			std = math.Sqrt(1 / float64(in))
		}
		w := mat.NewDense(in, out, nil)
		data := w.RawMatrix().Data
		for i := range data {
			data[i] = m.rng.NormFloat64() * std
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, make([]float64, out))
	}
	m.initOptimizer(cfg.DeepLR)
	return m
}

// initOptimizer 分配 Adam 一阶 / 二阶矩。
func (m *DNNModel) initOptimizer(lr float64) {
	m.opt = adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	m.embM, m.embV = nil, nil
	for _, e := range m.emb {
		r, c := e.Dims()
		m.embM = append(m.embM, mat.NewDense(r, c, nil))
		m.embV = append(m.embV, mat.NewDense(r, c, nil))
	}
	m.wM, m.wV, m.bM, m.bV = nil, nil, nil, nil
	for l, w := range m.weights {
		r, c := w.Dims()
		m.wM = append(m.wM, mat.NewDense(r, c, nil))
		m.wV = append(m.wV, mat.NewDense(r, c, nil))
		m.bM = append(m.bM, make([]float64, len(m.biases[l])))
		m.bV = append(m.bV, make([]float64, len(m.biases[l])))
	}
}

func (m *DNNModel) Name() string { return "dnn" }

// Predict 对单行做推理。
func (m *DNNModel) Predict(cat []int32, cont []float64) (float64, error) {
	logits := m.Forward([][]int32{cat}, [][]float64{cont}, false)
	return sigmoid(logits[0]), nil
}

// input 拼接 embedding 与连续特征，得到 rows x InputDim 的输入矩阵。
func (m *DNNModel) input(cats [][]int32, conts [][]float64) *mat.Dense {
	x := mat.NewDense(len(cats), m.spec.InputDim(), nil)
	for i := range cats {
		row := x.RawRowView(i)
		off := 0
		for f, idx := range cats[i] {
			d := m.spec.Categorical[f].Dim
			copy(row[off:off+d], m.emb[f].RawRowView(int(idx)))
			off += d
		}
		copy(row[off:], conts[i])
	}
	return x
}

// Forward 前向传播，返回每行的 logit。train 为 true 时启用 dropout 并缓存中间结果。
func (m *DNNModel) Forward(cats [][]int32, conts [][]float64, train bool) []float64 {
	if len(cats) == 0 {
		return nil
	}
	a := m.input(cats, conts)
	m.acts = m.acts[:0]
	last := len(m.weights) - 1
	for l, w := range m.weights {
		m.acts = append(m.acts, a)
		z := new(mat.Dense)
		z.Mul(a, w)
		addBias(z, m.biases[l])
		if l < last {
			m.activate(z, train)
		}
		a = z
	}
	logits := make([]float64, len(cats))
	for i := range logits {
		logits[i] = a.At(i, 0)
	}
	return logits
}

// activate 原地做 ReLU 与 inverted dropout。
func (m *DNNModel) activate(z *mat.Dense, train bool) {
	data := z.RawMatrix().Data
	drop := train && m.dropout > 0
	scale := 1 / (1 - m.dropout)
	for i, v := range data {
		switch {
		case v <= 0:
			data[i] = 0
		case drop && m.rng.Float64() < m.dropout:
			data[i] = 0
		case drop:
			data[i] = v * scale
		}
	}
}

// Backward 以 dLoss/dlogit 反向传播并做一步 Adam 更新，必须紧跟一次 train=true 的 Forward。
func (m *DNNModel) Backward(cats [][]int32, dlogit []float64) {
	if len(dlogit) == 0 {
		return
	}
	m.opt.step()
	scale := 1.0
	if m.dropout > 0 {
		scale = 1 / (1 - m.dropout)
	}

	dz := mat.NewDense(len(dlogit), 1, append([]float64(nil), dlogit...))
	for l := len(m.weights) - 1; l >= 0; l-- {
		a, w := m.acts[l], m.weights[l]

		gw := new(mat.Dense)
		gw.Mul(a.T(), dz)
		gb := colSums(dz)
		da := new(mat.Dense)
		da.Mul(dz, w.T())

		m.opt.update(w.RawMatrix().Data, m.wM[l].RawMatrix().Data, m.wV[l].RawMatrix().Data, gw.RawMatrix().Data)
		m.opt.update(m.biases[l], m.bM[l], m.bV[l], gb)

		if l == 0 {
			m.updateEmbeddings(cats, da)
			break
		}
		// a 是上一层激活后的输出：a>0 当且仅当 ReLU 导通且未被 dropout
		ad, dd := a.RawMatrix().Data, da.RawMatrix().Data
		for i := range dd {
			if ad[i] > 0 {
				dd[i] *= scale
			} else {
				dd[i] = 0
			}
		}
		dz = da
	}
}

// updateEmbeddings 按行聚合输入梯度，只更新出现过的 embedding 行。
func (m *DNNModel) updateEmbeddings(cats [][]int32, dx *mat.Dense) {
	off := 0
	for f, c := range m.spec.Categorical {
		grads := make(map[int32][]float64)
		for i := range cats {
			idx := cats[i][f]
			g, ok := grads[idx]
			if !ok {
				g = make([]float64, c.Dim)
				grads[idx] = g
			}
			floats.Add(g, dx.RawRowView(i)[off:off+c.Dim])
		}
		for idx, g := range grads {
			r := int(idx)
			m.opt.update(m.emb[f].RawRowView(r), m.embM[f].RawRowView(r), m.embV[f].RawRowView(r), g)
		}
		off += c.Dim
	}
}

func addBias(z *mat.Dense, b []float64) {
	rows, _ := z.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(z.RawRowView(i), b)
	}
}

func colSums(d *mat.Dense) []float64 {
	rows, cols := d.Dims()
	out := make([]float64, cols)
	for i := 0; i < rows; i++ {
		floats.Add(out, d.RawRowView(i))
	}
	return out
}

// adam 是 Adam 优化器（Kingma & Ba, 2014）。
type adam struct {
	LR, Beta1, Beta2, Eps float64
	T                     int
	lrT                   float64
}

func (a *adam) step() {
	a.T++
	t := float64(a.T)
	a.lrT = a.LR * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
}

func (a *adam) update(p, m, v, g []float64) {
	for i, gi := range g {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
		p[i] -= a.lrT * m[i] / (math.Sqrt(v[i]) + a.Eps)
	}
}
